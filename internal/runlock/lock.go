// Copyright (c) 2026 Timekeep Systems AB
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runlock serializes dispatcher runs with a Redis lease. The
// pipeline assumes at most one run in flight; overlapping runs would
// double-process the same watermark window. The lease makes that
// assumption hold even with multiple service instances.
package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey namespaces the lease in Redis.
const DefaultKey = "oncall:dispatch:lease"

// releaseScript deletes the lease only while we still own it, so a lease
// that expired and was re-acquired by another instance is never clobbered.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is a single-holder lease. The TTL must cover the longest cycle so
// a crashed holder cannot wedge the pipeline forever.
type Lock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// New creates a lease with the default key.
func New(rdb *redis.Client, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, key: DefaultKey, ttl: ttl}
}

// Acquire attempts to take the lease. On success it returns a release
// function and true; when another holder has the lease it returns false
// without error.
func (l *Lock) Acquire(ctx context.Context) (func(context.Context), bool, error) {
	token := uuid.New().String()

	// SET NX = set only if the key does not exist.
	set, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("runlock SETNX: %w", err)
	}
	if !set {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil && err != redis.Nil {
			slog.Warn("failed to release run lease", "error", err)
		}
	}
	return release, true, nil
}
