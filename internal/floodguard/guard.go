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

// Package floodguard suppresses bursts of identical alerts so a flapping
// monitor cannot trigger a notification storm. The guard is an in-memory,
// constructor-injected component: one instance per dispatcher.
package floodguard

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/timekeep/oncall/internal/models"
)

const (
	// SuppressWindow is how long an identical alert stays suppressed
	// after the first sighting.
	SuppressWindow = time.Hour

	// sweepInterval bounds memory: once per interval the whole table is
	// cleared, measured from the last sweep rather than per key. Keys can
	// be forgotten slightly early, re-admitting a message that would
	// otherwise still be suppressed.
	sweepInterval = 24 * time.Hour
)

// Guard tracks recently seen alerts keyed by a hash of sender, subject and
// body. Safe for concurrent use, though the pipeline runs one cycle at a
// time.
type Guard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

// NewGuard creates an empty flood guard.
func NewGuard() *Guard {
	return &Guard{seen: make(map[string]time.Time)}
}

// IsDuplicate reports whether the alert is a repeat inside the suppression
// window. A first sighting, or a sighting after the window has elapsed,
// records the current time and is not a duplicate; a repeat inside the
// window is suppressed without refreshing its timestamp.
func (g *Guard) IsDuplicate(now time.Time, alert models.InboundAlert) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastSweep.IsZero() {
		g.lastSweep = now
	} else if now.Sub(g.lastSweep) >= sweepInterval {
		g.seen = make(map[string]time.Time)
		g.lastSweep = now
	}

	key := alertKey(alert)
	first, ok := g.seen[key]
	if !ok || now.Sub(first) >= SuppressWindow {
		// New alert, or a new burst after the window: start counting
		// suppression from now.
		g.seen[key] = now
		return false
	}
	return true
}

// Len returns the number of tracked keys. Exposed for observability.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func alertKey(alert models.InboundAlert) string {
	sum := sha256.Sum256([]byte(alert.From + "_" + alert.Subject + "_" + alert.Body))
	return hex.EncodeToString(sum[:])
}
