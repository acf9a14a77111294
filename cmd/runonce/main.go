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

// Timekeep one-shot dispatch command.
//
// Runs a single dispatch cycle and exits. Intended for external schedulers
// (system cron, a leader-elected job runner) and for operators replaying a
// window by hand. Exits non-zero when the cycle fails hard or the mailbox
// read fails, so the scheduler's failure alerting fires.
//
// Usage:
//
//	go run ./cmd/runonce/ [--no-lock] [--timeout 2m]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/timekeep/oncall/internal/alarmlog"
	"github.com/timekeep/oncall/internal/config"
	"github.com/timekeep/oncall/internal/dispatch"
	"github.com/timekeep/oncall/internal/floodguard"
	"github.com/timekeep/oncall/internal/mailbox"
	"github.com/timekeep/oncall/internal/mailer"
	"github.com/timekeep/oncall/internal/roster"
	"github.com/timekeep/oncall/internal/rules"
	"github.com/timekeep/oncall/internal/runlock"
	"github.com/timekeep/oncall/internal/session"
	"github.com/timekeep/oncall/internal/sms"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	noLockFlag := flag.Bool("no-lock", false, "Skip the Redis run lease (single-instance deployments only)")
	timeoutFlag := flag.Duration("timeout", 0, "Cycle timeout override (default from config)")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	timeout := cfg.CycleTimeout
	if *timeoutFlag > 0 {
		timeout = *timeoutFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// --- Run Lease ---
	if !*noLockFlag {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		release, ok, err := runlock.New(rdb, timeout+time.Minute).Acquire(ctx)
		if err != nil {
			slog.Error("failed to acquire run lease", "error", err)
			os.Exit(1)
		}
		if !ok {
			slog.Error("another dispatch run is in flight, refusing to overlap")
			os.Exit(1)
		}
		defer release(ctx)
	}

	// --- Stores + Dispatcher ---
	sessions, err := session.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise session store", "error", err)
		os.Exit(1)
	}
	ruleStore, err := rules.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise rule store", "error", err)
		os.Exit(1)
	}
	alarms, err := alarmlog.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise alarm log", "error", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Sessions:        sessions,
		Mailbox:         mailbox.NewReader(cfg.Mailbox),
		Roster:          roster.NewStore(pgPool),
		RuleStore:       ruleStore,
		Guard:           floodguard.NewGuard(),
		Mailer:          mailer.New(cfg.SMTPOnCall),
		SMS:             sms.NewClient(nil, cfg.SMS.BaseURL, cfg.SMS.Username, cfg.SMS.Password),
		Alarms:          alarms,
		SMSSenderNumber: cfg.SMS.ReplyNumber,
	})

	result, err := dispatcher.Run(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("dispatch cycle failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("outcome=%s read=%d dispatched=%d\n", result.Outcome, result.Read, result.Dispatched)
	if result.Outcome == dispatch.OutcomeReadFailed {
		os.Exit(1)
	}
}
