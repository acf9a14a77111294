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

// Timekeep on-call dispatch service.
//
// Entry point for the alert dispatch service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Wires the dispatcher with its mailbox, rule, roster and transport
//     collaborators
//  4. Runs one dispatch cycle per schedule tick, serialized by a Redis
//     run lease
//  5. Serves a health endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

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

	slog.Info("starting on-call dispatch service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if _, err := nextRun(cfg.Schedule, time.Now()); err != nil {
		slog.Error("invalid dispatch schedule", "schedule", cfg.Schedule, "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailbox", cfg.Mailbox.Addr(),
		"schedule", cfg.Schedule,
		"cycle_timeout", cfg.CycleTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
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
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
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

	// --- Dispatcher ---
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

	// The lease TTL covers the cycle timeout with headroom so a crashed
	// holder cannot wedge the schedule.
	lock := runlock.New(rdb, cfg.CycleTimeout+time.Minute)

	// --- Schedule Loop ---
	go func() {
		for {
			next, err := nextRun(cfg.Schedule, time.Now())
			if err != nil {
				slog.Error("schedule became invalid", "error", err)
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			runCycle(ctx, dispatcher, lock, cfg.CycleTimeout)
		}
	}()

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the schedule loop

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("dispatch service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("dispatch service stopped")
}

// runCycle executes one dispatcher run under the Redis lease. A lease held
// elsewhere means another instance is mid-cycle; this tick is skipped
// rather than double-processing the watermark window.
func runCycle(ctx context.Context, dispatcher *dispatch.Dispatcher, lock *runlock.Lock, timeout time.Duration) {
	release, ok, err := lock.Acquire(ctx)
	if err != nil {
		slog.Error("failed to acquire run lease", "error", err)
		return
	}
	if !ok {
		slog.Info("run lease held elsewhere, skipping tick")
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer release(cycleCtx)

	result, err := dispatcher.Run(cycleCtx, time.Now().UTC())
	if err != nil {
		slog.Error("dispatch cycle failed", "error", err)
		return
	}
	slog.Info("dispatch cycle finished",
		"outcome", string(result.Outcome),
		"read", result.Read,
		"dispatched", result.Dispatched,
	)
}

// nextRun resolves the next tick for a schedule that is either a Go
// duration ("5m") or a standard cron spec ("*/5 * * * *").
func nextRun(schedule string, after time.Time) (time.Time, error) {
	if interval, err := time.ParseDuration(schedule); err == nil {
		if interval <= 0 {
			return time.Time{}, fmt.Errorf("interval must be > 0")
		}
		return after.Add(interval), nil
	}

	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(after), nil
}
