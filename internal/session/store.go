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

// Package session provides the Postgres-backed poll session tracker: a
// single row per deployment holding the mail-search watermark and the
// dispatch counters. The watermark is the sole durable progress cursor;
// losing it re-processes all mail since epoch.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timekeep/oncall/internal/models"
)

// rowID pins the singleton row. The table's CHECK constraint rejects any
// other value.
const rowID = 1

// Store provides load/save access to the singleton poll session.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a session store backed by the given Postgres pool.
// It ensures the poll_sessions table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}
	slog.Info("poll session store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS poll_sessions (
			id                        SMALLINT PRIMARY KEY CHECK (id = 1),
			last_poll                 TIMESTAMPTZ NOT NULL,
			total_emails_seen         BIGINT NOT NULL DEFAULT 0,
			total_dispatched          BIGINT NOT NULL DEFAULT 0,
			read_in_last_poll         INT NOT NULL DEFAULT 0,
			dispatched_in_last_poll   INT NOT NULL DEFAULT 0,
			mailbox_size_at_last_poll INT NOT NULL DEFAULT 0,
			last_message              TEXT NOT NULL DEFAULT '',
			updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// Load fetches the singleton session, creating a zero-valued one with
// watermark = epoch if none exists yet.
func (s *Store) Load(ctx context.Context) (*models.PollSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT last_poll, total_emails_seen, total_dispatched,
		       read_in_last_poll, dispatched_in_last_poll,
		       mailbox_size_at_last_poll, last_message
		FROM poll_sessions
		WHERE id = $1
	`, rowID)

	var sess models.PollSession
	err := row.Scan(
		&sess.LastPoll, &sess.TotalEmailsSeen, &sess.TotalDispatched,
		&sess.ReadInLastPoll, &sess.DispatchedInLastPoll,
		&sess.MailboxSizeAtLastPoll, &sess.LastMessage,
	)
	if err == pgx.ErrNoRows {
		fresh := &models.PollSession{LastPoll: time.Unix(0, 0).UTC()}
		if err := s.Save(ctx, fresh); err != nil {
			return nil, fmt.Errorf("create initial session: %w", err)
		}
		slog.Info("created initial poll session", "watermark", fresh.LastPoll)
		return fresh, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load poll session: %w", err)
	}
	return &sess, nil
}

// Save overwrites the singleton session. The write is idempotent: saving
// the same session twice leaves the row unchanged.
func (s *Store) Save(ctx context.Context, sess *models.PollSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO poll_sessions
			(id, last_poll, total_emails_seen, total_dispatched,
			 read_in_last_poll, dispatched_in_last_poll,
			 mailbox_size_at_last_poll, last_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			last_poll                 = EXCLUDED.last_poll,
			total_emails_seen         = EXCLUDED.total_emails_seen,
			total_dispatched          = EXCLUDED.total_dispatched,
			read_in_last_poll         = EXCLUDED.read_in_last_poll,
			dispatched_in_last_poll   = EXCLUDED.dispatched_in_last_poll,
			mailbox_size_at_last_poll = EXCLUDED.mailbox_size_at_last_poll,
			last_message              = EXCLUDED.last_message,
			updated_at                = NOW()
	`, rowID, sess.LastPoll, sess.TotalEmailsSeen, sess.TotalDispatched,
		sess.ReadInLastPoll, sess.DispatchedInLastPoll,
		sess.MailboxSizeAtLastPoll, sess.LastMessage)
	if err != nil {
		return fmt.Errorf("save poll session: %w", err)
	}
	return nil
}
