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

// Package alarmlog persists one audit row per dispatch attempt. Rows are
// append-only from this pipeline's point of view; retention and cleanup
// belong to an external housekeeping job.
package alarmlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timekeep/oncall/internal/models"
)

const (
	// maxFieldLen bounds the sender and subject columns.
	maxFieldLen = 255
	// maxMessageLen bounds the free-text diagnostic column.
	maxMessageLen = 1000
)

// Store appends alarm records to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an alarm log store backed by the given Postgres pool.
// It ensures the alarms table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure alarm schema: %w", err)
	}
	slog.Info("alarm log store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS alarms (
			id         UUID PRIMARY KEY,
			user_id    BIGINT,
			user_name  TEXT NOT NULL DEFAULT '',
			project_id BIGINT NOT NULL,
			sender     TEXT NOT NULL,
			subject    TEXT NOT NULL,
			email_sent BOOLEAN NOT NULL,
			sms_sent   BOOLEAN NOT NULL,
			status     TEXT NOT NULL,
			severity   TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alarms_project ON alarms(project_id);
		CREATE INDEX IF NOT EXISTS idx_alarms_created ON alarms(created_at);
	`)
	return err
}

// Record appends one alarm row. Sender, subject and message are truncated
// to their column bounds; missing ID, status, severity and timestamp get
// their defaults.
func (s *Store) Record(ctx context.Context, rec models.AlarmRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.AlarmStatusNew
	}
	if rec.Severity == "" {
		rec.Severity = models.SeverityError
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO alarms
			(id, user_id, user_name, project_id, sender, subject,
			 email_sent, sms_sent, status, severity, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.UserID, rec.UserName, rec.ProjectID,
		truncate(rec.Sender, maxFieldLen), truncate(rec.Subject, maxFieldLen),
		rec.EmailSent, rec.SMSSent, string(rec.Status), string(rec.Severity),
		truncate(rec.Message, maxMessageLen), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alarm record: %w", err)
	}
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
