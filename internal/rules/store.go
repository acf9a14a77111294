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

// Package rules provides the routing rule store and the matcher that maps
// inbound alerts to projects. Rules are admin-authored; match priority is
// the persisted position, not storage iteration order.
//
// All text matching is case-sensitive substring matching, for the sender
// field and keywords alike.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timekeep/oncall/internal/models"
)

// Store provides read access to routing rules in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a rule store backed by the given Postgres pool.
// It ensures the routing_rules table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure rules schema: %w", err)
	}
	slog.Info("routing rule store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS routing_rules (
			id               BIGSERIAL PRIMARY KEY,
			project_id       BIGINT NOT NULL,
			from_email       TEXT NOT NULL,
			subject_keywords TEXT NOT NULL DEFAULT '',
			body_keywords    TEXT NOT NULL DEFAULT '',
			position         INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_rules_project ON routing_rules(project_id);
	`)
	return err
}

// ListOrdered returns all routing rules in match-priority order.
func (s *Store) ListOrdered(ctx context.Context) ([]models.RoutingRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, from_email, subject_keywords, body_keywords, position
		FROM routing_rules
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list routing rules: %w", err)
	}
	defer rows.Close()

	var out []models.RoutingRule
	for rows.Next() {
		var (
			r                models.RoutingRule
			subjects, bodies string
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.FromEmailSubstring, &subjects, &bodies, &r.Position); err != nil {
			return nil, fmt.Errorf("scan routing rule: %w", err)
		}
		r.SubjectKeywords = SplitKeywords(subjects)
		r.BodyKeywords = SplitKeywords(bodies)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SplitKeywords parses a comma-separated keyword list as it is stored in
// the rule row. Surrounding whitespace is trimmed and empty entries are
// dropped, so a trailing comma does not turn into a match-everything
// keyword.
func SplitKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, kw := range strings.Split(raw, ",") {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
