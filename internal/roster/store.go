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

// Package roster answers "who is on call right now". The schedule tables
// (projects, users, on_call_shifts) are owned and written by the admin
// application; this store is a read-only consumer and deliberately does
// not create or migrate them.
package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timekeep/oncall/internal/models"
)

// Store queries the on-call schedule in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a roster store backed by the given Postgres pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// OnCallProjects returns the projects whose on-call window contains the
// given instant, each with the users on call for it. A user's email or
// mobile number may be empty; the dispatcher handles both.
func (s *Store) OnCallProjects(ctx context.Context, at time.Time) ([]models.RosterEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, u.id, u.name,
		       COALESCE(u.email, ''), COALESCE(u.mobile_number, '')
		FROM on_call_shifts s
		JOIN projects p ON p.id = s.project_id
		JOIN users u ON u.id = s.user_id
		WHERE s.starts_at <= $1 AND s.ends_at > $1
		ORDER BY p.id, u.id
	`, at)
	if err != nil {
		return nil, fmt.Errorf("query on-call shifts: %w", err)
	}
	defer rows.Close()

	var entries []models.RosterEntry
	for rows.Next() {
		var (
			projectID   int64
			projectName string
			user        models.OnCallUser
		)
		if err := rows.Scan(&projectID, &projectName, &user.ID, &user.Name, &user.Email, &user.MobileNumber); err != nil {
			return nil, fmt.Errorf("scan on-call shift: %w", err)
		}

		if n := len(entries); n > 0 && entries[n-1].ProjectID == projectID {
			entries[n-1].Users = append(entries[n-1].Users, user)
			continue
		}
		entries = append(entries, models.RosterEntry{
			ProjectID:   projectID,
			ProjectName: projectName,
			Users:       []models.OnCallUser{user},
		})
	}
	return entries, rows.Err()
}
