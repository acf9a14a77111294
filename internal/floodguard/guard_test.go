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

package floodguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/timekeep/oncall/internal/models"
)

var testAlert = models.InboundAlert{
	From:    "nagios@mon.example.com",
	Subject: "host down",
	Body:    "prod-db-1 unreachable",
}

func TestIsDuplicate_WithinWindow(t *testing.T) {
	g := NewGuard()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, g.IsDuplicate(t0, testAlert), "first sighting is not a duplicate")
	assert.True(t, g.IsDuplicate(t0.Add(30*time.Minute), testAlert), "repeat at 30m is suppressed")
}

func TestIsDuplicate_NewBurstAfterWindow(t *testing.T) {
	g := NewGuard()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, g.IsDuplicate(t0, testAlert))
	assert.False(t, g.IsDuplicate(t0.Add(61*time.Minute), testAlert), "repeat at 61m is a new burst")

	// The new burst refreshed the timestamp: 30m after it is suppressed
	// again even though 91m have passed since the first sighting.
	assert.True(t, g.IsDuplicate(t0.Add(91*time.Minute), testAlert))
}

func TestIsDuplicate_SuppressionDoesNotRefresh(t *testing.T) {
	g := NewGuard()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g.IsDuplicate(t0, testAlert)
	g.IsDuplicate(t0.Add(59*time.Minute), testAlert)

	// Window counts from the first sighting, not the suppressed repeat.
	assert.False(t, g.IsDuplicate(t0.Add(61*time.Minute), testAlert))
}

func TestIsDuplicate_DistinctAlerts(t *testing.T) {
	g := NewGuard()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	other := testAlert
	other.Body = "prod-db-2 unreachable"

	assert.False(t, g.IsDuplicate(t0, testAlert))
	assert.False(t, g.IsDuplicate(t0, other), "different body is a different alert")
	assert.Equal(t, 2, g.Len())
}

func TestSweep_ClearsWholeTable(t *testing.T) {
	g := NewGuard()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g.IsDuplicate(t0, testAlert)
	assert.Equal(t, 1, g.Len())

	// 24h later the table is swept, so the same alert is re-admitted.
	assert.False(t, g.IsDuplicate(t0.Add(24*time.Hour), testAlert))
	assert.Equal(t, 1, g.Len(), "sweep cleared old keys before recording the new sighting")
}
