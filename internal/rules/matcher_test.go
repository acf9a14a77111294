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

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timekeep/oncall/internal/models"
)

func alert(from, subject, body string) models.InboundAlert {
	return models.InboundAlert{From: from, Subject: subject, Body: body}
}

func TestMatch_SubjectOnlyIsOr(t *testing.T) {
	rule := models.RoutingRule{
		ID:                 1,
		ProjectID:          10,
		FromEmailSubstring: "nagios@",
		SubjectKeywords:    []string{"down"},
	}

	// Subject keyword alone suffices, body is irrelevant.
	got := Match(alert("nagios@mon.example.com", "host down", "whatever"), []models.RoutingRule{rule})
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)

	assert.Nil(t, Match(alert("nagios@mon.example.com", "host up", "whatever"), []models.RoutingRule{rule}))
}

func TestMatch_BodyOnlyIsOr(t *testing.T) {
	rule := models.RoutingRule{
		ID:                 2,
		ProjectID:          10,
		FromEmailSubstring: "nagios@",
		BodyKeywords:       []string{"prod", "critical"},
	}

	assert.NotNil(t, Match(alert("nagios@mon.example.com", "anything", "critical failure"), []models.RoutingRule{rule}))
	assert.Nil(t, Match(alert("nagios@mon.example.com", "anything", "all fine"), []models.RoutingRule{rule}))
}

// A rule with both lists set requires a subject keyword AND a body
// keyword, not either one alone.
func TestMatch_BothListsAreAnd(t *testing.T) {
	rule := models.RoutingRule{
		ID:                 3,
		ProjectID:          10,
		FromEmailSubstring: "nagios@",
		SubjectKeywords:    []string{"down"},
		BodyKeywords:       []string{"prod"},
	}
	ruleList := []models.RoutingRule{rule}

	assert.NotNil(t, Match(alert("nagios@x", "host down", "prod db gone"), ruleList))
	assert.Nil(t, Match(alert("nagios@x", "host down", "staging db gone"), ruleList), "subject alone must not match")
	assert.Nil(t, Match(alert("nagios@x", "host up", "prod db gone"), ruleList), "body alone must not match")
}

func TestMatch_EmptyKeywordListsNeverMatch(t *testing.T) {
	rule := models.RoutingRule{
		ID:                 4,
		ProjectID:          10,
		FromEmailSubstring: "nagios@",
	}

	assert.Nil(t, Match(alert("nagios@x", "down", "down"), []models.RoutingRule{rule}))
}

func TestMatch_SenderSubstringCaseSensitive(t *testing.T) {
	rule := models.RoutingRule{
		ID:                 5,
		ProjectID:          10,
		FromEmailSubstring: "Nagios@",
		SubjectKeywords:    []string{"down"},
	}

	assert.Nil(t, Match(alert("nagios@mon.example.com", "down", ""), []models.RoutingRule{rule}))
	assert.NotNil(t, Match(alert("Nagios@mon.example.com", "down", ""), []models.RoutingRule{rule}))
}

func TestMatch_FirstRuleWins(t *testing.T) {
	ruleList := []models.RoutingRule{
		{ID: 1, ProjectID: 10, FromEmailSubstring: "@mon", SubjectKeywords: []string{"down"}},
		{ID: 2, ProjectID: 20, FromEmailSubstring: "@mon", SubjectKeywords: []string{"down"}},
	}

	got := Match(alert("nagios@mon.example.com", "host down", ""), ruleList)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, int64(10), got.ProjectID)
}

func TestSplitKeywords(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"  ", nil},
		{"down", []string{"down"}},
		{"down,up", []string{"down", "up"}},
		{" down , up ", []string{"down", "up"}},
		{"down,", []string{"down"}},
		{",,down,,", []string{"down"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitKeywords(tt.raw), "raw = %q", tt.raw)
	}
}
