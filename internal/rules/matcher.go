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
	"log/slog"
	"strings"

	"github.com/timekeep/oncall/internal/models"
)

// Match returns the first rule whose sender substring matches the alert
// sender and whose keyword policy matches, or nil when no rule applies.
//
// The keyword policy is deliberately asymmetric:
//
//   - both lists empty: the rule never matches (misconfigured, skipped)
//   - only subject keywords: any subject keyword suffices
//   - only body keywords: any body keyword suffices
//   - both lists set: a subject keyword AND a body keyword must both be
//     present (logical AND, not OR)
func Match(alert models.InboundAlert, ruleList []models.RoutingRule) *models.RoutingRule {
	for i := range ruleList {
		r := &ruleList[i]
		if !strings.Contains(alert.From, r.FromEmailSubstring) {
			continue
		}
		if matchesKeywords(alert, r) {
			return r
		}
	}
	return nil
}

func matchesKeywords(alert models.InboundAlert, r *models.RoutingRule) bool {
	hasSubject := len(r.SubjectKeywords) > 0
	hasBody := len(r.BodyKeywords) > 0

	switch {
	case !hasSubject && !hasBody:
		slog.Warn("routing rule has no keywords and can never match",
			"rule_id", r.ID,
			"project_id", r.ProjectID,
		)
		return false
	case hasSubject && !hasBody:
		return containsAny(alert.Subject, r.SubjectKeywords)
	case !hasSubject && hasBody:
		return containsAny(alert.Body, r.BodyKeywords)
	default:
		return containsAny(alert.Subject, r.SubjectKeywords) &&
			containsAny(alert.Body, r.BodyKeywords)
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
