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

package sms

import (
	"regexp"
	"strings"
)

// MaxMessageLen is the transport limit for one SMS body.
const MaxMessageLen = 160

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// Normalize turns a free-form mobile number into the canonical dialable
// form the gateway accepts:
//
//   - "00<country><rest>" passes through unchanged
//   - a leading "+46" becomes "0046"
//   - a leading "07" becomes "00467…" (Swedish mobile convention)
//
// Any other form, or a result that is not all digits or is shorter than
// 7 digits, is unusable and reported as such rather than an error.
// Normalize is idempotent over its own output.
func Normalize(raw string) (string, bool) {
	n := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(n, "00"):
		// already canonical
	case strings.HasPrefix(n, "+46"):
		n = "0046" + n[3:]
	case strings.HasPrefix(n, "07"):
		n = "0046" + n[1:]
	default:
		return "", false
	}

	if !digitsOnly.MatchString(n) || len(n) < 7 {
		return "", false
	}
	return n, true
}

// Truncate cuts a message body to the transport limit, counting runes so
// multi-byte characters are not split.
func Truncate(message string, limit int) string {
	runes := []rune(message)
	if len(runes) <= limit {
		return message
	}
	return string(runes[:limit])
}
