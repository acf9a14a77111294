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

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/timekeep/oncall/internal/models"
)

// --- mocks ---

type mockSessions struct {
	sess  models.PollSession
	saved []models.PollSession
}

func (m *mockSessions) Load(_ context.Context) (*models.PollSession, error) {
	cp := m.sess
	return &cp, nil
}

func (m *mockSessions) Save(_ context.Context, s *models.PollSession) error {
	m.saved = append(m.saved, *s)
	m.sess = *s
	return nil
}

func (m *mockSessions) last(t *testing.T) models.PollSession {
	t.Helper()
	if len(m.saved) == 0 {
		t.Fatal("session was never saved")
	}
	return m.saved[len(m.saved)-1]
}

type mockMailbox struct {
	alerts  []models.InboundAlert
	total   int
	err     error
	windows [][2]time.Time
}

func (m *mockMailbox) ReadSince(_ context.Context, from, to time.Time) ([]models.InboundAlert, int, error) {
	m.windows = append(m.windows, [2]time.Time{from, to})
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.alerts, m.total, nil
}

type mockRoster struct {
	entries []models.RosterEntry
}

func (m *mockRoster) OnCallProjects(_ context.Context, _ time.Time) ([]models.RosterEntry, error) {
	return m.entries, nil
}

type mockRules struct {
	rules []models.RoutingRule
}

func (m *mockRules) ListOrdered(_ context.Context) ([]models.RoutingRule, error) {
	return m.rules, nil
}

// passGuard admits everything; dupGuard suppresses everything.
type passGuard struct{}

func (passGuard) IsDuplicate(_ time.Time, _ models.InboundAlert) bool { return false }

type dupGuard struct{}

func (dupGuard) IsDuplicate(_ time.Time, _ models.InboundAlert) bool { return true }

type mockMailer struct {
	sent []string
	err  error
}

func (m *mockMailer) Forward(_ context.Context, to, _, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

type mockSMS struct {
	calls   int
	numbers []string
	ok      bool
	err     error
}

func (m *mockSMS) Send(_ context.Context, _, _ string, numbers []string) (bool, error) {
	m.calls++
	m.numbers = append(m.numbers, numbers...)
	return m.ok, m.err
}

type mockAlarms struct {
	recs []models.AlarmRecord
}

func (m *mockAlarms) Record(_ context.Context, rec models.AlarmRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

// --- fixtures ---

var (
	now       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lastPoll  = now.Add(-5 * time.Minute)
	testAlert = models.InboundAlert{
		From:    "nagios@mon.example.com",
		Subject: "host down",
		Body:    "prod-db-1 unreachable",
		SentAt:  now.Add(-time.Minute),
	}
	testRule = models.RoutingRule{
		ID:                 1,
		ProjectID:          10,
		FromEmailSubstring: "nagios@",
		SubjectKeywords:    []string{"down"},
	}
)

func onCall(users ...models.OnCallUser) []models.RosterEntry {
	return []models.RosterEntry{{ProjectID: 10, ProjectName: "billing", Users: users}}
}

type fixture struct {
	sessions *mockSessions
	mbx      *mockMailbox
	mailer   *mockMailer
	sms      *mockSMS
	alarms   *mockAlarms
	d        *Dispatcher
}

func newFixture(roster []models.RosterEntry, mbx *mockMailbox, guard FloodGuard) *fixture {
	f := &fixture{
		sessions: &mockSessions{sess: models.PollSession{LastPoll: lastPoll}},
		mbx:      mbx,
		mailer:   &mockMailer{},
		sms:      &mockSMS{ok: true},
		alarms:   &mockAlarms{},
	}
	f.d = New(Config{
		Sessions:        f.sessions,
		Mailbox:         f.mbx,
		Roster:          &mockRoster{entries: roster},
		RuleStore:       &mockRules{rules: []models.RoutingRule{testRule}},
		Guard:           guard,
		Mailer:          f.mailer,
		SMS:             f.sms,
		Alarms:          f.alarms,
		SMSSenderNumber: "0046800000000",
	})
	return f
}

// --- tests ---

func TestRun_NoOneOnCall(t *testing.T) {
	f := newFixture(nil, &mockMailbox{}, passGuard{})

	res, err := f.d.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeNoOneOnCall {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeNoOneOnCall)
	}
	if len(f.mbx.windows) != 0 {
		t.Error("mailbox must not be read when no one is on call")
	}

	sess := f.sessions.last(t)
	if sess.LastMessage != "No one oncall" {
		t.Errorf("last message = %q", sess.LastMessage)
	}
	if !sess.LastPoll.Equal(now) {
		t.Errorf("watermark = %v, want %v", sess.LastPoll, now)
	}
}

func TestRun_ReadFailureHoldsWatermark(t *testing.T) {
	mbx := &mockMailbox{err: errors.New("connection refused")}
	f := newFixture(onCall(models.OnCallUser{ID: 1, Name: "Eva"}), mbx, passGuard{})

	res, err := f.d.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeReadFailed {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeReadFailed)
	}

	sess := f.sessions.last(t)
	if sess.LastMessage != "Failed to read oncall emails" {
		t.Errorf("last message = %q", sess.LastMessage)
	}
	if !sess.LastPoll.Equal(lastPoll) {
		t.Errorf("watermark advanced to %v on a failed read", sess.LastPoll)
	}

	// The next run retries the same window lower bound.
	mbx.err = nil
	if _, err := f.d.Run(context.Background(), now.Add(5*time.Minute)); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := mbx.windows[1][0]; !got.Equal(lastPoll) {
		t.Errorf("retry window lower bound = %v, want %v", got, lastPoll)
	}
}

func TestRun_NoNewMail(t *testing.T) {
	f := newFixture(onCall(models.OnCallUser{ID: 1, Name: "Eva"}), &mockMailbox{total: 7}, passGuard{})

	res, err := f.d.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeNoNewMail {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeNoNewMail)
	}
	if len(f.alarms.recs) != 0 {
		t.Errorf("alarm records = %d, want 0", len(f.alarms.recs))
	}

	sess := f.sessions.last(t)
	if sess.LastMessage != "No incoming oncall emails" {
		t.Errorf("last message = %q", sess.LastMessage)
	}
	if !sess.LastPoll.Equal(now) {
		t.Error("watermark must advance over an empty window")
	}
	if sess.MailboxSizeAtLastPoll != 7 {
		t.Errorf("mailbox size = %d, want 7", sess.MailboxSizeAtLastPoll)
	}
}

func TestRun_FanoutBothChannels(t *testing.T) {
	users := onCall(
		models.OnCallUser{ID: 1, Name: "Eva", Email: "eva@timekeep.example", MobileNumber: "0701234567"},
		models.OnCallUser{ID: 2, Name: "Lars", Email: "lars@timekeep.example"}, // no phone
	)
	f := newFixture(users, &mockMailbox{alerts: []models.InboundAlert{testAlert}, total: 3}, passGuard{})

	res, err := f.d.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Read != 1 || res.Dispatched != 1 {
		t.Errorf("result = %+v", res)
	}

	if len(f.alarms.recs) != 2 {
		t.Fatalf("alarm records = %d, want one per on-call user", len(f.alarms.recs))
	}

	eva := f.alarms.recs[0]
	if !eva.EmailSent || !eva.SMSSent {
		t.Errorf("eva record = email:%v sms:%v, want both sent", eva.EmailSent, eva.SMSSent)
	}
	if eva.Message != "Ok" {
		t.Errorf("eva message = %q", eva.Message)
	}

	lars := f.alarms.recs[1]
	if !lars.EmailSent || lars.SMSSent {
		t.Errorf("lars record = email:%v sms:%v, want email only", lars.EmailSent, lars.SMSSent)
	}
	if !strings.Contains(lars.Message, "No mobile number found") {
		t.Errorf("lars message = %q, want missing-mobile diagnostic", lars.Message)
	}

	if f.sms.calls != 1 {
		t.Errorf("sms calls = %d, want 1 (no call for missing number)", f.sms.calls)
	}

	sess := f.sessions.last(t)
	if sess.LastMessage != "Ok" {
		t.Errorf("last message = %q", sess.LastMessage)
	}
	if !sess.LastPoll.Equal(now) {
		t.Error("watermark must advance on completion")
	}
	if sess.TotalEmailsSeen != 1 || sess.TotalDispatched != 1 {
		t.Errorf("lifetime counters = seen:%d dispatched:%d", sess.TotalEmailsSeen, sess.TotalDispatched)
	}
	if sess.ReadInLastPoll != 1 || sess.DispatchedInLastPoll != 1 || sess.MailboxSizeAtLastPoll != 3 {
		t.Errorf("cycle counters = %+v", sess)
	}
}

// Every (rule-match, user) pair gets its alarm row even when every send
// fails; the row is the evidence of the attempt.
func TestRun_AlarmCompletenessOnTotalFailure(t *testing.T) {
	users := onCall(
		models.OnCallUser{ID: 1, Name: "Eva", Email: "eva@x", MobileNumber: "0701234567"},
		models.OnCallUser{ID: 2, Name: "Lars", Email: "lars@x", MobileNumber: "0702345678"},
		models.OnCallUser{ID: 3, Name: "Maja", Email: "maja@x", MobileNumber: "0703456789"},
	)
	f := newFixture(users, &mockMailbox{alerts: []models.InboundAlert{testAlert}, total: 1}, passGuard{})
	f.mailer.err = errors.New("smtp 550")
	f.sms.ok = false
	f.sms.err = errors.New("gateway rejected")

	res, err := f.d.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.alarms.recs) != 3 {
		t.Fatalf("alarm records = %d, want 3", len(f.alarms.recs))
	}
	for _, rec := range f.alarms.recs {
		if rec.EmailSent || rec.SMSSent {
			t.Errorf("record for %s claims success", rec.UserName)
		}
		if !strings.Contains(rec.Message, "smtp 550") || !strings.Contains(rec.Message, "gateway rejected") {
			t.Errorf("record message = %q, want both failure diagnostics", rec.Message)
		}
	}
	if res.Dispatched != 0 {
		t.Errorf("dispatched = %d, want 0 when nothing was delivered", res.Dispatched)
	}

	sess := f.sessions.last(t)
	if sess.TotalDispatched != 0 || sess.TotalEmailsSeen != 1 {
		t.Errorf("lifetime counters = %+v", sess)
	}
}

func TestRun_DuplicateSuppressed(t *testing.T) {
	f := newFixture(
		onCall(models.OnCallUser{ID: 1, Name: "Eva", Email: "eva@x"}),
		&mockMailbox{alerts: []models.InboundAlert{testAlert}, total: 1},
		dupGuard{},
	)

	res, err := f.d.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.alarms.recs) != 0 {
		t.Errorf("alarm records = %d, want 0 for suppressed alert", len(f.alarms.recs))
	}
	if res.Dispatched != 0 {
		t.Errorf("dispatched = %d", res.Dispatched)
	}

	// The alert was still read and counted.
	if sess := f.sessions.last(t); sess.TotalEmailsSeen != 1 {
		t.Errorf("emails seen = %d, want 1", sess.TotalEmailsSeen)
	}
}

func TestRun_NoMatchingRule(t *testing.T) {
	other := testAlert
	other.From = "someone-else@example.com"
	f := newFixture(
		onCall(models.OnCallUser{ID: 1, Name: "Eva", Email: "eva@x"}),
		&mockMailbox{alerts: []models.InboundAlert{other}, total: 1},
		passGuard{},
	)

	res, err := f.d.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if len(f.alarms.recs) != 0 {
		t.Errorf("alarm records = %d, want 0 for unmatched alert", len(f.alarms.recs))
	}
	if len(f.mailer.sent) != 0 || f.sms.calls != 0 {
		t.Error("nothing may be sent for an unmatched alert")
	}
}

// Across consecutive successful runs the watermark never moves backwards
// and always lands on the run's "now".
func TestRun_WatermarkMonotonic(t *testing.T) {
	f := newFixture(onCall(models.OnCallUser{ID: 1, Name: "Eva"}), &mockMailbox{total: 1}, passGuard{})

	instants := []time.Time{now, now.Add(5 * time.Minute), now.Add(10 * time.Minute)}
	prev := lastPoll
	for _, at := range instants {
		if _, err := f.d.Run(context.Background(), at); err != nil {
			t.Fatalf("Run(%v): %v", at, err)
		}
		sess := f.sessions.last(t)
		if sess.LastPoll.Before(prev) {
			t.Errorf("watermark moved backwards: %v < %v", sess.LastPoll, prev)
		}
		if !sess.LastPoll.Equal(at) {
			t.Errorf("watermark = %v, want %v", sess.LastPoll, at)
		}
		prev = sess.LastPoll
	}
}

func TestRun_MatchedProjectNotOnCall(t *testing.T) {
	// Roster has project 20 on call, but the rule routes to project 10.
	roster := []models.RosterEntry{{ProjectID: 20, Users: []models.OnCallUser{{ID: 9, Name: "Nils", Email: "nils@x"}}}}
	f := newFixture(roster, &mockMailbox{alerts: []models.InboundAlert{testAlert}, total: 1}, passGuard{})

	res, err := f.d.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.alarms.recs) != 0 || res.Dispatched != 0 {
		t.Errorf("nothing may be dispatched when the matched project is off call: %+v", res)
	}
}
