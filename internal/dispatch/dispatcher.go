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

// Package dispatch drives one poll cycle end-to-end: load the session
// cursor, check who is on call, read the mailbox window, route each alert
// through the flood guard and rule matcher, fan out to the on-call users
// by email and SMS, record every attempt in the alarm log, and commit the
// new watermark.
//
// Watermark discipline: the watermark advances on every completed cycle
// (including empty ones and "no one on call") and stays put on a failed
// mailbox read, so the same window is retried next run. No alert is ever
// silently skipped: a read failure aborts the cycle before anything is
// half-processed.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timekeep/oncall/internal/models"
	"github.com/timekeep/oncall/internal/rules"
)

// Session outcome messages. These end up in the poll session row and are
// the only way a cycle's outcome is surfaced.
const (
	msgOK          = "Ok"
	msgNoOneOnCall = "No one oncall"
	msgReadFailed  = "Failed to read oncall emails"
	msgNoNewMail   = "No incoming oncall emails"
)

// Per-target diagnostics recorded in alarm rows.
const (
	diagNoEmail        = "No email found"
	diagNoMobile       = "No mobile number found"
	diagUnusableMobile = "No usable mobile number"
)

// SessionStore loads and saves the singleton poll session.
type SessionStore interface {
	Load(ctx context.Context) (*models.PollSession, error)
	Save(ctx context.Context, sess *models.PollSession) error
}

// MailReader reads alerts received inside a time window.
type MailReader interface {
	ReadSince(ctx context.Context, from, to time.Time) ([]models.InboundAlert, int, error)
}

// RosterLookup answers which projects are on call at an instant.
type RosterLookup interface {
	OnCallProjects(ctx context.Context, at time.Time) ([]models.RosterEntry, error)
}

// RuleSource lists routing rules in match-priority order.
type RuleSource interface {
	ListOrdered(ctx context.Context) ([]models.RoutingRule, error)
}

// FloodGuard suppresses bursts of identical alerts.
type FloodGuard interface {
	IsDuplicate(now time.Time, alert models.InboundAlert) bool
}

// EmailSender forwards an alert to one address.
type EmailSender interface {
	Forward(ctx context.Context, to, subject, body string) error
}

// SMSSender sends one message to a set of numbers. A false result without
// error means no usable number remained after normalization.
type SMSSender interface {
	Send(ctx context.Context, sender, message string, numbers []string) (bool, error)
}

// AlarmSink appends one alarm record per dispatch attempt.
type AlarmSink interface {
	Record(ctx context.Context, rec models.AlarmRecord) error
}

// Outcome is the terminal state of one dispatcher run.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeNoOneOnCall Outcome = "no_one_oncall"
	OutcomeReadFailed  Outcome = "read_failed"
	OutcomeNoNewMail   Outcome = "no_new_mail"
)

// Result summarises one run.
type Result struct {
	Outcome    Outcome
	Read       int
	Dispatched int
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Sessions  SessionStore
	Mailbox   MailReader
	Roster    RosterLookup
	RuleStore RuleSource
	Guard     FloodGuard
	Mailer    EmailSender
	SMS       SMSSender
	Alarms    AlarmSink

	// SMSSenderNumber is the static reply-routing number used as the
	// originator of alarm SMS.
	SMSSenderNumber string
}

// Dispatcher runs poll cycles. One Run call is one full transition; the
// caller serializes invocations.
type Dispatcher struct {
	sessions  SessionStore
	mailbox   MailReader
	roster    RosterLookup
	ruleStore RuleSource
	guard     FloodGuard
	mailer    EmailSender
	sms       SMSSender
	alarms    AlarmSink
	smsSender string
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		sessions:  cfg.Sessions,
		mailbox:   cfg.Mailbox,
		roster:    cfg.Roster,
		ruleStore: cfg.RuleStore,
		guard:     cfg.Guard,
		mailer:    cfg.Mailer,
		sms:       cfg.SMS,
		alarms:    cfg.Alarms,
		smsSender: cfg.SMSSenderNumber,
	}
}

// Run executes one poll cycle at the given instant. Hard failures that
// could not even be recorded in the session are returned as errors; a
// recorded failure (mailbox unreachable) is a normal Result with
// OutcomeReadFailed.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (Result, error) {
	runID := uuid.New().String()[:8]
	log := slog.With("run_id", runID)

	sess, err := d.sessions.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load poll session: %w", err)
	}

	roster, err := d.roster.OnCallProjects(ctx, now)
	if err != nil {
		// Watermark untouched: the same window is retried next run.
		return Result{}, fmt.Errorf("on-call roster lookup: %w", err)
	}
	if len(roster) == 0 {
		// Nobody can act on an alert, so the mailbox is not even read.
		log.Info("no one on call, skipping mailbox read")
		sess.LastMessage = msgNoOneOnCall
		sess.LastPoll = now
		sess.ReadInLastPoll = 0
		sess.DispatchedInLastPoll = 0
		if err := d.sessions.Save(ctx, sess); err != nil {
			return Result{}, fmt.Errorf("commit poll session: %w", err)
		}
		return Result{Outcome: OutcomeNoOneOnCall}, nil
	}

	alerts, mailboxTotal, err := d.mailbox.ReadSince(ctx, sess.LastPoll, now)
	if err != nil {
		log.Error("mailbox read failed, watermark not advanced",
			"window_from", sess.LastPoll.Format(time.RFC3339),
			"error", err,
		)
		sess.LastMessage = msgReadFailed
		if saveErr := d.sessions.Save(ctx, sess); saveErr != nil {
			log.Error("failed to record read failure", "error", saveErr)
		}
		return Result{Outcome: OutcomeReadFailed}, nil
	}

	sess.MailboxSizeAtLastPoll = mailboxTotal
	if len(alerts) == 0 {
		log.Info("no incoming oncall emails", "mailbox_total", mailboxTotal)
		sess.LastMessage = msgNoNewMail
		sess.LastPoll = now
		sess.ReadInLastPoll = 0
		sess.DispatchedInLastPoll = 0
		if err := d.sessions.Save(ctx, sess); err != nil {
			return Result{}, fmt.Errorf("commit poll session: %w", err)
		}
		return Result{Outcome: OutcomeNoNewMail}, nil
	}

	ruleList, err := d.ruleStore.ListOrdered(ctx)
	if err != nil {
		// Nothing was dispatched yet; leave the watermark so the whole
		// window replays once the rules are readable again.
		return Result{}, fmt.Errorf("load routing rules: %w", err)
	}

	dispatched := 0
	for _, alert := range alerts {
		if d.guard.IsDuplicate(now, alert) {
			log.Info("suppressing duplicate alert",
				"from", alert.From,
				"subject", alert.Subject,
			)
			continue
		}

		rule := rules.Match(alert, ruleList)
		if rule == nil {
			log.Info("no routing rule matched alert",
				"from", alert.From,
				"subject", alert.Subject,
			)
			continue
		}

		users := usersOnCall(roster, rule.ProjectID)
		if len(users) == 0 {
			log.Warn("matched project has no one on call",
				"project_id", rule.ProjectID,
				"rule_id", rule.ID,
			)
			continue
		}

		anySuccess := false
		for _, user := range users {
			rec := d.fanout(ctx, alert, rule.ProjectID, user)
			if err := d.alarms.Record(ctx, rec); err != nil {
				log.Error("failed to persist alarm record",
					"project_id", rule.ProjectID,
					"user", user.Name,
					"error", err,
				)
			}
			if rec.EmailSent || rec.SMSSent {
				anySuccess = true
			}
		}
		if anySuccess {
			dispatched++
		}
	}

	sess.TotalEmailsSeen += int64(len(alerts))
	sess.TotalDispatched += int64(dispatched)
	sess.ReadInLastPoll = len(alerts)
	sess.DispatchedInLastPoll = dispatched
	sess.LastPoll = now
	sess.LastMessage = msgOK
	if err := d.sessions.Save(ctx, sess); err != nil {
		return Result{}, fmt.Errorf("commit poll session: %w", err)
	}

	log.Info("dispatch cycle complete",
		"read", len(alerts),
		"dispatched", dispatched,
		"mailbox_total", mailboxTotal,
	)
	return Result{Outcome: OutcomeCompleted, Read: len(alerts), Dispatched: dispatched}, nil
}

// fanout attempts both channels for one user and builds the alarm record
// that proves the attempt. Send failures are soft: they end up in the
// record's diagnostic, never abort the cycle.
func (d *Dispatcher) fanout(ctx context.Context, alert models.InboundAlert, projectID int64, user models.OnCallUser) models.AlarmRecord {
	var diags []string
	emailSent := false
	smsSent := false

	if user.Email == "" {
		diags = append(diags, diagNoEmail)
	} else if err := d.mailer.Forward(ctx, user.Email, alert.Subject, alert.Body); err != nil {
		slog.Warn("email forward failed", "to", user.Email, "error", err)
		diags = append(diags, "Failed to forward email: "+err.Error())
	} else {
		emailSent = true
	}

	if user.MobileNumber == "" {
		diags = append(diags, diagNoMobile)
	} else {
		sent, err := d.sms.Send(ctx, d.smsSender, alert.Subject+" "+alert.Body, []string{user.MobileNumber})
		switch {
		case err != nil:
			slog.Warn("sms send failed", "user", user.Name, "error", err)
			diags = append(diags, "Failed to send SMS: "+err.Error())
		case !sent:
			diags = append(diags, diagUnusableMobile)
		default:
			smsSent = true
		}
	}

	message := msgOK
	if len(diags) > 0 {
		message = strings.Join(diags, "; ")
	}

	var userID *int64
	if user.ID != 0 {
		id := user.ID
		userID = &id
	}

	return models.AlarmRecord{
		UserID:    userID,
		UserName:  user.Name,
		ProjectID: projectID,
		Sender:    alert.From,
		Subject:   alert.Subject,
		EmailSent: emailSent,
		SMSSent:   smsSent,
		Status:    models.AlarmStatusNew,
		Severity:  models.SeverityError,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// usersOnCall flattens the roster entries for one project.
func usersOnCall(roster []models.RosterEntry, projectID int64) []models.OnCallUser {
	var users []models.OnCallUser
	for _, entry := range roster {
		if entry.ProjectID == projectID {
			users = append(users, entry.Users...)
		}
	}
	return users
}
