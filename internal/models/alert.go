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

// Package models defines the data structures shared across the on-call
// dispatch pipeline.
package models

import "time"

// InboundAlert is one parsed monitoring email pulled from the shared
// mailbox. It lives for a single dispatch cycle and is never persisted.
type InboundAlert struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
	SentAt  time.Time
}

// RoutingRule routes inbound alerts to a project. Rules are admin-authored
// and evaluated in Position order; the first match wins.
//
// FromEmailSubstring is matched case-sensitively as a substring of the
// alert sender. A rule whose keyword lists are both empty never matches
// and is treated as misconfigured.
type RoutingRule struct {
	ID                 int64
	ProjectID          int64
	FromEmailSubstring string
	SubjectKeywords    []string
	BodyKeywords       []string
	Position           int
}

// OnCallUser is a user currently on call, with whatever contact info the
// admin system has for them. Either field may be empty.
type OnCallUser struct {
	ID           int64
	Name         string
	Email        string
	MobileNumber string
}

// RosterEntry is one project currently inside an on-call window, together
// with the users on call for it.
type RosterEntry struct {
	ProjectID   int64
	ProjectName string
	Users       []OnCallUser
}

// AlarmStatus is the triage state of an alarm record. Only NEW is written
// today; the type exists so a future triage workflow can extend it.
type AlarmStatus string

// Severity classifies an alarm record. Only ERROR is written today.
type Severity string

const (
	AlarmStatusNew AlarmStatus = "NEW"

	SeverityError Severity = "ERROR"
)

// AlarmRecord is the durable evidence of one dispatch attempt: exactly one
// row per (matched rule, on-call user) pair per inbound alert, whether or
// not delivery succeeded. Records are append-only; retention is handled by
// an external housekeeping job.
type AlarmRecord struct {
	ID        string
	UserID    *int64
	UserName  string
	ProjectID int64
	Sender    string
	Subject   string
	EmailSent bool
	SMSSent   bool
	Status    AlarmStatus
	Severity  Severity
	Message   string
	CreatedAt time.Time
}

// PollSession is the singleton progress record for the dispatcher. Its
// LastPoll timestamp is the sole durable cursor: the exclusive lower bound
// of the next mail-search window. It is mutated only by the dispatcher, at
// the end of a successful cycle or immediately on a hard failure.
type PollSession struct {
	LastPoll time.Time

	// Lifetime counters.
	TotalEmailsSeen int64
	TotalDispatched int64

	// Per-cycle counters, overwritten every run.
	ReadInLastPoll        int
	DispatchedInLastPoll  int
	MailboxSizeAtLastPoll int

	// Human-readable outcome of the last cycle.
	LastMessage string
}
