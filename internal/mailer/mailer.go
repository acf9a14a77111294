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

// Package mailer forwards matched alerts by SMTP using the on-call
// forwarding identity.
package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/timekeep/oncall/internal/config"
)

// Mailer sends alert forwards with a fixed SMTP identity.
type Mailer struct {
	identity config.SMTPIdentity
}

// New creates a mailer for the given SMTP identity.
func New(identity config.SMTPIdentity) *Mailer {
	return &Mailer{identity: identity}
}

// Forward sends the alert subject and body to a single recipient. Each
// call dials a fresh connection; the pipeline sends few enough mails per
// cycle that connection reuse buys nothing.
func (m *Mailer) Forward(ctx context.Context, to, subject, body string) error {
	opts := []mail.Option{mail.WithPort(m.identity.Port)}

	if m.identity.StartTLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if m.identity.Auth {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.identity.Username),
			mail.WithPassword(m.identity.Password),
		)
	}

	client, err := mail.NewClient(m.identity.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.identity.From); err != nil {
		return fmt.Errorf("smtp from %q: %w", m.identity.From, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("smtp to %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send forward to %s: %w", to, err)
	}
	return nil
}
