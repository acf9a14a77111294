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

// Package mailbox reads incoming monitoring alerts from the shared IMAP
// mailbox. Each read opens a fresh read-only connection, searches one time
// window and extracts sender, recipients, subject and flattened body text.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/timekeep/oncall/internal/config"
	"github.com/timekeep/oncall/internal/models"
)

// searchPad widens the search window on both ends. It defends against
// reader/server clock skew and boundary exclusion at the watermark.
const searchPad = time.Second

// DefaultDialTimeout bounds the TCP connect to the mailbox host.
const DefaultDialTimeout = 30 * time.Second

// Reader pulls alert mails from the shared mailbox.
type Reader struct {
	cfg         config.MailboxConfig
	dialTimeout time.Duration
}

// NewReader creates a mailbox reader for the configured mailbox.
func NewReader(cfg config.MailboxConfig) *Reader {
	return &Reader{cfg: cfg, dialTimeout: DefaultDialTimeout}
}

// ReadSince returns the alerts received in [from-1s, to+1s] plus the total
// number of messages in the mailbox. Any connection or search failure is
// returned as-is: a failed read must abort the whole cycle, partial
// results are not trusted.
//
// IMAP SINCE is date-granular, so candidates are searched from the padded
// window's date and filtered on internal date here.
func (r *Reader) ReadSince(ctx context.Context, from, to time.Time) ([]models.InboundAlert, int, error) {
	lo := from.Add(-searchPad)
	hi := to.Add(searchPad)

	client, err := r.dial(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("connect mailbox %s: %w", r.cfg.Addr(), err)
	}
	defer client.Close()

	if err := client.Login(r.cfg.Username, r.cfg.Password).Wait(); err != nil {
		return nil, 0, fmt.Errorf("mailbox login: %w", err)
	}

	sel, err := client.Select(r.cfg.Folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, 0, fmt.Errorf("select %s: %w", r.cfg.Folder, err)
	}
	total := int(sel.NumMessages)
	if total == 0 {
		slog.Info("mailbox empty", "folder", r.cfg.Folder)
		return nil, 0, nil
	}

	data, err := client.Search(&imap.SearchCriteria{Since: lo}, nil).Wait()
	if err != nil {
		return nil, 0, fmt.Errorf("search mailbox: %w", err)
	}
	seqNums := data.AllSeqNums()
	if len(seqNums) == 0 {
		slog.Info("no messages in search window",
			"from", from.Format(time.RFC3339),
			"to", to.Format(time.RFC3339),
			"mailbox_total", total,
		)
		return nil, total, nil
	}

	var seqSet imap.SeqSet
	seqSet.AddNum(seqNums...)

	fetchOpts := &imap.FetchOptions{
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	msgs, err := client.Fetch(seqSet, fetchOpts).Collect()
	if err != nil {
		return nil, 0, fmt.Errorf("fetch messages: %w", err)
	}

	var alerts []models.InboundAlert
	for _, msg := range msgs {
		if msg.InternalDate.Before(lo) || msg.InternalDate.After(hi) {
			continue
		}

		alert := models.InboundAlert{SentAt: msg.InternalDate}
		if env := msg.Envelope; env != nil {
			if len(env.From) > 0 {
				alert.From = env.From[0].Addr()
			}
			alert.To = addressList(env.To)
			alert.Cc = addressList(env.Cc)
			alert.Subject = env.Subject
		}

		if raw := msg.FindBodySection(&imap.FetchItemBodySection{}); raw != nil {
			alert.Body = ExtractBody(raw)
		} else {
			alert.Body = UnreadableBody
		}
		alerts = append(alerts, alert)
	}

	// Arrival order: the dispatcher processes oldest first.
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].SentAt.Before(alerts[j].SentAt)
	})

	slog.Info("mailbox read",
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
		"found", len(alerts),
		"mailbox_total", total,
	)
	return alerts, total, nil
}

func (r *Reader) dial(ctx context.Context) (*imapclient.Client, error) {
	dialer := &net.Dialer{Timeout: r.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.Addr())
	if err != nil {
		return nil, err
	}

	if r.cfg.Protocol == "imaps" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: r.cfg.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	return imapclient.New(conn, &imapclient.Options{}), nil
}

func addressList(addrs []imap.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr())
	}
	return out
}
