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

// Package sms implements the HTTP SMS gateway client used to forward
// alerts to on-call mobile numbers. Delivery is best effort: an unusable
// number is dropped, a rejected send is reported but never fatal.
package sms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds the synchronous gateway round trip.
const DefaultTimeout = 15 * time.Second

// Client talks to the external SMS gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

// NewClient creates an SMS gateway client. A nil httpClient gets a default
// with DefaultTimeout.
func NewClient(httpClient *http.Client, baseURL, username, password string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
	}
}

// Send normalizes the destination numbers, truncates the message to the
// transport limit and issues one gateway request for all usable numbers.
// It returns false without error when no usable number remains, and false
// with an error when the gateway rejects the send.
func (c *Client) Send(ctx context.Context, sender, message string, numbers []string) (bool, error) {
	var usable []string
	for _, raw := range numbers {
		n, ok := Normalize(raw)
		if !ok {
			slog.Debug("dropping unusable mobile number", "number", raw)
			continue
		}
		usable = append(usable, n)
	}
	if len(usable) == 0 {
		return false, nil
	}

	text := Truncate(message, MaxMessageLen)

	// The query-string shape, parameter order included, is a compatibility
	// contract with the gateway. url.Values sorts keys, so the query is
	// assembled by hand.
	query := "username=" + url.QueryEscape(c.username) +
		"&password=" + url.QueryEscape(c.password) +
		"&destination=" + url.QueryEscape(strings.Join(usable, ",")) +
		"&type=text&charset=UTF-8" +
		"&text=" + url.QueryEscape(text) +
		"&originatortype=alpha" +
		"&originator=" + url.QueryEscape(sender)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sms.php?"+query, nil)
	if err != nil {
		return false, fmt.Errorf("build sms request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return false, fmt.Errorf("read sms gateway response: %w", err)
	}

	if !strings.HasPrefix(string(body), "OK") {
		return false, fmt.Errorf("sms gateway rejected send: %q", strings.TrimSpace(string(body)))
	}

	slog.Info("sms sent", "destinations", len(usable))
	return true, nil
}
