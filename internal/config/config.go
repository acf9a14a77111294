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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailboxConfig holds the connection settings for the shared on-call mailbox.
type MailboxConfig struct {
	Protocol string `yaml:"protocol"` // "imap" or "imaps"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Folder   string `yaml:"folder"`
}

// Addr returns the host:port dial address for the mailbox.
func (m MailboxConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// SMTPIdentity is one outbound mail identity. The pipeline sends alert
// forwards with the "oncall" identity; the "reminder" identity belongs to
// the reminder-mail job and is carried here so both live in one place.
type SMTPIdentity struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	StartTLS bool   `yaml:"starttls"`
	Auth     bool   `yaml:"auth"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// SMSConfig holds the HTTP SMS gateway settings. ReplyNumber is the static
// reply-routing phone number used as the sending number for alarm SMS.
type SMSConfig struct {
	BaseURL     string `yaml:"base_url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Originator  string `yaml:"originator"`
	ReplyNumber string `yaml:"reply_number"`
}

// Config holds all configuration for the dispatch service.
type Config struct {
	Mailbox      MailboxConfig
	SMTPOnCall   SMTPIdentity
	SMTPReminder SMTPIdentity
	SMS          SMSConfig

	DatabaseURL string
	RedisURL    string

	// Schedule is either a standard cron spec or a Go duration string.
	Schedule     string
	CycleTimeout time.Duration

	// Server (health check only)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailbox MailboxConfig `yaml:"mailbox"`
	SMTP    struct {
		OnCall   SMTPIdentity `yaml:"oncall"`
		Reminder SMTPIdentity `yaml:"reminder"`
	} `yaml:"smtp"`
	SMS      SMSConfig `yaml:"sms"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Dispatch struct {
		Schedule     string `yaml:"schedule"`
		CycleTimeout string `yaml:"cycle_timeout"`
	} `yaml:"dispatch"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mailbox:      raw.Mailbox,
		SMTPOnCall:   raw.SMTP.OnCall,
		SMTPReminder: raw.SMTP.Reminder,
		SMS:          raw.SMS,
		DatabaseURL:  firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		Schedule:     firstNonEmpty(raw.Dispatch.Schedule, envOrDefault("DISPATCH_SCHEDULE", "5m")),
		CycleTimeout: envOrDefaultDuration("CYCLE_TIMEOUT", 2*time.Minute),
		Port:         envOrDefaultInt("PORT", 8080),
	}

	if raw.Dispatch.CycleTimeout != "" {
		d, err := time.ParseDuration(raw.Dispatch.CycleTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse dispatch.cycle_timeout: %w", err)
		}
		cfg.CycleTimeout = d
	}

	if cfg.Mailbox.Host == "" {
		return nil, fmt.Errorf("mailbox.host is required")
	}
	if cfg.Mailbox.Protocol == "" {
		cfg.Mailbox.Protocol = "imaps"
	}
	if cfg.Mailbox.Port == 0 {
		if cfg.Mailbox.Protocol == "imaps" {
			cfg.Mailbox.Port = 993
		} else {
			cfg.Mailbox.Port = 143
		}
	}
	if cfg.Mailbox.Folder == "" {
		cfg.Mailbox.Folder = "INBOX"
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database.url (or DATABASE_URL) is required")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
