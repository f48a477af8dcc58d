// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns ValidateErrors listing all
// problems, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateBaseURL(c.API.BaseURL); err != nil {
		add("api.base_url", "%v", err)
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 3600 {
		add("api.timeout_secs", "must be between 1 and 3600, got %d", c.API.TimeoutSecs)
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		add("retry.max_attempts", "must be between 1 and 10, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelayMs < 0 {
		add("retry.base_delay_ms", "must not be negative")
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		add("retry.max_delay_ms", "must be at least base_delay_ms (%d)", c.Retry.BaseDelayMs)
	}
	if c.Retry.JitterMs < 0 {
		add("retry.jitter_ms", "must not be negative")
	}
	for _, status := range c.Retry.RetryableStatuses {
		if status < 400 || status > 599 {
			add("retry.retryable_statuses", "status %d is not an HTTP error status", status)
		}
		if status == 401 {
			add("retry.retryable_statuses", "401 is handled by session refresh and cannot be retried")
		}
	}

	if c.Queue.MaxRetries < 1 || c.Queue.MaxRetries > 100 {
		add("queue.max_retries", "must be between 1 and 100, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.DrainIntervalMs < 0 {
		add("queue.drain_interval_ms", "must not be negative")
	}
	if c.Queue.HealthIntervalSecs < 1 {
		add("queue.health_interval_secs", "must be at least 1")
	}

	if c.Backup.MaxBackups < 1 || c.Backup.MaxBackups > 1000 {
		add("backup.max_backups", "must be between 1 and 1000, got %d", c.Backup.MaxBackups)
	}
	if c.Backup.AutoSaveSecs < 0 {
		add("backup.autosave_secs", "must not be negative")
	}

	if c.Session.HistoryLimit < 1 {
		add("session.history_limit", "must be at least 1")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	switch c.Log.Format {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		add("log.format", "invalid format '%s', must be one of: json, console", c.Log.Format)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			add("metrics.addr", "invalid listen address '%s': %v", c.Metrics.Addr, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validateBaseURL allows only absolute http and https URLs.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}
