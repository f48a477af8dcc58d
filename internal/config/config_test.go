// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"REGIS_API_URL", "REGIS_MODEL", "REGIS_LOG_LEVEL", "REGIS_LOCALE", "REGIS_OFFLINE", "REGIS_METRICS_ADDR", "LANG"} {
		t.Setenv(k, "")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.BaseDelay)
	assert.Equal(t, 3*time.Second, policy.MaxDelay)
	assert.Equal(t, 200*time.Millisecond, policy.Jitter)
	assert.Equal(t, []int{429, 502, 503, 504}, policy.RetryableStatuses)
	assert.Equal(t, 120*time.Second, cfg.Timeout())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGIS_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().API.BaseURL, cfg.API.BaseURL)
}

func TestLoadFromPath_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
base_url = "https://regis.example.com/api"

[retry]
max_attempts = 5

[backup]
encrypt = false
`), 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "https://regis.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1000, cfg.Retry.BaseDelayMs)
	assert.False(t, cfg.Backup.Encrypt)
	assert.True(t, cfg.UI.Markdown)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)

	if os.PathSeparator == '/' {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
base_url = "file:///etc/passwd"

[retry]
max_attempts = 0
base_delay_ms = 5000
max_delay_ms = 100
`), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	fields := map[string]bool{}
	for _, v := range verrs {
		fields[v.Field] = true
	}
	assert.True(t, fields["api.base_url"])
	assert.True(t, fields["retry.max_delay_ms"])
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"no host", func(c *Config) { c.API.BaseURL = "http://" }, "api.base_url"},
		{"timeout", func(c *Config) { c.API.TimeoutSecs = -1 }, "api.timeout_secs"},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = 11 }, "retry.max_attempts"},
		{"status range", func(c *Config) { c.Retry.RetryableStatuses = []int{200} }, "retry.retryable_statuses"},
		{"401 not retryable", func(c *Config) { c.Retry.RetryableStatuses = []int{401} }, "retry.retryable_statuses"},
		{"queue retries", func(c *Config) { c.Queue.MaxRetries = 0 }, "queue.max_retries"},
		{"backups", func(c *Config) { c.Backup.MaxBackups = 0 }, "backup.max_backups"},
		{"history", func(c *Config) { c.Session.HistoryLimit = 0 }, "session.history_limit"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"metrics addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "nope" }, "metrics.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGIS_API_URL", "https://override.example/api")
	t.Setenv("REGIS_LOG_LEVEL", "debug")
	t.Setenv("REGIS_OFFLINE", "true")
	t.Setenv("LANG", "pl_PL.UTF-8")
	t.Setenv("REGIS_METRICS_ADDR", ":9999")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "https://override.example/api", cfg.API.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.API.Offline)
	assert.Equal(t, "pl_PL.UTF-8", cfg.UI.Locale)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
}

func TestSaveAndReload(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.DefaultModel = "llama3"
	cfg.Queue.DrainIntervalMs = 250
	require.NoError(t, SaveTo(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "llama3", loaded.DefaultModel)
	assert.Equal(t, 250*time.Millisecond, loaded.DrainInterval())
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("api.base_url", "https://x.example/api"))
	require.NoError(t, cfg.Set("retry.max_attempts", "4"))
	require.NoError(t, cfg.Set("ui.markdown", "false"))
	require.NoError(t, cfg.Set("retry.retryable_statuses", "429, 503"))
	require.NoError(t, cfg.Set("session.history_limit", 20))

	v, err := cfg.Get("api.base_url")
	require.NoError(t, err)
	assert.Equal(t, "https://x.example/api", v)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.UI.Markdown)
	assert.Equal(t, []int{429, 503}, cfg.Retry.RetryableStatuses)
	assert.Equal(t, 20, cfg.Session.HistoryLimit)

	_, err = cfg.Get("api.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("api", "x"))
	assert.Error(t, cfg.Set("retry.max_attempts", "many"))
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "api.base_url")
	assert.Contains(t, keys, "queue.max_retries")
	assert.Contains(t, keys, "default_model")
	for _, k := range keys {
		_, err := Default().Get(k)
		assert.NoError(t, err, k)
	}
}

func TestPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("REGIS_HOME", home)

	cfg := Default()
	p, err := cfg.QueuePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "queue.db"), p)

	abs := filepath.Join(t.TempDir(), "b")
	cfg.Backup.Dir = abs
	p, err = cfg.BackupDir()
	require.NoError(t, err)
	assert.Equal(t, abs, p)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTo(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- Watch(ctx, path, 20*time.Millisecond, nil, func(cfg *Config, err error) {
			if err == nil {
				changes <- cfg
			}
		})
	}()

	cfg := Default()
	cfg.DefaultModel = "reloaded"
	require.Eventually(t, func() bool {
		require.NoError(t, SaveTo(cfg, path))
		select {
		case got := <-changes:
			return got.DefaultModel == "reloaded"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-watchErr)
}
