// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/retry"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete regis configuration.
type Config struct {
	Version      string `toml:"version" json:"version"`
	DefaultModel string `toml:"default_model" json:"default_model"`

	API     APIConfig     `toml:"api" json:"api"`
	Retry   RetryConfig   `toml:"retry" json:"retry"`
	Queue   QueueConfig   `toml:"queue" json:"queue"`
	Backup  BackupConfig  `toml:"backup" json:"backup"`
	Session SessionConfig `toml:"session" json:"session"`
	Log     LogConfig     `toml:"log" json:"log"`
	UI      UIConfig      `toml:"ui" json:"ui"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
}

// APIConfig configures the backend connection.
type APIConfig struct {
	BaseURL     string `toml:"base_url" json:"base_url"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`
	UserAgent   string `toml:"user_agent" json:"user_agent"`

	// Offline starts the client offline; sends are queued.
	Offline bool `toml:"offline" json:"offline"`
}

// RetryConfig mirrors retry.Policy in file-friendly units.
type RetryConfig struct {
	MaxAttempts       int   `toml:"max_attempts" json:"max_attempts"`
	BaseDelayMs       int   `toml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMs        int   `toml:"max_delay_ms" json:"max_delay_ms"`
	JitterMs          int   `toml:"jitter_ms" json:"jitter_ms"`
	RetryableStatuses []int `toml:"retryable_statuses" json:"retryable_statuses"`
}

// QueueConfig configures the offline queue.
type QueueConfig struct {
	Path               string `toml:"path" json:"path"`
	MaxRetries         int    `toml:"max_retries" json:"max_retries"`
	DrainIntervalMs    int    `toml:"drain_interval_ms" json:"drain_interval_ms"`
	HealthIntervalSecs int    `toml:"health_interval_secs" json:"health_interval_secs"`
}

// BackupConfig configures conversation backups.
type BackupConfig struct {
	Dir          string `toml:"dir" json:"dir"`
	KeyPath      string `toml:"key_path" json:"key_path"`
	MaxBackups   int    `toml:"max_backups" json:"max_backups"`
	AutoSaveSecs int    `toml:"autosave_secs" json:"autosave_secs"`
	Encrypt      bool   `toml:"encrypt" json:"encrypt"`
}

// SessionConfig configures the chat session.
type SessionConfig struct {
	HistoryLimit int `toml:"history_limit" json:"history_limit"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	Path   string `toml:"path" json:"path"`
}

// UIConfig configures terminal output.
type UIConfig struct {
	Locale   string `toml:"locale" json:"locale"`
	Markdown bool   `toml:"markdown" json:"markdown"`
	Color    bool   `toml:"color" json:"color"`
}

// MetricsConfig configures request metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Addr    string `toml:"addr" json:"addr"`
	Dir     string `toml:"dir" json:"dir"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// CurrentVersion is written to new config files.
const CurrentVersion = "1"

// Default returns the default configuration.
func Default() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Version: CurrentVersion,
		API: APIConfig{
			BaseURL:     "http://127.0.0.1:8787/api",
			TimeoutSecs: 120,
		},
		Retry: RetryConfig{
			MaxAttempts:       policy.MaxAttempts,
			BaseDelayMs:       int(policy.BaseDelay / time.Millisecond),
			MaxDelayMs:        int(policy.MaxDelay / time.Millisecond),
			JitterMs:          int(policy.Jitter / time.Millisecond),
			RetryableStatuses: slices.Clone(policy.RetryableStatuses),
		},
		Queue: QueueConfig{
			MaxRetries:         3,
			HealthIntervalSecs: 30,
		},
		Backup: BackupConfig{
			MaxBackups:   10,
			AutoSaveSecs: 300,
			Encrypt:      true,
		},
		Session: SessionConfig{
			HistoryLimit: 50,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		UI: UIConfig{
			Markdown: true,
			Color:    true,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the regis data directory: $REGIS_HOME or ~/.regis.
func Dir() (string, error) {
	if home := os.Getenv("REGIS_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".regis"), nil
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config file if it exists, then applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file with validation.
// Keys missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ReadFile decodes path over the defaults without environment overrides or
// validation. A missing file yields the defaults. "config set" edits this
// form so overrides are never written back.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	if err := ensureSecurePermissions(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	fillDefaults(cfg)
	return cfg, nil
}

// fillDefaults replaces zero values written explicitly in the file.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Version == "" {
		cfg.Version = d.Version
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = d.API.BaseURL
	}
	if cfg.API.TimeoutSecs == 0 {
		cfg.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelayMs == 0 {
		cfg.Retry.BaseDelayMs = d.Retry.BaseDelayMs
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = d.Retry.MaxDelayMs
	}
	if len(cfg.Retry.RetryableStatuses) == 0 {
		cfg.Retry.RetryableStatuses = d.Retry.RetryableStatuses
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = d.Queue.MaxRetries
	}
	if cfg.Queue.HealthIntervalSecs == 0 {
		cfg.Queue.HealthIntervalSecs = d.Queue.HealthIntervalSecs
	}
	if cfg.Backup.MaxBackups == 0 {
		cfg.Backup.MaxBackups = d.Backup.MaxBackups
	}
	if cfg.Backup.AutoSaveSecs == 0 {
		cfg.Backup.AutoSaveSecs = d.Backup.AutoSaveSecs
	}
	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = d.Session.HistoryLimit
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = d.Metrics.Addr
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default path.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration as TOML with 0600 permissions.
func SaveTo(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# regis configuration file\n")
	sb.WriteString("# Generated by regis - edit with care\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WriteFileAtomic(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - REGIS_API_URL: overrides api.base_url
//   - REGIS_MODEL: overrides default_model
//   - REGIS_LOG_LEVEL: overrides log.level
//   - REGIS_LOCALE: overrides ui.locale (falls back to LANG)
//   - REGIS_OFFLINE: "1" or "true" starts offline
//   - REGIS_METRICS_ADDR: overrides metrics.addr and enables metrics
func (c *Config) ApplyEnvOverrides() {
	if url := os.Getenv("REGIS_API_URL"); url != "" {
		c.API.BaseURL = url
	}
	if model := os.Getenv("REGIS_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if level := os.Getenv("REGIS_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if loc := os.Getenv("REGIS_LOCALE"); loc != "" {
		c.UI.Locale = loc
	} else if c.UI.Locale == "" {
		c.UI.Locale = os.Getenv("LANG")
	}
	if offline := os.Getenv("REGIS_OFFLINE"); offline != "" {
		c.API.Offline = parseBool(offline)
	}
	if addr := os.Getenv("REGIS_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
		c.Metrics.Enabled = true
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSecs) * time.Second
}

// RetryPolicy converts the retry section to a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.Retry.MaxAttempts,
		BaseDelay:         time.Duration(c.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
		Jitter:            time.Duration(c.Retry.JitterMs) * time.Millisecond,
		RetryableStatuses: slices.Clone(c.Retry.RetryableStatuses),
	}
}

// DrainInterval returns the pause between queued sends.
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.Queue.DrainIntervalMs) * time.Millisecond
}

// HealthInterval returns the interval between health checks.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Queue.HealthIntervalSecs) * time.Second
}

// AutoSaveInterval returns the backup interval.
func (c *Config) AutoSaveInterval() time.Duration {
	return time.Duration(c.Backup.AutoSaveSecs) * time.Second
}

// QueuePath returns the queue database path.
func (c *Config) QueuePath() (string, error) {
	return c.resolve(c.Queue.Path, "queue.db")
}

// BackupDir returns the backup directory.
func (c *Config) BackupDir() (string, error) {
	return c.resolve(c.Backup.Dir, "backups")
}

// BackupKeyPath returns the backup key file path.
func (c *Config) BackupKeyPath() (string, error) {
	return c.resolve(c.Backup.KeyPath, "backup.key")
}

// MetricsDir returns where session summaries are stored.
func (c *Config) MetricsDir() (string, error) {
	return c.resolve(c.Metrics.Dir, "metrics")
}

// resolve expands "~/" and places relative defaults under Dir().
func (c *Config) resolve(p, fallback string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[2:]), nil
	}
	if p != "" && filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if p == "" {
		p = fallback
	}
	return filepath.Join(dir, p), nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "api.base_url").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds the struct field whose toml tag is name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := range t.NumField() {
		if tomlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	return tag
}

// setFieldValue sets a reflect.Value from an arbitrary value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.Int {
				var ints []int
				for _, s := range strings.Split(strVal, ",") {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil {
						return fmt.Errorf("invalid integer list: %w", err)
					}
					ints = append(ints, n)
				}
				field.Set(reflect.ValueOf(ints))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := range t.NumField() {
			f := t.Field(i)
			name := prefix + tomlName(f)
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, name+".")
				continue
			}
			keys = append(keys, name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Retry.RetryableStatuses = slices.Clone(c.Retry.RetryableStatuses)
	return &clone
}

// String renders the configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
