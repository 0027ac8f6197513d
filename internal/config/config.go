// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/riglink/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete riglink configuration.
type Config struct {
	// Server connection settings
	Server ServerConfig `toml:"server" json:"server"`

	// Reconnection policy
	Reconnect ReconnectConfig `toml:"reconnect" json:"reconnect"`

	// Request/response settings
	Request RequestConfig `toml:"request" json:"request"`

	// Message history persistence
	History HistoryConfig `toml:"history" json:"history"`

	// Logging settings
	Log LogConfig `toml:"log" json:"log"`
}

// ServerConfig contains backend endpoint configuration.
type ServerConfig struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/ws"
	URL string `toml:"url" json:"url"`
	// Token, when set, is sent as a bearer Authorization header on the
	// handshake request
	Token string `toml:"token" json:"token"`
	// HandshakeTimeoutSecs bounds the initial websocket handshake
	HandshakeTimeoutSecs int `toml:"handshake_timeout_secs" json:"handshake_timeout_secs"`
	// WriteTimeoutSecs bounds each outbound frame write
	WriteTimeoutSecs int `toml:"write_timeout_secs" json:"write_timeout_secs"`
}

// ReconnectConfig contains automatic reconnection configuration.
type ReconnectConfig struct {
	// Enabled controls whether dropped connections are re-established
	Enabled bool `toml:"enabled" json:"enabled"`
	// InitialDelayMs is the first retry delay in milliseconds
	InitialDelayMs int `toml:"initial_delay_ms" json:"initial_delay_ms"`
	// MaxDelayMs caps the retry delay in milliseconds
	MaxDelayMs int `toml:"max_delay_ms" json:"max_delay_ms"`
	// Multiplier is the exponential growth factor between retries
	Multiplier float64 `toml:"multiplier" json:"multiplier"`
	// Jitter is the random delay fraction, 0 to 1
	Jitter float64 `toml:"jitter" json:"jitter"`
	// MaxAttempts limits consecutive retries (0 = unlimited)
	MaxAttempts int `toml:"max_attempts" json:"max_attempts"`
}

// RequestConfig contains request/response correlation configuration.
type RequestConfig struct {
	// TimeoutSecs is how long a request waits for its response
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// RatePerSec caps outbound commands per second (0 = unlimited)
	RatePerSec float64 `toml:"rate_per_sec" json:"rate_per_sec"`
	// RateBurst is the token bucket burst size when rate limiting
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
}

// HistoryConfig contains chat history persistence configuration.
type HistoryConfig struct {
	// Enabled controls whether finalized messages are persisted
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite database path (empty = ~/.riglink/history.db)
	Path string `toml:"path" json:"path"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of: trace, debug, info, warn, error
	Level string `toml:"level" json:"level"`
	// Format is "console" for human-readable or "json" for structured
	Format string `toml:"format" json:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:                  "ws://localhost:8080/ws",
			HandshakeTimeoutSecs: 10,
			WriteTimeoutSecs:     10,
		},
		Reconnect: ReconnectConfig{
			Enabled:        true,
			InitialDelayMs: 1000,
			MaxDelayMs:     30000,
			Multiplier:     2.0,
			Jitter:         0.2,
			MaxAttempts:    0,
		},
		Request: RequestConfig{
			TimeoutSecs: 30,
			RatePerSec:  0,
			RateBurst:   1,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the riglink configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".riglink"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultHistoryPath returns the default SQLite history path.
func DefaultHistoryPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file, falling back
// to built-in defaults if no file exists. Environment overrides are
// applied last and validation runs over the final result.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, cfg.Validate()
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file. A
// missing file is not an error; defaults are used instead.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := loadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
// SECURITY: Creates config files with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf strings.Builder
	buf.WriteString("# riglink configuration file\n")
	buf.WriteString("# Generated by riglink - edit with care\n")
	buf.WriteString("\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration as JSON, used for export.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Server settings
	if c.Server.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "server.url",
			Message: "must not be empty",
		})
	} else {
		u, err := url.Parse(c.Server.URL)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, ValidationError{
				Field:   "server.url",
				Message: fmt.Sprintf("scheme must be ws or wss, got '%s'", u.Scheme),
			})
		}
	}
	if c.Server.HandshakeTimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.handshake_timeout_secs",
			Message: "must not be negative",
		})
	}
	if c.Server.WriteTimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout_secs",
			Message: "must not be negative",
		})
	}

	// Reconnect settings
	if c.Reconnect.InitialDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "reconnect.initial_delay_ms",
			Message: "must not be negative",
		})
	}
	if c.Reconnect.MaxDelayMs > 0 && c.Reconnect.MaxDelayMs < c.Reconnect.InitialDelayMs {
		errs = append(errs, ValidationError{
			Field:   "reconnect.max_delay_ms",
			Message: "must be at least initial_delay_ms",
		})
	}
	if c.Reconnect.Multiplier != 0 && c.Reconnect.Multiplier < 1.0 {
		errs = append(errs, ValidationError{
			Field:   "reconnect.multiplier",
			Message: "must be at least 1.0",
		})
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		errs = append(errs, ValidationError{
			Field:   "reconnect.jitter",
			Message: "must be between 0 and 1",
		})
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, ValidationError{
			Field:   "reconnect.max_attempts",
			Message: "must not be negative",
		})
	}

	// Request settings
	if c.Request.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "request.timeout_secs",
			Message: "must not be negative",
		})
	}
	if c.Request.RatePerSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "request.rate_per_sec",
			Message: "must not be negative",
		})
	}

	// Log settings
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: trace, debug, info, warn, error", c.Log.Level),
		})
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: console, json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - RIGLINK_URL: overrides server.url
//   - RIGLINK_TOKEN: overrides server.token
//   - RIGLINK_TIMEOUT_SECS: overrides request.timeout_secs
//   - RIGLINK_RECONNECT: set to "0" or "false" to disable reconnection
//   - RIGLINK_HISTORY_PATH: overrides history.path
//   - RIGLINK_LOG_LEVEL: overrides log.level
//   - RIGLINK_LOG_FORMAT: overrides log.format
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("RIGLINK_URL"); u != "" {
		c.Server.URL = u
	}

	if token := os.Getenv("RIGLINK_TOKEN"); token != "" {
		c.Server.Token = token
	}

	if timeout := os.Getenv("RIGLINK_TIMEOUT_SECS"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil && secs > 0 {
			c.Request.TimeoutSecs = secs
		}
	}

	if reconnect := os.Getenv("RIGLINK_RECONNECT"); reconnect != "" {
		c.Reconnect.Enabled = reconnect != "0" && !strings.EqualFold(reconnect, "false")
	}

	if path := os.Getenv("RIGLINK_HISTORY_PATH"); path != "" {
		c.History.Path = path
	}

	if level := os.Getenv("RIGLINK_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}

	if format := os.Getenv("RIGLINK_LOG_FORMAT"); format != "" {
		c.Log.Format = strings.ToLower(format)
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// HandshakeTimeout returns server.handshake_timeout_secs as a Duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Server.HandshakeTimeoutSecs) * time.Second
}

// WriteTimeout returns server.write_timeout_secs as a Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSecs) * time.Second
}

// RequestTimeout returns request.timeout_secs as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Request.TimeoutSecs) * time.Second
}

// InitialReconnectDelay returns reconnect.initial_delay_ms as a Duration.
func (c *Config) InitialReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.InitialDelayMs) * time.Millisecond
}

// MaxReconnectDelay returns reconnect.max_delay_ms as a Duration.
func (c *Config) MaxReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond
}

// HistoryPath resolves the history database path, falling back to the
// default location under the config directory.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	return DefaultHistoryPath()
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
