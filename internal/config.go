package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Servers ServersConfig     `yaml:"servers"`
	Sync    SyncConfig        `yaml:"sync"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the block-store database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ServersConfig points at the kernel servers file. The file itself is
// optional; it is watched and hot-reloaded when present.
type ServersConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig tunes the edit queue and persistence cycle.
type SyncConfig struct {
	DebounceMS       int `yaml:"debounce_ms"`
	MaxQueue         int `yaml:"max_queue"`
	RetentionS       int `yaml:"retention_s"`
	ResultIntervalMS int `yaml:"result_interval_ms"`
	SessionRetries   int `yaml:"session_retries"`
	SessionBackoffMS int `yaml:"session_backoff_ms"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DebounceMS, validation.Min(0)),
		validation.Field(&c.MaxQueue, validation.Min(0)),
		validation.Field(&c.RetentionS, validation.Min(0)),
		validation.Field(&c.ResultIntervalMS, validation.Min(0)),
		validation.Field(&c.SessionRetries, validation.Min(0)),
		validation.Field(&c.SessionBackoffMS, validation.Min(0)),
	)
}

// Debounce returns the drain debounce interval.
func (c *SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Retention returns the stale-edit retention window.
func (c *SyncConfig) Retention() time.Duration {
	return time.Duration(c.RetentionS) * time.Second
}

// ResultInterval returns the minimum interval between result write-backs
// for one cell.
func (c *SyncConfig) ResultInterval() time.Duration {
	return time.Duration(c.ResultIntervalMS) * time.Millisecond
}

// SessionBackoff returns the base backoff between session retries.
func (c *SyncConfig) SessionBackoff() time.Duration {
	return time.Duration(c.SessionBackoffMS) * time.Millisecond
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./quire.db",
		},
		Servers: ServersConfig{
			Path: "./config/servers.yaml",
		},
		Sync: SyncConfig{
			DebounceMS:       750,
			MaxQueue:         64,
			RetentionS:       30,
			ResultIntervalMS: 250,
			SessionRetries:   3,
			SessionBackoffMS: 500,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
