// Package config provides configuration loading for Fiduciary Gate.
package config

import (
	"time"
)

// Config is the top-level configuration for Fiduciary Gate.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Session configures delegation-session lifetimes.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Breaker configures the circuit breaker and escalation timeouts.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Rules configures the spending-rule evaluator.
	Rules RulesConfig `yaml:"rules" mapstructure:"rules"`

	// Audit configures evaluation-trail persistence.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Auth configures reviewer identities and API keys for the admin
	// surface. Optional: when empty, the admin API is localhost-only.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Telemetry configures trace export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080"
	// (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"omitempty,file"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"omitempty,file"`
}

// SessionConfig configures session lifetimes.
// Durations are strings ("24h", "30m") parsed at wiring time.
type SessionConfig struct {
	// DefaultTTL applies when issuance requests no TTL. Default "24h".
	DefaultTTL string `yaml:"default_ttl" mapstructure:"default_ttl" validate:"omitempty,duration"`

	// MaxTTL caps the TTL a caller may request. Default "168h" (7 days).
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`

	// Retention is how long terminal sessions stay queryable. Default "24h".
	Retention string `yaml:"retention" mapstructure:"retention" validate:"omitempty,duration"`

	// CleanupInterval is the garbage-collection period. Default "1m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// EscalationTimeout is the human-review deadline. Default "1h".
	EscalationTimeout string `yaml:"escalation_timeout" mapstructure:"escalation_timeout" validate:"omitempty,duration"`

	// TimeoutAction applies when the deadline elapses unresolved.
	// Default "REJECT": unattended escalations fail closed.
	TimeoutAction string `yaml:"timeout_action" mapstructure:"timeout_action" validate:"omitempty,oneof=APPROVE REJECT"`

	// CloseAfter is the consecutive clean HALF_OPEN evaluations needed to
	// close the breaker. Default 3.
	CloseAfter int `yaml:"close_after" mapstructure:"close_after" validate:"omitempty,min=1"`

	// SweepInterval is the escalation-timeout sweep period. Default "30s".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty,duration"`
}

// RulesConfig configures the spending-rule evaluator.
type RulesConfig struct {
	// WarnFraction is the approaching-threshold fraction for cumulative
	// and frequency checks, in (0, 1]. Default 0.8.
	WarnFraction float64 `yaml:"warn_fraction" mapstructure:"warn_fraction" validate:"omitempty,gt=0,lte=1"`
}

// AuditConfig configures evaluation-trail persistence.
type AuditConfig struct {
	// Backend selects the evaluation store: "memory" or "sqlite".
	// Default "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// SQLitePath is the database file for the sqlite backend.
	// Default "fiduciary-gate.db".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// Capacity bounds per-session retained evaluations for the memory
	// backend. Default 10000.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"omitempty,min=1"`
}

// AuthConfig configures reviewer authentication.
// All reviewers and API keys are defined in the configuration file.
type AuthConfig struct {
	// Reviewers defines the known human reviewers.
	Reviewers []ReviewerConfig `yaml:"reviewers" mapstructure:"reviewers" validate:"omitempty,dive"`

	// APIKeys defines the API keys that map to reviewers.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// ReviewerConfig defines a file-based reviewer identity.
type ReviewerConfig struct {
	// ID is the unique identifier for this reviewer.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Roles are the granted roles: admin, reviewer, auditor.
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"required,min=1,dive,oneof=admin reviewer auditor"`
}

// APIKeyConfig defines an API key that authenticates as a reviewer.
type APIKeyConfig struct {
	// KeyHash is the Argon2id PHC-format hash of the raw key.
	// Generate with: fiduciary-gate hash-key
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,startswith=$argon2id$"`

	// ReviewerID references the reviewer this key authenticates as.
	// Must match an ID in Auth.Reviewers.
	ReviewerID string `yaml:"reviewer_id" mapstructure:"reviewer_id" validate:"required"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// TracesEnabled turns on span export to stdout. Default false.
	TracesEnabled bool `yaml:"traces_enabled" mapstructure:"traces_enabled"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Session.DefaultTTL == "" {
		c.Session.DefaultTTL = "24h"
	}
	if c.Session.MaxTTL == "" {
		c.Session.MaxTTL = "168h"
	}
	if c.Session.Retention == "" {
		c.Session.Retention = "24h"
	}
	if c.Session.CleanupInterval == "" {
		c.Session.CleanupInterval = "1m"
	}
	if c.Breaker.EscalationTimeout == "" {
		c.Breaker.EscalationTimeout = "1h"
	}
	if c.Breaker.TimeoutAction == "" {
		c.Breaker.TimeoutAction = "REJECT"
	}
	if c.Breaker.CloseAfter == 0 {
		c.Breaker.CloseAfter = 3
	}
	if c.Breaker.SweepInterval == "" {
		c.Breaker.SweepInterval = "30s"
	}
	if c.Rules.WarnFraction == 0 {
		c.Rules.WarnFraction = 0.8
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = "memory"
	}
	if c.Audit.SQLitePath == "" {
		c.Audit.SQLitePath = "fiduciary-gate.db"
	}
	if c.Audit.Capacity == 0 {
		c.Audit.Capacity = 10_000
	}
}

// SetDevDefaults applies permissive defaults for development mode.
func (c *Config) SetDevDefaults() {
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}
}

// Duration parses one of the config's duration strings. The validator has
// already established the string parses, so errors collapse to the
// fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Redacted returns a copy safe for the admin config-export endpoint:
// key hashes are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Auth.APIKeys = make([]APIKeyConfig, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		out.Auth.APIKeys[i] = APIKeyConfig{
			KeyHash:    "[redacted]",
			ReviewerID: k.ReviewerID,
		}
	}
	return out
}
