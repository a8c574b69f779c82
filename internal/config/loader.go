package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for
// fiduciary-gate.yaml/.yml in standard locations. The search requires an
// explicit YAML extension to avoid matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("fiduciary-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: FIDUCIARY_GATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("FIDUCIARY_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a fiduciary-gate config
// file with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".fiduciary-gate"),
		"/etc/fiduciary-gate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "fiduciary-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: FIDUCIARY_GATE_BREAKER_ESCALATION_TIMEOUT overrides
// breaker.escalation_timeout.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.tls_cert_file")
	_ = viper.BindEnv("server.tls_key_file")

	_ = viper.BindEnv("session.default_ttl")
	_ = viper.BindEnv("session.max_ttl")
	_ = viper.BindEnv("session.retention")
	_ = viper.BindEnv("session.cleanup_interval")

	_ = viper.BindEnv("breaker.escalation_timeout")
	_ = viper.BindEnv("breaker.timeout_action")
	_ = viper.BindEnv("breaker.close_after")
	_ = viper.BindEnv("breaker.sweep_interval")

	_ = viper.BindEnv("rules.warn_fraction")

	_ = viper.BindEnv("audit.backend")
	_ = viper.BindEnv("audit.sqlite_path")
	_ = viper.BindEnv("audit.capacity")

	// auth.reviewers and auth.api_keys are arrays; use the config file.

	_ = viper.BindEnv("telemetry.traces_enabled")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use this when CLI flags may
// override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or empty when running on environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
