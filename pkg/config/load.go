package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Variables follow the naming convention
// GROK2API_SECTION_FIELD (e.g., GROK2API_SERVER_LISTEN_ADDRESS) and always
// take precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	setString("GROK2API_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setString("GROK2API_SERVER_API_KEY", &cfg.Server.APIKey)
	setString("GROK2API_SERVER_ADMIN_TOKEN", &cfg.Server.AdminToken)

	setString("GROK2API_UPSTREAM_BASE_URL", &cfg.Upstream.BaseURL)
	setInt("GROK2API_UPSTREAM_MAX_ATTEMPTS", &cfg.Upstream.MaxAttempts)
	setInt("GROK2API_UPSTREAM_UPLOAD_CONCURRENCY", &cfg.Upstream.UploadConcurrency)

	setInt("GROK2API_ACCOUNTS_DISABLE_THRESHOLD", &cfg.Accounts.DisableThreshold)
	setDuration("GROK2API_ACCOUNTS_COOLDOWN", &cfg.Accounts.Cooldown)
	setInt("GROK2API_ACCOUNTS_MODEL_QUOTA", &cfg.Accounts.ModelQuota)

	setString("GROK2API_PROXIES_STATIC", &cfg.Proxies.Static)
	setString("GROK2API_PROXIES_POOL_URL", &cfg.Proxies.PoolURL)
	setInt("GROK2API_PROXIES_UNHEALTHY_THRESHOLD", &cfg.Proxies.UnhealthyThreshold)

	setDuration("GROK2API_STREAM_STALL_TIMEOUT", &cfg.Stream.StallTimeout)
	setDuration("GROK2API_STREAM_OVERALL_TIMEOUT", &cfg.Stream.OverallTimeout)

	setString("GROK2API_STORAGE_BACKEND", &cfg.Storage.Backend)
	setString("GROK2API_STORAGE_PATH", &cfg.Storage.Path)

	setString("GROK2API_LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("GROK2API_LOG_FORMAT", &cfg.Telemetry.Logging.Format)
}

func setString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
