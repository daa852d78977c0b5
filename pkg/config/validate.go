package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateAccounts(&cfg.Accounts)...)
	errs = append(errs, validateProxies(&cfg.Proxies)...)
	errs = append(errs, validateStream(&cfg.Stream)...)
	errs = append(errs, validateCallLog(&cfg.CallLog)...)
	errs = append(errs, validateVideo(&cfg.Video)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{"server.listen_address", "must not be empty"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{"server.shutdown_timeout", "must not be negative"})
	}
	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, FieldError{"upstream.base_url", fmt.Sprintf("invalid URL %q", cfg.BaseURL)})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{"upstream.max_attempts", "must be at least 1"})
	}
	if cfg.UploadConcurrency < 1 {
		errs = append(errs, FieldError{"upstream.upload_concurrency", "must be at least 1"})
	}
	for code, fault := range cfg.FaultClassification {
		if code < 100 || code > 599 {
			errs = append(errs, FieldError{"upstream.fault_classification", fmt.Sprintf("invalid status code %d", code)})
		}
		switch fault {
		case "proxy", "account", "ambiguous":
		default:
			errs = append(errs, FieldError{"upstream.fault_classification",
				fmt.Sprintf("fault for status %d must be proxy, account or ambiguous, got %q", code, fault)})
		}
	}
	return errs
}

func validateAccounts(cfg *AccountsConfig) []FieldError {
	var errs []FieldError
	if cfg.DisableThreshold < 1 {
		errs = append(errs, FieldError{"accounts.disable_threshold", "must be at least 1"})
	}
	if cfg.CooldownThreshold < 1 {
		errs = append(errs, FieldError{"accounts.cooldown_threshold", "must be at least 1"})
	}
	if cfg.Cooldown <= 0 {
		errs = append(errs, FieldError{"accounts.cooldown", "must be positive"})
	}
	if cfg.ModelQuota < 0 {
		errs = append(errs, FieldError{"accounts.model_quota", "must not be negative"})
	}
	return errs
}

func validateProxies(cfg *ProxiesConfig) []FieldError {
	var errs []FieldError
	if cfg.UnhealthyThreshold < 1 {
		errs = append(errs, FieldError{"proxies.unhealthy_threshold", "must be at least 1"})
	}
	if cfg.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(cfg.RefreshSchedule); err != nil {
			errs = append(errs, FieldError{"proxies.refresh_schedule", fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	if cfg.PoolURL != "" {
		if u, err := url.Parse(cfg.PoolURL); err != nil || u.Scheme == "" {
			errs = append(errs, FieldError{"proxies.pool_url", fmt.Sprintf("invalid URL %q", cfg.PoolURL)})
		}
	}
	return errs
}

func validateStream(cfg *StreamConfig) []FieldError {
	var errs []FieldError
	if cfg.StallTimeout <= 0 {
		errs = append(errs, FieldError{"stream.stall_timeout", "must be positive"})
	}
	if cfg.OverallTimeout <= 0 {
		errs = append(errs, FieldError{"stream.overall_timeout", "must be positive"})
	}
	if cfg.OverallTimeout < cfg.StallTimeout {
		errs = append(errs, FieldError{"stream.overall_timeout", "must not be shorter than stall_timeout"})
	}
	return errs
}

func validateCallLog(cfg *CallLogConfig) []FieldError {
	var errs []FieldError
	switch cfg.Backend {
	case "store", "sqlite":
	default:
		errs = append(errs, FieldError{"call_log.backend", fmt.Sprintf("must be store or sqlite, got %q", cfg.Backend)})
	}
	if cfg.MaxEntries < 1 {
		errs = append(errs, FieldError{"call_log.max_entries", "must be at least 1"})
	}
	if cfg.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			errs = append(errs, FieldError{"call_log.prune_schedule", fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	return errs
}

func validateVideo(cfg *VideoConfig) []FieldError {
	var errs []FieldError
	if cfg.Retention <= 0 {
		errs = append(errs, FieldError{"video.retention", "must be positive"})
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, FieldError{"video.poll_interval", "must be positive"})
	}
	if cfg.MaxTasks < 1 {
		errs = append(errs, FieldError{"video.max_tasks", "must be at least 1"})
	}
	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError
	switch cfg.Backend {
	case "memory", "file", "sqlite":
	default:
		errs = append(errs, FieldError{"storage.backend", fmt.Sprintf("must be memory, file or sqlite, got %q", cfg.Backend)})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{"telemetry.logging.level", fmt.Sprintf("invalid level %q", cfg.Logging.Level)})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{"telemetry.logging.format", fmt.Sprintf("invalid format %q", cfg.Logging.Format)})
	}
	return errs
}
