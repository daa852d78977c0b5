package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8180"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Upstream defaults
	DefaultUpstreamBaseURL   = "https://grok.com"
	DefaultMaxAttempts       = 3
	DefaultUploadConcurrency = 4

	// Account pool defaults
	DefaultDisableThreshold  = 5
	DefaultCooldownThreshold = 3
	DefaultCooldown          = 10 * time.Minute
	DefaultQuotaWindow       = 24 * time.Hour
	DefaultFlushInterval     = 2 * time.Second

	// Proxy pool defaults
	DefaultRefreshSchedule    = "@every 5m"
	DefaultUnhealthyThreshold = 3
	DefaultUnbindThreshold    = 3
	DefaultProbeTimeout       = 10 * time.Second
	DefaultBlockedStatusCode  = 403

	// Stream defaults
	DefaultStallTimeout     = 120 * time.Second
	DefaultOverallTimeout   = 600 * time.Second
	DefaultThinkingOpenTag  = "<think>"
	DefaultThinkingCloseTag = "</think>"

	// Media defaults
	DefaultMediaDir         = "data/media"
	DefaultMaxArtifactBytes = int64(100 << 20)
	DefaultDownloadTimeout  = 60 * time.Second
	DefaultMediaPublicBase  = "/media"

	// Call log defaults
	DefaultCallLogBackend    = "store"
	DefaultCallLogSQLitePath = "data/calllog.db"
	DefaultCallLogMaxEntries = 1000
	DefaultCallLogSchedule   = "@every 10m"
	DefaultCallLogBuffer     = 1000

	// Video defaults
	DefaultVideoRetention    = 24 * time.Hour
	DefaultVideoPollInterval = 2 * time.Second
	DefaultVideoMaxTasks     = 1000
	DefaultVideoSchedule     = "@every 10m"

	// Storage defaults
	DefaultStorageBackend = "file"
	DefaultStoragePath    = "data/store"

	// Telemetry defaults
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsNamespace = "grok2api"
)

// DefaultRetryableStatusCodes are the upstream status codes that trigger a
// retry with a fresh credential+proxy pair.
var DefaultRetryableStatusCodes = []int{401, 403, 429, 500, 502, 503, 504}

// ApplyDefaults fills in default values for any unset configuration fields.
// Only zero values are replaced; explicit settings are preserved.
func ApplyDefaults(cfg *Config) {
	// Server
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Upstream
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if cfg.Upstream.MaxAttempts == 0 {
		cfg.Upstream.MaxAttempts = DefaultMaxAttempts
	}
	if len(cfg.Upstream.RetryableStatusCodes) == 0 {
		cfg.Upstream.RetryableStatusCodes = append([]int(nil), DefaultRetryableStatusCodes...)
	}
	if cfg.Upstream.UploadConcurrency == 0 {
		cfg.Upstream.UploadConcurrency = DefaultUploadConcurrency
	}
	if cfg.Upstream.FaultClassification == nil {
		cfg.Upstream.FaultClassification = map[int]string{
			403: "ambiguous",
			429: "account",
		}
	}

	// Accounts
	if cfg.Accounts.DisableThreshold == 0 {
		cfg.Accounts.DisableThreshold = DefaultDisableThreshold
	}
	if cfg.Accounts.CooldownThreshold == 0 {
		cfg.Accounts.CooldownThreshold = DefaultCooldownThreshold
	}
	if cfg.Accounts.Cooldown == 0 {
		cfg.Accounts.Cooldown = DefaultCooldown
	}
	if cfg.Accounts.QuotaWindow == 0 {
		cfg.Accounts.QuotaWindow = DefaultQuotaWindow
	}
	if cfg.Accounts.FlushInterval == 0 {
		cfg.Accounts.FlushInterval = DefaultFlushInterval
	}

	// Proxies
	if cfg.Proxies.RefreshSchedule == "" {
		cfg.Proxies.RefreshSchedule = DefaultRefreshSchedule
	}
	if cfg.Proxies.UnhealthyThreshold == 0 {
		cfg.Proxies.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if cfg.Proxies.UnbindThreshold == 0 {
		cfg.Proxies.UnbindThreshold = DefaultUnbindThreshold
	}
	if cfg.Proxies.ProbeURL == "" {
		cfg.Proxies.ProbeURL = cfg.Upstream.BaseURL
	}
	if cfg.Proxies.ProbeTimeout == 0 {
		cfg.Proxies.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Proxies.BlockedStatusCode == 0 {
		cfg.Proxies.BlockedStatusCode = DefaultBlockedStatusCode
	}

	// Stream
	if cfg.Stream.StallTimeout == 0 {
		cfg.Stream.StallTimeout = DefaultStallTimeout
	}
	if cfg.Stream.OverallTimeout == 0 {
		cfg.Stream.OverallTimeout = DefaultOverallTimeout
	}
	if cfg.Stream.ThinkingOpenTag == "" {
		cfg.Stream.ThinkingOpenTag = DefaultThinkingOpenTag
	}
	if cfg.Stream.ThinkingCloseTag == "" {
		cfg.Stream.ThinkingCloseTag = DefaultThinkingCloseTag
	}

	// Media
	if cfg.Media.Dir == "" {
		cfg.Media.Dir = DefaultMediaDir
	}
	if cfg.Media.MaxArtifactBytes == 0 {
		cfg.Media.MaxArtifactBytes = DefaultMaxArtifactBytes
	}
	if cfg.Media.DownloadTimeout == 0 {
		cfg.Media.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.Media.PublicBase == "" {
		cfg.Media.PublicBase = DefaultMediaPublicBase
	}

	// Call log
	if cfg.CallLog.Backend == "" {
		cfg.CallLog.Backend = DefaultCallLogBackend
	}
	if cfg.CallLog.SQLitePath == "" {
		cfg.CallLog.SQLitePath = DefaultCallLogSQLitePath
	}
	if cfg.CallLog.MaxEntries == 0 {
		cfg.CallLog.MaxEntries = DefaultCallLogMaxEntries
	}
	if cfg.CallLog.PruneSchedule == "" {
		cfg.CallLog.PruneSchedule = DefaultCallLogSchedule
	}
	if cfg.CallLog.AsyncBuffer == 0 {
		cfg.CallLog.AsyncBuffer = DefaultCallLogBuffer
	}

	// Video
	if cfg.Video.Retention == 0 {
		cfg.Video.Retention = DefaultVideoRetention
	}
	if cfg.Video.PollInterval == 0 {
		cfg.Video.PollInterval = DefaultVideoPollInterval
	}
	if cfg.Video.MaxTasks == 0 {
		cfg.Video.MaxTasks = DefaultVideoMaxTasks
	}
	if cfg.Video.PruneSchedule == "" {
		cfg.Video.PruneSchedule = DefaultVideoSchedule
	}

	// Storage
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// NewDefaultConfig returns a configuration populated entirely with defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}
