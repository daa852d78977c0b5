package config

import "time"

// Config is the root configuration structure for the gateway. It contains all
// configuration sections for the HTTP server, the upstream client, the
// account and proxy pools, streaming, media caching, the call log, video
// tasks, persistence, and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Upstream contains configuration for calls against the upstream
	// conversational backend.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Accounts contains configuration for the credential pool.
	Accounts AccountsConfig `yaml:"accounts"`

	// Proxies contains configuration for the egress proxy pool.
	Proxies ProxiesConfig `yaml:"proxies"`

	// Stream contains configuration for the streaming response processor.
	Stream StreamConfig `yaml:"stream"`

	// Media contains configuration for the content-addressed media cache.
	Media MediaConfig `yaml:"media"`

	// CallLog contains configuration for call outcome recording.
	CallLog CallLogConfig `yaml:"call_log"`

	// Video contains configuration for the video task manager.
	Video VideoConfig `yaml:"video"`

	// Storage contains configuration for the persistence facade.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8180"
	ListenAddress string `yaml:"listen_address"`

	// APIKey authenticates inbound API callers. Empty disables auth.
	APIKey string `yaml:"api_key"`

	// AdminToken authenticates callers of the /admin surface.
	// Empty disables the admin surface.
	AdminToken string `yaml:"admin_token"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response
	// writes. Must exceed the stream overall timeout or streams are cut
	// short. Default: 0 (disabled, streaming responses manage their own
	// deadlines)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig contains configuration for upstream calls and the retry
// policy applied by the orchestrator.
type UpstreamConfig struct {
	// BaseURL is the upstream backend base URL.
	// Default: "https://grok.com"
	BaseURL string `yaml:"base_url"`

	// MaxAttempts is the maximum number of credential+proxy attempts per
	// orchestrated request. Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// RetryableStatusCodes are upstream status codes that trigger a retry
	// with a fresh credential+proxy pair.
	// Default: [401, 403, 429, 500, 502, 503, 504]
	RetryableStatusCodes []int `yaml:"retryable_status_codes"`

	// UploadConcurrency bounds concurrent media uploads while building one
	// upstream payload. Default: 4
	UploadConcurrency int `yaml:"upload_concurrency"`

	// FaultClassification maps upstream status codes to the party at
	// fault. Values: "proxy", "account", "ambiguous". Codes not listed
	// are attributed to the account. Default: {403: ambiguous, 429: account}
	FaultClassification map[int]string `yaml:"fault_classification"`
}

// AccountsConfig contains configuration for the credential pool.
type AccountsConfig struct {
	// DisableThreshold is the number of consecutive quota/ban failures
	// after which a credential is disabled. Default: 5
	DisableThreshold int `yaml:"disable_threshold"`

	// CooldownThreshold is the number of consecutive transient failures
	// after which a credential enters cooldown. Default: 3
	CooldownThreshold int `yaml:"cooldown_threshold"`

	// Cooldown is how long a cooling-down credential is skipped before it
	// becomes eligible again. Default: 10m
	Cooldown time.Duration `yaml:"cooldown"`

	// ModelQuota caps per-credential calls per model class within the
	// quota window. 0 means unlimited. Default: 0
	ModelQuota int `yaml:"model_quota"`

	// QuotaWindow is the rolling window for ModelQuota. Default: 24h
	QuotaWindow time.Duration `yaml:"quota_window"`

	// FlushInterval is the write-behind persistence interval.
	// Default: 2s
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ProxiesConfig contains configuration for the egress proxy pool.
type ProxiesConfig struct {
	// Static is a fallback proxy address used when no pool proxy is
	// available. Optional.
	Static string `yaml:"static"`

	// List seeds the pool with fixed proxy addresses at startup.
	List []string `yaml:"list"`

	// PoolURL is an external endpoint returning proxy addresses, one per
	// line. Optional.
	PoolURL string `yaml:"pool_url"`

	// RefreshSchedule is a cron expression for refreshing the pool from
	// PoolURL. Default: "@every 5m"
	RefreshSchedule string `yaml:"refresh_schedule"`

	// UnhealthyThreshold is the number of consecutive failures after which
	// a proxy is marked unhealthy. Default: 3
	UnhealthyThreshold int `yaml:"unhealthy_threshold"`

	// UnbindThreshold is the number of consecutive failures on a bound
	// proxy after which the binding is dropped. Default: 3
	UnbindThreshold int `yaml:"unbind_threshold"`

	// ProbeURL is the endpoint used for health probes.
	// Default: Upstream.BaseURL
	ProbeURL string `yaml:"probe_url"`

	// ProbeTimeout bounds a single health probe. Default: 10s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// BlockedStatusCode is the upstream status that means "reachable but
	// blocked": the proxy works, the account or fingerprint is the
	// problem. A probe returning it counts as healthy. Default: 403
	BlockedStatusCode int `yaml:"blocked_status_code"`
}

// StreamConfig contains configuration for the streaming response processor.
type StreamConfig struct {
	// StallTimeout is the maximum allowed gap between consecutive upstream
	// events before the session times out. Default: 120s
	StallTimeout time.Duration `yaml:"stall_timeout"`

	// OverallTimeout is the wall-clock limit for one streamed call.
	// Default: 600s
	OverallTimeout time.Duration `yaml:"overall_timeout"`

	// ThinkingOpenTag and ThinkingCloseTag delimit reasoning segments in
	// the upstream token stream. Defaults: "<think>" / "</think>"
	ThinkingOpenTag  string `yaml:"thinking_open_tag"`
	ThinkingCloseTag string `yaml:"thinking_close_tag"`

	// InlineBase64 embeds cached media as base64 data URIs instead of
	// rewriting references to cache-relative URLs. Default: false
	InlineBase64 bool `yaml:"inline_base64"`
}

// MediaConfig contains configuration for the media cache.
type MediaConfig struct {
	// Dir is the cache directory. Default: "data/media"
	Dir string `yaml:"dir"`

	// MaxArtifactBytes caps the size of one cached artifact.
	// Default: 104857600 (100MB)
	MaxArtifactBytes int64 `yaml:"max_artifact_bytes"`

	// DownloadTimeout bounds one artifact download. Default: 60s
	DownloadTimeout time.Duration `yaml:"download_timeout"`

	// PublicBase is the URL prefix rewritten media references point at.
	// Default: "/media"
	PublicBase string `yaml:"public_base"`
}

// CallLogConfig contains configuration for call outcome recording.
type CallLogConfig struct {
	// Backend selects where entries are written: "store" (the persistence
	// facade) or "sqlite" (a dedicated database with indexed stats
	// queries). Default: "store"
	Backend string `yaml:"backend"`

	// SQLitePath is the database path for the "sqlite" backend.
	// Default: "data/calllog.db"
	SQLitePath string `yaml:"sqlite_path"`

	// MaxEntries is the count-based retention cap. Oldest entries beyond
	// the cap are pruned. Default: 1000
	MaxEntries int `yaml:"max_entries"`

	// PruneSchedule is a cron expression for retention pruning.
	// Default: "@every 10m"
	PruneSchedule string `yaml:"prune_schedule"`

	// AsyncBuffer is the size of the async write channel.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`
}

// VideoConfig contains configuration for the video task manager.
type VideoConfig struct {
	// Retention is how long a task is kept after creation before being
	// pruned. Default: 24h
	Retention time.Duration `yaml:"retention"`

	// PollInterval is the scheduler tick driving task polling.
	// Default: 2s
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxTasks caps the number of retained tasks. Default: 1000
	MaxTasks int `yaml:"max_tasks"`

	// PruneSchedule is a cron expression for pruning expired tasks.
	// Default: "@every 10m"
	PruneSchedule string `yaml:"prune_schedule"`
}

// StorageConfig contains configuration for the persistence facade.
type StorageConfig struct {
	// Backend selects the store implementation: "memory", "file" or
	// "sqlite". Default: "file"
	Backend string `yaml:"backend"`

	// Path is the data directory for the file backend or the database
	// path for the sqlite backend. Default: "data/store"
	Path string `yaml:"path"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the slog handler installed at startup.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig configures the prometheus registry and /metrics endpoint.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace is the prometheus metric namespace. Default: "grok2api"
	Namespace string `yaml:"namespace"`
}
