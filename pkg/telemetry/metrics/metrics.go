// Package metrics exposes prometheus collectors for the gateway: request
// outcomes, pool health, stream watchdog firings, and video task states.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mouseww/grok2api-pro/pkg/config"
)

// Collector owns a private registry so tests and embedded use never collide
// with the global default registry.
type Collector struct {
	cfg      config.MetricsConfig
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec

	accounts *prometheus.GaugeVec
	proxies  *prometheus.GaugeVec

	streamTimeouts *prometheus.CounterVec
	mediaArtifacts prometheus.Gauge
	videoTasks     *prometheus.GaugeVec
}

// NewCollector creates and registers the gateway metrics.
func NewCollector(cfg config.MetricsConfig) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "grok2api"
	}
	registry := prometheus.NewRegistry()

	c := &Collector{
		cfg:      cfg,
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Completed API requests by model and outcome.",
		}, []string{"model", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "End to end request latency by model.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "upstream_attempts_total",
			Help:      "Individual upstream attempts by result.",
		}, []string{"result"}),

		accounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "accounts",
			Help:      "Credentials in the pool by status.",
		}, []string{"status"}),

		proxies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "proxies",
			Help:      "Proxies in the pool by health.",
		}, []string{"health"}),

		streamTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stream_timeouts_total",
			Help:      "Stream sessions terminated by a watchdog limit.",
		}, []string{"kind"}),

		mediaArtifacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "media_cache_artifacts",
			Help:      "Artifacts currently in the media cache.",
		}),

		videoTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "video_tasks",
			Help:      "Video tasks by status.",
		}, []string{"status"}),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.attemptsTotal,
		c.accounts,
		c.proxies,
		c.streamTimeouts,
		c.mediaArtifacts,
		c.videoTasks,
	)
	return c
}

// RecordRequest records one completed API request.
func (c *Collector) RecordRequest(model, status string, seconds float64) {
	if !c.cfg.Enabled {
		return
	}
	c.requestsTotal.WithLabelValues(model, status).Inc()
	c.requestDuration.WithLabelValues(model).Observe(seconds)
}

// RecordAttempt records one upstream attempt result, for example "success",
// "transport_error", "retryable", "fatal".
func (c *Collector) RecordAttempt(result string) {
	if !c.cfg.Enabled {
		return
	}
	c.attemptsTotal.WithLabelValues(result).Inc()
}

// SetAccounts updates the per-status credential gauges.
func (c *Collector) SetAccounts(counts map[string]int) {
	if !c.cfg.Enabled {
		return
	}
	for status, n := range counts {
		c.accounts.WithLabelValues(status).Set(float64(n))
	}
}

// SetProxies updates the per-health proxy gauges.
func (c *Collector) SetProxies(counts map[string]int) {
	if !c.cfg.Enabled {
		return
	}
	for health, n := range counts {
		c.proxies.WithLabelValues(health).Set(float64(n))
	}
}

// RecordStreamTimeout records a watchdog firing, kind "stall" or "overall".
func (c *Collector) RecordStreamTimeout(kind string) {
	if !c.cfg.Enabled {
		return
	}
	c.streamTimeouts.WithLabelValues(kind).Inc()
}

// SetMediaArtifacts updates the cache size gauge.
func (c *Collector) SetMediaArtifacts(n int) {
	if !c.cfg.Enabled {
		return
	}
	c.mediaArtifacts.Set(float64(n))
}

// SetVideoTasks updates the per-status video task gauges.
func (c *Collector) SetVideoTasks(counts map[string]int) {
	if !c.cfg.Enabled {
		return
	}
	for status, n := range counts {
		c.videoTasks.WithLabelValues(status).Set(float64(n))
	}
}

// Handler serves the registry in prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Registry exposes the private registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
