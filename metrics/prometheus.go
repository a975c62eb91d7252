// Package metrics exports dispatch metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "modelmux"
	subsystem = "dispatch"
)

// Dispatch status labels.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Attempt outcome labels.
const (
	OutcomeFull    = "full"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

// Exporter collects dispatch metrics and serves them over HTTP.
type Exporter struct {
	registry *prometheus.Registry

	dispatchRequests *prometheus.CounterVec
	dispatchLatency  *prometheus.HistogramVec
	activeDispatches prometheus.Gauge

	attempts      *prometheus.CounterVec
	tokensUsed    *prometheus.CounterVec
	partialMerges *prometheus.CounterVec
	rescueRuns    prometheus.Counter

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns the stock exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates an exporter with every dispatch metric registered.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.dispatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of dispatch requests",
		},
		[]string{"status"},
	)

	e.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "latency_seconds",
			Help:      "End-to-end dispatch latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"category"},
	)

	e.activeDispatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Number of dispatches currently in flight",
		},
	)

	e.attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts_total",
			Help:      "Total capability attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	e.tokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_total",
			Help:      "Total tokens consumed",
		},
		[]string{"provider", "model"},
	)

	e.partialMerges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "partial_merges_total",
			Help:      "Total outcomes assembled from partial fragments",
		},
		[]string{"provider"},
	)

	e.rescueRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rescue_runs_total",
			Help:      "Times the quality/cost rescue selector was consulted",
		},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	registry.MustRegister(
		e.dispatchRequests,
		e.dispatchLatency,
		e.activeDispatches,
		e.attempts,
		e.tokensUsed,
		e.partialMerges,
		e.rescueRuns,
		e.cacheHits,
		e.cacheMisses,
	)

	return e
}

// RecordDispatch records one finished dispatch.
func (e *Exporter) RecordDispatch(status, category string, latency time.Duration) {
	e.dispatchRequests.WithLabelValues(status).Inc()
	e.dispatchLatency.WithLabelValues(category).Observe(latency.Seconds())
}

// RecordAttempt records one capability attempt.
func (e *Exporter) RecordAttempt(provider, outcome string) {
	e.attempts.WithLabelValues(provider, outcome).Inc()
}

// RecordTokens records token consumption.
func (e *Exporter) RecordTokens(provider, model string, count int) {
	if count <= 0 {
		return
	}
	e.tokensUsed.WithLabelValues(provider, model).Add(float64(count))
}

// RecordPartialMerge records an outcome built from partial fragments.
func (e *Exporter) RecordPartialMerge(provider string) {
	e.partialMerges.WithLabelValues(provider).Inc()
}

// RecordRescue records one activation of the rescue selector.
func (e *Exporter) RecordRescue() {
	e.rescueRuns.Inc()
}

// RecordCacheHit records a cache hit.
func (e *Exporter) RecordCacheHit(cacheType string) {
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *Exporter) RecordCacheMiss(cacheType string) {
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// DispatchStarted bumps the in-flight gauge.
func (e *Exporter) DispatchStarted() {
	e.activeDispatches.Inc()
}

// DispatchFinished releases the in-flight gauge.
func (e *Exporter) DispatchFinished() {
	e.activeDispatches.Dec()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
