// Package metrics defines the Prometheus metric collectors used across the
// registry programs and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the registry.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	FilterRequestsTotal     *prometheus.CounterVec
	FilterLatency           *prometheus.HistogramVec
	FilterResultsCount      *prometheus.HistogramVec
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamLatency         *prometheus.HistogramVec
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	CacheInvalidations      *prometheus.CounterVec
	StaleResponsesTotal     prometheus.Counter
	ReviewActionsTotal      *prometheus.CounterVec
	CircuitBreakerState     *prometheus.GaugeVec
	AuditEventsTotal        *prometheus.CounterVec
	AuditEventsDroppedTotal prometheus.Counter
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in programs and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		FilterRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filter_requests_total",
				Help: "Filter requests by collection, mode (local, remote) and outcome state.",
			},
			[]string{"collection", "mode", "state"},
		),
		FilterLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filter_latency_seconds",
				Help:    "End-to-end filter latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"collection", "mode"},
		),
		FilterResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filter_results_count",
				Help:    "Number of records returned per filter request.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"collection"},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_requests_total",
				Help: "Requests to the records backend by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_latency_seconds",
				Help:    "Records backend latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "record_cache_hits_total",
				Help: "Total number of record cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "record_cache_misses_total",
				Help: "Total number of record cache misses.",
			},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_cache_invalidations_total",
				Help: "Record cache invalidations by trigger (manual, change_event).",
			},
			[]string{"trigger"},
		),
		StaleResponsesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "listing_stale_responses_total",
				Help: "Filter responses discarded because a newer request was issued.",
			},
		),
		ReviewActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_actions_total",
				Help: "Review actions by action, role and outcome.",
			},
			[]string{"action", "role", "outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_events_total",
				Help: "Audit events consumed by type.",
			},
			[]string{"type"},
		),
		AuditEventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_events_dropped_total",
				Help: "Audit events dropped because the collector buffer was full.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.FilterRequestsTotal,
		m.FilterLatency,
		m.FilterResultsCount,
		m.UpstreamRequestsTotal,
		m.UpstreamLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidations,
		m.StaleResponsesTotal,
		m.ReviewActionsTotal,
		m.CircuitBreakerState,
		m.AuditEventsTotal,
		m.AuditEventsDroppedTotal,
	)

	return m
}

// NewNop returns collectors registered on a private registry, for tests and
// for programs that run with metrics disabled.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the collectors gathered by g. Gathering errors are
// reported in the scrape body rather than failing it.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
