package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication outcome metrics
	OutcomesTotal        *prometheus.CounterVec
	ReplaysTotal         *prometheus.CounterVec
	MalformedTokensTotal *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal *prometheus.CounterVec
	StoreErrorsTotal     *prometheus.CounterVec

	// Trust metrics
	TrustProvidersLoaded prometheus.Gauge
	TrustReloadsTotal    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_outcomes_total",
				Help: "Terminal authentication outcomes recorded",
			},
			[]string{"protocol", "outcome"},
		),
		ReplaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_replays_total",
				Help: "Callbacks rejected because the record was already terminal",
			},
			[]string{"protocol"},
		),
		MalformedTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_malformed_tokens_total",
				Help: "Requests rejected before store access due to malformed tokens",
			},
			[]string{"surface"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_store_operations_total",
				Help: "Total number of correlation store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_store_errors_total",
				Help: "Total number of correlation store errors",
			},
			[]string{"operation", "backend", "error_type"},
		),

		TrustProvidersLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_trust_providers_loaded",
				Help: "Identity providers currently loaded from the trust directory",
			},
		),
		TrustReloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_trust_reloads_total",
				Help: "Trust directory rescans triggered by file events",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OutcomesTotal,
		m.ReplaysTotal,
		m.MalformedTokensTotal,
		m.StoreOperationsTotal,
		m.StoreErrorsTotal,
		m.TrustProvidersLoaded,
		m.TrustReloadsTotal,
	)

	return m
}

// Handler returns the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome records a terminal outcome for the given protocol.
func (m *Metrics) ObserveOutcome(protocol, outcome string) {
	m.OutcomesTotal.WithLabelValues(protocol, outcome).Inc()
}

// ObserveReplay records a callback that lost against a terminal record.
func (m *Metrics) ObserveReplay(protocol string) {
	m.ReplaysTotal.WithLabelValues(protocol).Inc()
}

// ObserveMalformedToken records a token rejected at the given surface.
func (m *Metrics) ObserveMalformedToken(surface string) {
	m.MalformedTokensTotal.WithLabelValues(surface).Inc()
}
