// Package metrics defines the Prometheus collectors used by the search
// service and the indexer worker, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search result types recorded by SearchQueriesTotal.
const (
	ResultHit        = "hit"
	ResultZeroResult = "zero_result"
	ResultError      = "error"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	IndexOpsTotal        *prometheus.CounterVec
	IndexErrorsTotal     *prometheus.CounterVec
	IndexedDocuments     prometheus.Gauge
	EventsConsumedTotal  *prometheus.CounterVec
	RebuildDocsTotal     *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry registers the collectors with reg; Handler serves gatherer.
// Tests pass a fresh prometheus.NewRegistry() for both.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
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
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"partial"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 300},
			},
		),
		IndexOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_operations_total",
				Help: "Index writes by operation (index, reindex, deindex) and outcome.",
			},
			[]string{"op", "outcome"},
		),
		IndexErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_errors_total",
				Help: "Failed index writes by operation.",
			},
			[]string{"op"},
		),
		IndexedDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexed_documents",
				Help: "Indexed document count as last read from the store.",
			},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "post_events_consumed_total",
				Help: "Post events consumed by type and status (applied, failed, invalid).",
			},
			[]string{"type", "status"},
		),
		RebuildDocsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebuild_documents_total",
				Help: "Documents processed by index rebuilds by outcome.",
			},
			[]string{"outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.IndexOpsTotal,
		m.IndexErrorsTotal,
		m.IndexedDocuments,
		m.EventsConsumedTotal,
		m.RebuildDocsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveIndexOp records one index write. outcome is ignored when err is set.
func (m *Metrics) ObserveIndexOp(op, outcome string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.IndexErrorsTotal.WithLabelValues(op).Inc()
		return
	}
	m.IndexOpsTotal.WithLabelValues(op, outcome).Inc()
}
