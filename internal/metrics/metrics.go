// Package metrics exposes Prometheus collectors for the report service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queriesTotal               *prometheus.CounterVec
	queryDurationSeconds       prometheus.Histogram
	quotaRejectionsTotal       prometheus.Counter
	sourceFetchTotal           *prometheus.CounterVec
	sourceFetchAttempts        *prometheus.HistogramVec
	artifactsTotal             *prometheus.CounterVec
	activeQueries              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		queriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_queries_total",
				Help: "Total number of fulfillment queries, labeled by terminal status.",
			},
			[]string{"status"},
		)

		queryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "report_query_duration_seconds",
				Help:    "Histogram of end-to-end query fulfillment latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		quotaRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "report_quota_rejections_total",
				Help: "Total queries rejected at admission for exhausted quota.",
			},
		)

		sourceFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_source_fetch_total",
				Help: "Total external source fetches, labeled by source and outcome.",
			},
			[]string{"source", "status"},
		)

		sourceFetchAttempts = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "report_source_fetch_attempts",
				Help:    "Histogram of attempts needed per external source fetch.",
				Buckets: []float64{1, 2, 3},
			},
			[]string{"source"},
		)

		artifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_artifacts_total",
				Help: "Total artifact generations, labeled by format and outcome.",
			},
			[]string{"format", "outcome"},
		)

		activeQueries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "report_active_queries",
				Help: "Number of queries currently being fulfilled.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveQuery records one finished query with its terminal status.
func ObserveQuery(status string, duration time.Duration) {
	queriesTotal.WithLabelValues(status).Inc()
	queryDurationSeconds.Observe(duration.Seconds())
}

// ObserveQuotaRejection increments the admission rejection counter.
func ObserveQuotaRejection() {
	quotaRejectionsTotal.Inc()
}

// ObserveSourceFetch records the outcome of one external source fetch.
func ObserveSourceFetch(source, status string, attempts int) {
	sourceFetchTotal.WithLabelValues(source, status).Inc()
	if attempts > 0 {
		sourceFetchAttempts.WithLabelValues(source).Observe(float64(attempts))
	}
}

// ObserveArtifact records one artifact generation outcome.
func ObserveArtifact(format, outcome string) {
	artifactsTotal.WithLabelValues(format, outcome).Inc()
}

// IncActiveQueries increments the in-flight query gauge.
func IncActiveQueries() {
	activeQueries.Inc()
}

// DecActiveQueries decrements the in-flight query gauge.
func DecActiveQueries() {
	activeQueries.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
