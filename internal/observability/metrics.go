// Package observability collects Prometheus metrics for ingest runs and the
// diagnostics HTTP server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	handler http.Handler

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	recordsProcessed *prometheus.CounterVec
	recordErrors     *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	batchItems       *prometheus.CounterVec
	lastSuccess      prometheus.Gauge
}

// NewMetrics creates a registry with the ingest and HTTP collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogsync_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogsync_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogsync_runs_total",
			Help: "Finished ingest runs by status and sync type.",
		}, []string{"status", "sync_type"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogsync_run_duration_seconds",
			Help:    "Ingest run duration by sync type.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"sync_type"}),
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogsync_records_processed_total",
			Help: "Products persisted by successful runs.",
		}, []string{"sync_type"}),
		recordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogsync_record_errors_total",
			Help: "Errors recorded during runs by kind.",
		}, []string{"kind"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogsync_batch_duration_seconds",
			Help:    "Write batch duration by operation.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogsync_batch_items_total",
			Help: "Rows written by operation.",
		}, []string{"operation"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalogsync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.runsTotal, m.runDuration, m.recordsProcessed, m.recordErrors,
		m.batchDuration, m.batchItems, m.lastSuccess,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per chi route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RunFinished records the outcome of one run.
func (m *Metrics) RunFinished(status, syncType string, duration time.Duration, records int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status, syncType).Inc()
	m.runDuration.WithLabelValues(syncType).Observe(duration.Seconds())
	if records > 0 {
		m.recordsProcessed.WithLabelValues(syncType).Add(float64(records))
	}
	if status == "succeeded" {
		m.lastSuccess.SetToCurrentTime()
	}
}

// RecordError counts one recorded error.
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.recordErrors.WithLabelValues(kind).Inc()
}

// BatchWritten records one write batch.
func (m *Metrics) BatchWritten(operation string, items int, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.batchItems.WithLabelValues(operation).Add(float64(items))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
