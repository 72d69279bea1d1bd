package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Runs(t *testing.T) {
	m := NewMetrics()
	m.RunFinished("succeeded", "full", 3*time.Second, 42)
	m.RecordError("validation")
	m.BatchWritten("write_product", 500, 20*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `catalogsync_runs_total{status="succeeded",sync_type="full"} 1`)
	assert.Contains(t, body, `catalogsync_records_processed_total{sync_type="full"} 42`)
	assert.Contains(t, body, `catalogsync_record_errors_total{kind="validation"} 1`)
	assert.Contains(t, body, `catalogsync_batch_items_total{operation="write_product"} 500`)
	assert.NotContains(t, body, "catalogsync_last_success_timestamp_seconds 0\n")
}

func TestMetrics_Middleware(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/runs/abc", nil))

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `catalogsync_http_requests_total{code="404",route="/api/runs/{id}"} 1`), body)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RunFinished("failed", "full", time.Second, 0)
	m.RecordError("parse")
	m.BatchWritten("write_price", 1, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	called := false
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
