package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPipelineMetricsTrackDocuments(t *testing.T) {
	m := NewPipelineMetrics("scanpipe-worker")

	m.StartDocument()
	m.FinishDocument(domain.StatusError, 2*time.Second)
	m.ObserveOCR("transport_error")
	m.SetBatchProgress(38)

	body := scrape(t, m.Handler())
	assert.Contains(t, body, `scanpipe_pipeline_documents_total{service="scanpipe-worker",status="error"} 1`)
	assert.Contains(t, body, `scanpipe_pipeline_documents_in_flight{service="scanpipe-worker"} 0`)
	assert.Contains(t, body, `scanpipe_ocr_requests_total{outcome="transport_error",service="scanpipe-worker"} 1`)
	assert.Contains(t, body, `scanpipe_pipeline_batch_progress_percent{service="scanpipe-worker"} 38`)
}

func TestPipelineMetricsShareHTTPRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("scanpipe-api")
	pipeline := NewPipelineMetrics("scanpipe-api")
	pipeline.Register(httpMetrics.Registry())
	pipeline.SetBatchProgress(50)

	assert.Contains(t, scrape(t, httpMetrics.Handler()), `scanpipe_pipeline_batch_progress_percent{service="scanpipe-api"} 50`)
}

func TestHTTPMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewHTTPServerMetrics("scanpipe-api")
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return m.Middleware("scanpipe-api", next) })
	r.Get("/v1/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/def", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))

	body := scrape(t, m.Handler())
	assert.Contains(t, body, `scanpipe_http_requests_total{method="GET",path="/v1/documents/{id}",service="scanpipe-api",status="404"} 2`)
	assert.Contains(t, body, `scanpipe_http_requests_total{method="GET",path="/healthz",service="scanpipe-api",status="200"} 1`)
	assert.Contains(t, body, `scanpipe_http_requests_total{method="GET",path="unmatched",service="scanpipe-api",status="404"} 1`)
	assert.NotContains(t, body, "wp-login")
}

func TestResilienceMetricsExportBreakerAndRetries(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("scanpipe-worker")
	m := NewResilienceMetrics("scanpipe-worker")
	m.Register(httpMetrics.Registry())

	m.BreakerStateChanged("ocr.recognize", gobreaker.StateOpen)
	m.RetryScheduled("nats.publish")
	m.RetryScheduled("nats.publish")

	body := scrape(t, httpMetrics.Handler())
	assert.Contains(t, body, `scanpipe_resilience_breaker_state{operation="ocr.recognize",service="scanpipe-worker"} 2`)
	assert.Contains(t, body, `scanpipe_resilience_retries_total{operation="nats.publish",service="scanpipe-worker"} 2`)

	m.BreakerStateChanged("ocr.recognize", gobreaker.StateClosed)
	assert.Contains(t, scrape(t, httpMetrics.Handler()), `scanpipe_resilience_breaker_state{operation="ocr.recognize",service="scanpipe-worker"} 0`)
}
