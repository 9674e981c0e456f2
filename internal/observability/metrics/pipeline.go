package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// PipelineMetrics observes document processing. Each service owns its
// registry; the API can mount the pipeline collectors on its own registry
// through Register.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	documentsTotal   *prometheus.CounterVec
	documentDuration *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	ocrRequestsTotal *prometheus.CounterVec
	batchProgress    prometheus.Gauge
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents that reached a terminal status.",
		},
		[]string{"service", "status"},
	)
	documentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "document_duration_seconds",
			Help:      "Time from processing start to terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "documents_in_flight",
			Help:        "Documents currently being recognized.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	ocrRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ocr",
			Name:      "requests_total",
			Help:      "OCR exchanges by outcome.",
		},
		[]string{"service", "outcome"},
	)
	batchProgress := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "batch_progress_percent",
			Help:        "Batch-wide progress of the running batch.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	m := &PipelineMetrics{
		registry:         prometheus.NewRegistry(),
		service:          service,
		documentsTotal:   documentsTotal,
		documentDuration: documentDuration,
		inFlight:         inFlight,
		ocrRequestsTotal: ocrRequestsTotal,
		batchProgress:    batchProgress,
	}
	m.Register(m.registry)
	return m
}

// Register adds the pipeline collectors to registry.
func (m *PipelineMetrics) Register(registry prometheus.Registerer) {
	registry.MustRegister(m.documentsTotal, m.documentDuration, m.inFlight, m.ocrRequestsTotal, m.batchProgress)
}

// Registry is the worker's own registry, served on its metrics port.
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartDocument() {
	m.inFlight.Inc()
}

func (m *PipelineMetrics) FinishDocument(status domain.DocumentStatus, duration time.Duration) {
	m.inFlight.Dec()
	m.documentsTotal.WithLabelValues(m.service, string(status)).Inc()
	m.documentDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveOCR(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.ocrRequestsTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *PipelineMetrics) SetBatchProgress(percent int) {
	m.batchProgress.Set(float64(percent))
}
