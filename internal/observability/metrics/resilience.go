package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// ResilienceMetrics exports circuit breaker states and scheduled retries of
// outbound calls. It satisfies resilience.Observer.
type ResilienceMetrics struct {
	service      string
	breakerState *prometheus.GaugeVec
	retriesTotal *prometheus.CounterVec
}

func NewResilienceMetrics(service string) *ResilienceMetrics {
	return &ResilienceMetrics{
		service: service,
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "resilience",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
			},
			[]string{"service", "operation"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resilience",
				Name:      "retries_total",
				Help:      "Retries scheduled after a retryable failure.",
			},
			[]string{"service", "operation"},
		),
	}
}

func (m *ResilienceMetrics) Register(registry prometheus.Registerer) {
	registry.MustRegister(m.breakerState, m.retriesTotal)
}

func (m *ResilienceMetrics) BreakerStateChanged(operation string, state gobreaker.State) {
	var value float64
	switch state {
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

func (m *ResilienceMetrics) RetryScheduled(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}
