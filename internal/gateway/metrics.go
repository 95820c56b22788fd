package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for the invocation pipeline.
// Mirrors internal/engine/metrics.go's CounterVec/HistogramVec/promauto
// construction, relabeled from agent/capability to tool/decision.
type Metrics struct {
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	AuditQueueDepth     prometheus.Gauge
}

// NewMetrics registers the gateway's metrics with reg. If reg is nil, a
// private unregistered registry is used so callers that don't care about
// metrics export don't need a nil check at every call site.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		InvocationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_invocations_total",
			Help: "Total number of tool invocations by tool and decision.",
		}, []string{"tool", "decision"}),

		InvocationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_invocation_duration_seconds",
			Help:    "Histogram of invocation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tool", "decision"}),

		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total number of invocation failures by error code.",
		}, []string{"code"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Current state of a connector's circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"connector"}),

		AuditQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_audit_queue_depth",
			Help: "Approximate number of events buffered in the durable audit sink.",
		}),
	}
}
