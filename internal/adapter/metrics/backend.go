package metrics

import "github.com/prometheus/client_golang/prometheus"

// BackendMetrics tracks the health of the vote backend circuit breaker.
type BackendMetrics struct {
	BreakerState        prometheus.Gauge
	BreakerStateChanges *prometheus.CounterVec
}

// NewBackendMetrics creates and registers backend metrics on the given registry.
func NewBackendMetrics(reg prometheus.Registerer) *BackendMetrics {
	m := &BackendMetrics{
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		BreakerStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker transitions, by new state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.BreakerState, m.BreakerStateChanges)
	return m
}

// SetBreakerState records a transition reported by the backend client.
func (m *BackendMetrics) SetBreakerState(state string) {
	m.BreakerStateChanges.WithLabelValues(state).Inc()
	m.BreakerState.Set(stateToFloat(state))
}

func stateToFloat(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
