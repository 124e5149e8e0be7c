package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// BreakerMetrics tracks provider circuit breaker transitions.
type BreakerMetrics struct {
	StateChanges *prometheus.CounterVec
	State        *prometheus.GaugeVec
}

// NewBreakerMetrics creates and registers circuit breaker metrics on the given registry.
func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	m := &BreakerMetrics{
		StateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker state transitions, by provider and new state.",
		}, []string{"provider", "state"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"provider"}),
	}

	reg.MustRegister(m.StateChanges, m.State)
	return m
}

// Observe matches gobreaker's OnStateChange signature.
func (m *BreakerMetrics) Observe(name string, _, to gobreaker.State) {
	m.StateChanges.WithLabelValues(name, to.String()).Inc()
	m.State.WithLabelValues(name).Set(float64(to))
}
