package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors carry a target label, normally the return-URL host.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "punchout",
		Name:      "breaker_state",
		Help:      "Breaker state per target (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "punchout",
		Name:      "breaker_transition_total",
		Help:      "Breaker state transitions per target.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "punchout",
		Name:      "breaker_open_total",
		Help:      "Times a target's breaker opened.",
	}, []string{"target"})

	BreakerRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "punchout",
		Name:      "breaker_rejected_total",
		Help:      "Requests refused without contacting the target.",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, BreakerRejectedTotal)
}
