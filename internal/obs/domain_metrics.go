package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PunchoutSetupTotal counts setup request outcomes (ok, bad_credential, malformed).
	PunchoutSetupTotal *prometheus.CounterVec
	// PunchoutTransferTotal counts order transfer outcomes.
	PunchoutTransferTotal *prometheus.CounterVec
	// PunchoutTransferAttemptLatency records return-URL POST latency in milliseconds.
	PunchoutTransferAttemptLatency *prometheus.HistogramVec
	// PunchoutSessionsSwept counts sessions expired or reclaimed by the sweeper.
	PunchoutSessionsSwept *prometheus.CounterVec
	// PricingQuotesTotal counts pricing engine outcomes.
	PricingQuotesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PunchoutSetupTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punchout_setup_total",
			Help:      "Count of punch-out setup requests by outcome.",
		}, []string{"result"}))
		PunchoutTransferTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punchout_transfer_total",
			Help:      "Count of order transfer outcomes.",
		}, []string{"result"}))
		PunchoutTransferAttemptLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "punchout_transfer_attempt_duration_ms",
			Help:      "Latency for order transfer calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"result"}))
		PunchoutSessionsSwept = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punchout_sessions_swept_total",
			Help:      "Sessions expired or deleted by the sweeper.",
		}, []string{"action"}))
		PricingQuotesTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quotes_total",
			Help:      "Count of pricing engine calls by outcome.",
		}, []string{"result"}))
	})
}

// IncCounter increments the labelled counter when metrics are registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
