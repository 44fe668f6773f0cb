// Package breaker implements a keyed circuit breaker registry. This file
// exposes Prometheus instrumentation for breaker activity. Label cardinality
// is bounded by the breaker key set, which is a small fixed vocabulary of
// operation names.
package breaker

import "github.com/prometheus/client_golang/prometheus"

var (
	// breakerState gauges the current state per key
	// (0 closed, 1 open, 2 half_open).
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open).",
		},
		[]string{"breaker"},
	)

	// breakerRejections counts calls rejected while open.
	breakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Total calls rejected by an open circuit breaker.",
		},
		[]string{"breaker"},
	)

	// breakerFailures counts admitted calls that returned an error.
	breakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total admitted calls that failed.",
		},
		[]string{"breaker"},
	)

	// breakerSuccesses counts admitted calls that completed cleanly.
	breakerSuccesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_successes_total",
			Help: "Total admitted calls that succeeded.",
		},
		[]string{"breaker"},
	)

	// breakerTransitions counts state changes by destination state.
	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions.",
		},
		[]string{"breaker", "to"},
	)
)

func init() {
	prometheus.MustRegister(
		breakerState,
		breakerRejections,
		breakerFailures,
		breakerSuccesses,
		breakerTransitions,
	)
}
