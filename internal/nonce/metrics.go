// Package nonce implements single-use anti-replay nonces. This file exposes
// Prometheus counters for issuance and rejection. The rejection reason label
// is a small fixed vocabulary.
package nonce

import "github.com/prometheus/client_golang/prometheus"

var (
	nonceIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nonce_issued_total",
			Help: "Total nonces issued.",
		},
	)

	nonceConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nonce_consumed_total",
			Help: "Total nonces successfully consumed.",
		},
	)

	// nonceRejected counts refusals by reason (unknown, expired, replay,
	// owner_mismatch, operation_mismatch, and cap for refused issuance).
	nonceRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nonce_rejected_total",
			Help: "Total nonce validations rejected, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(nonceIssued, nonceConsumed, nonceRejected)
}
