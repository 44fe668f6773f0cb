// Package ratelimit implements a token-bucket rate limiter. This file
// exposes Prometheus instrumentation for limiter decisions. Labels are
// operation/tier only; identities are deliberately excluded to keep
// cardinality bounded.
package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	// rlAllowed counts requests admitted by the limiter.
	rlAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_allowed_total",
			Help: "Total requests allowed by the rate limiter.",
		},
		[]string{"operation", "tier"},
	)

	// rlDenied counts requests denied, whether by block or empty bucket.
	rlDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Total requests denied by the rate limiter.",
		},
		[]string{"operation", "tier"},
	)

	// rlBlocks counts hard blocks placed on identities.
	rlBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_blocks_total",
			Help: "Total hard blocks placed after bucket exhaustion.",
		},
		[]string{"operation", "tier"},
	)
)

func init() {
	prometheus.MustRegister(rlAllowed, rlDenied, rlBlocks)
}
