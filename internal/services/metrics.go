// Package services – Prometheus instrumentation for transfer tracking and
// payment lifecycle outcomes.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// pendingGauge tracks transactions awaiting confirmation.
	pendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_pending_transactions",
			Help: "Number of submitted transactions awaiting confirmation.",
		},
	)

	confirmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_transactions_confirmed_total",
			Help: "Total transactions confirmed by the poller.",
		},
	)

	failedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_transactions_failed_total",
			Help: "Total tracked transactions that failed or timed out.",
		},
	)

	// paymentOutcomes counts payment confirmations by terminal status.
	paymentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_outcomes_total",
			Help: "Total payment lifecycle outcomes by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(pendingGauge, confirmedTotal, failedTotal, paymentOutcomes)
}
