package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		refundsTotal,
		refundedAmountTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment transitions by provider and status (pending/success).",
		},
		[]string{"provider", "status"},
	)

	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refund transitions by provider and status (pending/success/failed).",
		},
		[]string{"provider", "status"},
	)

	refundedAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunded_amount_total",
			Help: "Total refunded amount in minor units, by provider.",
		},
		[]string{"provider"},
	)
)

func IncPayment(provider, status string) {
	paymentsTotal.WithLabelValues(norm(provider), norm(status)).Inc()
}

func IncRefund(provider, status string) {
	refundsTotal.WithLabelValues(norm(provider), norm(status)).Inc()
}

func AddRefundedAmount(provider string, amount int64) {
	refundedAmountTotal.WithLabelValues(norm(provider)).Add(float64(amount))
}
