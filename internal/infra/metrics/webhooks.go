package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhooksTotal,
		gatewayCallDuration,
	)
}

var (
	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_total",
			Help: "Inbound gateway notifications by provider, kind and outcome (ok/duplicate/rejected/error).",
		},
		[]string{"provider", "kind", "outcome"},
	)

	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Outbound gateway call latency by provider, path and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "path", "status"},
	)
)

func IncWebhook(provider, kind, outcome string) {
	webhooksTotal.WithLabelValues(norm(provider), norm(kind), norm(outcome)).Inc()
}

func ObserveGatewayCall(provider, path, status string, d time.Duration) {
	gatewayCallDuration.WithLabelValues(norm(provider), path, norm(status)).Observe(d.Seconds())
}
