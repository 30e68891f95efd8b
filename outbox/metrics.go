package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	sweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promoengine_outbox_swept_total",
		Help: "Outbox messages handed off to the event bus.",
	})

	sweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promoengine_outbox_sweep_failures_total",
		Help: "Outbox sweep cycles that failed and will be retried.",
	})
)

func init() {
	prometheus.MustRegister(sweptTotal, sweepFailuresTotal)
}
