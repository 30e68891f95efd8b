package evaluator

import "github.com/prometheus/client_golang/prometheus"

var (
	evaluationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promoengine_evaluations_total",
		Help: "Evaluation requests processed.",
	})

	awardsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promoengine_awards_total",
		Help: "Tier awards granted across all evaluations.",
	})

	promotionsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "promoengine_promotions_skipped_total",
		Help: "Promotions skipped during evaluation, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(evaluationsTotal, awardsTotal, promotionsSkippedTotal)
}
