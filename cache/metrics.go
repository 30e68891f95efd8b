package cache

import "github.com/prometheus/client_golang/prometheus"

var opsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "promoengine_cache_ops_total",
		Help: "Cache operations partitioned by operation and outcome (ok, miss, error).",
	},
	[]string{"op", "outcome"},
)

func init() {
	prometheus.MustRegister(opsTotal)
}
