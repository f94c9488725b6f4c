package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's instrumentation. Labels stay low-cardinality:
// direction is buy/sell, outcome is ok or the error family.
type Metrics struct {
	tradesTotal      *prometheus.CounterVec
	tradeDuration    prometheus.Histogram
	launchesTotal    prometheus.Counter
	transitionsTotal prometheus.Counter
	liquidityTotal   *prometheus.CounterVec
}

// NewMetrics builds and registers the engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curvelaunch",
			Subsystem: "engine",
			Name:      "trades_total",
			Help:      "Trades processed, by direction and outcome.",
		}, []string{"direction", "outcome"}),
		tradeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "curvelaunch",
			Subsystem: "engine",
			Name:      "trade_duration_seconds",
			Help:      "End-to-end trade processing time.",
			Buckets:   prometheus.DefBuckets,
		}),
		launchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "curvelaunch",
			Subsystem: "engine",
			Name:      "launches_total",
			Help:      "Pools launched.",
		}),
		transitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "curvelaunch",
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Pools migrated off the curve.",
		}),
		liquidityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curvelaunch",
			Subsystem: "engine",
			Name:      "liquidity_ops_total",
			Help:      "Liquidity deposits and withdrawals, by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.tradesTotal, m.tradeDuration, m.launchesTotal, m.transitionsTotal, m.liquidityTotal)
	return m
}
