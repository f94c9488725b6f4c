package differ

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the differ's instrumentation.
type Metrics struct {
	diffDuration prometheus.Histogram
	changesTotal *prometheus.CounterVec
}

// NewMetrics builds and registers the differ metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		diffDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "curvelaunch",
			Subsystem: "differ",
			Name:      "diff_duration_seconds",
			Help:      "Time spent computing one snapshot diff.",
			Buckets:   prometheus.DefBuckets,
		}),
		changesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curvelaunch",
			Subsystem: "differ",
			Name:      "changes_total",
			Help:      "Changed items emitted in diffs, by section.",
		}, []string{"section"}),
	}
	reg.MustRegister(m.diffDuration, m.changesTotal)
	return m
}
