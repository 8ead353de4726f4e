package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nodegeo"

// Metrics mirrors the resolver counters into Prometheus.
type Metrics struct {
	Queries       prometheus.Counter
	CacheLookups  *prometheus.CounterVec // labels: result={hit,miss}
	LocalLookups  *prometheus.CounterVec // labels: outcome={city,no_city,not_found,invalid,error,unavailable}
	OnlineLookups *prometheus.CounterVec // labels: outcome={success,failure,skipped}
	QueryDuration prometheus.Histogram

	LocalAvailable prometheus.Gauge
	OnlineEnabled  prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total resolver queries.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
		LocalLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_lookups_total",
			Help:      "Local database lookups by outcome.",
		}, []string{"outcome"}),
		OnlineLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "online_lookups_total",
			Help:      "Online fallback decisions and lookups by outcome.",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of a resolver query.",
			Buckets:   []float64{0.0005, 0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LocalAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "local_database_available",
			Help:      "1 when the local database is loaded, 0 otherwise.",
		}),
		OnlineEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_enabled",
			Help:      "1 when online fallback is enabled, 0 otherwise.",
		}),
	}
}

// NewMetrics creates and registers the resolver metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.Queries,
		m.CacheLookups,
		m.LocalLookups,
		m.OnlineLookups,
		m.QueryDuration,
		m.LocalAvailable,
		m.OnlineEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can build as many resolvers as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
