package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETo
// batch pipeline.
type Metrics struct {
	ProviderFetches *prometheus.CounterVec // labels: provider, outcome={success,empty,error}
	CacheLookups    *prometheus.CounterVec // labels: provider, result={hit,miss}

	RunDuration        prometheus.Histogram
	RunSuccessRate     prometheus.Gauge
	LocationsProcessed prometheus.Counter
	RunFailures        prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ProviderFetches,
		m.CacheLookups,
		m.RunDuration,
		m.RunSuccessRate,
		m.LocationsProcessed,
		m.RunFailures,
	)
	return m
}

// NewMetricsForTesting creates Metrics without touching the default registry,
// avoiding "already registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProviderFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eto",
			Name:      "provider_fetches_total",
			Help:      "Upstream provider fetches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eto",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by provider and result.",
		}, []string{"provider", "result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eto",
			Name:      "batch_run_duration_seconds",
			Help:      "Duration of a complete batch run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		RunSuccessRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eto",
			Name:      "batch_run_success_rate",
			Help:      "Fetch success rate of the most recent batch run.",
		}),
		LocationsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eto",
			Name:      "locations_processed_total",
			Help:      "Locations for which ETo was computed across all runs.",
		}),
		RunFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eto",
			Name:      "batch_run_failures_total",
			Help:      "Batch runs that exhausted their retries.",
		}),
	}
}
