package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the batch.
type Metrics struct {
	SitesProcessed prometheus.Counter
	SitesSkipped   *prometheus.CounterVec // labels: reason={no_stats,fetch,series,estimation}
	RowsWritten    prometheus.Counter
	BatchRunning   prometheus.Gauge
	LastSiteIndex  prometheus.Gauge

	// Gage-statistics fetch metrics.
	StatsFetches  *prometheus.CounterVec // labels: outcome={success,empty,error}
	StatsRetries  prometheus.Counter
	FetchDuration prometheus.Histogram

	// Per-site processing metrics.
	SiteDuration prometheus.Histogram

	// Optional row publishing metrics.
	RowsPublished    prometheus.Counter
	PublishErrors    prometheus.Counter
	PublisherEnabled prometheus.Gauge
}

// NewMetrics creates and registers all batch metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SitesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_aep",
			Name:      "sites_processed_total",
			Help:      "Total sites fully estimated and written to the output table.",
		}),
		SitesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_aep",
			Name:      "sites_skipped_total",
			Help:      "Total sites skipped, by reason.",
		}, []string{"reason"}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_aep",
			Name:      "rows_written_total",
			Help:      "Total merged rows appended to the output table.",
		}),
		BatchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_aep",
			Name:      "batch_running",
			Help:      "1 while the site loop is active, 0 otherwise.",
		}),
		LastSiteIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_aep",
			Name:      "last_completed_site_index",
			Help:      "Index of the most recently completed site in the site list.",
		}),
		StatsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_aep",
			Name:      "stats_fetches_total",
			Help:      "Gage-statistics service fetches by outcome.",
		}, []string{"outcome"}),
		StatsRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_aep",
			Name:      "stats_fetch_retries_total",
			Help:      "Total retried gage-statistics fetch attempts.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_aep",
			Name:      "stats_fetch_duration_seconds",
			Help:      "Gage-statistics request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SiteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_aep",
			Name:      "site_processing_duration_seconds",
			Help:      "Duration of a complete fetch-select-estimate-merge-append cycle for one site.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_aep",
			Name:      "rows_published_total",
			Help:      "Total merged rows published to the message sink.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_aep",
			Name:      "publish_errors_total",
			Help:      "Total failed publishes to the message sink.",
		}),
		PublisherEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_aep",
			Name:      "publisher_enabled",
			Help:      "1 when merged-row publishing is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.SitesProcessed,
		m.SitesSkipped,
		m.RowsWritten,
		m.BatchRunning,
		m.LastSiteIndex,
		m.StatsFetches,
		m.StatsRetries,
		m.FetchDuration,
		m.SiteDuration,
		m.RowsPublished,
		m.PublishErrors,
		m.PublisherEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SitesProcessed:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_aep", Name: "sites_processed_total"}),
		SitesSkipped:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "flood_aep", Name: "sites_skipped_total"}, []string{"reason"}),
		RowsWritten:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_aep", Name: "rows_written_total"}),
		BatchRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "flood_aep", Name: "batch_running"}),
		LastSiteIndex:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "flood_aep", Name: "last_completed_site_index"}),
		StatsFetches:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "flood_aep", Name: "stats_fetches_total"}, []string{"outcome"}),
		StatsRetries:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_aep", Name: "stats_fetch_retries_total"}),
		FetchDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_aep", Name: "stats_fetch_duration_seconds"}),
		SiteDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_aep", Name: "site_processing_duration_seconds"}),
		RowsPublished:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_aep", Name: "rows_published_total"}),
		PublishErrors:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_aep", Name: "publish_errors_total"}),
		PublisherEnabled: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "flood_aep", Name: "publisher_enabled"}),
	}
}
