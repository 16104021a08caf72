package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for a forecast run.
type Metrics struct {
	Locations   *prometheus.CounterVec // labels: outcome={ok,partial,failed,cancelled}
	Rows        *prometheus.CounterVec // labels: granularity={daily,hourly}
	Diagnostics *prometheus.CounterVec // labels: kind={transport,data_integrity,lookup,cancelled}

	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram

	// Forecast API metrics.
	FetchDuration prometheus.Histogram
	ForecastCache *prometheus.CounterVec // labels: result={hit,miss}

	// Timezone resolution metrics.
	TimezoneLookups *prometheus.CounterVec // labels: result={resolved,cached,failed}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Locations,
		m.Rows,
		m.Diagnostics,
		m.PipelineRunning,
		m.RunDuration,
		m.FetchDuration,
		m.ForecastCache,
		m.TimezoneLookups,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Locations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_etl",
			Name:      "locations_total",
			Help:      "Locations processed, by outcome.",
		}, []string{"outcome"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_etl",
			Name:      "rows_total",
			Help:      "Rows appended to the output tables, by granularity.",
		}, []string{"granularity"}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_etl",
			Name:      "diagnostics_total",
			Help:      "Per-location problems recorded during a run, by error kind.",
		}, []string{"kind"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forecast_etl",
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forecast_etl",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a complete run over all locations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forecast_etl",
			Name:      "forecast_fetch_duration_seconds",
			Help:      "Forecast API request duration in seconds, retries included.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ForecastCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_etl",
			Name:      "forecast_cache_total",
			Help:      "Forecast response cache lookups by result.",
		}, []string{"result"}),
		TimezoneLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecast_etl",
			Name:      "timezone_lookups_total",
			Help:      "Coordinate to timezone lookups by result.",
		}, []string{"result"}),
	}
}
