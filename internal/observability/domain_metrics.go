package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sourceLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arrowlake_source_loads_total",
			Help: "Total number of source loads by source kind and outcome.",
		},
		[]string{"source", "status"},
	)
	sourceLoadDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arrowlake_source_load_duration_seconds",
			Help:    "Source load latency by source kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)
	sourceRowsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arrowlake_source_rows_loaded_total",
			Help: "Total number of rows loaded by source kind.",
		},
		[]string{"source"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arrowlake_query_duration_seconds",
			Help:    "Query execution latency by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arrowlake_pipeline_runs_total",
			Help: "Total number of pipeline runs by outcome and error kind.",
		},
		[]string{"outcome", "error_kind"},
	)
	registryTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arrowlake_registry_tables",
			Help: "Number of tables registered by the latest run.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		sourceLoadsTotal,
		sourceLoadDurationSeconds,
		sourceRowsLoadedTotal,
		queryDurationSeconds,
		pipelineRunsTotal,
		registryTables,
	)
}

func ObserveSourceLoad(source string, rows int64, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sourceLoadsTotal.WithLabelValues(source, status).Inc()
	sourceLoadDurationSeconds.WithLabelValues(source).Observe(elapsed.Seconds())
	if err == nil && rows > 0 {
		sourceRowsLoadedTotal.WithLabelValues(source).Add(float64(rows))
	}
}

func ObserveQuery(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	queryDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

func ObservePipelineRun(outcome, errorKind string) {
	pipelineRunsTotal.WithLabelValues(outcome, errorKind).Inc()
}

func SetRegistryTables(count int) {
	if count < 0 {
		count = 0
	}
	registryTables.Set(float64(count))
}
