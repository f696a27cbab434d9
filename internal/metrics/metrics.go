// Package metrics exposes Prometheus instrumentation for the loader
// scheduling and execution pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts loader executions by loaderCode and terminal status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loader_executions_total",
			Help: "Total loader executions by loader code and terminal status",
		},
		[]string{"loader_code", "status"},
	)

	// ExecutionDuration tracks end-to-end execution wall time.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loader_execution_duration_seconds",
			Help:    "Loader execution duration",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"loader_code"},
	)

	// RecordsLoaded counts rows returned by the source query per execution.
	RecordsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loader_records_loaded_total",
			Help: "Total rows returned by source queries",
		},
		[]string{"loader_code"},
	)

	// RecordsIngested counts signal rows persisted per execution.
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loader_records_ingested_total",
			Help: "Total signal rows ingested into the signal store",
		},
		[]string{"loader_code"},
	)

	// RunningLoaders is a gauge of in-flight executions across this replica.
	RunningLoaders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loader_running_executions",
			Help: "Number of loader executions currently in flight on this replica",
		},
	)

	// LockContention counts failed tryAcquire attempts.
	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loader_lock_contention_total",
			Help: "Total tryAcquire calls that found a live lock held by another replica",
		},
		[]string{"loader_code"},
	)

	// StaleLocksReclaimed counts locks reclaimed by the stale-lock sweeper.
	StaleLocksReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loader_stale_locks_reclaimed_total",
			Help: "Total lock rows marked released by the stale-lock cleanup sweep",
		},
	)

	// OrphanedSignalsDeleted counts signal rows deleted by the orphan sweep.
	OrphanedSignalsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loader_orphaned_signals_deleted_total",
			Help: "Total signal rows deleted because they referenced a FAILED load history row",
		},
	)
)

// RecordExecution records the terminal outcome of one loader execution.
func RecordExecution(loaderCode, status string, durationSeconds float64, recordsLoaded, recordsIngested int) {
	ExecutionsTotal.WithLabelValues(loaderCode, status).Inc()
	ExecutionDuration.WithLabelValues(loaderCode).Observe(durationSeconds)
	RecordsLoaded.WithLabelValues(loaderCode).Add(float64(recordsLoaded))
	RecordsIngested.WithLabelValues(loaderCode).Add(float64(recordsIngested))
}
