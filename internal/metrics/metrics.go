// Package metrics holds the Prometheus instrumentation of the sync core.
//
// Metrics are registered on the default registry at init time; the CLI
// exposes them through `scratchpad metrics` (text exposition dump).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation
	ReconcileRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scratchpad_reconcile_records_total",
			Help: "Records processed by reconciliation, by outcome",
		},
		[]string{"table", "outcome"}, // "create", "update", "delete", "conflict", "skipped"
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scratchpad_reconcile_duration_seconds",
			Help:    "Duration of one table reconciliation pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// Sync jobs
	TableSyncTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scratchpad_table_sync_transitions_total",
			Help: "Table sync status transitions, by target status",
		},
		[]string{"status"},
	)

	SyncJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scratchpad_sync_jobs_total",
			Help: "Sync jobs run, by result (ok, partial, failed)",
		},
		[]string{"result"},
	)

	// Publish
	PublishOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scratchpad_publish_ops_total",
			Help: "Connector push operations, by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Git backup
	WriteLockQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scratchpad_write_lock_queued",
			Help: "Tasks waiting in or running from the per-ref write lock queues",
		},
	)

	WriteLockKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scratchpad_write_lock_keys",
			Help: "Number of live (bucket, ref) write lock entries",
		},
	)

	BackupCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scratchpad_backup_commits_total",
			Help: "Workbook backups, by result (committed, unchanged, failed)",
		},
		[]string{"result"},
	)

	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scratchpad_backup_duration_seconds",
			Help:    "Duration of one workbook backup",
			Buckets: prometheus.DefBuckets,
		},
	)

	MergeConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scratchpad_merge_conflict_regions_total",
			Help: "Conflict regions detected by branch merges",
		},
	)

	// Connector circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scratchpad_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scratchpad_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordReconcile records the outcome counts of one reconciliation pass.
func RecordReconcile(table string, creates, updates, deletes, conflicts, skipped int, d time.Duration) {
	ReconcileRecords.WithLabelValues(table, "create").Add(float64(creates))
	ReconcileRecords.WithLabelValues(table, "update").Add(float64(updates))
	ReconcileRecords.WithLabelValues(table, "delete").Add(float64(deletes))
	ReconcileRecords.WithLabelValues(table, "conflict").Add(float64(conflicts))
	ReconcileRecords.WithLabelValues(table, "skipped").Add(float64(skipped))
	ReconcileDuration.WithLabelValues(table).Observe(d.Seconds())
}

// RecordPublishOp records a single connector push result.
func RecordPublishOp(kind string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	PublishOps.WithLabelValues(kind, result).Inc()
}
