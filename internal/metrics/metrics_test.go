package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordReconcile(t *testing.T) {
	before := testutil.ToFloat64(ReconcileRecords.WithLabelValues("metrics-test", "create"))
	beforeConflicts := testutil.ToFloat64(ReconcileRecords.WithLabelValues("metrics-test", "conflict"))

	RecordReconcile("metrics-test", 2, 1, 0, 1, 0, 10*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(ReconcileRecords.WithLabelValues("metrics-test", "create")))
	assert.Equal(t, beforeConflicts+1, testutil.ToFloat64(ReconcileRecords.WithLabelValues("metrics-test", "conflict")))
}

func TestRecordPublishOp(t *testing.T) {
	before := testutil.ToFloat64(PublishOps.WithLabelValues("update", "failure"))
	RecordPublishOp("update", false)
	assert.Equal(t, before+1, testutil.ToFloat64(PublishOps.WithLabelValues("update", "failure")))
}

func TestMetricsDescribe(t *testing.T) {
	collectors := []prometheus.Collector{
		ReconcileRecords,
		ReconcileDuration,
		TableSyncTransitions,
		SyncJobs,
		PublishOps,
		WriteLockQueued,
		WriteLockKeys,
		BackupCommits,
		BackupDuration,
		MergeConflicts,
		CircuitBreakerState,
		CircuitBreakerTransitions,
	}
	for _, c := range collectors {
		ch := make(chan *prometheus.Desc, 10)
		c.Describe(ch)
		close(ch)
		count := 0
		for range ch {
			count++
		}
		require.Positive(t, count)
	}
}
