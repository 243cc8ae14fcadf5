package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobError(t *testing.T) {
	assert.NoError(t, newJobError("sync", "job_1", 3, nil))

	boom := errors.New("boom")
	err := newJobError("sync", "job_1", 3, []TableFailure{{TableID: "a", Err: boom}})
	require.Error(t, err)
	assert.True(t, IsPartialFailure(err))
	assert.False(t, IsJobFailed(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "PARTIAL_FAILURE: sync job job_1: 1 of 3 tables failed (a: boom)", err.Error())

	all := newJobError("publish", "job_2", 1, []TableFailure{{TableID: "a", Err: boom}})
	assert.True(t, IsJobFailed(fmt.Errorf("wrapped: %w", all)))
}

func TestReportSummaries(t *testing.T) {
	assert.Equal(t, "0 of 0 tables synced", SyncReport{}.Summary())
	assert.Equal(t, "1 of 2 tables published, 1 failed", PublishReport{Tables: []TablePublish{
		{TableID: "a"}, {TableID: "b", Error: "down"},
	}}.Summary())
}
