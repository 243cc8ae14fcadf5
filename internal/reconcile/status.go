package reconcile

import (
	"fmt"
	"time"

	"github.com/roach88/scratchpad/internal/metrics"
)

// SyncState is the lifecycle state of a table within a sync job.
type SyncState string

const (
	StatePending    SyncState = "pending"
	StateInProgress SyncState = "in_progress"
	StateCompleted  SyncState = "completed"
	StateFailed     SyncState = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s SyncState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

var allowedTransitions = map[SyncState][]SyncState{
	StatePending:    {StateInProgress, StateFailed},
	StateInProgress: {StateCompleted, StateFailed},
}

// Counts aggregates the record-level outcome of a reconciliation pass.
type Counts struct {
	Creates   int `json:"creates"`
	Updates   int `json:"updates"`
	Deletes   int `json:"deletes"`
	Conflicts int `json:"conflicts"`
	Skipped   int `json:"skipped"`
}

// Total returns the number of records that changed.
func (c Counts) Total() int {
	return c.Creates + c.Updates + c.Deletes
}

// TableStatus is the sync status row of one table in one job.
type TableStatus struct {
	WorkbookID string    `json:"workbook_id"`
	TableID    string    `json:"table_id"`
	JobID      string    `json:"job_id"`
	State      SyncState `json:"state"`
	Counts     Counts    `json:"counts"`

	// TotalFilesSynced is the number of pulled records written to the
	// snapshot in this job.
	TotalFilesSynced int `json:"total_files_synced"`

	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewTableStatus creates the pending status row a job starts with.
func NewTableStatus(workbookID, tableID, jobID string) TableStatus {
	return TableStatus{WorkbookID: workbookID, TableID: tableID, JobID: jobID, State: StatePending}
}

// Start moves the table to in_progress.
func (s *TableStatus) Start(now time.Time) error {
	if err := s.transition(StateInProgress); err != nil {
		return err
	}
	s.StartedAt = &now
	return nil
}

// Complete moves the table to completed with the pass's counts.
func (s *TableStatus) Complete(counts Counts, filesSynced int, now time.Time) error {
	if err := s.transition(StateCompleted); err != nil {
		return err
	}
	s.Counts = counts
	s.TotalFilesSynced = filesSynced
	s.FinishedAt = &now
	return nil
}

// Fail moves the table to failed and records the reason.
func (s *TableStatus) Fail(cause error, now time.Time) error {
	if err := s.transition(StateFailed); err != nil {
		return err
	}
	if cause != nil {
		s.Error = cause.Error()
	}
	s.FinishedAt = &now
	return nil
}

func (s *TableStatus) transition(to SyncState) error {
	for _, allowed := range allowedTransitions[s.State] {
		if allowed == to {
			s.State = to
			metrics.TableSyncTransitions.WithLabelValues(string(to)).Inc()
			return nil
		}
	}
	return fmt.Errorf("table %s: invalid sync status transition %s -> %s", s.TableID, s.State, to)
}
