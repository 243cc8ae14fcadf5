package engine

import (
	"errors"
	"fmt"
	"strings"
)

// JobError reports the tables a sync or publish job could not process.
//
// Jobs are not all-or-nothing: tables that succeeded keep their results and
// the JobError lists only the failures. The job's report is returned next to
// the error, so callers can show "3 of 5 tables synced, 2 failed".
type JobError struct {
	// Code identifies the error category.
	Code JobErrorCode

	// Kind is the job kind: "sync" or "publish".
	Kind string

	// JobID identifies the job.
	JobID string

	// Total is the number of tables the job attempted.
	Total int

	// Failures lists the failed tables in processing order.
	Failures []TableFailure
}

// TableFailure is the failure of one table within a job.
type TableFailure struct {
	TableID string
	Err     error
}

// JobErrorCode categorizes job errors.
type JobErrorCode string

const (
	// ErrCodePartialFailure indicates some, but not all, tables failed.
	ErrCodePartialFailure JobErrorCode = "PARTIAL_FAILURE"

	// ErrCodeJobFailed indicates every table failed.
	ErrCodeJobFailed JobErrorCode = "JOB_FAILED"
)

// Error implements the error interface.
func (e *JobError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.TableID, f.Err))
	}
	return fmt.Sprintf("%s: %s job %s: %d of %d tables failed (%s)",
		e.Code, e.Kind, e.JobID, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes the per-table causes to errors.Is and errors.As.
func (e *JobError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsPartialFailure returns true if some tables of a job failed.
// Uses errors.As to handle wrapped errors.
func IsPartialFailure(err error) bool {
	var je *JobError
	if errors.As(err, &je) {
		return je.Code == ErrCodePartialFailure
	}
	return false
}

// IsJobFailed returns true if every table of a job failed.
func IsJobFailed(err error) bool {
	var je *JobError
	if errors.As(err, &je) {
		return je.Code == ErrCodeJobFailed
	}
	return false
}

// newJobError returns nil when nothing failed.
func newJobError(kind, jobID string, total int, failures []TableFailure) error {
	if len(failures) == 0 {
		return nil
	}
	code := ErrCodePartialFailure
	if len(failures) == total {
		code = ErrCodeJobFailed
	}
	return &JobError{Code: code, Kind: kind, JobID: jobID, Total: total, Failures: failures}
}
