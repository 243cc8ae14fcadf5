package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/metrics"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
	"github.com/roach88/scratchpad/internal/store"
)

// Progress receives table-level updates while a sync job runs.
type Progress interface {
	TableStarted(status reconcile.TableStatus)
	TableFinished(status reconcile.TableStatus)
}

type nopProgress struct{}

func (nopProgress) TableStarted(reconcile.TableStatus)  {}
func (nopProgress) TableFinished(reconcile.TableStatus) {}

// SyncReport is the outcome of a sync job.
type SyncReport struct {
	JobID      string                  `json:"job_id"`
	WorkbookID string                  `json:"workbook_id"`
	Tables     []reconcile.TableStatus `json:"tables"`

	Conflicts []reconcile.ConflictReport `json:"conflicts,omitempty"`
	Skipped   []reconcile.Skip           `json:"skipped,omitempty"`

	// DeleteCandidates lists records whose remote row is gone and that
	// await ResolveRemoteDeletes.
	DeleteCandidates []string `json:"delete_candidates,omitempty"`
}

// Synced returns the number of completed tables.
func (r SyncReport) Synced() int {
	n := 0
	for _, t := range r.Tables {
		if t.State == reconcile.StateCompleted {
			n++
		}
	}
	return n
}

// Failed returns the number of failed tables.
func (r SyncReport) Failed() int {
	n := 0
	for _, t := range r.Tables {
		if t.State == reconcile.StateFailed {
			n++
		}
	}
	return n
}

// Summary renders the job outcome, e.g. "3 of 5 tables synced, 2 failed".
func (r SyncReport) Summary() string {
	s := fmt.Sprintf("%d of %d tables synced", r.Synced(), len(r.Tables))
	if f := r.Failed(); f > 0 {
		s += fmt.Sprintf(", %d failed", f)
	}
	return s
}

// Sync pulls every selected table from its connector and reconciles the
// pulled records into the snapshot. With no tableIds every table of the
// workbook is synced.
//
// Tables are processed in workbook order and independently: a table that
// fails is marked failed and the job moves on. The report is always
// returned; the error is a *JobError when any table failed.
func (e *Engine) Sync(ctx context.Context, workbookID string, tableIDs []string) (SyncReport, error) {
	spec, err := e.store.GetWorkbook(ctx, workbookID)
	if err != nil {
		return SyncReport{}, err
	}
	tables, err := selectTables(spec, tableIDs)
	if err != nil {
		return SyncReport{}, err
	}

	jobID := e.newJobID()
	report := SyncReport{JobID: jobID, WorkbookID: workbookID, Tables: make([]reconcile.TableStatus, 0, len(tables))}
	slog.Info("sync job started", "job", jobID, "workbook", workbookID, "tables", len(tables))

	// Every table of the job becomes pending up front, so status readers
	// see the whole job from the start.
	for _, t := range tables {
		if err := e.store.SaveTableStatus(ctx, reconcile.NewTableStatus(workbookID, t.ID, jobID)); err != nil {
			return report, err
		}
	}

	var failures []TableFailure
	for _, t := range tables {
		st, res, err := e.syncTable(ctx, jobID, workbookID, t)
		report.Tables = append(report.Tables, st)
		e.progress.TableFinished(st)
		if err != nil {
			failures = append(failures, TableFailure{TableID: t.ID, Err: err})
			continue
		}
		report.Conflicts = append(report.Conflicts, res.Conflicts...)
		report.Skipped = append(report.Skipped, res.Skipped...)
		report.DeleteCandidates = append(report.DeleteCandidates, res.DeleteCandidates...)
	}

	switch {
	case len(failures) == 0:
		metrics.SyncJobs.WithLabelValues("success").Inc()
	case len(failures) == len(tables):
		metrics.SyncJobs.WithLabelValues("failed").Inc()
	default:
		metrics.SyncJobs.WithLabelValues("partial").Inc()
	}
	slog.Info("sync job finished", "job", jobID, "workbook", workbookID, "summary", report.Summary())
	return report, newJobError("sync", jobID, len(tables), failures)
}

// syncTable runs one table of a job and returns its final status.
func (e *Engine) syncTable(ctx context.Context, jobID, workbookID string, table ir.TableSpec) (reconcile.TableStatus, reconcile.Result, error) {
	st := reconcile.NewTableStatus(workbookID, table.ID, jobID)
	if err := ctx.Err(); err != nil {
		return e.failTable(ctx, st, err), reconcile.Result{}, err
	}

	if err := st.Start(e.now()); err != nil {
		return e.failTable(ctx, st, err), reconcile.Result{}, err
	}
	if err := e.store.SaveTableStatus(ctx, st); err != nil {
		return e.failTable(ctx, st, err), reconcile.Result{}, err
	}
	e.progress.TableStarted(st)

	conn, err := e.connectors.Get(table.Connector)
	if err != nil {
		return e.failTable(ctx, st, err), reconcile.Result{}, err
	}
	pulled, err := conn.PullRecords(ctx, table)
	if err != nil {
		return e.failTable(ctx, st, err), reconcile.Result{}, err
	}

	var res reconcile.Result
	done := st
	err = e.withWorkbook(ctx, workbookID, func(ctx context.Context) error {
		local, err := e.store.LoadRecords(ctx, workbookID, table.ID)
		if err != nil {
			return err
		}

		start := time.Now()
		res = reconcile.Reconcile(table, local, pulled, e)
		c := res.Counts
		metrics.RecordReconcile(table.ID, c.Creates, c.Updates, c.Deletes, c.Conflicts, c.Skipped, time.Since(start))

		if err := done.Complete(res.Counts, len(pulled)-c.Skipped, e.now()); err != nil {
			return err
		}
		return e.store.ApplyTable(ctx, store.TableWrite{
			WorkbookID: workbookID,
			TableID:    table.ID,
			Upserts:    pick(res.Records, res.Changed),
			Status:     &done,
		})
	})
	if err != nil {
		return e.failTable(ctx, st, err), reconcile.Result{}, err
	}

	slog.Info("table synced", "job", jobID, "workbook", workbookID, "table", table.ID,
		"creates", res.Counts.Creates, "updates", res.Counts.Updates, "deletes", res.Counts.Deletes,
		"conflicts", res.Counts.Conflicts, "skipped", res.Counts.Skipped)
	return done, res, nil
}

// failTable marks st failed and persists it. The status write ignores
// cancellation of ctx so an aborted job still leaves terminal rows behind.
func (e *Engine) failTable(ctx context.Context, st reconcile.TableStatus, cause error) reconcile.TableStatus {
	if err := st.Fail(cause, e.now()); err != nil {
		slog.Error("cannot mark table failed", "table", st.TableID, "state", string(st.State), "error", err)
		return st
	}
	if err := e.store.SaveTableStatus(context.WithoutCancel(ctx), st); err != nil {
		slog.Error("cannot persist failed table status", "table", st.TableID, "error", err)
	}
	slog.Warn("table sync failed", "job", st.JobID, "workbook", st.WorkbookID, "table", st.TableID, "error", cause)
	return st
}

// pick returns the records whose wsIds are listed, in records order.
func pick(records []snapshot.Record, wsIDs []string) []snapshot.Record {
	want := make(map[string]bool, len(wsIDs))
	for _, id := range wsIDs {
		want[id] = true
	}
	out := make([]snapshot.Record, 0, len(wsIDs))
	for _, r := range records {
		if want[r.WsID] {
			out = append(out, r)
		}
	}
	return out
}
