package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/metrics"
	"github.com/roach88/scratchpad/internal/publish"
	"github.com/roach88/scratchpad/internal/store"
)

// TablePublish is the publish outcome of one table.
type TablePublish struct {
	TableID   string            `json:"table_id"`
	Ops       int               `json:"ops"`
	Succeeded int               `json:"succeeded"`
	Failures  []publish.Failure `json:"failures,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// PublishReport is the outcome of a publish job.
type PublishReport struct {
	JobID      string         `json:"job_id"`
	WorkbookID string         `json:"workbook_id"`
	Tables     []TablePublish `json:"tables"`
}

// Summary renders the job outcome, e.g. "2 of 3 tables published, 1 failed".
func (r PublishReport) Summary() string {
	failed := 0
	for _, t := range r.Tables {
		if t.Error != "" {
			failed++
		}
	}
	s := fmt.Sprintf("%d of %d tables published", len(r.Tables)-failed, len(r.Tables))
	if failed > 0 {
		s += fmt.Sprintf(", %d failed", failed)
	}
	return s
}

// Publish pushes pending creates, updates and deletes of the selected
// tables to their connectors and folds the results back into the snapshot.
//
// Record-level push failures leave the record pending and are listed in the
// table's Failures; they do not fail the table. A table fails only when its
// connector cannot be reached or the push as a whole errors.
func (e *Engine) Publish(ctx context.Context, workbookID string, tableIDs []string) (PublishReport, error) {
	spec, err := e.store.GetWorkbook(ctx, workbookID)
	if err != nil {
		return PublishReport{}, err
	}
	tables, err := selectTables(spec, tableIDs)
	if err != nil {
		return PublishReport{}, err
	}

	jobID := e.newJobID()
	report := PublishReport{JobID: jobID, WorkbookID: workbookID, Tables: make([]TablePublish, 0, len(tables))}
	var failures []TableFailure
	for _, t := range tables {
		tp, err := e.publishTable(ctx, workbookID, t)
		if err != nil {
			tp.Error = err.Error()
			failures = append(failures, TableFailure{TableID: t.ID, Err: err})
			slog.Warn("table publish failed", "job", jobID, "workbook", workbookID, "table", t.ID, "error", err)
		}
		report.Tables = append(report.Tables, tp)
	}

	slog.Info("publish job finished", "job", jobID, "workbook", workbookID, "summary", report.Summary())
	return report, newJobError("publish", jobID, len(tables), failures)
}

// publishTable holds the workbook lock across the push so edits made while
// the connector call is in flight are not folded into original.
func (e *Engine) publishTable(ctx context.Context, workbookID string, table ir.TableSpec) (TablePublish, error) {
	tp := TablePublish{TableID: table.ID}
	err := e.withWorkbook(ctx, workbookID, func(ctx context.Context) error {
		records, err := e.store.LoadRecords(ctx, workbookID, table.ID)
		if err != nil {
			return err
		}
		plan := publish.PlanPush(records)
		tp.Ops = len(plan.Ops)
		if len(plan.Ops) == 0 && len(plan.Drops) == 0 {
			return nil
		}

		var results []connector.OpResult
		if len(plan.Ops) > 0 {
			conn, err := e.connectors.Get(table.Connector)
			if err != nil {
				return err
			}
			results, err = conn.PushRecords(ctx, table, plan.Ops)
			if err != nil {
				return err
			}
		}

		outcome := publish.ApplyPushResults(records, plan, results)
		failed := make(map[string]bool, len(outcome.Failures))
		for _, f := range outcome.Failures {
			failed[f.WsID] = true
		}
		for _, op := range plan.Ops {
			metrics.RecordPublishOp(string(op.Kind), !failed[op.WsID])
		}
		tp.Succeeded = outcome.Succeeded
		tp.Failures = outcome.Failures

		return e.store.ApplyTable(ctx, store.TableWrite{
			WorkbookID: workbookID,
			TableID:    table.ID,
			Upserts:    pick(outcome.Records, outcome.Updated),
			Removed:    outcome.Removed,
		})
	})
	return tp, err
}
