package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/scratchpad/internal/publish"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
	"github.com/roach88/scratchpad/internal/store"
)

// BulkUpdateRecords applies creates, updates, deletes and undeletes to one
// table. Unknown wsIds fail the whole batch and nothing is written.
func (e *Engine) BulkUpdateRecords(ctx context.Context, workbookID, tableID string, update snapshot.BulkUpdate) (snapshot.BulkResult, error) {
	var res snapshot.BulkResult
	err := e.withWorkbook(ctx, workbookID, func(ctx context.Context) error {
		if _, _, err := e.table(ctx, workbookID, tableID); err != nil {
			return err
		}
		records, err := e.store.LoadRecords(ctx, workbookID, tableID)
		if err != nil {
			return err
		}
		res, err = snapshot.ApplyBulk(records, update, e)
		if err != nil {
			return err
		}

		touched := make(map[string]bool, len(res.Touched))
		for _, id := range res.Touched {
			touched[id] = true
		}
		upserts := make([]snapshot.Record, 0, len(res.Touched))
		for _, r := range res.Records {
			if touched[r.WsID] {
				upserts = append(upserts, r)
			}
		}
		return e.store.ApplyTable(ctx, store.TableWrite{
			WorkbookID: workbookID,
			TableID:    tableID,
			Upserts:    upserts,
			Removed:    res.Removed,
		})
	})
	if err != nil {
		return snapshot.BulkResult{}, err
	}
	slog.Info("bulk update applied", "workbook", workbookID, "table", tableID,
		"created", len(res.Created), "removed", len(res.Removed), "touched", len(res.Touched))
	return res, nil
}

// ResolveRemoteDeletes settles records that vanished from their remote.
// With no wsIds every current candidate of the workbook is resolved; any
// wsId that is not a candidate fails the call without writing.
func (e *Engine) ResolveRemoteDeletes(ctx context.Context, workbookID string, wsIDs []string, action reconcile.DeleteAction) ([]snapshot.Record, error) {
	if _, err := reconcile.ParseDeleteAction(string(action)); err != nil {
		return nil, err
	}

	var resolved []snapshot.Record
	err := e.withWorkbook(ctx, workbookID, func(ctx context.Context) error {
		spec, err := e.store.GetWorkbook(ctx, workbookID)
		if err != nil {
			return err
		}
		all, err := e.store.LoadWorkbookRecords(ctx, workbookID)
		if err != nil {
			return err
		}

		// Route each requested wsId to its table.
		perTable := make(map[string][]string)
		if len(wsIDs) > 0 {
			owner := make(map[string]string)
			for tableID, records := range all {
				for _, r := range records {
					owner[r.WsID] = tableID
				}
			}
			for _, id := range wsIDs {
				tableID, ok := owner[id]
				if !ok {
					return snapshot.NewNotFoundError(id, "", "record not found")
				}
				perTable[tableID] = append(perTable[tableID], id)
			}
		}

		var writes []store.TableWrite
		resolved = []snapshot.Record{}
		for _, table := range spec.Tables {
			ids := perTable[table.ID]
			if len(wsIDs) > 0 && len(ids) == 0 {
				continue
			}
			out, err := reconcile.ResolveRemoteDeletes(all[table.ID], ids, action)
			if err != nil {
				return err
			}
			if len(out) == 0 {
				continue
			}
			writes = append(writes, store.TableWrite{WorkbookID: workbookID, TableID: table.ID, Upserts: out})
			resolved = append(resolved, out...)
		}
		if len(writes) == 0 {
			return nil
		}
		return e.store.ApplyTables(ctx, writes)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("remote deletes resolved", "workbook", workbookID, "action", string(action), "records", len(resolved))
	return resolved, nil
}

// GetPublishSummary previews what a publish of the given tables would
// push. With no tableIds every table of the workbook is included. Nothing
// is modified.
func (e *Engine) GetPublishSummary(ctx context.Context, workbookID string, tableIDs []string) (publish.Summary, error) {
	spec, err := e.store.GetWorkbook(ctx, workbookID)
	if err != nil {
		return publish.Summary{}, err
	}
	tables, err := selectTables(spec, tableIDs)
	if err != nil {
		return publish.Summary{}, err
	}
	records, err := e.store.LoadWorkbookRecords(ctx, workbookID)
	if err != nil {
		return publish.Summary{}, err
	}
	return publish.Summarize(workbookID, tables, records)
}

// TableStatuses returns the latest sync status of each synced table.
func (e *Engine) TableStatuses(ctx context.Context, workbookID string) ([]reconcile.TableStatus, error) {
	return e.store.ListTableStatuses(ctx, workbookID)
}
