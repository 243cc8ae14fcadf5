package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
	"github.com/roach88/scratchpad/internal/store"
	"github.com/roach88/scratchpad/internal/textdiff"
)

// CellRef addresses one cell of a workbook.
type CellRef struct {
	WsID     string `json:"wsId" yaml:"wsId"`
	ColumnID string `json:"columnId" yaml:"columnId"`
}

// Suggestion is a proposed value for one cell.
type Suggestion struct {
	WsID     string `json:"wsId" yaml:"wsId"`
	ColumnID string `json:"columnId" yaml:"columnId"`
	Value    any    `json:"value" yaml:"value"`
}

// AcceptCellValues accepts the pending suggestion of each cell, in order.
// Items may address several cells of one record and records of several
// tables. Either every item applies or nothing is written.
func (e *Engine) AcceptCellValues(ctx context.Context, workbookID string, items []CellRef) ([]snapshot.Record, error) {
	return e.editCells(ctx, workbookID, "accept", items, func(r snapshot.Record, ref CellRef, _ int) (snapshot.Record, error) {
		return snapshot.AcceptCellValue(r, ref.ColumnID)
	})
}

// RejectCellValues discards the pending suggestion of each cell.
func (e *Engine) RejectCellValues(ctx context.Context, workbookID string, items []CellRef) ([]snapshot.Record, error) {
	return e.editCells(ctx, workbookID, "reject", items, func(r snapshot.Record, ref CellRef, _ int) (snapshot.Record, error) {
		return snapshot.RejectCellValue(r, ref.ColumnID)
	})
}

// SuggestValues records suggestions from an agent or an import.
func (e *Engine) SuggestValues(ctx context.Context, workbookID string, items []Suggestion) ([]snapshot.Record, error) {
	refs := make([]CellRef, len(items))
	for i, s := range items {
		refs[i] = CellRef{WsID: s.WsID, ColumnID: s.ColumnID}
	}
	return e.editCells(ctx, workbookID, "suggest", refs, func(r snapshot.Record, ref CellRef, i int) (snapshot.Record, error) {
		return snapshot.SuggestValue(r, ref.ColumnID, items[i].Value)
	})
}

// SetFieldValue applies a direct user edit to one cell.
func (e *Engine) SetFieldValue(ctx context.Context, workbookID string, ref CellRef, value any) (snapshot.Record, error) {
	return e.editCell(ctx, workbookID, "set", ref, func(r snapshot.Record) (snapshot.Record, error) {
		return snapshot.SetFieldValue(r, ref.ColumnID, value)
	})
}

// InjectFieldValue inserts value at the first occurrence of targetKey in a
// text cell. An empty targetKey means snapshot.DefaultInjectTarget.
func (e *Engine) InjectFieldValue(ctx context.Context, workbookID string, ref CellRef, value, targetKey string) (snapshot.Record, error) {
	opts := e.inject
	opts.TargetKey = targetKey
	return e.editCell(ctx, workbookID, "inject", ref, func(r snapshot.Record) (snapshot.Record, error) {
		return snapshot.InjectFieldValue(r, ref.ColumnID, value, opts)
	})
}

// AppendFieldValue appends value to a text cell.
func (e *Engine) AppendFieldValue(ctx context.Context, workbookID string, ref CellRef, value string) (snapshot.Record, error) {
	return e.editCell(ctx, workbookID, "append", ref, func(r snapshot.Record) (snapshot.Record, error) {
		return snapshot.AppendFieldValue(r, ref.ColumnID, value)
	})
}

// ResolveConflict acknowledges the reconciliation conflict on a cell,
// keeping the local edit.
func (e *Engine) ResolveConflict(ctx context.Context, workbookID string, ref CellRef) (snapshot.Record, error) {
	return e.editCell(ctx, workbookID, "resolve-conflict", ref, func(r snapshot.Record) (snapshot.Record, error) {
		return snapshot.ResolveConflict(r, ref.ColumnID)
	})
}

// CellDiff is the word-level view of a cell's pending suggestion.
type CellDiff struct {
	WsID     string             `json:"wsId"`
	ColumnID string             `json:"columnId"`
	State    snapshot.CellState `json:"state"`
	Segments []textdiff.Segment `json:"segments"`
}

// DiffCell returns the word diff between a cell's current value and its
// pending suggestion. Without a suggestion the diff is a single unchanged
// segment.
func (e *Engine) DiffCell(ctx context.Context, workbookID string, ref CellRef) (CellDiff, error) {
	found, err := e.store.GetRecords(ctx, workbookID, []string{ref.WsID})
	if err != nil {
		return CellDiff{}, err
	}
	loc, ok := found[ref.WsID]
	if !ok {
		return CellDiff{}, snapshot.NewNotFoundError(ref.WsID, ref.ColumnID, "record not found")
	}

	r := loc.Record
	state := snapshot.CellStateOf(r, ref.ColumnID)
	suggested := r.Fields[ref.ColumnID]
	if v, ok := r.SuggestedValues[ref.ColumnID]; ok {
		suggested = v
	}
	return CellDiff{
		WsID:     ref.WsID,
		ColumnID: ref.ColumnID,
		State:    state,
		Segments: textdiff.DiffValues(r.Fields[ref.ColumnID], suggested),
	}, nil
}

func (e *Engine) editCell(ctx context.Context, workbookID, op string, ref CellRef, edit func(snapshot.Record) (snapshot.Record, error)) (snapshot.Record, error) {
	out, err := e.editCells(ctx, workbookID, op, []CellRef{ref}, func(r snapshot.Record, _ CellRef, _ int) (snapshot.Record, error) {
		return edit(r)
	})
	if err != nil {
		return snapshot.Record{}, err
	}
	return out[0], nil
}

// editCells applies edit to each addressed cell in item order and persists
// the touched records in one transaction. Nothing is written if any item
// fails. The returned records follow first-mention order.
func (e *Engine) editCells(
	ctx context.Context,
	workbookID, op string,
	items []CellRef,
	edit func(r snapshot.Record, ref CellRef, i int) (snapshot.Record, error),
) ([]snapshot.Record, error) {
	if len(items) == 0 {
		return []snapshot.Record{}, nil
	}

	var result []snapshot.Record
	err := e.withWorkbook(ctx, workbookID, func(ctx context.Context) error {
		spec, err := e.store.GetWorkbook(ctx, workbookID)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(items))
		for _, it := range items {
			if !slices.Contains(ids, it.WsID) {
				ids = append(ids, it.WsID)
			}
		}
		found, err := e.store.GetRecords(ctx, workbookID, ids)
		if err != nil {
			return err
		}

		working := make(map[string]snapshot.Record, len(found))
		for i, ref := range items {
			loc, ok := found[ref.WsID]
			if !ok {
				return snapshot.NewNotFoundError(ref.WsID, ref.ColumnID, "record not found")
			}
			table, _ := spec.Table(loc.TableID)
			if err := checkColumn(table, ref, readOnlyOK[op]); err != nil {
				return err
			}

			rec, ok := working[ref.WsID]
			if !ok {
				rec = loc.Record
			}
			next, err := edit(rec, ref, i)
			if err != nil {
				return err
			}
			working[ref.WsID] = next
		}

		writes := make([]store.TableWrite, 0)
		byTable := make(map[string]int)
		result = make([]snapshot.Record, 0, len(ids))
		for _, id := range ids {
			tableID := found[id].TableID
			idx, ok := byTable[tableID]
			if !ok {
				idx = len(writes)
				byTable[tableID] = idx
				writes = append(writes, store.TableWrite{WorkbookID: workbookID, TableID: tableID})
			}
			writes[idx].Upserts = append(writes[idx].Upserts, working[id])
			result = append(result, working[id])
		}
		return e.store.ApplyTables(ctx, writes)
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("cell edits applied", "workbook", workbookID, "op", op, "items", len(items), "records", len(result))
	return result, nil
}

// readOnlyOK lists the operations that never change a cell's value.
var readOnlyOK = map[string]bool{"reject": true, "resolve-conflict": true}

// checkColumn rejects cells the table does not define. Sentinel columns
// address the record as a whole and are always allowed.
func checkColumn(table ir.TableSpec, ref CellRef, allowReadOnly bool) error {
	if snapshot.IsSentinel(ref.ColumnID) {
		return nil
	}
	col, ok := table.Column(ref.ColumnID)
	if !ok {
		return snapshot.NewNotFoundError(ref.WsID, ref.ColumnID, fmt.Sprintf("column not in table %q", table.ID))
	}
	if col.ReadOnly && !allowReadOnly {
		return snapshot.NewValidationError(ref.WsID, ref.ColumnID, "column is read-only")
	}
	return nil
}
