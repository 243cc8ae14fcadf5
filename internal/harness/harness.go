package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/scratchpad/internal/compiler"
	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/engine"
	"github.com/roach88/scratchpad/internal/gitbackup"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
	"github.com/roach88/scratchpad/internal/store"
	"github.com/roach88/scratchpad/internal/testutil"
)

// FixedNow is the wall clock every scenario runs at.
var FixedNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution environment: a fresh store, a file
// connector, an in-memory backup bucket and deterministic id sources.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	remote   *connector.FileConnector
	workbook ir.WorkbookSpec
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against its own temporary database and remote
// directory. Deterministic helpers ensure reproducible results:
//   - wsIds are ws_0001, ws_0002, ... in creation order
//   - remote ids assigned by publish are rec_new_0001, ...
//   - the logical clock starts at 1 and the wall clock at FixedNow
//
// Execution flow:
//  1. Load and compile the workbook
//  2. Seed the remote tables
//  3. Execute flow steps with expect validation
//  4. Evaluate assertions and capture final state
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	loaded, errs := compiler.LoadWorkbooks(scenario.Workbook, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load workbook: %w", errs[0])
	}
	spec, err := pickWorkbook(loaded, scenario.WorkbookID)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "scratchpad-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	remoteIDs := testutil.NewSequentialGenerator("rec_new_")
	remote := connector.NewFileConnector(filepath.Join(dir, "remote"), connector.WithIDFunc(remoteIDs.Generate))
	if err := os.MkdirAll(filepath.Join(dir, "remote"), 0o755); err != nil {
		return nil, err
	}
	registry := connector.NewRegistry()
	for _, t := range spec.Tables {
		registry.Register(t.Connector, remote)
	}

	eng, err := engine.New(ctx, st, registry,
		engine.WithIDGenerator(testutil.NewSequentialGenerator("")),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithNow(func() time.Time { return FixedNow }),
		engine.WithBackups(gitbackup.NewBuckets(""), gitbackup.WithBucket("scenario")),
	)
	if err != nil {
		return nil, err
	}
	if err := eng.RegisterWorkbook(ctx, spec); err != nil {
		return nil, fmt.Errorf("failed to register workbook: %w", err)
	}

	h := &Harness{store: st, engine: eng, remote: remote, workbook: spec}
	for _, tableID := range ir.SortedKeys(scenario.Remote) {
		if err := h.seed(tableID, scenario.Remote[tableID]); err != nil {
			return nil, fmt.Errorf("failed to seed remote: %w", err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		out, err := h.execute(ctx, step)
		result.AddTrace(i, step.Op, plain(out), err)
		checkExpect(result, i, step, out, err)
	}

	actx := &AssertionContext{Ctx: ctx, Engine: eng, Remote: remote, Workbook: spec}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	if err := h.captureState(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func pickWorkbook(loaded *compiler.LoadResult, id string) (ir.WorkbookSpec, error) {
	if id != "" {
		spec, ok := loaded.Workbook(id)
		if !ok {
			return ir.WorkbookSpec{}, fmt.Errorf("workbook %q not defined", id)
		}
		return spec, nil
	}
	if len(loaded.Workbooks) != 1 {
		return ir.WorkbookSpec{}, fmt.Errorf("workbook_id is required when %d workbooks are defined", len(loaded.Workbooks))
	}
	return loaded.Workbooks[0], nil
}

func checkExpect(result *Result, i int, step Step, out any, err error) {
	want := step.Expect
	if want == nil || want.Error == "" {
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Op, err))
			return
		}
	} else {
		if err == nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got success", i, step.Op, want.Error))
		} else if !strings.Contains(err.Error(), want.Error) {
			result.AddError(fmt.Sprintf("flow[%d] %s: error %q does not contain %q", i, step.Op, err.Error(), want.Error))
		}
		return
	}
	if want != nil && want.Summary != "" {
		got := ""
		switch r := out.(type) {
		case engine.SyncReport:
			got = r.Summary()
		case engine.PublishReport:
			got = r.Summary()
		}
		if got != want.Summary {
			result.AddError(fmt.Sprintf("flow[%d] %s: summary = %q, want %q", i, step.Op, got, want.Summary))
		}
	}
}

func (h *Harness) seed(tableID string, records []connector.RemoteRecord) error {
	table, ok := h.workbook.Table(tableID)
	if !ok {
		return fmt.Errorf("table %q not in workbook %s", tableID, h.workbook.ID)
	}
	if records == nil {
		records = []connector.RemoteRecord{}
	}
	return h.remote.Seed(table, records)
}

// execute runs one step and returns the value recorded in the trace.
func (h *Harness) execute(ctx context.Context, step Step) (any, error) {
	wb := h.workbook.ID
	switch step.Op {
	case OpSync:
		return h.engine.Sync(ctx, wb, step.Tables)
	case OpPublish:
		return h.engine.Publish(ctx, wb, step.Tables)
	case OpSummary:
		return h.engine.GetPublishSummary(ctx, wb, step.Tables)
	case OpBackup:
		return h.engine.BackupWorkbookToRepo(ctx, wb, "harness")
	case OpRemoteSet:
		return nil, h.seed(step.Table, step.RemoteRecords)

	case OpSetField, OpInject, OpAppend, OpResolve:
		ref, err := h.cellRef(ctx, step.Table, step.Record, step.Column)
		if err != nil {
			return nil, err
		}
		switch step.Op {
		case OpSetField:
			value, err := ir.NormalizeValue(step.Value)
			if err != nil {
				return nil, err
			}
			return h.engine.SetFieldValue(ctx, wb, ref, value)
		case OpInject:
			return h.engine.InjectFieldValue(ctx, wb, ref, fmt.Sprint(step.Value), step.Target)
		case OpAppend:
			return h.engine.AppendFieldValue(ctx, wb, ref, fmt.Sprint(step.Value))
		default:
			return h.engine.ResolveConflict(ctx, wb, ref)
		}

	case OpAccept, OpReject:
		refs := make([]engine.CellRef, 0, len(step.Cells))
		for _, c := range step.Cells {
			ref, err := h.cellRef(ctx, step.Table, c.Record, c.Column)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		if step.Op == OpAccept {
			return h.engine.AcceptCellValues(ctx, wb, refs)
		}
		return h.engine.RejectCellValues(ctx, wb, refs)

	case OpSuggest:
		items := make([]engine.Suggestion, 0, len(step.Cells))
		for _, c := range step.Cells {
			ref, err := h.cellRef(ctx, step.Table, c.Record, c.Column)
			if err != nil {
				return nil, err
			}
			value, err := ir.NormalizeValue(c.Value)
			if err != nil {
				return nil, err
			}
			items = append(items, engine.Suggestion{WsID: ref.WsID, ColumnID: ref.ColumnID, Value: value})
		}
		return h.engine.SuggestValues(ctx, wb, items)

	case OpBulk:
		update, err := h.resolveBulk(ctx, step.Table, *step.Bulk)
		if err != nil {
			return nil, err
		}
		return h.engine.BulkUpdateRecords(ctx, wb, step.Table, update)

	case OpResolveDeletes:
		action, err := reconcile.ParseDeleteAction(step.Action)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(step.Records))
		for _, ref := range step.Records {
			id, err := h.resolve(ctx, step.Table, ref)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return h.engine.ResolveRemoteDeletes(ctx, wb, ids, action)
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) cellRef(ctx context.Context, table string, ref RecordRef, column string) (engine.CellRef, error) {
	id, err := h.resolve(ctx, table, ref)
	if err != nil {
		return engine.CellRef{}, err
	}
	return engine.CellRef{WsID: id, ColumnID: column}, nil
}

// resolve maps a record reference to a wsId.
func (h *Harness) resolve(ctx context.Context, table string, ref RecordRef) (string, error) {
	if ref.WsID != "" {
		return ref.WsID, nil
	}
	r, err := findRecord(ctx, h.store, h.workbook.ID, table, ref)
	if err != nil {
		return "", err
	}
	return r.WsID, nil
}

func findRecord(ctx context.Context, st *store.Store, workbookID, table string, ref RecordRef) (snapshot.Record, error) {
	records, err := st.LoadRecords(ctx, workbookID, table)
	if err != nil {
		return snapshot.Record{}, err
	}
	idx := slices.IndexFunc(records, func(r snapshot.Record) bool {
		if ref.WsID != "" {
			return r.WsID == ref.WsID
		}
		return r.RemoteID == ref.RemoteID
	})
	if idx < 0 {
		return snapshot.Record{}, snapshot.NewNotFoundError(ref.String(), "", "no such record in table "+table)
	}
	return records[idx], nil
}

// resolveBulk normalizes YAML values and resolves "remote:<id>" references
// to wsIds.
func (h *Harness) resolveBulk(ctx context.Context, table string, b snapshot.BulkUpdate) (snapshot.BulkUpdate, error) {
	ref := func(id string) (string, error) {
		if remoteID, ok := strings.CutPrefix(id, "remote:"); ok {
			return h.resolve(ctx, table, RecordRef{RemoteID: remoteID})
		}
		return id, nil
	}
	var out snapshot.BulkUpdate
	for _, lists := range []struct{ in, out *[]string }{
		{&b.Deletes, &out.Deletes},
		{&b.Undeletes, &out.Undeletes},
	} {
		for _, id := range *lists.in {
			wsID, err := ref(id)
			if err != nil {
				return snapshot.BulkUpdate{}, err
			}
			*lists.out = append(*lists.out, wsID)
		}
	}
	for _, c := range b.Creates {
		fields, err := ir.NormalizeFields(c.Fields)
		if err != nil {
			return snapshot.BulkUpdate{}, err
		}
		out.Creates = append(out.Creates, snapshot.RecordCreate{Fields: fields})
	}
	for _, u := range b.Updates {
		fields, err := ir.NormalizeFields(u.Fields)
		if err != nil {
			return snapshot.BulkUpdate{}, err
		}
		wsID, err := ref(u.WsID)
		if err != nil {
			return snapshot.BulkUpdate{}, err
		}
		out.Updates = append(out.Updates, snapshot.RecordUpdate{WsID: wsID, Fields: fields})
	}
	return out, nil
}

// captureState records every table's final rows in the result.
func (h *Harness) captureState(ctx context.Context, result *Result) error {
	all, err := h.store.LoadWorkbookRecords(ctx, h.workbook.ID)
	if err != nil {
		return fmt.Errorf("failed to read final state: %w", err)
	}
	for _, t := range h.workbook.Tables {
		rows := []map[string]any{}
		for _, r := range all[t.ID] {
			row := r.ToRow()
			row["ws_id"] = r.WsID
			rows = append(rows, row)
		}
		result.State[t.ID] = rows
	}
	return nil
}

// plain converts a step output into JSON-shaped values (maps, slices and
// scalars) that canonical JSON accepts.
func plain(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("unencodable %T: %v", v, err)
	}
	out, err := ir.DecodeValue(data)
	if err != nil {
		return fmt.Sprintf("undecodable %T: %v", v, err)
	}
	return out
}

func plainMap(v any) map[string]any {
	if m, ok := plain(v).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
