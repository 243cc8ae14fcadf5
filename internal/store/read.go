package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// WorkbookInfo is a row of the workbook listing.
type WorkbookInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SpecHash string `json:"spec_hash"`
	Tables   int    `json:"tables"`
}

// LocatedRecord is a record together with the table it belongs to.
type LocatedRecord struct {
	TableID string
	Record  snapshot.Record
}

// GetWorkbook returns a workbook definition, or ErrNotFound.
func (s *Store) GetWorkbook(ctx context.Context, id string) (ir.WorkbookSpec, error) {
	var specJSON string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT spec FROM workbooks WHERE id = ?`), id).Scan(&specJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.WorkbookSpec{}, fmt.Errorf("workbook %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.WorkbookSpec{}, fmt.Errorf("get workbook %s: %w", id, err)
	}
	var spec ir.WorkbookSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return ir.WorkbookSpec{}, fmt.Errorf("get workbook %s: unmarshal spec: %w", id, err)
	}
	return spec, nil
}

// ListWorkbooks returns all workbooks ordered by id.
//
// Returns an empty slice (not nil) if no workbook exists.
func (s *Store) ListWorkbooks(ctx context.Context) ([]WorkbookInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, spec, spec_hash FROM workbooks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query workbooks: %w", err)
	}
	defer rows.Close()

	out := []WorkbookInfo{}
	for rows.Next() {
		var info WorkbookInfo
		var specJSON string
		if err := rows.Scan(&info.ID, &info.Name, &specJSON, &info.SpecHash); err != nil {
			return nil, fmt.Errorf("scan workbook: %w", err)
		}
		var spec ir.WorkbookSpec
		if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
			return nil, fmt.Errorf("workbook %s: unmarshal spec: %w", info.ID, err)
		}
		info.Tables = len(spec.Tables)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workbooks: %w", err)
	}
	return out, nil
}

const recordColumns = `table_id, ws_id, seq, fields, "__remoteId", "__edited_fields", "__suggested_values",
	"__metadata", "__original", "__conflicts", "__dirty", "__seen", "__deleted"`

// LoadRecords returns every record of a table.
// Results are ordered deterministically: ORDER BY seq ASC, ws_id ASC.
//
// Returns an empty slice (not nil) if the table has no records.
func (s *Store) LoadRecords(ctx context.Context, workbookID, tableID string) ([]snapshot.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+recordColumns+`
		FROM snapshot_records
		WHERE workbook_id = ? AND table_id = ?
		ORDER BY seq ASC, ws_id ASC
	`), workbookID, tableID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []snapshot.Record{}
	for rows.Next() {
		loc, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, loc.Record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// LoadWorkbookRecords returns the records of every table in a workbook,
// keyed by table id.
func (s *Store) LoadWorkbookRecords(ctx context.Context, workbookID string) (map[string][]snapshot.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+recordColumns+`
		FROM snapshot_records
		WHERE workbook_id = ?
		ORDER BY table_id ASC, seq ASC, ws_id ASC
	`), workbookID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := map[string][]snapshot.Record{}
	for rows.Next() {
		loc, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[loc.TableID] = append(out[loc.TableID], loc.Record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// GetRecords looks records up by wsId across all tables of a workbook.
// Missing wsIds are absent from the result.
func (s *Store) GetRecords(ctx context.Context, workbookID string, wsIDs []string) (map[string]LocatedRecord, error) {
	out := make(map[string]LocatedRecord, len(wsIDs))
	if len(wsIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(wsIDs)), ", ")
	args := make([]any, 0, len(wsIDs)+1)
	args = append(args, workbookID)
	for _, id := range wsIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+recordColumns+`
		FROM snapshot_records
		WHERE workbook_id = ? AND ws_id IN (`+placeholders+`)
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		loc, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[loc.Record.WsID] = loc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// MaxSeq returns the highest record seq in the store, or 0 when empty.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM snapshot_records`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (LocatedRecord, error) {
	var loc LocatedRecord
	var r snapshot.Record
	var fields, edited, suggested, meta, orig, conflicts string
	var dirty, seen, deleted int
	err := sc.Scan(&loc.TableID, &r.WsID, &r.Seq, &fields, &r.RemoteID, &edited, &suggested,
		&meta, &orig, &conflicts, &dirty, &seen, &deleted)
	if err != nil {
		return LocatedRecord{}, fmt.Errorf("scan record: %w", err)
	}

	for _, target := range []struct {
		text string
		dst  *ir.Fields
	}{
		{fields, &r.Fields},
		{edited, &r.EditedFields},
		{suggested, &r.SuggestedValues},
		{meta, &r.Metadata},
		{orig, &r.Original},
	} {
		if *target.dst, err = unmarshalFields(target.text); err != nil {
			return LocatedRecord{}, fmt.Errorf("record %s: %w", r.WsID, err)
		}
	}
	if r.Conflicts, err = unmarshalConflicts(conflicts); err != nil {
		return LocatedRecord{}, fmt.Errorf("record %s: %w", r.WsID, err)
	}
	r.Dirty = dirty != 0
	r.Seen = seen != 0
	r.Deleted = deleted != 0

	loc.Record = r
	return loc, nil
}

// GetTableStatus returns the sync status row of a table, or ErrNotFound.
func (s *Store) GetTableStatus(ctx context.Context, workbookID, tableID string) (reconcile.TableStatus, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+statusColumns+`
		FROM table_sync_status
		WHERE workbook_id = ? AND table_id = ?
	`), workbookID, tableID)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reconcile.TableStatus{}, fmt.Errorf("sync status of %s/%s: %w", workbookID, tableID, ErrNotFound)
	}
	return st, err
}

// ListTableStatuses returns the sync status rows of a workbook ordered by
// table id.
func (s *Store) ListTableStatuses(ctx context.Context, workbookID string) ([]reconcile.TableStatus, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+statusColumns+`
		FROM table_sync_status
		WHERE workbook_id = ?
		ORDER BY table_id ASC
	`), workbookID)
	if err != nil {
		return nil, fmt.Errorf("query sync status: %w", err)
	}
	defer rows.Close()

	out := []reconcile.TableStatus{}
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync status: %w", err)
	}
	return out, nil
}

const statusColumns = `workbook_id, table_id, job_id, state, creates, updates, deletes, conflicts, skipped,
	total_files_synced, error, started_at, finished_at`

func scanStatus(sc scanner) (reconcile.TableStatus, error) {
	var (
		st                reconcile.TableStatus
		state             string
		started, finished *string
	)
	err := sc.Scan(&st.WorkbookID, &st.TableID, &st.JobID, &state,
		&st.Counts.Creates, &st.Counts.Updates, &st.Counts.Deletes, &st.Counts.Conflicts, &st.Counts.Skipped,
		&st.TotalFilesSynced, &st.Error, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return reconcile.TableStatus{}, err
	}
	if err != nil {
		return reconcile.TableStatus{}, fmt.Errorf("scan sync status: %w", err)
	}
	st.State = reconcile.SyncState(state)
	if st.StartedAt, err = parseTime(started); err != nil {
		return reconcile.TableStatus{}, err
	}
	if st.FinishedAt, err = parseTime(finished); err != nil {
		return reconcile.TableStatus{}, err
	}
	return st, nil
}
