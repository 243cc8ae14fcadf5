package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// SaveWorkbook inserts or replaces a workbook definition.
// Uses ON CONFLICT(id) DO UPDATE so re-registering a workbook updates its
// spec without touching its records.
func (s *Store) SaveWorkbook(ctx context.Context, spec ir.WorkbookSpec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("save workbook: marshal spec: %w", err)
	}
	hash, err := ir.WorkbookSpecHash(spec)
	if err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO workbooks (id, name, spec, spec_hash, ir_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			spec = excluded.spec,
			spec_hash = excluded.spec_hash,
			ir_version = excluded.ir_version
	`), spec.ID, spec.Name, string(specJSON), hash, ir.IRVersion)
	if err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// TableWrite is one atomic update of a snapshot table: records to upsert,
// records to remove, and optionally the table's new sync status.
type TableWrite struct {
	WorkbookID string
	TableID    string
	Upserts    []snapshot.Record
	Removed    []string // wsIds
	Status     *reconcile.TableStatus
}

// ApplyTable writes a TableWrite in a single transaction. Either every
// change lands or none does.
func (s *Store) ApplyTable(ctx context.Context, w TableWrite) error {
	return s.ApplyTables(ctx, []TableWrite{w})
}

// ApplyTables writes several TableWrites in one transaction. Used by cell
// operations whose items span tables.
func (s *Store) ApplyTables(ctx context.Context, writes []TableWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply tables: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, w := range writes {
		if err := s.applyTable(ctx, tx, w); err != nil {
			return fmt.Errorf("apply table %s: %w", w.TableID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply tables: commit: %w", err)
	}
	return nil
}

func (s *Store) applyTable(ctx context.Context, tx *sql.Tx, w TableWrite) error {
	for _, r := range w.Upserts {
		if err := s.upsertRecord(ctx, tx, w.WorkbookID, w.TableID, r); err != nil {
			return err
		}
	}
	for _, wsID := range w.Removed {
		_, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM snapshot_records WHERE workbook_id = ? AND table_id = ? AND ws_id = ?
		`), w.WorkbookID, w.TableID, wsID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", wsID, err)
		}
	}
	if w.Status != nil {
		if err := s.writeStatus(ctx, tx, *w.Status); err != nil {
			return err
		}
	}
	return nil
}

// SaveRecords upserts records of one table.
func (s *Store) SaveRecords(ctx context.Context, workbookID, tableID string, records []snapshot.Record) error {
	return s.ApplyTable(ctx, TableWrite{WorkbookID: workbookID, TableID: tableID, Upserts: records})
}

// SaveTableStatus inserts or replaces the sync status row of a table.
func (s *Store) SaveTableStatus(ctx context.Context, status reconcile.TableStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save table status: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.writeStatus(ctx, tx, status); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save table status: commit: %w", err)
	}
	return nil
}

func (s *Store) upsertRecord(ctx context.Context, tx *sql.Tx, workbookID, tableID string, r snapshot.Record) error {
	cols := make([]string, 0, 6)
	for _, f := range []ir.Fields{r.Fields, r.EditedFields, r.SuggestedValues, r.Metadata, r.Original} {
		text, err := marshalFields(f)
		if err != nil {
			return fmt.Errorf("record %s: %w", r.WsID, err)
		}
		cols = append(cols, text)
	}
	conflicts, err := marshalConflicts(r.Conflicts)
	if err != nil {
		return fmt.Errorf("record %s: %w", r.WsID, err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO snapshot_records
		(workbook_id, table_id, ws_id, seq, fields, "__remoteId", "__edited_fields",
		 "__suggested_values", "__metadata", "__original", "__conflicts",
		 "__dirty", "__seen", "__deleted", "__created")
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workbook_id, ws_id) DO UPDATE SET
			table_id = excluded.table_id,
			seq = excluded.seq,
			fields = excluded.fields,
			"__remoteId" = excluded."__remoteId",
			"__edited_fields" = excluded."__edited_fields",
			"__suggested_values" = excluded."__suggested_values",
			"__metadata" = excluded."__metadata",
			"__original" = excluded."__original",
			"__conflicts" = excluded."__conflicts",
			"__dirty" = excluded."__dirty",
			"__seen" = excluded."__seen",
			"__deleted" = excluded."__deleted",
			"__created" = excluded."__created"
	`),
		workbookID,
		tableID,
		r.WsID,
		r.Seq,
		cols[0],
		r.RemoteID,
		cols[1],
		cols[2],
		cols[3],
		cols[4],
		conflicts,
		boolInt(r.Dirty),
		boolInt(r.Seen),
		boolInt(r.Deleted),
		boolInt(r.IsCreated()),
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", r.WsID, err)
	}
	return nil
}

func (s *Store) writeStatus(ctx context.Context, tx *sql.Tx, st reconcile.TableStatus) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO table_sync_status
		(workbook_id, table_id, job_id, state, creates, updates, deletes, conflicts, skipped,
		 total_files_synced, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workbook_id, table_id) DO UPDATE SET
			job_id = excluded.job_id,
			state = excluded.state,
			creates = excluded.creates,
			updates = excluded.updates,
			deletes = excluded.deletes,
			conflicts = excluded.conflicts,
			skipped = excluded.skipped,
			total_files_synced = excluded.total_files_synced,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`),
		st.WorkbookID,
		st.TableID,
		st.JobID,
		string(st.State),
		st.Counts.Creates,
		st.Counts.Updates,
		st.Counts.Deletes,
		st.Counts.Conflicts,
		st.Counts.Skipped,
		st.TotalFilesSynced,
		st.Error,
		formatTime(st.StartedAt),
		formatTime(st.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("save table status %s: %w", st.TableID, err)
	}
	return nil
}
