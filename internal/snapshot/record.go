package snapshot

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/scratchpad/internal/ir"
)

// Conflict records a remote change that collided with a pending local edit.
// The local edit was kept; the remote value became the new baseline.
type Conflict struct {
	Column string `json:"column"`
	Base   any    `json:"base"`   // baseline before the pull
	Local  any    `json:"local"`  // the preserved local edit
	Remote any    `json:"remote"` // the pulled value, now in __original
}

// Record is one row of a snapshotted table.
type Record struct {
	// WsID is the internal stable identifier, immutable for the record's lifetime.
	WsID string `json:"ws_id"`

	// RemoteID identifies the record in the source system, or carries the
	// unpublished_/deleted_ placeholder prefixes.
	RemoteID string `json:"remote_id"`

	// Seq is the insertion order within the table.
	Seq int64 `json:"seq"`

	// Fields holds the current effective business values.
	Fields ir.Fields `json:"fields"`

	// EditedFields holds accepted values that diverge from Original, plus the
	// __created/__deleted sentinels.
	EditedFields ir.Fields `json:"edited_fields"`

	// SuggestedValues holds values proposed by an agent or import that have
	// not been accepted yet.
	SuggestedValues ir.Fields `json:"suggested_values"`

	// Metadata is connector-owned opaque data preserved across syncs.
	Metadata ir.Fields `json:"metadata"`

	// Original is the last-known remote snapshot, the diff baseline.
	Original ir.Fields `json:"original"`

	// Conflicts maps column IDs to unresolved reconciliation conflicts.
	Conflicts map[string]Conflict `json:"conflicts,omitempty"`

	Dirty   bool `json:"dirty"`
	Seen    bool `json:"seen"`
	Deleted bool `json:"deleted"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Fields = r.Fields.Clone()
	out.EditedFields = r.EditedFields.Clone()
	out.SuggestedValues = r.SuggestedValues.Clone()
	out.Metadata = r.Metadata.Clone()
	out.Original = r.Original.Clone()
	if r.Conflicts != nil {
		out.Conflicts = make(map[string]Conflict, len(r.Conflicts))
		for k, c := range r.Conflicts {
			c.Base = ir.CloneValue(c.Base)
			c.Local = ir.CloneValue(c.Local)
			c.Remote = ir.CloneValue(c.Remote)
			out.Conflicts[k] = c
		}
	}
	return out
}

// RecordID returns the identifier shown when no title is available: the
// remote id for published records, the wsId otherwise.
func (r Record) RecordID() string {
	if IsPublished(r.RemoteID) {
		return r.RemoteID
	}
	return r.WsID
}

// IsCreated reports whether the record exists only locally.
func (r Record) IsCreated() bool {
	return IsUnpublished(r.RemoteID) || r.EditedFields.Has(ColumnCreated)
}

// PendingDelete reports whether the user accepted a deletion that has not
// been published yet.
func (r Record) PendingDelete() bool {
	return r.EditedFields.Has(ColumnDeleted)
}

// IsTombstone reports whether the record was deleted on the remote.
func (r Record) IsTombstone() bool {
	return r.Deleted || IsTombstoned(r.RemoteID)
}

// EditedColumns returns the business columns with accepted edits, sorted.
func (r Record) EditedColumns() []string {
	var cols []string
	for k := range r.EditedFields {
		if !IsSentinel(k) {
			cols = append(cols, k)
		}
	}
	slices.Sort(cols)
	return cols
}

// HasEdits reports whether any business column carries an accepted edit.
func (r Record) HasEdits() bool {
	for k := range r.EditedFields {
		if !IsSentinel(k) {
			return true
		}
	}
	return false
}

// HasPendingChanges reports whether the record has anything to publish.
func (r Record) HasPendingChanges() bool {
	return len(r.EditedFields) > 0
}

// ConflictColumns returns the columns with unresolved conflicts, sorted.
func (r Record) ConflictColumns() []string {
	return slices.Sorted(maps.Keys(r.Conflicts))
}

// ToRow flattens the record into its persisted layout: business columns
// side by side with the reserved metadata columns.
func (r Record) ToRow() map[string]any {
	row := make(map[string]any, len(r.Fields)+len(reservedColumns))
	for k, v := range r.Fields {
		row[k] = ir.CloneValue(v)
	}
	row[ColumnRemoteID] = r.RemoteID
	row[ColumnEditedFields] = fieldsOrEmpty(r.EditedFields)
	row[ColumnSuggestedValues] = fieldsOrEmpty(r.SuggestedValues)
	row[ColumnMetadata] = fieldsOrEmpty(r.Metadata)
	row[ColumnOriginal] = fieldsOrEmpty(r.Original)
	row[ColumnDirty] = r.Dirty
	row[ColumnSeen] = r.Seen
	row[ColumnDeleted] = r.Deleted
	row[ColumnCreated] = r.IsCreated()
	if len(r.Conflicts) > 0 {
		conflicts := make(map[string]any, len(r.Conflicts))
		for k, c := range r.Conflicts {
			conflicts[k] = map[string]any{
				"base":   ir.CloneValue(c.Base),
				"local":  ir.CloneValue(c.Local),
				"remote": ir.CloneValue(c.Remote),
			}
		}
		row[ColumnConflicts] = conflicts
	}
	return row
}

// RecordFromRow rebuilds a record from its persisted layout. The wsId and
// seq are not part of the row and must be supplied by the caller.
func RecordFromRow(wsID string, seq int64, row map[string]any) (Record, error) {
	r := Record{WsID: wsID, Seq: seq, Fields: ir.Fields{}}
	var err error
	for k, v := range row {
		if !IsReserved(k) {
			if r.Fields[k], err = ir.NormalizeValue(v); err != nil {
				return Record{}, fmt.Errorf("record %s: field %q: %w", wsID, k, err)
			}
		}
	}

	if v, ok := row[ColumnRemoteID]; ok {
		s, isString := v.(string)
		if !isString {
			return Record{}, fmt.Errorf("record %s: %s must be a string, got %T", wsID, ColumnRemoteID, v)
		}
		r.RemoteID = s
	}
	for _, target := range []struct {
		column string
		dst    *ir.Fields
	}{
		{ColumnEditedFields, &r.EditedFields},
		{ColumnSuggestedValues, &r.SuggestedValues},
		{ColumnMetadata, &r.Metadata},
		{ColumnOriginal, &r.Original},
	} {
		if *target.dst, err = rowFields(row, target.column); err != nil {
			return Record{}, fmt.Errorf("record %s: %w", wsID, err)
		}
	}
	r.Dirty, _ = row[ColumnDirty].(bool)
	r.Seen, _ = row[ColumnSeen].(bool)
	r.Deleted, _ = row[ColumnDeleted].(bool)

	if raw, ok := row[ColumnConflicts].(map[string]any); ok {
		r.Conflicts = make(map[string]Conflict, len(raw))
		for col, v := range raw {
			entry, isMap := v.(map[string]any)
			if !isMap {
				return Record{}, fmt.Errorf("record %s: conflict %q must be an object", wsID, col)
			}
			r.Conflicts[col] = Conflict{Column: col, Base: entry["base"], Local: entry["local"], Remote: entry["remote"]}
		}
	}
	return r, nil
}

func rowFields(row map[string]any, column string) (ir.Fields, error) {
	v, ok := row[column]
	if !ok || v == nil {
		return ir.Fields{}, nil
	}
	normalized, err := ir.NormalizeValue(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", column, err)
	}
	m, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object, got %T", column, v)
	}
	return ir.Fields(m), nil
}

func fieldsOrEmpty(f ir.Fields) map[string]any {
	if f == nil {
		return map[string]any{}
	}
	return map[string]any(f.Clone())
}
