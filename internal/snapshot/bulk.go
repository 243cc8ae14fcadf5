package snapshot

import (
	"fmt"
	"slices"

	"github.com/roach88/scratchpad/internal/ir"
)

// IDSource issues identifiers for records created locally.
type IDSource interface {
	NextWsID() string
	NextSeq() int64
}

// RecordCreate describes a new local-only record.
type RecordCreate struct {
	Fields ir.Fields `json:"fields" yaml:"fields"`
}

// RecordUpdate describes direct edits to an existing record.
type RecordUpdate struct {
	WsID   string    `json:"ws_id" yaml:"ws_id"`
	Fields ir.Fields `json:"fields" yaml:"fields"`
}

// BulkUpdate is a batch of record-level changes applied in one pass:
// creates, then updates, then deletes, then undeletes.
type BulkUpdate struct {
	Creates   []RecordCreate `json:"creates,omitempty" yaml:"creates"`
	Updates   []RecordUpdate `json:"updates,omitempty" yaml:"updates"`
	Deletes   []string       `json:"deletes,omitempty" yaml:"deletes"`
	Undeletes []string       `json:"undeletes,omitempty" yaml:"undeletes"`
}

// IsEmpty reports whether the batch carries no changes.
func (b BulkUpdate) IsEmpty() bool {
	return len(b.Creates) == 0 && len(b.Updates) == 0 && len(b.Deletes) == 0 && len(b.Undeletes) == 0
}

// BulkResult is the outcome of ApplyBulk.
type BulkResult struct {
	// Records is the new table state in seq order.
	Records []Record

	// Created lists the wsIds issued for creates, in input order.
	Created []string

	// Removed lists unpublished records dropped by a delete.
	Removed []string

	// Touched lists the wsIds whose rows changed and need persisting.
	Touched []string
}

// ApplyBulk applies a batch to a table's records. The input slice and its
// records are not modified.
//
// A delete of a record that was never published removes it outright; a
// delete of a published record stages the __deleted sentinel for publish.
// Any unknown wsId fails the whole batch with a not-found error.
func ApplyBulk(records []Record, update BulkUpdate, ids IDSource) (BulkResult, error) {
	byID := make(map[string]int, len(records))
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
		byID[r.WsID] = i
	}

	lookup := func(wsID string) (*Record, error) {
		i, ok := byID[wsID]
		if !ok || out[i].WsID == "" {
			return nil, NewNotFoundError(wsID, "", "record not found")
		}
		return &out[i], nil
	}

	var res BulkResult
	touched := map[string]bool{}

	for _, c := range update.Creates {
		fields, err := ir.NormalizeFields(c.Fields)
		if err != nil {
			return BulkResult{}, NewValidationError("", "", fmt.Sprintf("create: %v", err))
		}
		for k := range fields {
			if IsReserved(k) {
				return BulkResult{}, NewValidationError("", k, "cannot set a reserved column")
			}
		}
		wsID := ids.NextWsID()
		rec := NewLocalRecord(wsID, ids.NextSeq(), fields)
		byID[wsID] = len(out)
		out = append(out, rec)
		res.Created = append(res.Created, wsID)
		touched[wsID] = true
	}

	for _, u := range update.Updates {
		rec, err := lookup(u.WsID)
		if err != nil {
			return BulkResult{}, err
		}
		for _, col := range u.Fields.SortedKeys() {
			updated, err := SetFieldValue(*rec, col, u.Fields[col])
			if err != nil {
				return BulkResult{}, err
			}
			*rec = updated
		}
		touched[u.WsID] = true
	}

	removed := map[string]bool{}
	for _, wsID := range update.Deletes {
		rec, err := lookup(wsID)
		if err != nil {
			return BulkResult{}, err
		}
		if IsUnpublished(rec.RemoteID) {
			removed[wsID] = true
			res.Removed = append(res.Removed, wsID)
			*rec = Record{}
			continue
		}
		if rec.EditedFields == nil {
			rec.EditedFields = ir.Fields{}
		}
		rec.EditedFields[ColumnDeleted] = true
		delete(rec.SuggestedValues, ColumnDeleted)
		rec.Dirty = true
		touched[wsID] = true
	}

	for _, wsID := range update.Undeletes {
		rec, err := lookup(wsID)
		if err != nil {
			return BulkResult{}, err
		}
		delete(rec.EditedFields, ColumnDeleted)
		rec.Dirty = rec.HasPendingChanges()
		touched[wsID] = true
	}

	for _, r := range out {
		if r.WsID == "" {
			continue
		}
		res.Records = append(res.Records, r)
	}
	slices.SortStableFunc(res.Records, func(a, b Record) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	for _, r := range res.Records {
		if touched[r.WsID] && !removed[r.WsID] {
			res.Touched = append(res.Touched, r.WsID)
		}
	}
	return res, nil
}

// NewLocalRecord builds a record that exists only locally: an unpublished
// remote id, the __created sentinel and every field staged as an edit.
func NewLocalRecord(wsID string, seq int64, fields ir.Fields) Record {
	edited := fields.Clone()
	if edited == nil {
		edited = ir.Fields{}
	}
	edited[ColumnCreated] = true
	f := fields.Clone()
	if f == nil {
		f = ir.Fields{}
	}
	return Record{
		WsID:            wsID,
		RemoteID:        NewUnpublishedID(wsID),
		Seq:             seq,
		Fields:          f,
		EditedFields:    edited,
		SuggestedValues: ir.Fields{},
		Metadata:        ir.Fields{},
		Original:        ir.Fields{},
		Dirty:           true,
		Seen:            true,
	}
}
