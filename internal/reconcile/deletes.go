package reconcile

import (
	"fmt"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// DeleteAction decides the fate of records that disappeared remotely.
type DeleteAction string

const (
	// ActionCreate keeps the record as a local-only record that will be
	// re-created on the next publish.
	ActionCreate DeleteAction = "create"

	// ActionDelete tombstones the record locally.
	ActionDelete DeleteAction = "delete"
)

// ParseDeleteAction validates a user-supplied action.
func ParseDeleteAction(s string) (DeleteAction, error) {
	switch DeleteAction(s) {
	case ActionCreate, ActionDelete:
		return DeleteAction(s), nil
	}
	return "", snapshot.NewValidationError("", "", fmt.Sprintf("invalid remote delete action %q: want create or delete", s))
}

// IsDeleteCandidate reports whether r is a published record that the last
// pull did not return.
func IsDeleteCandidate(r snapshot.Record) bool {
	return snapshot.IsPublished(r.RemoteID) && !r.IsTombstone() && !r.Seen
}

// DeleteCandidates returns the wsIds of all current candidates, in input order.
func DeleteCandidates(records []snapshot.Record) []string {
	var ids []string
	for _, r := range records {
		if IsDeleteCandidate(r) {
			ids = append(ids, r.WsID)
		}
	}
	return ids
}

// ResolveRemoteDeletes settles delete candidates. An empty wsIDs resolves
// every candidate. Naming a record that is not a candidate is a not-found
// error and leaves every record untouched.
//
// It returns the resolved records only; unresolved candidates stay as they
// are and do not block later syncs.
func ResolveRemoteDeletes(records []snapshot.Record, wsIDs []string, action DeleteAction) ([]snapshot.Record, error) {
	if _, err := ParseDeleteAction(string(action)); err != nil {
		return nil, err
	}

	candidates := make(map[string]snapshot.Record)
	for _, r := range records {
		if IsDeleteCandidate(r) {
			candidates[r.WsID] = r
		}
	}

	targets := wsIDs
	if len(targets) == 0 {
		targets = DeleteCandidates(records)
	}

	out := make([]snapshot.Record, 0, len(targets))
	for _, id := range targets {
		r, ok := candidates[id]
		if !ok {
			return nil, snapshot.NewNotFoundError(id, "", "record is not a remote delete candidate")
		}
		switch action {
		case ActionCreate:
			out = append(out, recreateLocally(r))
		case ActionDelete:
			out = append(out, tombstone(r))
		}
	}
	return out, nil
}

// recreateLocally turns a vanished record into an unpublished one. All of
// its current values are staged so the next publish re-creates it in full.
func recreateLocally(r snapshot.Record) snapshot.Record {
	out := r.Clone()
	out.RemoteID = snapshot.NewUnpublishedID(r.WsID)
	if out.EditedFields == nil {
		out.EditedFields = ir.Fields{}
	}
	for k, v := range out.Fields {
		out.EditedFields[k] = ir.CloneValue(v)
	}
	out.EditedFields[snapshot.ColumnCreated] = true
	delete(out.EditedFields, snapshot.ColumnDeleted)
	out.Original = ir.Fields{}
	out.Conflicts = nil
	out.Seen = true
	out.Dirty = true
	return out
}

// tombstone marks a vanished record deleted. It stays dirty until a publish
// drops the row.
func tombstone(r snapshot.Record) snapshot.Record {
	out := r.Clone()
	out.RemoteID = snapshot.TombstoneID(r.RemoteID)
	out.Deleted = true
	out.Seen = true
	out.Dirty = true
	out.EditedFields = ir.Fields{}
	out.SuggestedValues = ir.Fields{}
	out.Conflicts = nil
	return out
}
