package reconcile

import (
	"log/slog"
	"slices"

	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// ConflictReport describes one field where a remote change collided with a
// pending local edit.
type ConflictReport struct {
	WsID     string `json:"ws_id"`
	RemoteID string `json:"remote_id"`
	Column   string `json:"column"`
	Base     any    `json:"base"`
	Local    any    `json:"local"`
	Remote   any    `json:"remote"`
}

// Skip describes a pulled record that was rejected as malformed.
type Skip struct {
	RemoteID string `json:"remote_id"`
	Reason   string `json:"reason"`
}

// Result is the outcome of reconciling one table.
type Result struct {
	// Records is the complete new table state, ordered by seq.
	Records []snapshot.Record

	// Changed lists the wsIds whose rows differ from the input and must be
	// persisted, in seq order.
	Changed []string

	Counts    Counts
	Conflicts []ConflictReport
	Skipped   []Skip

	// DeleteCandidates lists every published record absent from the remote,
	// including candidates left unresolved by earlier passes.
	DeleteCandidates []string
}

// Reconcile merges pulled into the local records of table. It is a pure
// function of its inputs: local records are cloned, never modified.
//
// Pulled records that are malformed (empty or duplicate remote id, reserved
// field names, values that do not fit the column type) are skipped and
// logged; they never affect sibling records.
//
// Records that disappear from the remote are not removed. They stay as
// delete candidates until ResolveRemoteDeletes settles them, and only the
// pass that first notices the disappearance counts them as deletes, so a
// repeated pass over an unchanged payload reports nothing.
func Reconcile(table ir.TableSpec, local []snapshot.Record, pulled []connector.RemoteRecord, ids snapshot.IDSource) Result {
	records := make([]snapshot.Record, len(local))
	byRemote := make(map[string]int, len(local))
	for i, r := range local {
		records[i] = r.Clone()
		if snapshot.IsPublished(r.RemoteID) && !r.IsTombstone() {
			byRemote[r.RemoteID] = i
		}
	}

	var res Result
	changed := map[string]bool{}
	matched := map[string]bool{}
	inBatch := map[string]bool{}

	for _, remote := range pulled {
		fields, metadata, reason := validatePulled(table, remote, inBatch)
		if reason != "" {
			slog.Warn("skipping malformed remote record",
				"table", table.ID,
				"remote_id", remote.RemoteID,
				"reason", reason,
			)
			res.Skipped = append(res.Skipped, Skip{RemoteID: remote.RemoteID, Reason: reason})
			res.Counts.Skipped++
			continue
		}
		inBatch[remote.RemoteID] = true

		i, exists := byRemote[remote.RemoteID]
		if !exists {
			rec := newPulledRecord(ids, remote.RemoteID, fields, metadata)
			records = append(records, rec)
			changed[rec.WsID] = true
			res.Counts.Creates++
			continue
		}

		rec := &records[i]
		matched[rec.WsID] = true
		updated, conflicts := mergeFields(rec, fields)
		if metadata != nil && !ir.Equal(map[string]any(rec.Metadata), map[string]any(metadata)) {
			rec.Metadata = metadata
			updated = true
		}
		if !rec.Seen {
			rec.Seen = true
			changed[rec.WsID] = true
		}
		if updated {
			changed[rec.WsID] = true
			res.Counts.Updates++
		}
		for _, c := range conflicts {
			res.Conflicts = append(res.Conflicts, ConflictReport{
				WsID:     rec.WsID,
				RemoteID: rec.RemoteID,
				Column:   c.Column,
				Base:     c.Base,
				Local:    c.Local,
				Remote:   c.Remote,
			})
		}
		res.Counts.Conflicts += len(conflicts)
	}

	for i := range records {
		rec := &records[i]
		if !snapshot.IsPublished(rec.RemoteID) || rec.IsTombstone() || matched[rec.WsID] {
			continue
		}
		if changed[rec.WsID] {
			continue // created in this pass
		}
		if rec.Seen {
			rec.Seen = false
			changed[rec.WsID] = true
			res.Counts.Deletes++
		}
		res.DeleteCandidates = append(res.DeleteCandidates, rec.WsID)
	}

	slices.SortStableFunc(records, bySeq)
	res.Records = records
	for _, r := range records {
		if changed[r.WsID] {
			res.Changed = append(res.Changed, r.WsID)
		}
	}
	return res
}

// mergeFields applies Resolve to every field of the pulled record and the
// stored baseline. It reports whether the baseline moved and which fields
// conflicted.
func mergeFields(rec *snapshot.Record, pulled ir.Fields) (bool, []snapshot.Conflict) {
	if rec.Fields == nil {
		rec.Fields = ir.Fields{}
	}
	if rec.Original == nil {
		rec.Original = ir.Fields{}
	}

	keys := map[string]bool{}
	for k := range pulled {
		keys[k] = true
	}
	for k := range rec.Original {
		keys[k] = true
	}

	updated := false
	var conflicts []snapshot.Conflict
	for _, k := range ir.SortedKeys(keys) {
		remote, inRemote := pulled[k]
		original, hasOriginal := rec.Original[k]
		edited, hasEdit := rec.EditedFields[k]

		switch Resolve(FieldState{Original: original, HasOriginal: hasOriginal, Edited: edited, HasEdit: hasEdit}, remote) {
		case RemoteWins:
			setBaseline(rec, k, remote, inRemote)
			if inRemote {
				rec.Fields[k] = ir.CloneValue(remote)
			} else {
				delete(rec.Fields, k)
			}
			updated = true
		case Converged:
			setBaseline(rec, k, remote, inRemote)
			if inRemote {
				rec.Fields[k] = ir.CloneValue(remote)
			} else {
				delete(rec.Fields, k)
			}
			delete(rec.EditedFields, k)
			delete(rec.Conflicts, k)
			rec.Dirty = rec.HasPendingChanges()
			updated = true
		case Conflict:
			base := original
			if prior, ok := rec.Conflicts[k]; ok {
				base = prior.Base
			}
			setBaseline(rec, k, remote, inRemote)
			rec.Fields[k] = ir.CloneValue(edited)
			c := snapshot.Conflict{Column: k, Base: base, Local: ir.CloneValue(edited), Remote: ir.CloneValue(remote)}
			if rec.Conflicts == nil {
				rec.Conflicts = map[string]snapshot.Conflict{}
			}
			rec.Conflicts[k] = c
			conflicts = append(conflicts, c)
			updated = true
		}
	}
	return updated, conflicts
}

func setBaseline(rec *snapshot.Record, key string, value any, present bool) {
	if present {
		rec.Original[key] = ir.CloneValue(value)
	} else {
		delete(rec.Original, key)
	}
}

func validatePulled(table ir.TableSpec, remote connector.RemoteRecord, inBatch map[string]bool) (fields, metadata ir.Fields, reason string) {
	if remote.RemoteID == "" {
		return nil, nil, "empty remote id"
	}
	if !snapshot.IsPublished(remote.RemoteID) {
		return nil, nil, "remote id uses a reserved prefix"
	}
	if inBatch[remote.RemoteID] {
		return nil, nil, "duplicate remote id in batch"
	}
	fields, err := ir.NormalizeFields(remote.Fields)
	if err != nil {
		return nil, nil, err.Error()
	}
	if metadata, err = ir.NormalizeFields(remote.Metadata); err != nil {
		return nil, nil, "metadata: " + err.Error()
	}
	if fields == nil {
		fields = ir.Fields{}
	}
	for _, k := range fields.SortedKeys() {
		if snapshot.IsReserved(k) {
			return nil, nil, "reserved field name " + k
		}
		col, ok := table.Column(k)
		if ok && !col.Type.Accepts(fields[k]) {
			return nil, nil, "value of " + k + " does not match column type " + string(col.Type)
		}
	}
	return fields, metadata, ""
}

func newPulledRecord(ids snapshot.IDSource, remoteID string, fields, metadata ir.Fields) snapshot.Record {
	if metadata == nil {
		metadata = ir.Fields{}
	}
	return snapshot.Record{
		WsID:            ids.NextWsID(),
		RemoteID:        remoteID,
		Seq:             ids.NextSeq(),
		Fields:          fields.Clone(),
		EditedFields:    ir.Fields{},
		SuggestedValues: ir.Fields{},
		Metadata:        metadata,
		Original:        fields.Clone(),
		Seen:            true,
	}
}

func bySeq(a, b snapshot.Record) int {
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}
