package publish

import (
	"slices"

	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// Plan is the set of connector operations for one table.
type Plan struct {
	Ops []connector.Op

	// Drops are pending deletes of records the remote no longer has. They
	// are finalized locally without a push.
	Drops []string
}

// PlanPush builds the connector ops for every record Classify selects, in
// seq order.
func PlanPush(records []snapshot.Record) Plan {
	ordered := slices.Clone(records)
	slices.SortStableFunc(ordered, func(a, b snapshot.Record) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	var plan Plan
	for _, r := range ordered {
		switch Classify(r) {
		case KindCreate:
			plan.Ops = append(plan.Ops, connector.Op{
				Kind:     connector.OpCreate,
				WsID:     r.WsID,
				Fields:   businessFields(r.Fields),
				Metadata: r.Metadata.Clone(),
			})
		case KindUpdate:
			changed := ir.Fields{}
			for _, col := range r.EditedColumns() {
				changed[col] = ir.CloneValue(r.EditedFields[col])
			}
			plan.Ops = append(plan.Ops, connector.Op{
				Kind:     connector.OpUpdate,
				WsID:     r.WsID,
				RemoteID: r.RemoteID,
				Fields:   changed,
				Metadata: r.Metadata.Clone(),
			})
		case KindDelete:
			if !snapshot.IsPublished(r.RemoteID) {
				plan.Drops = append(plan.Drops, r.WsID)
				continue
			}
			plan.Ops = append(plan.Ops, connector.Op{Kind: connector.OpDelete, WsID: r.WsID, RemoteID: r.RemoteID})
		}
	}
	return plan
}

// Failure is one record the push could not apply.
type Failure struct {
	WsID   string           `json:"ws_id"`
	Kind   connector.OpKind `json:"kind"`
	Reason string           `json:"reason"`
}

// Outcome is the snapshot state after folding push results back.
type Outcome struct {
	// Records is the new table state; removed records are absent.
	Records []snapshot.Record

	// Updated lists rows that changed and must be persisted.
	Updated []string

	// Removed lists rows that must be deleted from the store.
	Removed []string

	Succeeded int
	Failures  []Failure
}

// ApplyPushResults folds results into records. Successful creates take
// their assigned remote id, successful updates move the pushed values into
// original, successful deletes remove the record. Failed ops leave the
// record pending and are reported per record.
func ApplyPushResults(records []snapshot.Record, plan Plan, results []connector.OpResult) Outcome {
	byWsID := make(map[string]connector.OpResult, len(results))
	for _, res := range results {
		byWsID[res.WsID] = res
	}
	ops := make(map[string]connector.Op, len(plan.Ops))
	for _, op := range plan.Ops {
		ops[op.WsID] = op
	}
	drops := map[string]bool{}
	for _, id := range plan.Drops {
		drops[id] = true
	}

	var out Outcome
	for _, r := range records {
		if drops[r.WsID] {
			out.Removed = append(out.Removed, r.WsID)
			out.Succeeded++
			continue
		}
		op, planned := ops[r.WsID]
		if !planned {
			out.Records = append(out.Records, r.Clone())
			continue
		}

		res, ok := byWsID[r.WsID]
		if !ok || !res.OK {
			reason := "no result returned for operation"
			if ok {
				reason = res.Error
			}
			out.Failures = append(out.Failures, Failure{WsID: r.WsID, Kind: op.Kind, Reason: reason})
			out.Records = append(out.Records, r.Clone())
			continue
		}

		out.Succeeded++
		switch op.Kind {
		case connector.OpDelete:
			out.Removed = append(out.Removed, r.WsID)
			continue
		case connector.OpCreate:
			out.Records = append(out.Records, markCreated(r, res))
		case connector.OpUpdate:
			out.Records = append(out.Records, markUpdated(r, op, res))
		}
		out.Updated = append(out.Updated, r.WsID)
	}
	return out
}

func markCreated(r snapshot.Record, res connector.OpResult) snapshot.Record {
	out := r.Clone()
	out.RemoteID = res.RemoteID
	out.Fields = businessFields(out.Fields)
	out.Original = businessFields(out.Fields)
	for k, v := range res.Fields {
		out.Original[k] = ir.CloneValue(v)
		out.Fields[k] = ir.CloneValue(v)
	}
	out.EditedFields = ir.Fields{}
	out.Conflicts = nil
	out.Seen = true
	out.Dirty = false
	return out
}

func markUpdated(r snapshot.Record, op connector.Op, res connector.OpResult) snapshot.Record {
	out := r.Clone()
	if out.Original == nil {
		out.Original = ir.Fields{}
	}
	if out.Fields == nil {
		out.Fields = ir.Fields{}
	}
	for col, pushed := range op.Fields {
		value := pushed
		if echoed, ok := res.Fields[col]; ok {
			value = echoed
		}
		out.Original[col] = ir.CloneValue(value)
		// An edit made while the push was in flight stays pending.
		if ir.Equal(out.EditedFields[col], pushed) {
			out.Fields[col] = ir.CloneValue(value)
			delete(out.EditedFields, col)
			delete(out.Conflicts, col)
		}
	}
	out.Dirty = out.HasPendingChanges()
	return out
}

func businessFields(f ir.Fields) ir.Fields {
	out := ir.Fields{}
	for k, v := range f {
		if !snapshot.IsReserved(k) {
			out[k] = ir.CloneValue(v)
		}
	}
	return out
}
