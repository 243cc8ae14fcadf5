// Package publish computes what a publish would send to the remote and folds
// push results back into the snapshot.
package publish

import (
	"slices"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// ChangeKind classifies a record pending publish.
type ChangeKind string

const (
	KindCreate ChangeKind = "create"
	KindUpdate ChangeKind = "update"
	KindDelete ChangeKind = "delete"
)

// FieldDiff is one changed field of an update.
type FieldDiff struct {
	Column string `json:"column"`
	From   any    `json:"from"`
	To     any    `json:"to"`
}

// RecordRef identifies a record in a summary bucket.
type RecordRef struct {
	WsID     string      `json:"ws_id"`
	RemoteID string      `json:"remote_id,omitempty"`
	Title    string      `json:"title"`
	Changes  []FieldDiff `json:"changes,omitempty"` // updates only
}

// Bucket is one of the creates/updates/deletes groups of a table.
type Bucket struct {
	Count   int         `json:"count"`
	Records []RecordRef `json:"records"`
}

// TableSummary is the publish summary of one table.
type TableSummary struct {
	TableID   string `json:"table_id"`
	TableName string `json:"table_name"`
	Creates   Bucket `json:"creates"`
	Updates   Bucket `json:"updates"`
	Deletes   Bucket `json:"deletes"`
}

// IsEmpty reports whether the table has nothing to publish.
func (t TableSummary) IsEmpty() bool {
	return t.Creates.Count == 0 && t.Updates.Count == 0 && t.Deletes.Count == 0
}

// Totals sums the bucket counts over all tables.
type Totals struct {
	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
}

// Summary is the publish summary of a workbook. It is computed on demand and
// never persisted.
type Summary struct {
	WorkbookID  string         `json:"workbook_id"`
	Tables      []TableSummary `json:"tables"`
	Totals      Totals         `json:"totals"`
	Fingerprint string         `json:"fingerprint"`
}

// Classify reports how r would be published, or "" when it has nothing to
// publish. A tombstone (deleted_ remote id or the deleted flag) is always a
// delete; publishing finalizes it by dropping the local row.
func Classify(r snapshot.Record) ChangeKind {
	if r.IsTombstone() {
		return KindDelete
	}
	if !r.Dirty && !r.HasPendingChanges() {
		return ""
	}
	switch {
	case r.IsCreated():
		if r.PendingDelete() {
			return ""
		}
		return KindCreate
	case snapshot.IsTombstoned(r.RemoteID) || r.PendingDelete():
		return KindDelete
	case r.HasEdits():
		return KindUpdate
	}
	return ""
}

// SummarizeTable computes the summary of one table. Records are reported in
// seq order within each bucket.
func SummarizeTable(table ir.TableSpec, records []snapshot.Record) TableSummary {
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

	ts := TableSummary{
		TableID:   table.ID,
		TableName: table.Name,
		Creates:   Bucket{Records: []RecordRef{}},
		Updates:   Bucket{Records: []RecordRef{}},
		Deletes:   Bucket{Records: []RecordRef{}},
	}
	for _, r := range ordered {
		ref := RecordRef{WsID: r.WsID, Title: Title(table, r)}
		if snapshot.IsPublished(r.RemoteID) {
			ref.RemoteID = r.RemoteID
		}
		switch Classify(r) {
		case KindCreate:
			ts.Creates.Records = append(ts.Creates.Records, ref)
		case KindUpdate:
			ref.Changes = FieldDiffs(table, r)
			ts.Updates.Records = append(ts.Updates.Records, ref)
		case KindDelete:
			ts.Deletes.Records = append(ts.Deletes.Records, ref)
		}
	}
	ts.Creates.Count = len(ts.Creates.Records)
	ts.Updates.Count = len(ts.Updates.Records)
	ts.Deletes.Count = len(ts.Deletes.Records)
	return ts
}

// Summarize builds the workbook summary for the given tables, in the order
// given. The fingerprint is computed over the canonical JSON of the rest of
// the summary.
func Summarize(workbookID string, tables []ir.TableSpec, records map[string][]snapshot.Record) (Summary, error) {
	s := Summary{WorkbookID: workbookID, Tables: make([]TableSummary, 0, len(tables))}
	for _, t := range tables {
		ts := SummarizeTable(t, records[t.ID])
		s.Tables = append(s.Tables, ts)
		s.Totals.Creates += ts.Creates.Count
		s.Totals.Updates += ts.Updates.Count
		s.Totals.Deletes += ts.Deletes.Count
	}
	body, err := ir.MarshalCanonical(s.canonical(false))
	if err != nil {
		return Summary{}, err
	}
	s.Fingerprint = ir.SummaryFingerprint(body)
	return s, nil
}

// MarshalCanonical renders the summary as canonical JSON. Repeated calls on
// an unchanged snapshot produce identical bytes.
func (s Summary) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.canonical(true))
}

// Title returns the display title of r: the table's title column when
// configured and non-empty, the record id otherwise.
func Title(table ir.TableSpec, r snapshot.Record) string {
	if table.TitleColumn != "" {
		if title := ir.DisplayString(r.Fields[table.TitleColumn]); title != "" {
			return title
		}
	}
	return r.RecordID()
}

// FieldDiffs returns {from: original, to: edited} for every edited business
// column: declared columns first in declaration order, then undeclared ones
// in key order.
func FieldDiffs(table ir.TableSpec, r snapshot.Record) []FieldDiff {
	var diffs []FieldDiff
	seen := map[string]bool{}
	add := func(col string) {
		if seen[col] || snapshot.IsSentinel(col) {
			return
		}
		to, ok := r.EditedFields[col]
		if !ok {
			return
		}
		seen[col] = true
		diffs = append(diffs, FieldDiff{Column: col, From: ir.CloneValue(r.Original[col]), To: ir.CloneValue(to)})
	}
	for _, col := range table.ColumnOrder() {
		add(col)
	}
	for _, col := range r.EditedFields.SortedKeys() {
		add(col)
	}
	return diffs
}

func (s Summary) canonical(withFingerprint bool) map[string]any {
	tables := make([]any, len(s.Tables))
	for i, t := range s.Tables {
		tables[i] = map[string]any{
			"table_id":   t.TableID,
			"table_name": t.TableName,
			"creates":    t.Creates.canonical(),
			"updates":    t.Updates.canonical(),
			"deletes":    t.Deletes.canonical(),
		}
	}
	out := map[string]any{
		"workbook_id": s.WorkbookID,
		"tables":      tables,
		"totals": map[string]any{
			"creates": s.Totals.Creates,
			"updates": s.Totals.Updates,
			"deletes": s.Totals.Deletes,
		},
	}
	if withFingerprint {
		out["fingerprint"] = s.Fingerprint
	}
	return out
}

func (b Bucket) canonical() map[string]any {
	records := make([]any, len(b.Records))
	for i, r := range b.Records {
		ref := map[string]any{
			"ws_id":     r.WsID,
			"remote_id": r.RemoteID,
			"title":     r.Title,
		}
		if r.Changes != nil {
			changes := make([]any, len(r.Changes))
			for j, c := range r.Changes {
				changes[j] = map[string]any{"column": c.Column, "from": c.From, "to": c.To}
			}
			ref["changes"] = changes
		}
		records[i] = ref
	}
	return map[string]any{"count": b.Count, "records": records}
}
