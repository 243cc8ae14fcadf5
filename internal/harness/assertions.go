package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/engine"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Target   string // What was inspected, e.g. "articles/remote:rec_1"
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Target != "" {
		fmt.Fprintf(&buf, " (%s)", e.Target)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// AssertionContext provides what assertions inspect.
type AssertionContext struct {
	Ctx      context.Context
	Engine   *engine.Engine
	Remote   connector.Connector
	Workbook ir.WorkbookSpec
}

// EvaluateAssertions evaluates all assertions.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRecord:
			err = assertRecord(actx, a)
		case AssertRecordCount:
			err = assertRecordCount(actx, a)
		case AssertTableStatus:
			err = assertTableStatus(actx, a)
		case AssertRemote:
			err = assertRemote(actx, a)
		case AssertPublishTotals:
			err = assertPublishTotals(actx, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

// recordView exposes a record to subset matching. Keys follow the scenario
// vocabulary; field values sit under "fields".
func recordView(r snapshot.Record) map[string]any {
	view := map[string]any{
		"ws_id":            r.WsID,
		"remote_id":        r.RemoteID,
		"fields":           map[string]any(r.Fields),
		"edited_fields":    map[string]any(r.EditedFields),
		"suggested_values": map[string]any(r.SuggestedValues),
		"original":         map[string]any(r.Original),
		"dirty":            r.Dirty,
		"seen":             r.Seen,
		"deleted":          r.Deleted,
		"created":          r.IsCreated(),
		"conflicts":        r.ConflictColumns(),
	}
	return plainMap(view)
}

func assertRecord(actx *AssertionContext, a Assertion) error {
	r, err := findRecord(actx.Ctx, actx.Engine.Store(), actx.Workbook.ID, a.Table, a.Record)
	if err != nil {
		return &AssertionError{
			Type:     AssertRecord,
			Target:   a.Table + "/" + a.Record.String(),
			Expected: "record to exist",
			Actual:   err.Error(),
		}
	}
	return matchSubset(AssertRecord, a.Table+"/"+a.Record.String(), recordView(r), a.Expect)
}

func assertRecordCount(actx *AssertionContext, a Assertion) error {
	records, err := actx.Engine.Store().LoadRecords(actx.Ctx, actx.Workbook.ID, a.Table)
	if err != nil {
		return err
	}
	live := 0
	for _, r := range records {
		if !r.Deleted {
			live++
		}
	}
	if live != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Target:   a.Table,
			Expected: fmt.Sprintf("%d live records", a.Count),
			Actual:   fmt.Sprintf("%d live records", live),
		}
	}
	return nil
}

func assertTableStatus(actx *AssertionContext, a Assertion) error {
	statuses, err := actx.Engine.TableStatuses(actx.Ctx, actx.Workbook.ID)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if st.TableID == a.Table {
			view := plainMap(st)
			return matchSubset(AssertTableStatus, a.Table, view, a.Expect)
		}
	}
	return &AssertionError{
		Type:     AssertTableStatus,
		Target:   a.Table,
		Expected: "a sync status row",
		Actual:   "table never synced",
	}
}

func assertRemote(actx *AssertionContext, a Assertion) error {
	table, ok := actx.Workbook.Table(a.Table)
	if !ok {
		return fmt.Errorf("remote assertion: unknown table %q", a.Table)
	}
	pulled, err := actx.Remote.PullRecords(actx.Ctx, table)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(pulled, func(r connector.RemoteRecord) bool { return r.RemoteID == a.Record.RemoteID })
	if idx < 0 {
		return &AssertionError{
			Type:     AssertRemote,
			Target:   a.Table + "/" + a.Record.String(),
			Expected: "remote record to exist",
			Actual:   "not found",
		}
	}
	return matchSubset(AssertRemote, a.Table+"/"+a.Record.String(), map[string]any(pulled[idx].Fields), a.Expect)
}

func assertPublishTotals(actx *AssertionContext, a Assertion) error {
	summary, err := actx.Engine.GetPublishSummary(actx.Ctx, actx.Workbook.ID, nil)
	if err != nil {
		return err
	}
	return matchSubset(AssertPublishTotals, actx.Workbook.ID, plainMap(summary.Totals), a.Expect)
}

// matchSubset checks that actual holds every expected key with an equal
// value. Nested maps are matched recursively with the same subset rule;
// extra keys in actual are ignored.
func matchSubset(typ, target string, actual, expected map[string]any) error {
	for _, key := range ir.SortedKeys(expected) {
		want, err := ir.NormalizeValue(expected[key])
		if err != nil {
			return fmt.Errorf("%s: expected %q: %w", typ, key, err)
		}
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     typ,
				Target:   target,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("fields present: %v", ir.SortedKeys(actual)),
			}
		}
		if wantMap, ok := want.(map[string]any); ok {
			if gotMap, ok := got.(map[string]any); ok && len(wantMap) > 0 {
				if err := matchSubset(typ, target+"."+key, gotMap, wantMap); err != nil {
					return err
				}
				continue
			}
		}
		if !ir.Equal(want, got) {
			return &AssertionError{
				Type:     typ,
				Target:   target,
				Expected: fmt.Sprintf("%s = %s", key, ir.DisplayString(want)),
				Actual:   fmt.Sprintf("%s = %s", key, ir.DisplayString(got)),
			}
		}
	}
	return nil
}
