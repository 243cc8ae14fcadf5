package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scratchpad/internal/compiler"
	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/gitbackup"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
	"github.com/roach88/scratchpad/internal/store"
	"github.com/roach88/scratchpad/internal/testutil"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func articlesTable() ir.TableSpec {
	return ir.TableSpec{
		ID:          "articles",
		Name:        "Articles",
		Connector:   "file",
		TitleColumn: "title",
		Columns: []ir.ColumnSpec{
			{ID: "title", Name: "Title", Type: ir.ColumnText},
			{ID: "summary", Name: "Summary", Type: ir.ColumnText},
			{ID: "views", Name: "Views", Type: ir.ColumnNumber, ReadOnly: true},
		},
	}
}

func testWorkbook() ir.WorkbookSpec {
	return ir.WorkbookSpec{ID: "wb", Name: "Content", Tables: []ir.TableSpec{articlesTable()}}
}

type fixture struct {
	engine   *Engine
	store    *store.Store
	remote   *connector.FileConnector
	registry *connector.Registry
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	remoteIDs := testutil.NewSequentialGenerator("rec_new_")
	fc := connector.NewFileConnector(t.TempDir(), connector.WithIDFunc(remoteIDs.Generate))
	reg := connector.NewRegistry()
	reg.Register("file", fc)

	base := []EngineOption{
		WithIDGenerator(testutil.NewSequentialGenerator("")),
		WithClock(testutil.NewDeterministicClock()),
		WithNow(func() time.Time { return fixedNow }),
	}
	e, err := New(context.Background(), s, reg, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, e.RegisterWorkbook(context.Background(), testWorkbook()))
	return &fixture{engine: e, store: s, remote: fc, registry: reg}
}

func (f *fixture) seed(t *testing.T, records ...connector.RemoteRecord) {
	t.Helper()
	require.NoError(t, f.remote.Seed(articlesTable(), records))
}

func (f *fixture) sync(t *testing.T) SyncReport {
	t.Helper()
	report, err := f.engine.Sync(context.Background(), "wb", nil)
	require.NoError(t, err)
	return report
}

// byRemote returns the stored record with the given remote id.
func (f *fixture) byRemote(t *testing.T, remoteID string) snapshot.Record {
	t.Helper()
	records, err := f.store.LoadRecords(context.Background(), "wb", "articles")
	require.NoError(t, err)
	for _, r := range records {
		if r.RemoteID == remoteID {
			return r
		}
	}
	t.Fatalf("no record with remote id %q", remoteID)
	return snapshot.Record{}
}

func remote(id string, fields ir.Fields) connector.RemoteRecord {
	return connector.RemoteRecord{RemoteID: id, Fields: fields}
}

func TestRegisterWorkbook_RejectsInvalidSpec(t *testing.T) {
	f := newFixture(t)
	err := f.engine.RegisterWorkbook(context.Background(), ir.WorkbookSpec{ID: "empty"})

	var verrs compiler.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, compiler.ErrWorkbookNoTables, verrs[0].Code)
}

func TestNew_ResumesClockFromStore(t *testing.T) {
	f := newFixture(t)
	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}), remote("rec_2", ir.Fields{"title": "B"}))
	f.sync(t)

	e, err := New(context.Background(), f.store, connector.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.NextSeq(), "first seq follows the highest stored seq")
}

func TestSync_CreatesThenIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}), remote("rec_2", ir.Fields{"title": "B"}))

	first := f.sync(t)
	require.Len(t, first.Tables, 1)
	assert.Equal(t, reconcile.StateCompleted, first.Tables[0].State)
	assert.Equal(t, 2, first.Tables[0].Counts.Creates)
	assert.Equal(t, 2, first.Tables[0].TotalFilesSynced)
	assert.Equal(t, "1 of 1 tables synced", first.Summary())

	before, err := f.store.LoadRecords(context.Background(), "wb", "articles")
	require.NoError(t, err)

	second := f.sync(t)
	assert.Equal(t, reconcile.Counts{}, second.Tables[0].Counts, "a second pull of unchanged data changes nothing")

	after, err := f.store.LoadRecords(context.Background(), "wb", "articles")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	statuses, err := f.engine.TableStatuses(context.Background(), "wb")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, second.JobID, statuses[0].JobID)
	assert.Equal(t, reconcile.StateCompleted, statuses[0].State)
}

// A record synced as "A", edited locally to "B" while the remote moved to
// "C", keeps "B" with a conflict flag and "C" as its new baseline.
func TestSync_LocalEditSurvivesRemoteChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}))
	f.sync(t)

	rec := f.byRemote(t, "rec_1")
	_, err := f.engine.SetFieldValue(ctx, "wb", CellRef{WsID: rec.WsID, ColumnID: "title"}, "B")
	require.NoError(t, err)

	f.seed(t, remote("rec_1", ir.Fields{"title": "C"}))
	report := f.sync(t)
	assert.Equal(t, 1, report.Tables[0].Counts.Conflicts)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, "B", report.Conflicts[0].Local)
	assert.Equal(t, "C", report.Conflicts[0].Remote)

	got := f.byRemote(t, "rec_1")
	assert.Equal(t, "B", got.Fields["title"])
	assert.Equal(t, "B", got.EditedFields["title"])
	assert.Equal(t, "C", got.Original["title"])
	assert.True(t, got.Dirty)
	assert.Contains(t, got.Conflicts, "title")

	resolved, err := f.engine.ResolveConflict(ctx, "wb", CellRef{WsID: rec.WsID, ColumnID: "title"})
	require.NoError(t, err)
	assert.Empty(t, resolved.Conflicts)
}

func TestSync_PartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := testWorkbook()
	spec.Tables = append(spec.Tables, ir.TableSpec{ID: "orphans", Name: "Orphans", Connector: "airtable"})
	require.NoError(t, f.engine.RegisterWorkbook(ctx, spec))
	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}))

	report, err := f.engine.Sync(ctx, "wb", nil)
	require.Error(t, err)
	assert.True(t, IsPartialFailure(err))
	assert.False(t, IsJobFailed(err))
	assert.ErrorIs(t, err, connector.ErrUnknownService)
	assert.Equal(t, "1 of 2 tables synced, 1 failed", report.Summary())

	status, err := f.store.GetTableStatus(ctx, "wb", "orphans")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateFailed, status.State)
	assert.Contains(t, status.Error, "unknown connector service")
	require.NotNil(t, status.FinishedAt)
	assert.True(t, fixedNow.Equal(*status.FinishedAt))

	_, err = f.engine.Sync(ctx, "wb", []string{"orphans"})
	assert.True(t, IsJobFailed(err))
}

func TestSync_UnknownTable(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Sync(context.Background(), "wb", []string{"nope"})
	assert.True(t, snapshot.IsNotFound(err))
}

// cancellingConnector cancels the job's context from inside a pull.
type cancellingConnector struct {
	cancel context.CancelFunc
}

func (c cancellingConnector) PullRecords(ctx context.Context, _ ir.TableSpec) ([]connector.RemoteRecord, error) {
	c.cancel()
	return nil, ctx.Err()
}

func (c cancellingConnector) PushRecords(context.Context, ir.TableSpec, []connector.Op) ([]connector.OpResult, error) {
	return nil, nil
}

func TestSync_CancelledJobLeavesTerminalStatuses(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.registry.Register("cancel", cancellingConnector{cancel: cancel})

	spec := testWorkbook()
	spec.Tables[0].Connector = "cancel"
	spec.Tables = append(spec.Tables, ir.TableSpec{ID: "later", Name: "Later", Connector: "file"})
	require.NoError(t, f.engine.RegisterWorkbook(context.Background(), spec))

	report, err := f.engine.Sync(ctx, "wb", nil)
	require.Error(t, err)
	assert.True(t, IsJobFailed(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "0 of 2 tables synced, 2 failed", report.Summary())

	statuses, err := f.engine.TableStatuses(context.Background(), "wb")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, reconcile.StateFailed, st.State, st.TableID)
	}
}

type recordingProgress struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingProgress) TableStarted(st reconcile.TableStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fmt.Sprintf("start %s %s", st.TableID, st.State))
}

func (p *recordingProgress) TableFinished(st reconcile.TableStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fmt.Sprintf("finish %s %s", st.TableID, st.State))
}

func TestSync_ReportsProgress(t *testing.T) {
	p := &recordingProgress{}
	f := newFixture(t, WithProgress(p))
	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}))
	f.sync(t)

	assert.Equal(t, []string{"start articles in_progress", "finish articles completed"}, p.events)
}

// Accepting a suggested summary "X" makes it the value, records it as an
// edit, and surfaces it as an update in the publish summary.
func TestAcceptCellValues_SurfacesInPublishSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "Post", "summary": "old"}))
	f.sync(t)
	rec := f.byRemote(t, "rec_1")

	_, err := f.engine.SuggestValues(ctx, "wb", []Suggestion{{WsID: rec.WsID, ColumnID: "summary", Value: "X"}})
	require.NoError(t, err)

	diff, err := f.engine.DiffCell(ctx, "wb", CellRef{WsID: rec.WsID, ColumnID: "summary"})
	require.NoError(t, err)
	assert.Equal(t, snapshot.ProvenanceSuggested, diff.State.Provenance)
	require.NotEmpty(t, diff.Segments)

	out, err := f.engine.AcceptCellValues(ctx, "wb", []CellRef{{WsID: rec.WsID, ColumnID: "summary"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "X", out[0].Fields["summary"])
	assert.Equal(t, "X", out[0].EditedFields["summary"])
	assert.Empty(t, out[0].SuggestedValues)
	assert.True(t, out[0].Dirty)

	summary, err := f.engine.GetPublishSummary(ctx, "wb", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Totals.Updates)
	require.Len(t, summary.Tables, 1)
	upd := summary.Tables[0].Updates.Records[0]
	assert.Equal(t, "Post", upd.Title)
	require.Len(t, upd.Changes, 1)
	assert.Equal(t, "summary", upd.Changes[0].Column)
	assert.Equal(t, "old", upd.Changes[0].From)
	assert.Equal(t, "X", upd.Changes[0].To)

	again, err := f.engine.GetPublishSummary(ctx, "wb", []string{"articles"})
	require.NoError(t, err)
	assert.Equal(t, summary.Fingerprint, again.Fingerprint)
}

func TestAcceptCellValues_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}), remote("rec_2", ir.Fields{"title": "B"}))
	f.sync(t)
	one, two := f.byRemote(t, "rec_1"), f.byRemote(t, "rec_2")

	_, err := f.engine.SuggestValues(ctx, "wb", []Suggestion{{WsID: one.WsID, ColumnID: "title", Value: "A2"}})
	require.NoError(t, err)

	_, err = f.engine.AcceptCellValues(ctx, "wb", []CellRef{
		{WsID: one.WsID, ColumnID: "title"},
		{WsID: two.WsID, ColumnID: "title"}, // no suggestion
	})
	require.Error(t, err)
	assert.True(t, snapshot.IsNotFound(err))

	got := f.byRemote(t, "rec_1")
	assert.Equal(t, "A", got.Fields["title"], "the first item must not be applied")
	assert.Equal(t, "A2", got.SuggestedValues["title"])

	_, err = f.engine.AcceptCellValues(ctx, "wb", []CellRef{{WsID: "ws_missing", ColumnID: "title"}})
	assert.True(t, snapshot.IsNotFound(err))

	_, err = f.engine.AcceptCellValues(ctx, "wb", []CellRef{{WsID: one.WsID, ColumnID: "nope"}})
	assert.True(t, snapshot.IsNotFound(err))
}

func TestRejectCellValues_KeepsEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "A", "summary": "s"}))
	f.sync(t)
	rec := f.byRemote(t, "rec_1")

	_, err := f.engine.SetFieldValue(ctx, "wb", CellRef{WsID: rec.WsID, ColumnID: "summary"}, "edited")
	require.NoError(t, err)
	_, err = f.engine.SuggestValues(ctx, "wb", []Suggestion{{WsID: rec.WsID, ColumnID: "title", Value: "T"}})
	require.NoError(t, err)

	out, err := f.engine.RejectCellValues(ctx, "wb", []CellRef{{WsID: rec.WsID, ColumnID: "title"}})
	require.NoError(t, err)
	assert.Empty(t, out[0].SuggestedValues)
	assert.Equal(t, ir.Fields{"summary": "edited"}, out[0].EditedFields)
	assert.Equal(t, "A", out[0].Fields["title"])
}

func TestInjectAndAppendFieldValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "A", "summary": "Hello @@!", "views": int64(3)}))
	f.sync(t)
	ref := CellRef{WsID: f.byRemote(t, "rec_1").WsID, ColumnID: "summary"}

	rec, err := f.engine.InjectFieldValue(ctx, "wb", ref, "world", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", rec.Fields["summary"])
	assert.True(t, rec.Dirty)

	_, err = f.engine.InjectFieldValue(ctx, "wb", ref, "x", "{{missing}}")
	assert.True(t, snapshot.IsValidation(err))

	rec, err = f.engine.AppendFieldValue(ctx, "wb", ref, " Bye.")
	require.NoError(t, err)
	assert.Equal(t, "Hello world! Bye.", rec.Fields["summary"])

	_, err = f.engine.AppendFieldValue(ctx, "wb", CellRef{WsID: ref.WsID, ColumnID: "views"}, "1")
	assert.True(t, snapshot.IsValidation(err), "read-only column")
}

func TestInjectFieldValue_FallbackAppend(t *testing.T) {
	f := newFixture(t, WithInjectFallbackAppend(true))
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "A", "summary": "Hello"}))
	f.sync(t)
	ref := CellRef{WsID: f.byRemote(t, "rec_1").WsID, ColumnID: "summary"}

	rec, err := f.engine.InjectFieldValue(ctx, "wb", ref, " there", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", rec.Fields["summary"])
}

func TestBulkUpdateThenPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "Keep"}), remote("rec_2", ir.Fields{"title": "Drop"}))
	f.sync(t)
	keep, drop := f.byRemote(t, "rec_1"), f.byRemote(t, "rec_2")

	res, err := f.engine.BulkUpdateRecords(ctx, "wb", "articles", snapshot.BulkUpdate{
		Creates: []snapshot.RecordCreate{{Fields: ir.Fields{"title": "Fresh"}}},
		Updates: []snapshot.RecordUpdate{{WsID: keep.WsID, Fields: ir.Fields{"title": "Kept"}}},
		Deletes: []string{drop.WsID},
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)

	summary, err := f.engine.GetPublishSummary(ctx, "wb", nil)
	require.NoError(t, err)
	assert.Equal(t, publishTotals{1, 1, 1}, publishTotals{summary.Totals.Creates, summary.Totals.Updates, summary.Totals.Deletes})

	report, err := f.engine.Publish(ctx, "wb", nil)
	require.NoError(t, err)
	require.Len(t, report.Tables, 1)
	assert.Equal(t, 3, report.Tables[0].Ops)
	assert.Equal(t, 3, report.Tables[0].Succeeded)
	assert.Equal(t, "1 of 1 tables published", report.Summary())

	pulled, err := f.remote.PullRecords(ctx, articlesTable())
	require.NoError(t, err)
	titles := map[string]string{}
	for _, r := range pulled {
		titles[r.RemoteID] = r.Fields["title"].(string)
	}
	assert.Equal(t, map[string]string{"rec_1": "Kept", "rec_new_0001": "Fresh"}, titles)

	after, err := f.engine.GetPublishSummary(ctx, "wb", nil)
	require.NoError(t, err)
	assert.Zero(t, after.Totals.Creates+after.Totals.Updates+after.Totals.Deletes, "nothing left to publish")

	second := f.sync(t)
	assert.Equal(t, reconcile.Counts{}, second.Tables[0].Counts, "published state matches the remote")
}

type publishTotals struct{ creates, updates, deletes int }

func TestBulkUpdateRecords_UnknownWsID(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.BulkUpdateRecords(context.Background(), "wb", "articles", snapshot.BulkUpdate{
		Deletes: []string{"ws_nope"},
	})
	assert.True(t, snapshot.IsNotFound(err))
}

func TestResolveRemoteDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}), remote("rec_2", ir.Fields{"title": "B"}), remote("rec_3", ir.Fields{"title": "C"}))
	f.sync(t)

	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}))
	report := f.sync(t)
	assert.Equal(t, 2, report.Tables[0].Counts.Deletes)
	require.Len(t, report.DeleteCandidates, 2)

	gone2, gone3 := f.byRemote(t, "rec_2"), f.byRemote(t, "rec_3")

	_, err := f.engine.ResolveRemoteDeletes(ctx, "wb", []string{f.byRemote(t, "rec_1").WsID}, reconcile.ActionDelete)
	assert.True(t, snapshot.IsNotFound(err), "a live record is not a candidate")

	_, err = f.engine.ResolveRemoteDeletes(ctx, "wb", nil, reconcile.DeleteAction("archive"))
	assert.Error(t, err)

	out, err := f.engine.ResolveRemoteDeletes(ctx, "wb", []string{gone2.WsID}, reconcile.ActionCreate)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].IsCreated())

	out, err = f.engine.ResolveRemoteDeletes(ctx, "wb", nil, reconcile.ActionDelete)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, gone3.WsID, out[0].WsID)
	assert.True(t, out[0].Deleted)

	third := f.sync(t)
	assert.Zero(t, third.Tables[0].Counts.Deletes, "resolved candidates are not counted again")

	summary, err := f.engine.GetPublishSummary(ctx, "wb", nil)
	require.NoError(t, err)
	assert.Equal(t, publishTotals{1, 0, 1}, publishTotals{summary.Totals.Creates, summary.Totals.Updates, summary.Totals.Deletes})

	pubReport, err := f.engine.Publish(ctx, "wb", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pubReport.Tables[0].Ops, "the tombstone needs no push")
	assert.Equal(t, 2, pubReport.Tables[0].Succeeded)

	records, err := f.store.LoadRecords(ctx, "wb", "articles")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, r := range records {
		assert.False(t, r.IsTombstone(), "publish drops tombstones")
	}
}

func TestBackupWorkbookToRepo(t *testing.T) {
	f := newFixture(t, WithBackups(gitbackup.NewBuckets("")))
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "A"}))
	f.sync(t)

	res, err := f.engine.BackupWorkbookToRepo(ctx, "wb", "alice")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Changed)
	assert.NotEmpty(t, res.Commit)

	again, err := f.engine.BackupWorkbookToRepo(ctx, "wb", "alice")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, res.Commit, again.Commit)

	repo, err := f.engine.Backuper().Buckets().Repo(gitbackup.DefaultBucket)
	require.NoError(t, err)
	log, err := repo.Log(gitbackup.WorkbookRef("wb"))
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Contains(t, log[0].Message, "Requested-by: alice")
}

func TestBackupWorkbookToRepo_NotConfigured(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.BackupWorkbookToRepo(context.Background(), "wb", "alice")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "backups are not configured", res.Message)
}

func TestConcurrentEditsAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, remote("rec_1", ir.Fields{"title": "A", "summary": ""}))
	f.sync(t)
	ref := CellRef{WsID: f.byRemote(t, "rec_1").WsID, ColumnID: "summary"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.AppendFieldValue(ctx, "wb", ref, "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "xxxxxxxxxxxxxxxxxxxx", f.byRemote(t, "rec_1").Fields["summary"], "no append is lost")
}
