package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
)

func TestWorkbook_SaveGetList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	spec := createTestWorkbook(t, s)

	got, err := s.GetWorkbook(ctx, "wb_1")
	require.NoError(t, err)
	assert.Equal(t, spec, got)

	spec.Name = "Renamed"
	require.NoError(t, s.SaveWorkbook(ctx, spec), "re-registering updates in place")

	list, err := s.ListWorkbooks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Name)
	assert.Equal(t, 2, list[0].Tables)
	assert.NotEmpty(t, list[0].SpecHash)

	_, err = s.GetWorkbook(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecords_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestWorkbook(t, s)

	edited := createTestRecord("ws_2", "rem_2", 2, "Old")
	edited.Fields["title"] = "New"
	edited.Fields["views"] = int64(9007199254740993) // above 2^53
	edited.EditedFields = ir.Fields{"title": "New"}
	edited.SuggestedValues = ir.Fields{"views": 3.5}
	edited.Metadata = ir.Fields{"etag": "abc", "nested": map[string]any{"k": []any{int64(1), true, nil}}}
	edited.Conflicts = map[string]snapshot.Conflict{
		"title": {Column: "title", Base: "A", Local: "New", Remote: "Old"},
	}
	edited.Dirty = true

	local := snapshot.NewLocalRecord("ws_3", 3, ir.Fields{"title": "Draft"})

	records := []snapshot.Record{edited, createTestRecord("ws_1", "rem_1", 1, "First"), local}
	require.NoError(t, s.SaveRecords(ctx, "wb_1", "tbl_articles", records))

	got, err := s.LoadRecords(ctx, "wb_1", "tbl_articles")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"ws_1", "ws_2", "ws_3"}, []string{got[0].WsID, got[1].WsID, got[2].WsID}, "ordered by seq")
	assert.Equal(t, edited, got[1])
	assert.Equal(t, local, got[2])
	assert.True(t, got[2].IsCreated())
}

func TestRecords_LoadEmptyTable(t *testing.T) {
	s := createTestStore(t)
	createTestWorkbook(t, s)

	got, err := s.LoadRecords(context.Background(), "wb_1", "tbl_articles")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestApplyTable_UpsertRemoveAndStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestWorkbook(t, s)

	require.NoError(t, s.SaveRecords(ctx, "wb_1", "tbl_articles", []snapshot.Record{
		createTestRecord("ws_1", "rem_1", 1, "One"),
		createTestRecord("ws_2", "rem_2", 2, "Two"),
	}))

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := reconcile.NewTableStatus("wb_1", "tbl_articles", "job_1")
	require.NoError(t, st.Start(now))
	require.NoError(t, st.Complete(reconcile.Counts{Updates: 1, Deletes: 1}, 2, now.Add(time.Second)))

	updated := createTestRecord("ws_1", "rem_1", 1, "One v2")
	require.NoError(t, s.ApplyTable(ctx, TableWrite{
		WorkbookID: "wb_1",
		TableID:    "tbl_articles",
		Upserts:    []snapshot.Record{updated},
		Removed:    []string{"ws_2"},
		Status:     &st,
	}))

	got, err := s.LoadRecords(ctx, "wb_1", "tbl_articles")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "One v2", got[0].Fields["title"])

	status, err := s.GetTableStatus(ctx, "wb_1", "tbl_articles")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateCompleted, status.State)
	assert.Equal(t, 1, status.Counts.Updates)
	assert.Equal(t, 2, status.TotalFilesSynced)
	require.NotNil(t, status.FinishedAt)
	assert.True(t, now.Add(time.Second).Equal(*status.FinishedAt))
}

func TestApplyTable_RollsBackOnFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestWorkbook(t, s)

	bad := createTestRecord("ws_bad", "rem_bad", 2, "x")
	bad.Fields["broken"] = make(chan int) // not encodable

	err := s.ApplyTable(ctx, TableWrite{
		WorkbookID: "wb_1",
		TableID:    "tbl_articles",
		Upserts:    []snapshot.Record{createTestRecord("ws_ok", "rem_ok", 1, "ok"), bad},
	})
	require.Error(t, err)

	got, err := s.LoadRecords(ctx, "wb_1", "tbl_articles")
	require.NoError(t, err)
	assert.Empty(t, got, "the first upsert must be rolled back with the failed one")
}

func TestRecords_ForeignKeyToWorkbook(t *testing.T) {
	s := createTestStore(t)
	err := s.SaveRecords(context.Background(), "no_such_workbook", "tbl", []snapshot.Record{
		createTestRecord("ws_1", "rem_1", 1, "x"),
	})
	assert.Error(t, err)
}

func TestGetRecordsAndWorkbookRecords(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestWorkbook(t, s)

	require.NoError(t, s.SaveRecords(ctx, "wb_1", "tbl_articles", []snapshot.Record{createTestRecord("ws_1", "rem_1", 1, "a")}))
	require.NoError(t, s.SaveRecords(ctx, "wb_1", "tbl_authors", []snapshot.Record{createTestRecord("ws_9", "rem_9", 5, "b")}))

	found, err := s.GetRecords(ctx, "wb_1", []string{"ws_1", "ws_9", "ws_missing"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "tbl_articles", found["ws_1"].TableID)
	assert.Equal(t, "tbl_authors", found["ws_9"].TableID)

	all, err := s.LoadWorkbookRecords(ctx, "wb_1")
	require.NoError(t, err)
	assert.Len(t, all["tbl_articles"], 1)
	assert.Len(t, all["tbl_authors"], 1)

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq)
}

func TestTableStatus_NotFoundAndList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestWorkbook(t, s)

	_, err := s.GetTableStatus(ctx, "wb_1", "tbl_articles")
	assert.True(t, errors.Is(err, ErrNotFound))

	failed := reconcile.NewTableStatus("wb_1", "tbl_authors", "job_1")
	require.NoError(t, failed.Fail(errors.New("connector down"), time.Now()))
	require.NoError(t, s.SaveTableStatus(ctx, failed))
	require.NoError(t, s.SaveTableStatus(ctx, reconcile.NewTableStatus("wb_1", "tbl_articles", "job_1")))

	list, err := s.ListTableStatuses(ctx, "wb_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "tbl_articles", list[0].TableID)
	assert.Equal(t, reconcile.StatePending, list[0].State)
	assert.Nil(t, list[0].StartedAt)
	assert.Equal(t, reconcile.StateFailed, list[1].State)
	assert.Equal(t, "connector down", list[1].Error)
}

func TestApplyTables_SpansTablesAtomically(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestWorkbook(t, s)

	bad := createTestRecord("ws_bad", "rem_bad", 3, "x")
	bad.Metadata["broken"] = func() {}

	err := s.ApplyTables(ctx, []TableWrite{
		{WorkbookID: "wb_1", TableID: "tbl_articles", Upserts: []snapshot.Record{createTestRecord("ws_1", "rem_1", 1, "a")}},
		{WorkbookID: "wb_1", TableID: "tbl_authors", Upserts: []snapshot.Record{bad}},
	})
	require.Error(t, err)

	all, err := s.LoadWorkbookRecords(ctx, "wb_1")
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.ApplyTables(ctx, []TableWrite{
		{WorkbookID: "wb_1", TableID: "tbl_articles", Upserts: []snapshot.Record{createTestRecord("ws_1", "rem_1", 1, "a")}},
		{WorkbookID: "wb_1", TableID: "tbl_authors", Upserts: []snapshot.Record{createTestRecord("ws_2", "rem_2", 2, "b")}},
	}))
	all, err = s.LoadWorkbookRecords(ctx, "wb_1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
