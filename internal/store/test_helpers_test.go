package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testWorkbook() ir.WorkbookSpec {
	return ir.WorkbookSpec{
		ID:   "wb_1",
		Name: "Content",
		Tables: []ir.TableSpec{
			{
				ID:          "tbl_articles",
				Name:        "Articles",
				Connector:   "file",
				TitleColumn: "title",
				Columns: []ir.ColumnSpec{
					{ID: "title", Name: "Title", Type: ir.ColumnText},
					{ID: "views", Name: "Views", Type: ir.ColumnNumber},
				},
			},
			{ID: "tbl_authors", Name: "Authors", Connector: "file"},
		},
	}
}

// createTestWorkbook registers testWorkbook in s.
func createTestWorkbook(t *testing.T, s *Store) ir.WorkbookSpec {
	t.Helper()
	spec := testWorkbook()
	if err := s.SaveWorkbook(context.Background(), spec); err != nil {
		t.Fatalf("SaveWorkbook() failed: %v", err)
	}
	return spec
}

// createTestRecord creates a published, clean record.
func createTestRecord(wsID, remoteID string, seq int64, title string) snapshot.Record {
	return snapshot.Record{
		WsID:            wsID,
		RemoteID:        remoteID,
		Seq:             seq,
		Fields:          ir.Fields{"title": title},
		EditedFields:    ir.Fields{},
		SuggestedValues: ir.Fields{},
		Metadata:        ir.Fields{},
		Original:        ir.Fields{"title": title},
		Seen:            true,
	}
}
