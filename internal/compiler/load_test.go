package compiler

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkbooks_Directory(t *testing.T) {
	result, errs := LoadWorkbooks(filepath.Join("testdata", "workbooks", "valid"), LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, result.FileCount)
	require.Len(t, result.Workbooks, 2)

	content, ok := result.Workbook("content")
	require.True(t, ok)
	assert.Equal(t, "Content", content.Name)
	assert.Equal(t, []string{"title", "summary", "views"}, content.Tables[0].ColumnOrder())

	_, ok = result.Workbook("missing")
	assert.False(t, ok)
}

func TestLoadWorkbooks_SingleFile(t *testing.T) {
	result, errs := LoadWorkbooks(filepath.Join("testdata", "workbooks", "valid", "authors.cue"), LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, result.Workbooks, 1)
	assert.Equal(t, "authors", result.Workbooks[0].ID)
	assert.Equal(t, "authors", result.Workbooks[0].Name, "name defaults to the id")
}

func TestLoadWorkbooks_CollectsAllErrors(t *testing.T) {
	result, errs := LoadWorkbooks(filepath.Join("testdata", "workbooks", "invalid"), LoadModeCollectAll)
	require.Len(t, errs, 2)

	codes := map[string]bool{}
	for _, err := range errs {
		var le *LoadError
		require.True(t, errors.As(err, &le))
		codes[le.Code] = true
	}
	assert.True(t, codes[ErrTableNoConnector])
	assert.True(t, codes[ErrReservedColumn])

	require.Len(t, result.Workbooks, 1)
	assert.Equal(t, "fine", result.Workbooks[0].ID)
}

func TestLoadWorkbooks_FailFast(t *testing.T) {
	_, errs := LoadWorkbooks(filepath.Join("testdata", "workbooks", "invalid"), LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadWorkbooks_MissingPath(t *testing.T) {
	_, errs := LoadWorkbooks(filepath.Join("testdata", "nope"), LoadModeFailFast)
	require.Len(t, errs, 1)
	var le *LoadError
	require.True(t, errors.As(errs[0], &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrWorkbookNoTables, MapFieldToErrorCode("table"))
	assert.Equal(t, ErrTableNoConnector, MapFieldToErrorCode("table.articles.connector"))
	assert.Equal(t, ErrInvalidColumnType, MapFieldToErrorCode("table.articles.column.x.type"))
	assert.Equal(t, ErrInvalidColumnType, MapFieldToErrorCode("type"))
	assert.Equal(t, ErrCodeGeneric, MapFieldToErrorCode("cue"))
}
