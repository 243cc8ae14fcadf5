package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scratchpad/internal/ir"
)

func compileString(t *testing.T, src, path string) (*ir.WorkbookSpec, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileWorkbook(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileWorkbookBasic(t *testing.T) {
	spec, err := compileString(t, `
		workbook: content: {
			name: "Content"
			table: articles: {
				name:         "Articles"
				connector:    "notion"
				remote_id:    "db_123"
				title_column: "title"
				column: title: "text"
				column: views: {type: "number", read_only: true, name: "Views"}
				column: body: type: "rich_text"
			}
			table: authors: connector: "file"
		}
	`, "workbook.content")
	require.NoError(t, err)

	assert.Equal(t, "content", spec.ID)
	assert.Equal(t, "Content", spec.Name)
	require.Len(t, spec.Tables, 2)

	articles := spec.Tables[0]
	assert.Equal(t, "articles", articles.ID)
	assert.Equal(t, "notion", articles.Connector)
	assert.Equal(t, "db_123", articles.RemoteID)
	assert.Equal(t, "title", articles.TitleColumn)
	assert.Equal(t, []string{"title", "views", "body"}, articles.ColumnOrder(), "declaration order is kept")
	assert.Equal(t, ir.ColumnSpec{ID: "views", Name: "Views", Type: ir.ColumnNumber, ReadOnly: true}, articles.Columns[1])
	assert.Equal(t, ir.ColumnSpec{ID: "title", Name: "title", Type: ir.ColumnText}, articles.Columns[0])

	authors := spec.Tables[1]
	assert.Equal(t, "authors", authors.Name, "name defaults to the id")
	assert.Empty(t, authors.Columns)
}

func TestCompileWorkbookMissingTables(t *testing.T) {
	_, err := compileString(t, `workbook: empty: name: "Empty"`, "workbook.empty")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "table", ce.Field)
}

func TestCompileWorkbookMissingConnector(t *testing.T) {
	_, err := compileString(t, `
		workbook: w: table: t: column: a: "text"
	`, "workbook.w")

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "table.t.connector", ce.Field)
}

func TestCompileWorkbookUnsupportedColumnType(t *testing.T) {
	_, err := compileString(t, `
		workbook: w: table: t: {
			connector: "file"
			column: price: "float"
		}
	`, "workbook.w")

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "type", ce.Field)
	assert.Contains(t, ce.Message, `unsupported type "float"`)
}

func TestCompileWorkbookColumnWithoutType(t *testing.T) {
	_, err := compileString(t, `
		workbook: w: table: t: {
			connector: "file"
			column: a: name: "A"
		}
	`, "workbook.w")

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "table.t.column.a.type", ce.Field)
}

func TestCompileWorkbookCUEError(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`workbook: w: {name: "a", name: "b"}`)
	_, err := CompileWorkbook(v.LookupPath(cue.ParsePath("workbook.w")))
	assert.Error(t, err)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "table", Message: "at least one table is required"}
	assert.Equal(t, "table: at least one table is required", err.Error())
}
