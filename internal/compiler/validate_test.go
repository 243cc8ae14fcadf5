package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scratchpad/internal/ir"
)

func validWorkbook() ir.WorkbookSpec {
	return ir.WorkbookSpec{
		ID:   "content",
		Name: "Content",
		Tables: []ir.TableSpec{{
			ID:          "articles",
			Name:        "Articles",
			Connector:   "file",
			TitleColumn: "title",
			Columns: []ir.ColumnSpec{
				{ID: "title", Name: "Title", Type: ir.ColumnText},
				{ID: "views", Name: "Views", Type: ir.ColumnNumber},
			},
		}},
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateValidWorkbook(t *testing.T) {
	assert.Empty(t, Validate(validWorkbook()))
	assert.NoError(t, ValidateWorkbook(validWorkbook()))
}

func TestValidateWorkbookIDAndTables(t *testing.T) {
	errs := Validate(ir.WorkbookSpec{ID: "  "})
	assert.Equal(t, []string{ErrWorkbookIDEmpty, ErrWorkbookNoTables}, codes(errs))
}

func TestValidateDuplicateTable(t *testing.T) {
	spec := validWorkbook()
	spec.Tables = append(spec.Tables, ir.TableSpec{ID: "articles", Connector: "file"})

	errs := Validate(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateName, errs[0].Code)
	assert.Equal(t, "tables[1].id", errs[0].Field)
}

func TestValidateTableWithoutConnector(t *testing.T) {
	spec := validWorkbook()
	spec.Tables[0].Connector = ""

	errs := Validate(spec)
	assert.Equal(t, []string{ErrTableNoConnector}, codes(errs))
}

func TestValidateColumns(t *testing.T) {
	spec := validWorkbook()
	spec.Tables[0].Columns = append(spec.Tables[0].Columns,
		ir.ColumnSpec{ID: "__dirty", Type: ir.ColumnBoolean},
		ir.ColumnSpec{ID: "views", Type: ir.ColumnNumber},
		ir.ColumnSpec{ID: "", Type: ir.ColumnText},
		ir.ColumnSpec{ID: "price", Type: "float"},
	)

	errs := Validate(spec)
	assert.Equal(t, []string{ErrReservedColumn, ErrDuplicateName, ErrColumnIDEmpty, ErrInvalidColumnType}, codes(errs))
	assert.Contains(t, errs[0].Message, "reserved")
}

func TestValidateTitleColumn(t *testing.T) {
	spec := validWorkbook()
	spec.Tables[0].TitleColumn = "missing"
	assert.Equal(t, []string{ErrUnknownTitleColumn}, codes(Validate(spec)))

	spec.Tables[0].TitleColumn = "views"
	assert.Equal(t, []string{ErrTitleColumnNotText}, codes(Validate(spec)))
}

func TestValidateWorkbookError(t *testing.T) {
	err := ValidateWorkbook(ir.WorkbookSpec{ID: "w"})
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, ErrWorkbookNoTables, verrs[0].Code)
	assert.Contains(t, err.Error(), "[E102] tables")
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "id", Message: "missing", Code: ErrWorkbookIDEmpty, Line: 4}
	assert.Equal(t, "[E101] line 4: id: missing", e.Error())
}
