package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// Validation error codes (E100-E199)
const (
	// Workbook errors (E101-E109)
	ErrWorkbookIDEmpty   = "E101" // workbook id is required
	ErrWorkbookNoTables  = "E102" // at least one table required
	ErrDuplicateName     = "E103" // duplicate table or column id
	ErrTableIDEmpty      = "E104" // table id is required
	ErrTableNoConnector  = "E105" // table connector is required
	ErrInvalidColumnType = "E106" // unsupported column type

	// Column errors (E110-E119)
	ErrColumnIDEmpty      = "E110" // column id is required
	ErrReservedColumn     = "E111" // column id uses the reserved __ prefix
	ErrUnknownTitleColumn = "E112" // title column not declared
	ErrTitleColumnNotText = "E113" // title column is not a text column
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every problem found in one workbook.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return "invalid workbook: " + strings.Join(parts, "; ")
}

// Validate validates a compiled workbook against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(spec ir.WorkbookSpec) []ValidationError {
	var errs []ValidationError

	// E101: id is required
	if strings.TrimSpace(spec.ID) == "" {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: "workbook id is required and must be non-empty",
			Code:    ErrWorkbookIDEmpty,
		})
	}

	// E102: at least one table required
	if len(spec.Tables) == 0 {
		errs = append(errs, ValidationError{
			Field:   "tables",
			Message: "at least one table is required",
			Code:    ErrWorkbookNoTables,
		})
	}

	tableIDs := make(map[string]bool)
	for i, table := range spec.Tables {
		path := fmt.Sprintf("tables[%d]", i)

		if strings.TrimSpace(table.ID) == "" {
			errs = append(errs, ValidationError{
				Field:   path + ".id",
				Message: "table id is required",
				Code:    ErrTableIDEmpty,
			})
		} else if tableIDs[table.ID] {
			errs = append(errs, ValidationError{
				Field:   path + ".id",
				Message: fmt.Sprintf("duplicate table id: %q", table.ID),
				Code:    ErrDuplicateName,
			})
		}
		tableIDs[table.ID] = true

		if strings.TrimSpace(table.Connector) == "" {
			errs = append(errs, ValidationError{
				Field:   path + ".connector",
				Message: fmt.Sprintf("table %q has no connector", table.ID),
				Code:    ErrTableNoConnector,
			})
		}

		errs = append(errs, validateColumns(path, table)...)
	}

	return errs
}

// validateColumns validates the columns and title column of one table.
func validateColumns(path string, table ir.TableSpec) []ValidationError {
	var errs []ValidationError

	columnIDs := make(map[string]bool)
	for j, col := range table.Columns {
		colPath := fmt.Sprintf("%s.columns[%d]", path, j)

		switch {
		case strings.TrimSpace(col.ID) == "":
			errs = append(errs, ValidationError{
				Field:   colPath + ".id",
				Message: "column id is required",
				Code:    ErrColumnIDEmpty,
			})
		case snapshot.IsReserved(col.ID):
			errs = append(errs, ValidationError{
				Field:   colPath + ".id",
				Message: fmt.Sprintf("column id %q uses the reserved __ prefix", col.ID),
				Code:    ErrReservedColumn,
			})
		case columnIDs[col.ID]:
			errs = append(errs, ValidationError{
				Field:   colPath + ".id",
				Message: fmt.Sprintf("duplicate column id: %q", col.ID),
				Code:    ErrDuplicateName,
			})
		}
		columnIDs[col.ID] = true

		if !ir.ValidColumnTypes[col.Type] {
			errs = append(errs, ValidationError{
				Field:   colPath + ".type",
				Message: fmt.Sprintf("invalid type %q for column %q", col.Type, col.ID),
				Code:    ErrInvalidColumnType,
			})
		}
	}

	if table.TitleColumn != "" {
		col, ok := table.Column(table.TitleColumn)
		switch {
		case !ok:
			errs = append(errs, ValidationError{
				Field:   path + ".title_column",
				Message: fmt.Sprintf("title column %q is not a column of table %q", table.TitleColumn, table.ID),
				Code:    ErrUnknownTitleColumn,
			})
		case !col.Type.IsText():
			errs = append(errs, ValidationError{
				Field:   path + ".title_column",
				Message: fmt.Sprintf("title column %q must be text, not %s", table.TitleColumn, col.Type),
				Code:    ErrTitleColumnNotText,
			})
		}
	}

	return errs
}

// ValidateWorkbook returns the workbook's validation errors as a single
// ValidationErrors error, or nil when the workbook is valid.
func ValidateWorkbook(spec ir.WorkbookSpec) error {
	if errs := Validate(spec); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	return nil
}
