package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/scratchpad/internal/ir"
)

// CompileWorkbook parses a CUE value into a WorkbookSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the workbook struct itself; its label is the
// workbook id. Tables and columns are keyed by id and keep their declaration
// order:
//
//	workbook: content: {
//		name: "Content"
//		table: articles: {
//			connector:    "notion"
//			remote_id:    "db_123"
//			title_column: "title"
//			column: title: type: "text"
//			column: views: {type: "number", read_only: true}
//		}
//	}
func CompileWorkbook(v cue.Value) (*ir.WorkbookSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.WorkbookSpec{}

	// Workbook id from struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.ID = labels[len(labels)-1].String()
	}

	name, err := optionalString(v, "name")
	if err != nil {
		return nil, err
	}
	spec.Name = name
	if spec.Name == "" {
		spec.Name = spec.ID
	}

	tablesVal := v.LookupPath(cue.ParsePath("table"))
	if !tablesVal.Exists() {
		return nil, &CompileError{
			Field:   "table",
			Message: "at least one table is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		table, err := compileTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Tables = append(spec.Tables, table)
	}

	return spec, nil
}

// compileTable parses one table definition.
func compileTable(id string, v cue.Value) (ir.TableSpec, error) {
	table := ir.TableSpec{ID: id, Columns: []ir.ColumnSpec{}}

	connectorVal := v.LookupPath(cue.ParsePath("connector"))
	if !connectorVal.Exists() {
		return table, &CompileError{
			Field:   fmt.Sprintf("table.%s.connector", id),
			Message: "connector is required",
			Pos:     v.Pos(),
		}
	}
	connector, err := connectorVal.String()
	if err != nil {
		return table, formatCUEError(err)
	}
	table.Connector = connector

	for _, f := range []struct {
		path string
		dst  *string
	}{
		{"name", &table.Name},
		{"remote_id", &table.RemoteID},
		{"title_column", &table.TitleColumn},
	} {
		if *f.dst, err = optionalString(v, f.path); err != nil {
			return table, err
		}
	}
	if table.Name == "" {
		table.Name = id
	}

	columnsVal := v.LookupPath(cue.ParsePath("column"))
	if !columnsVal.Exists() {
		return table, nil // a table may start without columns
	}
	iter, err := columnsVal.Fields()
	if err != nil {
		return table, formatCUEError(err)
	}
	for iter.Next() {
		col, err := compileColumn(id, iter.Label(), iter.Value())
		if err != nil {
			return table, err
		}
		table.Columns = append(table.Columns, col)
	}
	return table, nil
}

// compileColumn parses one column definition. The type may be given as
// a string ("text") or as a struct with a type field.
func compileColumn(tableID, id string, v cue.Value) (ir.ColumnSpec, error) {
	col := ir.ColumnSpec{ID: id, Name: id}

	typeVal := v
	if v.IncompleteKind() == cue.StructKind {
		typeVal = v.LookupPath(cue.ParsePath("type"))
		if !typeVal.Exists() {
			return col, &CompileError{
				Field:   fmt.Sprintf("table.%s.column.%s.type", tableID, id),
				Message: "column type is required",
				Pos:     v.Pos(),
			}
		}
		name, err := optionalString(v, "name")
		if err != nil {
			return col, err
		}
		if name != "" {
			col.Name = name
		}
		roVal := v.LookupPath(cue.ParsePath("read_only"))
		if roVal.Exists() {
			ro, err := roVal.Bool()
			if err != nil {
				return col, formatCUEError(err)
			}
			col.ReadOnly = ro
		}
	}

	typeName, err := typeVal.String()
	if err != nil {
		return col, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("column %s.%s: type must be a string", tableID, id),
			Pos:     typeVal.Pos(),
		}
	}
	col.Type = ir.ColumnType(typeName)
	if !ir.ValidColumnTypes[col.Type] {
		return col, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("column %s.%s: unsupported type %q", tableID, id, typeName),
			Pos:     typeVal.Pos(),
		}
	}
	return col, nil
}

// optionalString returns the string at path, or "" when absent.
func optionalString(v cue.Value, path string) (string, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
