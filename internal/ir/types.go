package ir

// ColumnType names the value domain of a snapshot column.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnRichText ColumnType = "rich_text"
	ColumnNumber   ColumnType = "number"
	ColumnBoolean  ColumnType = "boolean"
	ColumnDate     ColumnType = "date"
	ColumnJSON     ColumnType = "json"
)

// ValidColumnTypes defines allowed column types.
var ValidColumnTypes = map[ColumnType]bool{
	ColumnText:     true,
	ColumnRichText: true,
	ColumnNumber:   true,
	ColumnBoolean:  true,
	ColumnDate:     true,
	ColumnJSON:     true,
}

// Accepts reports whether v is a legal cell value for this column type.
// nil (an empty cell) is accepted by every type.
func (t ColumnType) Accepts(v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case ColumnText, ColumnRichText, ColumnDate:
		_, ok := v.(string)
		return ok
	case ColumnNumber:
		switch v.(type) {
		case int64, float64:
			return true
		}
		return false
	case ColumnBoolean:
		_, ok := v.(bool)
		return ok
	case ColumnJSON:
		return true
	default:
		return false
	}
}

// IsText reports whether the column holds free text that supports inline
// edits (inject/append).
func (t ColumnType) IsText() bool {
	return t == ColumnText || t == ColumnRichText
}

// ColumnSpec describes one business column of a snapshot table.
type ColumnSpec struct {
	ID       string     `json:"id"` // wsId of the column, stable across renames
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	ReadOnly bool       `json:"read_only,omitempty"`
}

// TableSpec describes a snapshotted remote table.
type TableSpec struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Connector   string       `json:"connector"`           // connector service name ("notion", "airtable", ...)
	RemoteID    string       `json:"remote_id,omitempty"` // table identity in the source system
	TitleColumn string       `json:"title_column,omitempty"`
	Columns     []ColumnSpec `json:"columns"`
}

// Column returns the column with the given ID.
func (t TableSpec) Column(id string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ColumnOrder returns the column IDs in declaration order.
func (t TableSpec) ColumnOrder() []string {
	ids := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		ids[i] = c.ID
	}
	return ids
}

// WorkbookSpec is a compiled workbook definition: the set of snapshot tables
// a user edits together.
type WorkbookSpec struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Tables []TableSpec `json:"tables"`
}

// Table returns the table with the given ID.
func (w WorkbookSpec) Table(id string) (TableSpec, bool) {
	for _, t := range w.Tables {
		if t.ID == id {
			return t, true
		}
	}
	return TableSpec{}, false
}

// MarshalCanonical renders the workbook as canonical JSON, the form that
// WorkbookSpecHash hashes.
func (w WorkbookSpec) MarshalCanonical() ([]byte, error) {
	return MarshalCanonical(w.canonicalMap())
}

// canonicalMap converts the workbook to canonical-JSON-compatible values.
func (w WorkbookSpec) canonicalMap() map[string]any {
	tables := make([]any, len(w.Tables))
	for i, t := range w.Tables {
		cols := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			cols[j] = map[string]any{
				"id":        c.ID,
				"name":      c.Name,
				"type":      string(c.Type),
				"read_only": c.ReadOnly,
			}
		}
		tables[i] = map[string]any{
			"id":           t.ID,
			"name":         t.Name,
			"connector":    t.Connector,
			"remote_id":    t.RemoteID,
			"title_column": t.TitleColumn,
			"columns":      cols,
		}
	}
	return map[string]any{
		"id":         w.ID,
		"name":       w.Name,
		"tables":     tables,
		"ir_version": IRVersion,
	}
}
