// Package ir provides the foundational representation types for Scratchpad.
//
// This package contains the workbook schema IR (WorkbookSpec, TableSpec,
// ColumnSpec), helpers for the JSON values stored in snapshot cells, RFC 8785
// canonical JSON, and domain-separated content hashes. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Cell values are plain decoded JSON: nil, bool, string, int64, float64,
//     []any and map[string]any. json.Number never escapes this package.
//   - Equality of cell values is defined on canonical JSON, never on Go
//     representation (int64(1) and float64(1) are the same value).
//   - All JSON tags use snake_case
package ir
