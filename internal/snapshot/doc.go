// Package snapshot models the rows of a snapshotted remote table and the
// per-cell edit state tracked on them.
//
// Every record carries its business fields alongside a fixed set of reserved
// metadata columns (double-underscore prefix). The reserved columns hold the
// last-known remote values (__original), accepted but unpublished edits
// (__edited_fields), pending suggestions (__suggested_values) and sync flags.
//
// # Cell provenance
//
// A cell is in exactly one of three states, exposed as CellState:
//   - Original: the value last pulled from the remote
//   - Edited: a user-accepted value waiting to be published
//   - Suggested: an AI or import suggestion waiting to be accepted or rejected
//
// Accepting moves a suggestion into the edited map and clears it; rejecting
// clears it without touching the edited map. The __original map is only
// rewritten by a pull (package reconcile), never by an edit.
//
// # Purity
//
// Every operation takes a Record by value and returns a modified clone. The
// input is never mutated and nothing here touches storage; callers persist
// the returned record.
package snapshot
