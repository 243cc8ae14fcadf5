// Package engine implements the Scratchpad service layer.
//
// The engine exposes the workbook operations callers use: cell-level
// accept/reject/suggest/inject/append, bulk record updates, remote-delete
// resolution, publish previews, and the sync, publish and backup jobs.
//
// ARCHITECTURE:
//
// Read-Modify-Write Over Pure Functions:
// Each operation loads the affected rows from the store, runs the pure
// functions of the snapshot, reconcile and publish packages over them, and
// persists the changed rows in one store transaction. No record state lives
// in the engine between calls.
//
// Per-Workbook Serialization:
// Mutations of one workbook run one at a time through a gitbackup.WriteLock
// keyed by workbook id. Connector pulls happen outside the lock; the
// reconcile-and-write step of each table happens inside it.
//
// Jobs:
// Sync and Publish process tables independently. A failed table is marked
// failed and the job continues; the report says "3 of 5 tables synced,
// 2 failed" and the error is a *JobError listing the failures.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Record seqs come from a monotonic Clock seeded with the store's highest
// seq. NEVER use wall-clock timestamps for ordering.
//
// Deterministic Ordering:
// Tables are processed in workbook declaration order. Records are loaded
// ORDER BY seq, ws_id.
package engine
