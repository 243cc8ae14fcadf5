// Package store provides durable storage for Scratchpad workbooks.
//
// The store holds three tables:
//   - workbooks: compiled workbook definitions and their spec hash
//   - snapshot_records: one row per record, business values in a JSON
//     column next to the reserved double-underscore state columns
//   - table_sync_status: the latest sync status of each table
//
// # Critical Patterns
//
// Deterministic Query Results
//   - Record queries order by seq ASC, ws_id ASC
//   - JSON columns hold RFC 8785 canonical JSON, never NULL ("{}" when empty)
//
// Atomic Table Writes
//   - ApplyTable upserts records, removes records and records the table's
//     sync status in one transaction
//
// # Database Configuration
//
// SQLite (Open) is the default:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// PostgreSQL (OpenPostgres) shares the same logical schema; queries are
// written with ? placeholders and rebound to $n.
package store
