// Package harness runs end-to-end sync scenarios against the engine.
//
// A scenario compiles a CUE workbook, seeds remote tables through the JSON
// file connector, runs a flow of engine operations and checks the final
// local and remote state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: local_edit_survives
//	description: "A local edit is kept when the remote changes underneath it"
//	workbook: workbooks/content.cue
//	remote:
//	  articles:
//	    - id: rec_1
//	      fields: { title: A }
//	flow:
//	  - op: sync
//	  - op: set_field
//	    table: articles
//	    record: { remote_id: rec_1 }
//	    column: title
//	    value: B
//	  - op: remote_set
//	    table: articles
//	    remote_records:
//	      - id: rec_1
//	        fields: { title: C }
//	  - op: sync
//	    expect: { summary: "1 of 1 tables synced" }
//	assertions:
//	  - type: record
//	    table: articles
//	    record: { remote_id: rec_1 }
//	    expect:
//	      fields: { title: B }
//	      original: { title: C }
//	      conflicts: [title]
//
// # Assertion Types
//
//   - record: Finds one record and checks a subset of its state
//   - record_count: Counts the live records of a table
//   - table_status: Checks the last sync status row of a table
//   - remote: Checks the fields of a record in the remote table
//   - publish_totals: Checks the pending publish summary totals
//
// # Deterministic Testing
//
// Every scenario runs with a fresh temporary SQLite store, sequential
// wsIds and remote ids, a deterministic logical clock and a fixed wall
// clock, so traces and final state can be compared against golden files.
package harness
