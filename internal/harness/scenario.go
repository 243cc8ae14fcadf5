package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/scratchpad/internal/connector"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// Scenario defines an end-to-end sync scenario.
// A scenario seeds remote tables, runs a flow of engine operations against a
// fresh store and asserts on the resulting local and remote state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workbook is the path to a CUE file or directory holding the workbook
	// definition. Relative paths resolve from the scenario file.
	Workbook string `yaml:"workbook"`

	// WorkbookID selects a workbook when the path defines several.
	WorkbookID string `yaml:"workbook_id,omitempty"`

	// Remote seeds the file connector before the flow, keyed by table id.
	Remote map[string][]connector.RemoteRecord `yaml:"remote,omitempty"`

	// Flow contains the operations to run, in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation of the flow.
type Step struct {
	// Op names the operation, one of the Op* constants.
	Op string `yaml:"op"`

	// Table is the table the step targets.
	Table string `yaml:"table,omitempty"`

	// Tables restricts sync, publish and summary; empty means all tables.
	Tables []string `yaml:"tables,omitempty"`

	// Record addresses a single record for cell operations.
	Record RecordRef `yaml:"record,omitempty"`

	Column string `yaml:"column,omitempty"`
	Value  any    `yaml:"value,omitempty"`

	// Target is the inject placeholder; defaults to "@@".
	Target string `yaml:"target,omitempty"`

	// Cells lists the cells of accept, reject and suggest steps.
	Cells []CellStep `yaml:"cells,omitempty"`

	// Bulk is the batch of a bulk step.
	Bulk *snapshot.BulkUpdate `yaml:"bulk,omitempty"`

	// Action is "create" or "delete" for resolve_deletes.
	Action string `yaml:"action,omitempty"`

	// Records lists resolve_deletes targets; empty means every candidate.
	Records []RecordRef `yaml:"records,omitempty"`

	// RemoteRecords replaces the remote table content for remote_set.
	RemoteRecords []connector.RemoteRecord `yaml:"remote_records,omitempty"`

	// Expect validates the step outcome. Without it the step must succeed.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// RecordRef addresses a record by wsId or, more conveniently in scenarios,
// by its remote id.
type RecordRef struct {
	WsID     string `yaml:"ws_id,omitempty"`
	RemoteID string `yaml:"remote_id,omitempty"`
}

// IsZero reports whether the reference is empty.
func (r RecordRef) IsZero() bool {
	return r.WsID == "" && r.RemoteID == ""
}

func (r RecordRef) String() string {
	if r.WsID != "" {
		return r.WsID
	}
	return "remote:" + r.RemoteID
}

// CellStep addresses one cell, with a value for suggest.
type CellStep struct {
	Record RecordRef `yaml:"record"`
	Column string    `yaml:"column"`
	Value  any       `yaml:"value,omitempty"`
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	// Error is a substring the step error must contain. Empty means success.
	Error string `yaml:"error,omitempty"`

	// Summary is the expected job report summary line for sync and publish.
	Summary string `yaml:"summary,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "record": find one record and check a subset of its state
	// - "record_count": count live records of a table
	// - "table_status": check the last sync status of a table
	// - "remote": check a record of the remote table
	// - "publish_totals": check the pending publish summary totals
	Type string `yaml:"type"`

	Table  string    `yaml:"table,omitempty"`
	Record RecordRef `yaml:"record,omitempty"`

	// Expect contains expected values. Subset match: only the given keys
	// are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of records (record_count).
	Count int `yaml:"count,omitempty"`
}

// Operation names.
const (
	OpSync           = "sync"
	OpPublish        = "publish"
	OpSummary        = "summary"
	OpSetField       = "set_field"
	OpSuggest        = "suggest"
	OpAccept         = "accept"
	OpReject         = "reject"
	OpInject         = "inject"
	OpAppend         = "append"
	OpResolve        = "resolve_conflict"
	OpBulk           = "bulk"
	OpResolveDeletes = "resolve_deletes"
	OpBackup         = "backup"
	OpRemoteSet      = "remote_set"
)

// Assertion type constants.
const (
	AssertRecord        = "record"
	AssertRecordCount   = "record_count"
	AssertTableStatus   = "table_status"
	AssertRemote        = "remote"
	AssertPublishTotals = "publish_totals"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The workbook path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Workbook != "" && !filepath.IsAbs(scenario.Workbook) {
		scenario.Workbook = filepath.Join(filepath.Dir(path), scenario.Workbook)
	}
	if _, err := os.Stat(scenario.Workbook); err != nil {
		return nil, fmt.Errorf("invalid scenario: workbook not found: %s", scenario.Workbook)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Workbook == "" {
		return fmt.Errorf("workbook is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, s *Step) error {
	switch s.Op {
	case OpSync, OpPublish, OpSummary, OpBackup:
	case OpSetField, OpInject, OpAppend, OpResolve:
		if s.Table == "" || s.Record.IsZero() || s.Column == "" {
			return fmt.Errorf("flow[%d]: %s requires table, record and column", i, s.Op)
		}
	case OpSuggest, OpAccept, OpReject:
		if s.Table == "" || len(s.Cells) == 0 {
			return fmt.Errorf("flow[%d]: %s requires table and cells", i, s.Op)
		}
		for j, c := range s.Cells {
			if c.Record.IsZero() || c.Column == "" {
				return fmt.Errorf("flow[%d].cells[%d]: record and column are required", i, j)
			}
		}
	case OpBulk:
		if s.Table == "" || s.Bulk == nil {
			return fmt.Errorf("flow[%d]: bulk requires table and bulk", i)
		}
	case OpResolveDeletes:
		if s.Table == "" || s.Action == "" {
			return fmt.Errorf("flow[%d]: resolve_deletes requires table and action", i)
		}
	case OpRemoteSet:
		if s.Table == "" {
			return fmt.Errorf("flow[%d]: remote_set requires table", i)
		}
	case "":
		return fmt.Errorf("flow[%d]: op is required", i)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", i, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertRecord, AssertRemote:
		if a.Table == "" || a.Record.IsZero() {
			return fmt.Errorf("assertions[%d]: table and record are required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertRecordCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for record_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	case AssertTableStatus:
		if a.Table == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: table and expect are required for table_status", index)
		}
	case AssertPublishTotals:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for publish_totals", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
