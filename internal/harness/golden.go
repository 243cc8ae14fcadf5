package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/scratchpad/internal/ir"
)

// Snapshot captures the trace and final state of a scenario execution.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	State        map[string][]map[string]any
}

// MarshalCanonical renders the snapshot as canonical JSON for golden
// comparison.
func (s *Snapshot) MarshalCanonical() ([]byte, error) {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		ev := map[string]any{
			"step":    int64(event.Step),
			"op":      event.Op,
			"outcome": event.Outcome,
		}
		if event.Result != nil {
			ev["result"] = event.Result
		}
		if event.Error != "" {
			ev["error"] = event.Error
		}
		trace[i] = ev
	}

	state := make(map[string]any, len(s.State))
	for table, rows := range s.State {
		list := make([]any, len(rows))
		for i, row := range rows {
			list[i] = row
		}
		state[table] = list
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"state":         plain(state),
	})
}

// RunWithGolden executes a scenario and compares its trace and final state
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Extra goldie options are applied after the defaults.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result, opts...)
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	snap := Snapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		State:        result.State,
	}
	data, err := snap.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	g.Assert(t, scenarioName, data)
	return nil
}
