package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/canvas-contracts/canvas/internal/engine"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// snapshot reduces a result to its behaviorally relevant content: step
// sequence, gas accounting, events, and terminal status. Durations and
// content hashes are excluded so the golden bytes depend only on the
// scenario and the cost schedule.
func snapshot(scenario *Scenario, result *Result) map[string]any {
	steps := make([]any, len(result.Trace.Steps))
	for i, s := range result.Trace.Steps {
		m := map[string]any{
			"seq":      int64(s.Seq),
			"node":     string(s.Node),
			"gas_cost": s.GasCost,
			"gas_used": s.GasUsed,
		}
		if len(s.Events) > 0 {
			m["events"] = eventList(s.Events)
		}
		if s.Paused {
			m["paused"] = true
		}
		steps[i] = m
	}

	inputs := make(map[string]any, len(result.Trace.Inputs))
	for k, v := range result.Trace.Inputs {
		inputs[k] = v
	}

	snap := map[string]any{
		"scenario":  scenario.Name,
		"status":    result.Status,
		"inputs":    inputs,
		"steps":     steps,
		"gas_used":  result.GasUsed,
		"gas_limit": result.GasLimit,
	}
	if len(result.Events) > 0 {
		snap["events"] = eventList(result.Events)
	}
	if result.Trace.Fault != nil {
		snap["fault"] = map[string]any{
			"code":    string(result.Trace.Fault.Code),
			"message": result.Trace.Fault.Message,
			"node":    string(result.Trace.Fault.Node),
		}
	}
	return snap
}

func eventList(evs []engine.Event) []any {
	out := make([]any, len(evs))
	for i, ev := range evs {
		m := map[string]any{"name": ev.Name}
		if len(ev.Args) > 0 {
			args := make([]any, len(ev.Args))
			for j, a := range ev.Args {
				args[j] = a
			}
			m["args"] = args
		}
		out[i] = m
	}
	return out
}

// RunWithGolden executes a scenario and compares its trace snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		t.Fatalf("scenario %s failed:\n%s", scenario.Name, joinErrors(result.Errors))
	}

	data, err := ir.MarshalCanonical(snapshot(scenario, result))
	if err != nil {
		t.Fatalf("scenario %s: marshaling snapshot: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result
}

func joinErrors(errs []string) string {
	out := ""
	for _, e := range errs {
		out += "  " + e + "\n"
	}
	return out
}
