package harness

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/canvas-contracts/canvas/internal/compiler"
	"github.com/canvas-contracts/canvas/internal/engine"
	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

// Run executes a scenario end to end: compile the graph, build a fresh
// host, run the session to a terminal state (resuming past breakpoints),
// and evaluate the expect clause and assertions.
//
// A fault is an outcome, not an execution error: scenarios that expect
// faults still produce a Result. An error return means the scenario
// itself could not be executed.
func Run(scenario *Scenario) (*Result, error) {
	art, err := compileGraph(scenario.Graph)
	if err != nil {
		return nil, err
	}

	fn, err := entryFunc(art, scenario.Entry)
	if err != nil {
		return nil, err
	}
	inputs, err := convertInputs(fn, scenario.Inputs)
	if err != nil {
		return nil, err
	}

	host, err := buildHost(scenario)
	if err != nil {
		return nil, err
	}

	gasLimit := scenario.GasLimit
	if gasLimit <= 0 {
		gasLimit = engine.DefaultGasLimit
	}
	sess, err := engine.NewSession(art, entryName(scenario), inputs,
		engine.WithHost(host),
		engine.WithGasLimit(gasLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	for _, bp := range scenario.Breakpoints {
		if err := sess.SetBreakpoint(graph.NodeID(bp.Node), bp.Condition); err != nil {
			return nil, fmt.Errorf("breakpoint %s: %w", bp.Node, err)
		}
	}

	result := NewResult()
	ctx := context.Background()
	trace, runErr := sess.Run(ctx)
	for sess.State() == engine.StatePaused {
		result.Pauses++
		trace, runErr = sess.Resume(ctx)
	}
	if runErr != nil && trace.Fault == nil {
		return nil, fmt.Errorf("executing scenario: %w", runErr)
	}

	result.Status = string(sess.State())
	result.Trace = trace
	result.Events = trace.Events
	result.Storage = host.Snapshot()
	result.GasUsed = trace.GasUsed
	result.GasLimit = trace.GasLimit

	evaluateExpect(result, scenario)
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func entryName(s *Scenario) string {
	if s.Entry == "" {
		return "main"
	}
	return s.Entry
}

// compileGraph runs the document through the full pipeline.
func compileGraph(path string) (*wasm.Artifact, error) {
	doc, err := graph.LoadDocument(path)
	if err != nil {
		return nil, fmt.Errorf("loading graph: %w", err)
	}
	v := compiler.Validate(doc, graph.Builtin())
	if !v.OK() {
		var msgs []string
		for _, p := range v.Problems {
			msgs = append(msgs, p.Error())
		}
		return nil, fmt.Errorf("graph %q does not validate: %s", doc.Name, strings.Join(msgs, "; "))
	}
	m, err := compiler.Lower(v)
	if err != nil {
		return nil, fmt.Errorf("lowering: %w", err)
	}
	gen, err := wasm.NewGenerator()
	if err != nil {
		return nil, err
	}
	art, err := gen.Generate(m)
	if err != nil {
		return nil, fmt.Errorf("generating code: %w", err)
	}
	return art, nil
}

func entryFunc(art *wasm.Artifact, entry string) (*wasm.ABIFunc, error) {
	if entry == "" {
		entry = "main"
	}
	for i := range art.ABI.Functions {
		if art.ABI.Functions[i].Name == entry {
			return &art.ABI.Functions[i], nil
		}
	}
	return nil, fmt.Errorf("artifact has no entry point %q", entry)
}

func buildHost(s *Scenario) (*engine.MemoryHost, error) {
	sender := s.Sender
	if sender == "" {
		sender = "01"
	}
	raw, err := hex.DecodeString(sender)
	if err != nil {
		return nil, fmt.Errorf("sender must be hex bytes: %w", err)
	}

	opts := []engine.MemoryHostOption{
		engine.WithSender(raw),
		engine.WithBlock(s.Height, s.Time),
	}
	if len(s.Storage) > 0 {
		init := make(map[string][]byte, len(s.Storage))
		for key, val := range s.Storage {
			v, err := convertValue(val)
			if err != nil {
				return nil, fmt.Errorf("storage %q: %w", key, err)
			}
			raw, err := engine.EncodeStorageValue(v)
			if err != nil {
				return nil, fmt.Errorf("storage %q: %w", key, err)
			}
			init[key] = raw
		}
		opts = append(opts, engine.WithStorage(init))
	}
	return engine.NewMemoryHost(opts...), nil
}

// convertInputs builds the session's inputs from YAML scalars, checked
// against the entry point's declared parameter kinds.
func convertInputs(fn *wasm.ABIFunc, raw map[string]any) (map[string]ir.Value, error) {
	inputs := make(map[string]ir.Value, len(raw))
	for name, val := range raw {
		param := paramNamed(fn, name)
		if param == nil {
			return nil, fmt.Errorf("entry %s has no input %q", fn.Name, name)
		}
		v, err := convertValue(val)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		if v.Kind() != param.Kind {
			return nil, fmt.Errorf("input %q: expected %s, got %s", name, param.Kind, v.Kind())
		}
		inputs[name] = v
	}
	return inputs, nil
}

func paramNamed(fn *wasm.ABIFunc, name string) *wasm.ABIParam {
	for i := range fn.Params {
		if fn.Params[i].Name == name {
			return &fn.Params[i]
		}
	}
	return nil
}

// convertValue maps a YAML scalar to a contract value. Hex strings with
// a 0x prefix become bytes; floats are rejected because contract values
// are integral.
func convertValue(val any) (ir.Value, error) {
	switch v := val.(type) {
	case bool:
		return ir.Bool(v), nil
	case int:
		return ir.Int(int64(v)), nil
	case int64:
		return ir.Int(v), nil
	case uint64:
		return ir.Int(int64(v)), nil
	case float64:
		if v == float64(int64(v)) {
			return ir.Int(int64(v)), nil
		}
		return nil, fmt.Errorf("fractional numbers are not contract values: %v", v)
	case string:
		if strings.HasPrefix(v, "0x") {
			raw, err := hex.DecodeString(v[2:])
			if err != nil {
				return nil, fmt.Errorf("bad hex string %q: %w", v, err)
			}
			return ir.Bytes(raw), nil
		}
		return ir.Str(v), nil
	case nil:
		return nil, fmt.Errorf("null is not a contract value")
	default:
		return nil, fmt.Errorf("unsupported value type %T", val)
	}
}

func evaluateExpect(result *Result, scenario *Scenario) {
	if result.Status != scenario.Expect.Status {
		result.AddError(fmt.Sprintf("expected status %s, got %s",
			scenario.Expect.Status, result.Status))
	}
	if scenario.Expect.Fault != "" {
		if result.Trace.Fault == nil {
			result.AddError(fmt.Sprintf("expected fault %s, run finished cleanly", scenario.Expect.Fault))
		} else if string(result.Trace.Fault.Code) != scenario.Expect.Fault {
			result.AddError(fmt.Sprintf("expected fault %s, got %s",
				scenario.Expect.Fault, result.Trace.Fault.Code))
		}
	}
	if scenario.Expect.Pauses != nil && result.Pauses != *scenario.Expect.Pauses {
		result.AddError(fmt.Sprintf("expected %d breakpoint pauses, got %d",
			*scenario.Expect.Pauses, result.Pauses))
	}
}
