package engine

import (
	"fmt"
	"time"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// Event is one emitted contract event, in emission order.
type Event struct {
	Name string
	Args []ir.Value
}

// TraceStep records one graph node's execution. Inputs holds the named
// values the node's code read, Outputs the values it defined or changed,
// keyed by their source-map local names. Inputs, Outputs, Err, and
// Duration are display-only: they never participate in the canonical
// form, so traces hash identically regardless of machine speed and the
// per-step value decoding stays free to improve.
type TraceStep struct {
	Seq      int
	Node     graph.NodeID
	GasCost  int64 // gas charged during this step
	GasUsed  int64 // cumulative gas after this step
	Events   []Event
	Inputs   map[string]ir.Value
	Outputs  map[string]ir.Value
	Err      string // fault message, set on the faulting step only
	Paused   bool   // breakpoint pause marker, zero gas
	Duration time.Duration
}

// Fault describes why a session finished abnormally.
type Fault struct {
	Code    RuntimeErrorCode `json:"code"`
	Message string           `json:"message"`
	Node    graph.NodeID     `json:"node,omitempty"`
}

// Trace is the full record of one session run.
type Trace struct {
	ArtifactHash string
	Function     string
	Inputs       map[string]ir.Value
	Steps        []TraceStep
	Events       []Event
	GasUsed      int64
	GasLimit     int64
	Fault        *Fault
}

func eventForm(e Event) map[string]any {
	m := map[string]any{"name": e.Name}
	if len(e.Args) > 0 {
		args := make([]any, len(e.Args))
		for i, a := range e.Args {
			args[i] = a
		}
		m["args"] = args
	}
	return m
}

func eventsForm(evs []Event) []any {
	out := make([]any, len(evs))
	for i, e := range evs {
		out[i] = eventForm(e)
	}
	return out
}

func (s TraceStep) canonicalMap() map[string]any {
	m := map[string]any{
		"seq":      int64(s.Seq),
		"node":     string(s.Node),
		"gas_cost": s.GasCost,
		"gas_used": s.GasUsed,
	}
	if len(s.Events) > 0 {
		m["events"] = eventsForm(s.Events)
	}
	if s.Paused {
		m["paused"] = true
	}
	return m
}

// MarshalCanonical serializes the trace in the stable form TraceHash is
// computed over. Step durations are excluded.
func (t *Trace) MarshalCanonical() ([]byte, error) {
	steps := make([]any, len(t.Steps))
	for i, s := range t.Steps {
		steps[i] = s.canonicalMap()
	}
	inputs := make(map[string]any, len(t.Inputs))
	for k, v := range t.Inputs {
		inputs[k] = v
	}
	m := map[string]any{
		"artifact":  t.ArtifactHash,
		"function":  t.Function,
		"inputs":    inputs,
		"steps":     steps,
		"gas_used":  t.GasUsed,
		"gas_limit": t.GasLimit,
	}
	if len(t.Events) > 0 {
		m["events"] = eventsForm(t.Events)
	}
	if t.Fault != nil {
		m["fault"] = map[string]any{
			"code":    string(t.Fault.Code),
			"message": t.Fault.Message,
			"node":    string(t.Fault.Node),
		}
	}
	return ir.MarshalCanonical(m)
}

// Hash returns the trace's content-addressed id.
func (t *Trace) Hash() (string, error) {
	canonical, err := t.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("trace hash: %w", err)
	}
	return ir.TraceHash(canonical), nil
}
