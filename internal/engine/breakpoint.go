package engine

import (
	"fmt"

	"github.com/canvas-contracts/canvas/internal/compiler"
	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// Breakpoint pauses a session before the given node executes. An optional
// condition restricts the pause to evaluations where the expression, over
// the entry inputs and named locals, is true.
type Breakpoint struct {
	Node      graph.NodeID
	Condition string
	Enabled   bool
	HitCount  int

	cond compiler.Expr
}

func (b *Breakpoint) eval(vars map[string]ir.Value) (bool, error) {
	if b.cond == nil {
		return true, nil
	}
	v, err := compiler.EvalExpr(b.cond, vars)
	if err != nil {
		return false, &RuntimeError{
			Code: ErrCodeBadInput, Node: b.Node,
			Message: fmt.Sprintf("breakpoint condition: %v", err),
		}
	}
	hit, ok := v.(ir.Bool)
	if !ok {
		return false, &RuntimeError{
			Code: ErrCodeBadInput, Node: b.Node,
			Message: fmt.Sprintf("breakpoint condition yielded %s, want boolean", v.Kind()),
		}
	}
	return bool(hit), nil
}

// condVars is the typing environment breakpoint conditions are checked
// against: entry parameters plus every named local.
func (s *Session) condVars() map[string]graph.ValueKind {
	env := make(map[string]graph.ValueKind, len(s.fn.Params)+len(s.inst.fmap.Locals))
	for _, p := range s.fn.Params {
		env[p.Name] = p.Kind
	}
	for _, l := range s.inst.fmap.Locals {
		if l.Name != "" && l.Kind != "" {
			env[l.Name] = l.Kind
		}
	}
	return env
}

// SetBreakpoint installs or replaces the breakpoint on a node. An empty
// condition pauses unconditionally. The condition is parsed and type
// checked now so a bad expression fails at set time, not mid-run.
func (s *Session) SetBreakpoint(node graph.NodeID, condition string) error {
	mapped := false
	for _, r := range s.inst.fmap.Ranges {
		if r.Node == node {
			mapped = true
			break
		}
	}
	if !mapped {
		return badInput(s.fn.Name, "node %q is not mapped in entry point %q", node, s.fn.Name)
	}
	bp := &Breakpoint{Node: node, Condition: condition, Enabled: true}
	if condition != "" {
		expr, err := compiler.ParseExpr(condition)
		if err != nil {
			return badInput(s.fn.Name, "breakpoint condition: %v", err)
		}
		kind, err := compiler.CheckExpr(expr, s.condVars())
		if err != nil {
			return badInput(s.fn.Name, "breakpoint condition: %v", err)
		}
		if kind != graph.KindBoolean {
			return badInput(s.fn.Name, "breakpoint condition yields %s, want boolean", kind)
		}
		bp.cond = expr
	}
	s.breakpoints[node] = bp
	return nil
}

// ClearBreakpoint removes the breakpoint on a node, if any.
func (s *Session) ClearBreakpoint(node graph.NodeID) {
	delete(s.breakpoints, node)
}

// Breakpoint returns the breakpoint on a node, or nil.
func (s *Session) Breakpoint(node graph.NodeID) *Breakpoint {
	return s.breakpoints[node]
}
