package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

// State is a session's lifecycle position.
type State string

const (
	StateLoaded   State = "loaded"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
	StateFaulted  State = "faulted"
)

// DefaultGasLimit bounds a session that sets no explicit budget.
const DefaultGasLimit = 1_000_000

// Session executes one entry point of one compiled module. A session is
// single-writer: the caller drives it from one goroutine via Run, StepNode,
// and Resume. It moves loaded -> running -> {paused <-> running} ->
// {finished | faulted} and never leaves a terminal state.
type Session struct {
	id    string
	mod   *wasm.Module
	fn    *wasm.ABIFunc
	inst  *instance
	meter *GasMeter
	host  Host
	log   *slog.Logger

	hostByteCost int64

	runCtx context.Context

	state       State
	trace       *Trace
	fault       *RuntimeError
	breakpoints map[graph.NodeID]*Breakpoint
	pendingArgs []ir.Value
	stepEvents  []Event
	seq         int
	observer    func(*TraceStep)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHost sets the host the module's imports resolve against.
func WithHost(h Host) SessionOption {
	return func(s *Session) { s.host = h }
}

// WithGasLimit sets the session's gas budget.
func WithGasLimit(limit int64) SessionOption {
	return func(s *Session) { s.meter = NewGasMeter(limit) }
}

// WithLogger sets the session's logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithHostByteCost sets the per-byte gas charge applied to data crossing
// the host boundary. Matches the generator's host_call_byte class.
func WithHostByteCost(cost int64) SessionOption {
	return func(s *Session) { s.hostByteCost = cost }
}

// WithStepObserver registers a callback invoked after each trace step is
// recorded, pause steps included. The callback runs on the stepping
// goroutine and must not retain the step past the call.
func WithStepObserver(fn func(*TraceStep)) SessionOption {
	return func(s *Session) { s.observer = fn }
}

func badInput(fn, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeBadInput,
		Function: fn,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewSession decodes an artifact and prepares the named entry point with
// the given inputs. Inputs must cover every parameter with a value of the
// declared kind, and nothing else.
func NewSession(art *wasm.Artifact, entry string, inputs map[string]ir.Value, opts ...SessionOption) (*Session, error) {
	mod, err := wasm.DecodeModule(art.Code)
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeInvalidModule, Message: err.Error()}
	}

	s := &Session{
		id:           uuid.NewString(),
		mod:          mod,
		host:         NewMemoryHost(),
		log:          slog.Default(),
		meter:        NewGasMeter(DefaultGasLimit),
		hostByteCost: 1,
		state:        StateLoaded,
		breakpoints:  make(map[graph.NodeID]*Breakpoint),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := range mod.ABI.Functions {
		if mod.ABI.Functions[i].Name == entry {
			s.fn = &mod.ABI.Functions[i]
			break
		}
	}
	if s.fn == nil {
		return nil, badInput(entry, "module declares no entry point %q", entry)
	}

	inst, err := newInstance(mod, entry, s)
	if err != nil {
		return nil, err
	}
	s.inst = inst

	for name, v := range inputs {
		if paramKind(s.fn, name) == "" {
			return nil, badInput(entry, "unknown input %q", name)
		}
		if v == nil {
			return nil, badInput(entry, "input %q has no value", name)
		}
	}
	for i, p := range s.fn.Params {
		v, ok := inputs[p.Name]
		if !ok {
			return nil, badInput(entry, "missing input %q", p.Name)
		}
		if v.Kind() != p.Kind {
			return nil, badInput(entry, "input %q: want %s, got %s", p.Name, p.Kind, v.Kind())
		}
		inst.locals[i] = s.paramSlot(v)
	}

	s.trace = &Trace{
		ArtifactHash: art.Hash,
		Function:     entry,
		Inputs:       copyInputs(inputs),
		GasLimit:     s.meter.Limit(),
	}
	s.log.Debug("session loaded",
		"session", s.id, "function", entry, "artifact", art.Hash,
		"gas_limit", s.meter.Limit())
	return s, nil
}

func paramKind(fn *wasm.ABIFunc, name string) graph.ValueKind {
	for _, p := range fn.Params {
		if p.Name == name {
			return p.Kind
		}
	}
	return ""
}

func copyInputs(in map[string]ir.Value) map[string]ir.Value {
	out := make(map[string]ir.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// paramSlot turns an input value into its i64 local representation,
// allocating heap storage for string and bytes payloads.
func (s *Session) paramSlot(v ir.Value) int64 {
	switch v := v.(type) {
	case ir.Int:
		return int64(v)
	case ir.Bool:
		return b2i(bool(v))
	case ir.Str:
		return s.inst.allocBytes([]byte(v))
	default:
		return s.inst.allocBytes([]byte(v.(ir.Bytes)))
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the session's lifecycle position.
func (s *Session) State() State { return s.state }

// Trace returns the trace recorded so far. Terminal sessions return the
// complete trace.
func (s *Session) Trace() *Trace { return s.trace }

// GasUsed returns the gas consumed so far.
func (s *Session) GasUsed() int64 { return s.meter.Used() }

// GasRemaining returns the unspent budget.
func (s *Session) GasRemaining() int64 { return s.meter.Remaining() }

// charge spends gas, annotating exhaustion with the node that wanted it.
// Every charge is also a cancellation point, so a cancelled context stops
// a node mid-run rather than only between nodes.
func (s *Session) charge(cost int64, node graph.NodeID) error {
	if s.runCtx != nil && s.runCtx.Err() != nil {
		cancelled := NewCancelledError()
		cancelled.Session = s.id
		cancelled.Function = s.fn.Name
		cancelled.Node = node
		return cancelled
	}
	if cost == 0 {
		return nil
	}
	if err := s.meter.Charge(cost); err != nil {
		var re *RuntimeError
		if errors.As(err, &re) {
			re.Session = s.id
			re.Function = s.fn.Name
			re.Node = node
		}
		return err
	}
	return nil
}

// recordEvent finalizes the staged argument list into an emitted event.
func (s *Session) recordEvent(name string) {
	ev := Event{Name: name, Args: s.pendingArgs}
	s.pendingArgs = nil
	s.stepEvents = append(s.stepEvents, ev)
	s.log.Debug("event emitted", "session", s.id, "event", name, "args", len(ev.Args))
}

// vars assembles the breakpoint condition environment: entry inputs plus
// every named local decoded to its declared kind. Locals not yet written
// hold their zero value.
func (s *Session) vars() map[string]ir.Value {
	env := make(map[string]ir.Value, len(s.trace.Inputs)+len(s.inst.fmap.Locals))
	for k, v := range s.trace.Inputs {
		env[k] = v
	}
	for i, l := range s.inst.fmap.Locals {
		if l.Name == "" || l.Kind == "" {
			continue
		}
		v, err := s.inst.localValue(i)
		if err != nil {
			continue
		}
		env[l.Name] = v
	}
	return env
}

// setFault moves the session to its faulted terminal state.
func (s *Session) setFault(err error) *RuntimeError {
	var re *RuntimeError
	if !errors.As(err, &re) {
		re = &RuntimeError{Code: ErrCodeHostError, Message: err.Error()}
	}
	if re.Session == "" {
		re.Session = s.id
	}
	if re.Function == "" {
		re.Function = s.fn.Name
	}
	s.fault = re
	s.state = StateFaulted
	s.trace.Fault = &Fault{Code: re.Code, Message: re.Message, Node: re.Node}
	s.trace.GasUsed = s.meter.Used()
	s.log.Debug("session faulted",
		"session", s.id, "code", string(re.Code), "node", string(re.Node),
		"gas_used", s.meter.Used())
	return re
}

func (s *Session) finish() {
	s.state = StateFinished
	s.trace.GasUsed = s.meter.Used()
	s.log.Debug("session finished",
		"session", s.id, "steps", len(s.trace.Steps), "gas_used", s.meter.Used())
}

// StepNode advances execution by one graph node and returns its trace
// step. Hitting an enabled breakpoint pauses before the node runs and
// returns a zero-gas pause step instead; the next StepNode or Resume
// executes the node. Returns nil, nil once the session is finished.
func (s *Session) StepNode(ctx context.Context) (*TraceStep, error) {
	switch s.state {
	case StateLoaded, StateRunning, StatePaused:
	default:
		return nil, &RuntimeError{
			Code: ErrCodeBadState, Session: s.id, Function: s.fn.Name,
			Message: fmt.Sprintf("cannot step a %s session", s.state),
		}
	}
	if err := ctx.Err(); err != nil {
		cancelled := NewCancelledError()
		cancelled.Node = s.inst.nodeAt(s.inst.pc)
		return nil, s.setFault(cancelled)
	}
	if s.inst.done {
		s.finish()
		return nil, nil
	}

	node := s.inst.nodeAt(s.inst.pc)

	// A paused session already announced this node; run it now.
	if s.state != StatePaused {
		if bp := s.breakpoints[node]; bp != nil && bp.Enabled {
			hit, err := bp.eval(s.vars())
			if err != nil {
				return nil, s.setFault(err)
			}
			if hit {
				bp.HitCount++
				s.state = StatePaused
				step := TraceStep{
					Seq:     s.seq,
					Node:    node,
					GasUsed: s.meter.Used(),
					Paused:  true,
				}
				s.seq++
				s.trace.Steps = append(s.trace.Steps, step)
				s.log.Debug("breakpoint hit",
					"session", s.id, "node", string(node), "hits", bp.HitCount)
				last := &s.trace.Steps[len(s.trace.Steps)-1]
				if s.observer != nil {
					s.observer(last)
				}
				return last, nil
			}
		}
	}
	s.state = StateRunning

	before := s.meter.Used()
	started := time.Now()
	s.runCtx = ctx
	ran, runErr := s.inst.runNode()
	s.runCtx = nil

	step := TraceStep{
		Seq:      s.seq,
		Node:     ran,
		GasCost:  s.meter.Used() - before,
		GasUsed:  s.meter.Used(),
		Events:   s.stepEvents,
		Inputs:   s.inst.namedValues(s.inst.reads),
		Outputs:  s.inst.namedValues(s.inst.writes),
		Duration: time.Since(started),
	}
	if runErr != nil {
		step.Err = runErr.Error()
	}
	s.seq++
	s.stepEvents = nil
	s.trace.Steps = append(s.trace.Steps, step)
	s.trace.Events = append(s.trace.Events, step.Events...)
	last := &s.trace.Steps[len(s.trace.Steps)-1]
	if s.observer != nil {
		s.observer(last)
	}

	if runErr != nil {
		return last, s.setFault(runErr)
	}
	if s.inst.done {
		s.finish()
	}
	return last, nil
}

// Run drives the session until it finishes, faults, or pauses at a
// breakpoint. The returned trace is complete only in a terminal state.
func (s *Session) Run(ctx context.Context) (*Trace, error) {
	for {
		_, err := s.StepNode(ctx)
		if err != nil {
			return s.trace, err
		}
		switch s.state {
		case StateFinished:
			return s.trace, nil
		case StatePaused:
			return s.trace, nil
		}
	}
}

// Resume continues a paused session past its breakpoint.
func (s *Session) Resume(ctx context.Context) (*Trace, error) {
	if s.state != StatePaused {
		return nil, &RuntimeError{
			Code: ErrCodeBadState, Session: s.id, Function: s.fn.Name,
			Message: fmt.Sprintf("cannot resume a %s session", s.state),
		}
	}
	return s.Run(ctx)
}
