package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canvas-contracts/canvas/internal/engine"
	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	RunOptions
	Breaks []string
}

// StepOutput is one trace step in trace output.
type StepOutput struct {
	Seq     int               `json:"seq"`
	Node    string            `json:"node"`
	GasCost int64             `json:"gas_cost"`
	GasUsed int64             `json:"gas_used"`
	Paused  bool              `json:"paused,omitempty"`
	Events  []EventOutput     `json:"events,omitempty"`
	Inputs  map[string]string `json:"inputs,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// TraceResult is the trace command's output payload.
type TraceResult struct {
	Status    string        `json:"status"`
	GasUsed   int64         `json:"gas_used"`
	GasLimit  int64         `json:"gas_limit"`
	Fault     *engine.Fault `json:"fault,omitempty"`
	Steps     []StepOutput  `json:"steps"`
	TraceHash string        `json:"trace_hash"`
}

func (r TraceResult) String() string {
	var b strings.Builder
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "#%-3d %-20s gas=%-6d total=%d", s.Seq, s.Node, s.GasCost, s.GasUsed)
		if s.Paused {
			b.WriteString("  [paused]")
		}
		for _, ev := range s.Events {
			fmt.Fprintf(&b, "  event=%s(%s)", ev.Name, strings.Join(ev.Args, ", "))
		}
		if len(s.Outputs) > 0 {
			fmt.Fprintf(&b, "  %s", formatValueMap(s.Outputs))
		}
		if s.Error != "" {
			fmt.Fprintf(&b, "  error=%s", s.Error)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s (gas %d/%d)", r.Status, r.GasUsed, r.GasLimit)
	if r.Fault != nil {
		fmt.Fprintf(&b, "\nfault %s: %s", r.Fault.Code, r.Fault.Message)
	}
	fmt.Fprintf(&b, "\ntrace %s", r.TraceHash)
	return b.String()
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RunOptions: RunOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "trace <graph.json|yaml>",
		Short: "Execute a graph document and dump the step stream",
		Long: `Compile and execute a graph document, printing one line per graph
node as it runs: gas charged, cumulative gas, and events emitted.

Breakpoints pause the session before the named node; the trace records a
zero-gas pause step and execution resumes automatically. A condition
expression over the entry inputs restricts when the breakpoint fires.

Example:
  canvas trace contract.json --input x=150
  canvas trace contract.json --input x=150 --break emit
  canvas trace contract.json --input x=150 --break "if=x > 120"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	addExecFlags(cmd, &opts.RunOptions)
	cmd.Flags().StringArrayVar(&opts.Breaks, "break", nil,
		"breakpoint as node or node=condition (repeatable)")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	compiled, err := compilePipeline(cmd.Context(), formatter, path, opts.Schemas, nil)
	if err != nil {
		return err
	}
	fn, err := FindEntry(compiled.art.ABI, opts.Entry)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "resolving entry point", err)
	}
	inputs, err := ParseInputs(fn, opts.Inputs)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "parsing inputs", err)
	}

	sess, err := engine.NewSession(compiled.art, opts.Entry, inputs,
		engine.WithGasLimit(opts.GasLimit))
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "creating session", err)
	}
	for _, spec := range opts.Breaks {
		node, cond, _ := strings.Cut(spec, "=")
		if err := sess.SetBreakpoint(graph.NodeID(node), cond); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "setting breakpoint", err)
		}
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	trace, runErr := sess.Run(ctx)
	for runErr == nil && sess.State() == engine.StatePaused {
		formatter.VerboseLog("paused at node, resuming")
		trace, runErr = sess.Resume(ctx)
	}
	if runErr != nil && trace.Fault == nil {
		_ = formatter.Error(ErrCodeGeneric, runErr.Error(), nil)
		return WrapExitError(ExitCommandError, "executing", runErr)
	}

	result := describeTrace(sess, trace)
	if err := formatter.Success(result); err != nil {
		return err
	}
	if trace.Fault != nil {
		return NewExitError(ExitFailure,
			fmt.Sprintf("run faulted: %s", trace.Fault.Code))
	}
	return nil
}

func describeTrace(sess *engine.Session, trace *engine.Trace) TraceResult {
	traceHash, err := trace.Hash()
	if err != nil {
		traceHash = "unhashable: " + err.Error()
	}
	result := TraceResult{
		Status:    string(sess.State()),
		GasUsed:   trace.GasUsed,
		GasLimit:  trace.GasLimit,
		Fault:     trace.Fault,
		TraceHash: traceHash,
	}
	for _, s := range trace.Steps {
		out := StepOutput{
			Seq:     s.Seq,
			Node:    string(s.Node),
			GasCost: s.GasCost,
			GasUsed: s.GasUsed,
			Paused:  s.Paused,
			Inputs:  formatValues(s.Inputs),
			Outputs: formatValues(s.Outputs),
			Error:   s.Err,
		}
		for _, ev := range s.Events {
			evOut := EventOutput{Name: ev.Name}
			for _, arg := range ev.Args {
				evOut.Args = append(evOut.Args, formatValue(arg))
			}
			out.Events = append(out.Events, evOut)
		}
		result.Steps = append(result.Steps, out)
	}
	return result
}

func formatValues(vals map[string]ir.Value) map[string]string {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		out[k] = formatValue(v)
	}
	return out
}

// formatValueMap renders name=value pairs in name order.
func formatValueMap(vals map[string]string) string {
	names := make([]string, 0, len(vals))
	for k := range vals {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + vals[k]
	}
	return strings.Join(parts, " ")
}
