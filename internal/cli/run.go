package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/canvas-contracts/canvas/internal/engine"
	"github.com/canvas-contracts/canvas/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Schemas  string
	Database string
	Entry    string
	Inputs   []string
	GasLimit int64
	Sender   string
	Height   int64
	Time     int64
}

// EventOutput is one emitted event in run output.
type EventOutput struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// RunResult is the run command's output payload.
type RunResult struct {
	RunID     string            `json:"run_id"`
	Status    string            `json:"status"`
	GasUsed   int64             `json:"gas_used"`
	GasLimit  int64             `json:"gas_limit"`
	Fault     *engine.Fault     `json:"fault,omitempty"`
	Events    []EventOutput     `json:"events,omitempty"`
	Storage   map[string]string `json:"storage,omitempty"`
	TraceHash string            `json:"trace_hash"`
}

func (r RunResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s (gas %d/%d)", r.RunID, r.Status, r.GasUsed, r.GasLimit)
	if r.Fault != nil {
		fmt.Fprintf(&b, "\n  fault  %s: %s", r.Fault.Code, r.Fault.Message)
	}
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "\n  event  %s(%s)", ev.Name, strings.Join(ev.Args, ", "))
	}
	keys := make([]string, 0, len(r.Storage))
	for k := range r.Storage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  store  %s = %s", k, r.Storage[k])
	}
	fmt.Fprintf(&b, "\n  trace  %s", r.TraceHash)
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <graph.json|yaml>",
		Short: "Compile and execute a graph document",
		Long: `Compile a graph document (or reuse the cached artifact) and execute
one entry point against an in-memory host, printing emitted events, the
resulting storage state, and gas accounting.

With --db, the artifact is cached and the run is appended to the run log.

Example:
  canvas run contract.json --input x=150 --gas 10000
  canvas run contract.yaml --entry reset --db ./canvas.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	addExecFlags(cmd, opts)
	return cmd
}

func addExecFlags(cmd *cobra.Command, opts *RunOptions) {
	cmd.Flags().StringVar(&opts.Schemas, "schemas", "", "CUE schema pack directory")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite artifact cache and run log")
	cmd.Flags().StringVar(&opts.Entry, "entry", "main", "entry point to execute")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "entry input as key=value (repeatable)")
	cmd.Flags().Int64Var(&opts.GasLimit, "gas", engine.DefaultGasLimit, "gas budget")
	cmd.Flags().StringVar(&opts.Sender, "sender", "01", "caller identity as hex bytes")
	cmd.Flags().Int64Var(&opts.Height, "height", 0, "block height visible to the contract")
	cmd.Flags().Int64Var(&opts.Time, "time", 0, "block timestamp visible to the contract")
}

func runRun(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	exec, err := executeGraph(opts, path, cmd)
	if err != nil {
		return err
	}

	result := describeRun(exec)
	if err := formatter.Success(result); err != nil {
		return err
	}
	if exec.trace.Fault != nil {
		return NewExitError(ExitFailure,
			fmt.Sprintf("run faulted: %s", exec.trace.Fault.Code))
	}
	return nil
}

// execution bundles one completed run.
type execution struct {
	runID string
	sess  *engine.Session
	host  *engine.MemoryHost
	trace *engine.Trace
}

// executeGraph compiles (or cache-loads) a document and runs it to a
// terminal state. Engine faults are reported through the trace, not as
// command errors.
func executeGraph(opts *RunOptions, path string, cmd *cobra.Command) (*execution, error) {
	formatter := newFormatter(opts.RootOptions, cmd)

	var st *store.Store
	if opts.Database != "" {
		var err error
		st, err = store.Open(opts.Database)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "opening database", err)
		}
		defer st.Close()
	}

	compiled, err := compilePipeline(cmd.Context(), formatter, path, opts.Schemas, st)
	if err != nil {
		return nil, err
	}

	fn, err := FindEntry(compiled.art.ABI, opts.Entry)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "resolving entry point", err)
	}
	inputs, err := ParseInputs(fn, opts.Inputs)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "parsing inputs", err)
	}
	sender, err := hex.DecodeString(opts.Sender)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "parsing sender", err)
	}

	host := engine.NewMemoryHost(
		engine.WithSender(sender),
		engine.WithBlock(opts.Height, opts.Time),
	)
	sess, err := engine.NewSession(compiled.art, opts.Entry, inputs,
		engine.WithHost(host),
		engine.WithGasLimit(opts.GasLimit),
	)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "creating session", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	trace, runErr := sess.Run(ctx)
	if runErr != nil && trace.Fault == nil {
		_ = formatter.Error(ErrCodeGeneric, runErr.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "executing", runErr)
	}

	exec := &execution{runID: uuid.NewString(), sess: sess, host: host, trace: trace}
	if st != nil {
		if err := recordRun(cmd.Context(), st, compiled.hash, opts.Entry, exec); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "recording run", err)
		}
	}
	return exec, nil
}

// signalContext derives a context cancelled on SIGINT/SIGTERM, so a long
// run stops at the next gas charge with a cancellation fault.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func recordRun(ctx context.Context, st *store.Store, graphHash, entry string, exec *execution) error {
	canonical, err := exec.trace.MarshalCanonical()
	if err != nil {
		return err
	}
	traceHash, err := exec.trace.Hash()
	if err != nil {
		return err
	}
	run := store.Run{
		ID:        exec.runID,
		GraphHash: graphHash,
		Entry:     entry,
		Status:    store.RunFinished,
		GasUsed:   exec.trace.GasUsed,
		TraceHash: traceHash,
		Trace:     canonical,
	}
	if exec.trace.Fault != nil {
		run.Status = store.RunFaulted
		run.FaultCode = string(exec.trace.Fault.Code)
	}
	return st.RecordRun(ctx, run)
}

func describeRun(exec *execution) RunResult {
	traceHash, err := exec.trace.Hash()
	if err != nil {
		traceHash = "unhashable: " + err.Error()
	}
	result := RunResult{
		RunID:     exec.runID,
		Status:    string(exec.sess.State()),
		GasUsed:   exec.trace.GasUsed,
		GasLimit:  exec.trace.GasLimit,
		Fault:     exec.trace.Fault,
		TraceHash: traceHash,
	}
	for _, ev := range exec.trace.Events {
		out := EventOutput{Name: ev.Name}
		for _, arg := range ev.Args {
			out.Args = append(out.Args, formatValue(arg))
		}
		result.Events = append(result.Events, out)
	}
	if snap := exec.host.Snapshot(); len(snap) > 0 {
		result.Storage = make(map[string]string, len(snap))
		for k, v := range snap {
			result.Storage[k] = "0x" + hex.EncodeToString(v)
		}
	}
	return result
}
