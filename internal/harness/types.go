package harness

import (
	"github.com/canvas-contracts/canvas/internal/engine"
)

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass is true when the expect clause and every assertion held.
	Pass bool `json:"pass"`

	// Status is the session's terminal (or paused) state.
	Status string `json:"status"`

	// Trace is the full execution trace produced by the session.
	Trace *engine.Trace `json:"-"`

	// Events are the emitted events in emission order.
	Events []engine.Event `json:"-"`

	// Storage is the host's state after the run, raw encoded values.
	Storage map[string][]byte `json:"-"`

	// GasUsed and GasLimit mirror the trace's gas accounting.
	GasUsed  int64 `json:"gas_used"`
	GasLimit int64 `json:"gas_limit"`

	// Pauses counts breakpoint pauses during the run.
	Pauses int `json:"pauses,omitempty"`

	// Errors holds expectation and assertion failures. Empty when Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result for a run to fill in.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
