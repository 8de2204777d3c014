package engine

import (
	"errors"
	"fmt"

	"github.com/canvas-contracts/canvas/internal/graph"
)

// RuntimeError is an execution fault. Faults are terminal: a session that
// faults never resumes.
//
// Fault categories:
//   - Out of gas: the gas meter hit zero mid-execution
//   - Trap: the program did something undefined (divide by zero,
//     unreachable, memory access outside bounds)
//   - Cancelled: the caller's context was cancelled; observed before each
//     node and at every gas charge inside one
//   - Host error: a host call failed
//   - Invalid module: the binary violates the emitted subset
type RuntimeError struct {
	// Code identifies the fault category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Session identifies the faulting session.
	Session string

	// Function is the entry point being executed.
	Function string

	// Node is the graph node active at the fault, when attributable.
	Node graph.NodeID

	// Details carries additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime faults.
type RuntimeErrorCode string

const (
	// ErrCodeOutOfGas indicates the gas budget was exhausted.
	ErrCodeOutOfGas RuntimeErrorCode = "OUT_OF_GAS"

	// ErrCodeTrap indicates undefined behavior in the program.
	ErrCodeTrap RuntimeErrorCode = "TRAP"

	// ErrCodeCancelled indicates the caller cancelled execution.
	ErrCodeCancelled RuntimeErrorCode = "CANCELLED"

	// ErrCodeHostError indicates a host call failed.
	ErrCodeHostError RuntimeErrorCode = "HOST_ERROR"

	// ErrCodeInvalidModule indicates the binary is outside the supported
	// subset or structurally broken.
	ErrCodeInvalidModule RuntimeErrorCode = "INVALID_MODULE"

	// ErrCodeBadInput indicates arguments that do not match the entry
	// point's signature.
	ErrCodeBadInput RuntimeErrorCode = "BAD_INPUT"

	// ErrCodeBadState indicates an operation invalid for the session's
	// current state, like resuming a finished session.
	ErrCodeBadState RuntimeErrorCode = "BAD_STATE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: %s (func=%s, node=%s)", e.Code, e.Message, e.Function, e.Node)
	}
	if e.Function != "" {
		return fmt.Sprintf("%s: %s (func=%s)", e.Code, e.Message, e.Function)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsOutOfGas reports whether the error is a gas exhaustion fault.
// Uses errors.As to handle wrapped errors.
func IsOutOfGas(err error) bool { return hasCode(err, ErrCodeOutOfGas) }

// IsTrap reports whether the error is a trap fault.
func IsTrap(err error) bool { return hasCode(err, ErrCodeTrap) }

// IsCancelled reports whether the error is a cancellation fault.
func IsCancelled(err error) bool { return hasCode(err, ErrCodeCancelled) }

// NewOutOfGasError creates the fault for an exhausted gas budget.
func NewOutOfGasError(limit, wanted int64) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeOutOfGas,
		Message: fmt.Sprintf("gas limit %d exhausted (charge of %d refused)", limit, wanted),
		Details: map[string]string{
			"limit":  fmt.Sprintf("%d", limit),
			"wanted": fmt.Sprintf("%d", wanted),
		},
	}
}

// NewTrapError creates a trap fault.
func NewTrapError(msg string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeTrap, Message: msg}
}

// NewCancelledError creates the cancellation fault.
func NewCancelledError() *RuntimeError {
	return &RuntimeError{Code: ErrCodeCancelled, Message: "execution cancelled"}
}
