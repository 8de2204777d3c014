package compiler

import (
	"fmt"

	"github.com/canvas-contracts/canvas/internal/graph"
)

// Problem codes. E1xx are structural, E2xx are type problems, W3xx are
// warnings. Codes are stable: the editor keys inline annotations off them.
const (
	ErrInvalidPort             = "E101" // edge references a missing or wrong-direction port
	ErrMissingInput            = "E102" // required input has no driver
	ErrMultipleDrivers         = "E103" // input has more than one driver
	ErrFlowCycle               = "E104" // flow cycle outside loop-capable nodes
	ErrMultipleEntryComponents = "E105" // more than one component holds an entry node
	ErrUnknownKind             = "E106" // node kind not in the registry
	ErrBadProperty             = "E107" // property bag fails the kind's schema
	ErrNoEntryPoint            = "E108" // no entry-point node in the document

	ErrTypeMismatch  = "E201" // connected ports disagree on value kind
	ErrFlowToData    = "E202" // flow port wired to a data port
	ErrConditionType = "E203" // condition expression is not boolean

	WarnUnreachable = "W301" // node unreachable from any entry point
)

// Severity of a Problem.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Problem is one validation finding. Node and Port carry enough context for
// the editor to annotate the offending element without further lookups.
type Problem struct {
	Code     string       `json:"code"`
	Severity Severity     `json:"severity"`
	Node     graph.NodeID `json:"node,omitempty"`
	Port     string       `json:"port,omitempty"`
	Message  string       `json:"message"`

	// Expected and Actual are set for type problems.
	Expected graph.ValueKind `json:"expected,omitempty"`
	Actual   graph.ValueKind `json:"actual,omitempty"`
}

// Error implements the error interface so problems can travel as errors
// when a caller wants fail-fast behavior.
func (p Problem) Error() string {
	switch {
	case p.Node != "" && p.Port != "":
		return fmt.Sprintf("[%s] node %s port %s: %s", p.Code, p.Node, p.Port, p.Message)
	case p.Node != "":
		return fmt.Sprintf("[%s] node %s: %s", p.Code, p.Node, p.Message)
	default:
		return fmt.Sprintf("[%s] %s", p.Code, p.Message)
	}
}

// errorf appends an error-severity problem.
func (v *Validated) errorf(code string, node graph.NodeID, port, format string, args ...any) {
	v.Problems = append(v.Problems, Problem{
		Code:     code,
		Severity: SeverityError,
		Node:     node,
		Port:     port,
		Message:  fmt.Sprintf(format, args...),
	})
}

// warnf appends a warning-severity problem.
func (v *Validated) warnf(code string, node graph.NodeID, format string, args ...any) {
	v.Problems = append(v.Problems, Problem{
		Code:     code,
		Severity: SeverityWarning,
		Node:     node,
		Message:  fmt.Sprintf(format, args...),
	})
}
