package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/canvas-contracts/canvas/internal/engine"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// AssertionError is returned when an assertion fails. It carries both
// sides of the comparison plus the emitted events for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Events   []engine.Event
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)
	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "emitted events:\n")
		for i, ev := range e.Events {
			fmt.Fprintf(&buf, "  [%d] %s%s\n", i+1, ev.Name, formatArgs(ev.Args))
		}
	}
	return buf.String()
}

func formatArgs(args []ir.Value) string {
	if len(args) == 0 {
		return "()"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// EvaluateAssertions checks every assertion against the result and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertEventEmitted:
			err = assertEventEmitted(result.Events, a)
		case AssertEventOrder:
			err = assertEventOrder(result.Events, a)
		case AssertEventCount:
			err = assertEventCount(result.Events, a)
		case AssertFinalStorage:
			err = assertFinalStorage(result.Storage, a)
		case AssertGasWithin:
			err = assertGasWithin(result.GasUsed, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

// assertEventEmitted checks that an event with the given name and
// argument prefix was emitted at least once.
func assertEventEmitted(events []engine.Event, a Assertion) error {
	for _, ev := range events {
		if ev.Name != a.Event {
			continue
		}
		if matchArgs(ev.Args, a.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventEmitted,
		Expected: fmt.Sprintf("event %s with args %v", a.Event, a.Args),
		Actual:   "not emitted",
		Events:   events,
	}
}

// matchArgs compares the emitted arguments against the expected prefix.
func matchArgs(actual []ir.Value, expected []any) bool {
	if len(expected) > len(actual) {
		return false
	}
	for i, want := range expected {
		v, err := convertValue(want)
		if err != nil {
			return false
		}
		if !valueEqual(actual[i], v) {
			return false
		}
	}
	return true
}

func valueEqual(a, b ir.Value) bool {
	if x, ok := a.(ir.Bytes); ok {
		y, ok := b.(ir.Bytes)
		return ok && bytes.Equal(x, y)
	}
	return a == b
}

// assertEventOrder checks that event names appear in the given order.
// Intervening events are allowed.
func assertEventOrder(events []engine.Event, a Assertion) error {
	next := 0
	for _, ev := range events {
		if next < len(a.Events) && ev.Name == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("events in order %v", a.Events),
		Actual:   fmt.Sprintf("order broken at %q", a.Events[next]),
		Events:   events,
	}
}

func assertEventCount(events []engine.Event, a Assertion) error {
	count := 0
	for _, ev := range events {
		if ev.Name == a.Event {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("event %s emitted %d times", a.Event, a.Count),
		Actual:   fmt.Sprintf("emitted %d times", count),
		Events:   events,
	}
}

// assertFinalStorage decodes the stored bytes using the expected value's
// kind and compares.
func assertFinalStorage(storage map[string][]byte, a Assertion) error {
	raw, ok := storage[a.Key]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalStorage,
			Expected: fmt.Sprintf("key %q = %v", a.Key, a.Value),
			Actual:   "key absent",
		}
	}
	want, err := convertValue(a.Value)
	if err != nil {
		return fmt.Errorf("final_storage %q: %w", a.Key, err)
	}
	got, err := engine.DecodeStorageValue(raw, want.Kind())
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalStorage,
			Expected: fmt.Sprintf("key %q = %v", a.Key, want),
			Actual:   fmt.Sprintf("undecodable as %s: %v", want.Kind(), err),
		}
	}
	if !valueEqual(got, want) {
		return &AssertionError{
			Type:     AssertFinalStorage,
			Expected: fmt.Sprintf("key %q = %v", a.Key, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertGasWithin(used int64, a Assertion) error {
	if used <= a.Max {
		return nil
	}
	return &AssertionError{
		Type:     AssertGasWithin,
		Expected: fmt.Sprintf("gas used at most %d", a.Max),
		Actual:   fmt.Sprintf("%d", used),
	}
}
