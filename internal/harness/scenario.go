package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance run: a graph document, how to execute
// it, and what the run must produce.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Graph is the path to the graph document (JSON or YAML), relative to
	// the scenario file unless absolute.
	Graph string `yaml:"graph"`

	// Entry is the entry point to execute. Defaults to "main".
	Entry string `yaml:"entry,omitempty"`

	// Inputs are the entry point arguments. Values are converted to the
	// parameter kinds declared by the compiled artifact's interface.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// GasLimit is the gas budget. Zero means the engine default.
	GasLimit int64 `yaml:"gas_limit,omitempty"`

	// Sender is the caller identity as hex bytes. Defaults to "01".
	Sender string `yaml:"sender,omitempty"`

	// Height and Time are the block values visible to the contract.
	Height int64 `yaml:"height,omitempty"`
	Time   int64 `yaml:"time,omitempty"`

	// Storage seeds the host's state before the run. Values are scalars
	// encoded the way the contract's storage writes encode them.
	Storage map[string]any `yaml:"storage,omitempty"`

	// Breakpoints pause execution at nodes during the run. The harness
	// resumes automatically and counts the pauses.
	Breakpoints []BreakpointSpec `yaml:"breakpoints,omitempty"`

	// Expect names the required terminal outcome.
	Expect ExpectClause `yaml:"expect"`

	// Assertions validate events, storage, and gas after the run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// BreakpointSpec is one breakpoint to install before the run.
type BreakpointSpec struct {
	// Node is the graph node to pause at.
	Node string `yaml:"node"`

	// Condition is an optional boolean expression over the entry inputs;
	// the breakpoint fires only when it evaluates true.
	Condition string `yaml:"condition,omitempty"`
}

// ExpectClause specifies the required terminal state of the session.
type ExpectClause struct {
	// Status is "finished" or "faulted".
	Status string `yaml:"status"`

	// Fault is the required fault code when Status is "faulted".
	Fault string `yaml:"fault,omitempty"`

	// Pauses is the required number of breakpoint pauses, when set.
	Pauses *int `yaml:"pauses,omitempty"`
}

// Assertion validates one aspect of the completed run.
type Assertion struct {
	// Type selects the assertion:
	//   - "event_emitted": Event was emitted with Args (subset match)
	//   - "event_order":   Events appear in the given order
	//   - "event_count":   Event was emitted exactly Count times
	//   - "final_storage": Key holds Value after the run
	//   - "gas_within":    total gas used is at most Max
	Type string `yaml:"type"`

	// Event is the event name (event_emitted, event_count).
	Event string `yaml:"event,omitempty"`

	// Args are the expected event arguments in order (event_emitted).
	// When shorter than the emitted argument list, only the prefix is
	// compared.
	Args []any `yaml:"args,omitempty"`

	// Events is the expected emission order (event_order). Intervening
	// events are allowed.
	Events []string `yaml:"events,omitempty"`

	// Count is the expected emission count (event_count).
	Count int `yaml:"count,omitempty"`

	// Key and Value identify a final storage entry (final_storage).
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Max bounds total gas (gas_within).
	Max int64 `yaml:"max,omitempty"`
}

// Assertion type constants.
const (
	AssertEventEmitted = "event_emitted"
	AssertEventOrder   = "event_order"
	AssertEventCount   = "event_count"
	AssertFinalStorage = "final_storage"
	AssertGasWithin    = "gas_within"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo fails loudly instead of silently weakening the test.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath parses a scenario file, resolving its graph
// path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}

	if scenario.Graph != "" && !filepath.IsAbs(scenario.Graph) && basePath != "" {
		scenario.Graph = filepath.Join(basePath, scenario.Graph)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Graph == "" {
		return fmt.Errorf("graph is required")
	}
	if _, err := os.Stat(s.Graph); os.IsNotExist(err) {
		return fmt.Errorf("graph file not found: %s", s.Graph)
	}
	switch s.Expect.Status {
	case "finished", "faulted":
	case "":
		return fmt.Errorf("expect.status is required")
	default:
		return fmt.Errorf("expect.status must be finished or faulted, got %q", s.Expect.Status)
	}
	if s.Expect.Status != "faulted" && s.Expect.Fault != "" {
		return fmt.Errorf("expect.fault requires expect.status faulted")
	}
	for i, bp := range s.Breakpoints {
		if bp.Node == "" {
			return fmt.Errorf("breakpoints[%d]: node is required", i)
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEventEmitted:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_emitted", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertFinalStorage:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for final_storage", index)
		}
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for final_storage", index)
		}
	case AssertGasWithin:
		if a.Max <= 0 {
			return fmt.Errorf("assertions[%d]: max must be positive for gas_within", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
