package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one failed scenario in a suite run.
type ScenarioFailure struct {
	Scenario string `json:"scenario"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// RunSuite loads and runs every scenario YAML file in dir, in name
// order. Files that fail to load count as failures, not errors: a suite
// with a broken scenario still reports the rest.
func RunSuite(dir string) (*SuiteResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}

	suite := &SuiteResult{}
	for _, path := range paths {
		suite.Total++
		scenario, err := LoadScenario(path)
		if err != nil {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				Scenario: filepath.Base(path), Path: path,
				Error: fmt.Sprintf("loading: %v", err),
			})
			continue
		}
		result, err := Run(scenario)
		if err != nil {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				Scenario: scenario.Name, Path: path,
				Error: fmt.Sprintf("executing: %v", err),
			})
			continue
		}
		if !result.Pass {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				Scenario: scenario.Name, Path: path,
				Error: strings.Join(result.Errors, "; "),
			})
			continue
		}
		suite.Passed++
	}
	return suite, nil
}
