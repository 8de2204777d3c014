package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/engine"
	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name))
	require.NoError(t, err)
	return s
}

func TestRunThresholdHigh(t *testing.T) {
	result, err := Run(loadTestScenario(t, "threshold-high.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "finished", result.Status)
	assert.Equal(t, int64(64), result.GasUsed)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "above", result.Events[0].Name)
	require.Len(t, result.Events[0].Args, 1)
	assert.Equal(t, ir.Int(150), result.Events[0].Args[0])
}

func TestRunThresholdLow(t *testing.T) {
	result, err := Run(loadTestScenario(t, "threshold-low.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, int64(14), result.GasUsed)
	assert.Empty(t, result.Events)
}

func TestRunFlagWrite(t *testing.T) {
	result, err := Run(loadTestScenario(t, "flag-high.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	raw, ok := result.Storage["flag"]
	require.True(t, ok)
	v, err := engine.DecodeStorageValue(raw, "string")
	require.NoError(t, err)
	assert.Equal(t, ir.Str("1"), v)
}

func TestRunFlagLowPathSkipsWrite(t *testing.T) {
	result, err := Run(loadTestScenario(t, "flag-low.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Storage)
	assert.Less(t, result.GasUsed, wasm.DefaultGasTable()[graph.GasStorageWrite])
}

func TestRunCounterLoop(t *testing.T) {
	result, err := Run(loadTestScenario(t, "counter-loop.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	raw, ok := result.Storage["counter"]
	require.True(t, ok)
	v, err := engine.DecodeStorageValue(raw, "number")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), v)
}

func TestRunOutOfGas(t *testing.T) {
	result, err := Run(loadTestScenario(t, "out-of-gas.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "faulted", result.Status)
	require.NotNil(t, result.Trace.Fault)
	assert.Equal(t, engine.ErrCodeOutOfGas, result.Trace.Fault.Code)
	assert.LessOrEqual(t, result.GasUsed, int64(5))
}

func TestRunBreakpointPausesOnce(t *testing.T) {
	result, err := Run(loadTestScenario(t, "breakpoint.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Pauses)
	assert.Equal(t, "finished", result.Status)

	var paused int
	for _, s := range result.Trace.Steps {
		if s.Paused {
			paused++
		}
	}
	assert.Equal(t, 1, paused)
}

func TestRunConditionalBreakpointStaysQuiet(t *testing.T) {
	result, err := Run(loadTestScenario(t, "conditional-breakpoint.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Zero(t, result.Pauses)
}

func TestRunIsDeterministic(t *testing.T) {
	scenario := loadTestScenario(t, "threshold-high.yaml")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	h1, err := first.Trace.Hash()
	require.NoError(t, err)
	h2, err := second.Trace.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestRunReportsExpectMismatch(t *testing.T) {
	scenario := loadTestScenario(t, "threshold-high.yaml")
	scenario.Expect.Status = "faulted"
	scenario.Expect.Fault = "TRAP"

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
}

func TestRunRejectsUnknownEntry(t *testing.T) {
	scenario := loadTestScenario(t, "threshold-high.yaml")
	scenario.Entry = "reset"

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset")
}

func TestRunRejectsUnknownInput(t *testing.T) {
	scenario := loadTestScenario(t, "threshold-high.yaml")
	scenario.Inputs = map[string]any{"y": 1}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"y"`)
}

func TestRunSeedsInitialStorage(t *testing.T) {
	scenario := loadTestScenario(t, "threshold-low.yaml")
	scenario.Storage = map[string]any{"seeded": 42}
	scenario.Assertions = append(scenario.Assertions, Assertion{
		Type: AssertFinalStorage, Key: "seeded", Value: 42,
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
