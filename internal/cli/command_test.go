package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/engine"
	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/testutil"
)

func writeDoc(t *testing.T, doc *graph.Document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), doc.Name+".json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// execute runs the root command with the given args and returns stdout
// plus the command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeResponse unpacks a JSON CLIResponse envelope into dst.
func decodeResponse(t *testing.T, output string, dst any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp), "output: %s", output)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func TestValidateCommandAcceptsGoodGraph(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	out, err := execute(t, "validate", path, "--format", "json")
	require.NoError(t, err)

	var result ValidationResult
	decodeResponse(t, out, &result)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Problems)
}

func TestValidateCommandRejectsFlowCycle(t *testing.T) {
	path := writeDoc(t, testutil.SelfLoopDoc())

	_, err := execute(t, "validate", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateCommandMissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileCommandCachesByGraphHash(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())
	db := filepath.Join(t.TempDir(), "canvas.db")

	out, err := execute(t, "compile", path, "--db", db, "--format", "json")
	require.NoError(t, err)
	var first CompileResult
	decodeResponse(t, out, &first)
	assert.False(t, first.Cached)
	assert.NotEmpty(t, first.GraphHash)
	assert.NotEmpty(t, first.ArtifactHash)
	assert.Contains(t, first.Functions, "main")

	out, err = execute(t, "compile", path, "--db", db, "--format", "json")
	require.NoError(t, err)
	var second CompileResult
	decodeResponse(t, out, &second)
	assert.True(t, second.Cached)
	assert.Equal(t, first.ArtifactHash, second.ArtifactHash)
}

func TestCompileCommandWritesModule(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())
	outFile := filepath.Join(t.TempDir(), "threshold.wasm")

	_, err := execute(t, "compile", path, "-o", outFile, "--format", "json")
	require.NoError(t, err)

	code, err := os.ReadFile(outFile)
	require.NoError(t, err)
	require.Greater(t, len(code), 8)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d}, code[:4])
}

func TestRunCommandEmitsEventAboveThreshold(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	out, err := execute(t, "run", path, "--input", "x=150", "--format", "json")
	require.NoError(t, err)

	var result RunResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "finished", result.Status)
	assert.Equal(t, int64(64), result.GasUsed)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "above", result.Events[0].Name)
	assert.Equal(t, []string{"150"}, result.Events[0].Args)
	assert.NotEmpty(t, result.TraceHash)
}

func TestRunCommandLowPathEmitsNothing(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	out, err := execute(t, "run", path, "--input", "x=50", "--format", "json")
	require.NoError(t, err)

	var result RunResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "finished", result.Status)
	assert.Empty(t, result.Events)
}

func TestRunCommandRecordsRun(t *testing.T) {
	path := writeDoc(t, testutil.CounterLoopDoc())
	db := filepath.Join(t.TempDir(), "canvas.db")

	out, err := execute(t, "run", path, "--db", db, "--input", "x=7", "--format", "json")
	require.NoError(t, err)

	var result RunResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "finished", result.Status)
	assert.NotEmpty(t, result.RunID)
	assert.Contains(t, result.Storage, "counter")
}

func TestRunCommandOutOfGasFaults(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	out, err := execute(t, "run", path, "--input", "x=150", "--gas", "5", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result RunResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "faulted", result.Status)
	require.NotNil(t, result.Fault)
	assert.Equal(t, engine.ErrCodeOutOfGas, result.Fault.Code)
	assert.LessOrEqual(t, result.GasUsed, int64(5))
}

func TestRunCommandRejectsBadInput(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	_, err := execute(t, "run", path, "--input", "x=notanumber")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTraceCommandBreakpointPauses(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	out, err := execute(t, "trace", path,
		"--input", "x=150", "--break", "emit", "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "finished", result.Status)

	var paused []StepOutput
	for _, s := range result.Steps {
		if s.Paused {
			paused = append(paused, s)
		}
	}
	require.Len(t, paused, 1)
	assert.Equal(t, "emit", paused[0].Node)
	assert.Zero(t, paused[0].GasCost)
}

func TestTraceCommandConditionalBreakpoint(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	out, err := execute(t, "trace", path,
		"--input", "x=50", "--break", "if=x > 100", "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "finished", result.Status)
	for _, s := range result.Steps {
		assert.False(t, s.Paused)
	}
}

func TestTraceCommandStepGasSumsToTotal(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	out, err := execute(t, "trace", path, "--input", "x=150", "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)
	var sum int64
	for _, s := range result.Steps {
		sum += s.GasCost
	}
	assert.Equal(t, result.GasUsed, sum)
}

func TestTraceCommandReportsStepValues(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	out, err := execute(t, "trace", path, "--input", "x=150", "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)
	require.NotEmpty(t, result.Steps)
	assert.Equal(t, "start", result.Steps[0].Node)
	assert.Zero(t, result.Steps[0].GasCost)

	var ifStep *StepOutput
	for i := range result.Steps {
		if result.Steps[i].Node == "if" {
			ifStep = &result.Steps[i]
		}
	}
	require.NotNil(t, ifStep)
	assert.Equal(t, "150", ifStep.Inputs["x"])
	assert.Equal(t, "true", ifStep.Outputs["if"])
}

func TestSchemaCommandListsBuiltins(t *testing.T) {
	out, err := execute(t, "schema", "--format", "json")
	require.NoError(t, err)

	var listing SchemaListing
	decodeResponse(t, out, &listing)
	kinds := make([]string, 0, len(listing.Kinds))
	for _, s := range listing.Kinds {
		kinds = append(kinds, s.Kind)
	}
	assert.Contains(t, kinds, "Start")
	assert.Contains(t, kinds, "If")
	assert.Contains(t, kinds, "WriteStorage")
}

func TestSchemaCommandIncludesPackKinds(t *testing.T) {
	dir := writePack(t, clampPack)

	out, err := execute(t, "schema", dir, "--format", "json")
	require.NoError(t, err)

	var listing SchemaListing
	decodeResponse(t, out, &listing)
	found := false
	for _, s := range listing.Kinds {
		if s.Kind == "Clamp" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	path := writeDoc(t, testutil.ThresholdDoc())

	_, err := execute(t, "validate", path, "--format", "xml")
	require.Error(t, err)
}
