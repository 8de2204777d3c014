package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuite(t *testing.T) {
	suite, err := RunSuite(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	assert.Equal(t, 8, suite.Total)
	assert.Equal(t, 8, suite.Passed)
	assert.Zero(t, suite.Failed)
	assert.Empty(t, suite.Failures)
}

func TestRunSuiteReportsBrokenScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"),
		[]byte("name: broken\n"), 0o644))

	suite, err := RunSuite(dir)
	require.NoError(t, err)

	assert.Equal(t, 1, suite.Total)
	assert.Equal(t, 1, suite.Failed)
	require.Len(t, suite.Failures, 1)
	assert.Contains(t, suite.Failures[0].Error, "loading")
}

func TestRunSuiteEmptyDir(t *testing.T) {
	_, err := RunSuite(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files")
}
