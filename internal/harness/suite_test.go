package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, paths, 5)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "basic_methods.yaml"), paths[0])
}

func TestRunSuite(t *testing.T) {
	res, err := RunSuite(context.Background(), "testdata/scenarios", "testdata/golden")
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalScenarios)
	assert.Equal(t, 5, res.Passed, "failures: %v", res.Failures)
	assert.Zero(t, res.Failed)
}

func TestRunSuiteGoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "basic_methods.golden"), []byte("stale\n"), 0o644))

	res, err := RunSuite(context.Background(), "testdata/scenarios", golden)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Passed)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].ScenarioPath, "basic_methods.yaml")
	assert.Contains(t, res.Failures[0].Error, "does not match golden file")
}

func TestRunSuiteCollectsLoadFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	res, err := RunSuite(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalScenarios)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Failures[0].Error, "failed to load scenario")
}

func TestRunSuiteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunSuite(ctx, "testdata/scenarios", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteAndCheckGolden(t *testing.T) {
	result, err := Run(context.Background(), load(t, "basic_methods"))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "golden")
	var notFound *GoldenMismatchError
	err = CheckGolden(dir, "basic_methods", result)
	require.Error(t, err)
	assert.False(t, errors.As(err, &notFound), "a missing file is not a mismatch")

	require.NoError(t, WriteGolden(dir, "basic_methods", result))
	assert.NoError(t, CheckGolden(dir, "basic_methods", result))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "basic_methods.golden"), []byte("stale\n"), 0o644))
	var mismatch *GoldenMismatchError
	require.ErrorAs(t, CheckGolden(dir, "basic_methods", result), &mismatch)
	assert.Equal(t, filepath.Join(dir, "basic_methods.golden"), mismatch.GoldenPath)
}
