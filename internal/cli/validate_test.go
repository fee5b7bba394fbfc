package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/compiler"
)

func writeAssembly(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asm.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

const fallsOffSrc = `
type: T: method: Open: {
	static: true
	body: """
		ldc.i4 1
		pop
		"""
}
`

func TestValidateValidAssembly(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/asm")
	require.NoError(t, err)
	assert.Equal(t, "✓ Assembly valid (2 types, 5 method bodies)\n", out)
}

func TestValidateValidAssemblyJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "validate", methodsFile)
	require.NoError(t, err)

	var resp CLIResponse
	var data ValidationResult
	resp.Data = &data
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, data.Valid)
	assert.Equal(t, 3, data.Methods)
}

func TestValidateNonExistentPath(t *testing.T) {
	out, _, err := execute(t, "validate", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, _, err := execute(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
	assert.Contains(t, out, "no CUE files found")
}

func TestValidateFallsOffEnd(t *testing.T) {
	out, _, err := execute(t, "validate", writeAssembly(t, fallsOffSrc))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 1 error(s)")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrFallsOffEnd+" T::Open.body: IL_0005: pop falls off the end of the body")
}

func TestValidateFallsOffEndJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "validate", writeAssembly(t, fallsOffSrc))
	require.Error(t, err)

	var resp CLIResponse
	var data ValidationResult
	resp.Data = &data
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrFallsOffEnd, resp.Error.Code)
	assert.False(t, data.Valid)
	require.Len(t, data.Errors, 1)
}

func TestValidateMalformedFixture(t *testing.T) {
	out, _, err := execute(t, "validate", writeAssembly(t, "method: M: {}\n"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeCompileFailed)
	assert.Contains(t, out, "at least one type is required")
}
