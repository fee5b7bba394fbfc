package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/driver"
)

const methodsFile = "testdata/asm/methods.cue"

func TestLoadAssemblyFile(t *testing.T) {
	loaded, err := LoadAssembly(methodsFile)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.FileCount)
	require.Len(t, loaded.Assembly.Types, 1)
	assert.Len(t, loaded.Assembly.Methods(), 3)
}

func TestLoadAssemblyDirectory(t *testing.T) {
	loaded, err := LoadAssembly("testdata/asm")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.FileCount)
	assert.NotNil(t, loaded.Assembly.Type("T"))
	assert.NotNil(t, loaded.Assembly.Type("Counter"))
}

func TestLoadAssemblyErrors(t *testing.T) {
	_, err := LoadAssembly("testdata/missing")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)

	_, err = LoadAssembly(t.TempDir())
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)

	_, err = LoadAssembly("root.go")
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestSelectMethods(t *testing.T) {
	loaded, err := LoadAssembly(methodsFile)
	require.NoError(t, err)

	ms, err := SelectMethods(loaded.Assembly, []string{"T::B", "T::A", "T::B"})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "T::B", ms[0].FullName())
	assert.Equal(t, "T::A", ms[1].FullName())

	_, err = SelectMethods(loaded.Assembly, []string{"T::Nope"})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeUnknownMethod, loadErr.Code)
}

func TestDecompileText(t *testing.T) {
	out, _, err := execute(t, "decompile", methodsFile)
	require.NoError(t, err, "a method that fails to decode does not fail the command")

	assert.Contains(t, out, "// T::A\nstatic void A() {\n\tSink.A();\n}\n")
	assert.Contains(t, out, "/* decoding failed: STACK_UNDERFLOW: ")
	assert.Contains(t, out, "// T::B\nstatic int B(int x) {\n\treturn x + 1;\n}\n")
}

func TestDecompileSelectsMethods(t *testing.T) {
	out, _, err := execute(t, "decompile", methodsFile, "--method", "T::B")
	require.NoError(t, err)
	assert.Equal(t, "// T::B\nstatic int B(int x) {\n\treturn x + 1;\n}\n", out)

	out, _, err = execute(t, "decompile", methodsFile, "--method", "T::Nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E008]")
}

func TestDecompileRejectsUnknownStep(t *testing.T) {
	_, _, err := execute(t, "decompile", methodsFile, "--until", "sideways")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown pipeline step "sideways"`)
}

func runDecompileJSON(t *testing.T, opts *DecompileOptions) (DecompileResult, CLIResponse) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewDecompileCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, runDecompile(opts, methodsFile, cmd))

	var resp CLIResponse
	var data DecompileResult
	resp.Data = &data
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return data, resp
}

func TestDecompileJSONWithCache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "cache.db")
	root := &RootOptions{Format: "json"}
	opts := &DecompileOptions{RootOptions: root, Cache: cache, RunIDs: driver.NewFixedGenerator("run-1", "run-2")}

	first, resp := runDecompileJSON(t, opts)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "run-1", first.RunID)
	require.Len(t, first.Methods, 3)
	assert.Equal(t, 1, first.Failures)
	assert.Zero(t, first.Cached)
	assert.Equal(t, "STACK_UNDERFLOW", first.Methods[1].ErrorCode)
	assert.NotEmpty(t, first.Methods[0].Hash)

	second, _ := runDecompileJSON(t, opts)
	assert.Equal(t, "run-2", second.RunID)
	assert.Equal(t, 3, second.Cached)
	for i, m := range second.Methods {
		assert.True(t, m.Cached)
		assert.Equal(t, first.Methods[i].Source, m.Source)
	}
}

func TestDecompileTypes(t *testing.T) {
	out, _, err := execute(t, "decompile", "testdata/asm", "--types")
	require.NoError(t, err)
	assert.Contains(t, out, "class Counter {\n\tint Count { get; set; }\n}\n")
	assert.Contains(t, out, "class T {\n\tstatic void A() {\n")
	assert.NotContains(t, out, "get_Count")
}

func TestDecompileVerboseLogsToStderr(t *testing.T) {
	out, errOut, err := execute(t, "--verbose", "--format", "json", "decompile", methodsFile)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Loaded 1 CUE file(s)")
	assert.Contains(t, errOut, "method failed to decode")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
}
