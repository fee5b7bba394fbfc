package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/optimize"
)

func traceJSON(t *testing.T, args ...string) TraceResult {
	t.Helper()
	out, _, err := execute(t, append([]string{"--format", "json", "trace"}, args...)...)
	require.NoError(t, err)

	var resp CLIResponse
	var data TraceResult
	resp.Data = &data
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return data
}

func TestTraceRecordsEveryStep(t *testing.T) {
	res := traceJSON(t, methodsFile, "--method", "T::B")
	assert.Equal(t, "T::B", res.Method)
	assert.Empty(t, res.ErrorCode)

	steps := optimize.Steps()
	require.Len(t, res.Steps, len(steps)+1)
	for i, s := range steps {
		assert.Equal(t, i+1, res.Steps[i].Seq)
		assert.Equal(t, s.String(), res.Steps[i].Step)
	}
	last := res.Steps[len(res.Steps)-1]
	assert.Equal(t, idiomRecovery, last.Step)
	assert.Equal(t, "return x + 1;\n", last.Text)
	assert.Equal(t, "static int B(int x) {\n\treturn x + 1;\n}\n", res.Source)
}

func TestTraceUntil(t *testing.T) {
	res := traceJSON(t, methodsFile, "--method", "T::B", "--until", "inline-variables")
	require.Len(t, res.Steps, 3)
	assert.Equal(t, "inline-variables", res.Steps[2].Step)
}

func TestTraceSingleStep(t *testing.T) {
	res := traceJSON(t, methodsFile, "--method", "T::B", "--step", "find-loops")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "find-loops", res.Steps[0].Step)
	assert.Equal(t, int(optimize.StepFindLoops), res.Steps[0].Seq)
}

func TestTraceFailure(t *testing.T) {
	res := traceJSON(t, methodsFile, "--method", "T::Broken")
	assert.Equal(t, "STACK_UNDERFLOW", res.ErrorCode)
	assert.Empty(t, res.Steps, "the method fails before the pipeline starts")
	assert.Contains(t, res.Source, "/* decoding failed: STACK_UNDERFLOW: ")
}

func TestTraceText(t *testing.T) {
	out, _, err := execute(t, "trace", methodsFile, "--method", "T::B")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Trace for T::B\n\n=== [1] remove-redundant-code ===\n"))
	assert.Contains(t, out, "(unchanged) ===")
	assert.Contains(t, out, "=== Source ===\nstatic int B(int x) {\n")
}

func TestTraceErrors(t *testing.T) {
	_, _, err := execute(t, "trace", methodsFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "method" not set`)

	_, _, err = execute(t, "trace", methodsFile, "--method", "T::B", "--step", "nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "trace", methodsFile, "--method", "T::Gone")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
