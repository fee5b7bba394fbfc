package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidateClean(t *testing.T) {
	a, err := CompileSource(counterSrc)
	require.NoError(t, err)
	assert.Empty(t, Validate(a))
}

func TestValidateFallsOffEnd(t *testing.T) {
	a, err := CompileSource(`type: T: method: M: {static: true, body: "nop"}`)
	require.NoError(t, err)
	errs := Validate(a)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrFallsOffEnd, errs[0].Code)
	assert.Contains(t, errs[0].Error(), "[E110] T::M.body")
}

func TestValidateHandlers(t *testing.T) {
	a, err := CompileSource(`
type: T: method: M: {
	static: true
	body: """
		A: br C
		B: leave D
		C: leave D
		D: ret
		"""
	handlers: [
		{kind: "catch", try: ["A", "A"], handler: ["B", "C"]},
		{kind: "finally", try: ["A", "C"], handler: ["B", "D"]},
	]
}
`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ErrEmptyTryRange, ErrHandlerInsideTry, ErrBranchIntoHandler}, codes(Validate(a)))
}

func TestValidateBranchIntoHandler(t *testing.T) {
	a, err := CompileSource(`
type: T: method: M: {
	static: true
	body: """
		A: br X
		B: leave E
		H: pop
		X: leave E
		E: ret
		"""
	handlers: [{kind: "catch", try: ["A", "H"], handler: ["H", "E"]}]
}
`)
	require.NoError(t, err)
	assert.Equal(t, []string{ErrBranchIntoHandler}, codes(Validate(a)))
}

func TestValidateTypes(t *testing.T) {
	a, err := CompileSource(`
type: "Demo.Bad": {
	field: x: type: "int32"
	method: x: {static: true, params: ["int32"], body: "ret"}
}
type: "Demo.Bad/<It>d__1": {
	compilerGenerated: true
	method: MoveNext: {returns: "bool", body: "ldc.i4 0\nret"}
}
`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ErrDuplicateMember, ErrBadParamName, ErrMissingInterface}, codes(Validate(a)))
}
