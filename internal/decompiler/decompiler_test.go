package decompiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/optimize"
	"github.com/roach88/ildecomp/internal/testutil"
)

const loopSrc = `
type: T: method: Loop: {
	static: true
	params: ["int32 n"]
	locals: ["int32 i"]
	body: """
		      ldc.i4 0
		      stloc i
		      br Cond
		Body: ldloc i
		      call void Sink::Use(int32)
		      ldloc i
		      ldc.i4 1
		      add
		      stloc i
		Cond: ldloc i
		      ldarg n
		      blt Body
		      ret
		"""
}
type: T: method: Broken: {
	static: true
	body: """
		pop
		ret
		"""
}
`

func TestDecompileMethodRecoversIdioms(t *testing.T) {
	a := testutil.Assembly(t, loopSrc)
	res, err := DecompileMethod(context.Background(), a.Method("T::Loop"), Options{CheckLabels: true})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Tree)

	out := res.Body()
	assert.Contains(t, out, "for (i = 0; i < n; i++) {")
	assert.Contains(t, out, "Sink.Use(i);")
	assert.NotContains(t, out, "goto")
	assert.True(t, strings.HasPrefix(res.Render(), "static void Loop(int n) {\n"))
}

func TestUntilSkipsIdioms(t *testing.T) {
	a := testutil.Assembly(t, loopSrc)
	res, err := DecompileMethod(context.Background(), a.Method("T::Loop"), Options{Until: optimize.StepDuplicateReturns})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	out := res.Body()
	assert.Contains(t, out, "while (i < n) {")
	assert.NotContains(t, out, "for (")
}

func TestObserveSeesPipelineSteps(t *testing.T) {
	a := testutil.Assembly(t, loopSrc)
	var seen []optimize.Step
	_, err := DecompileMethod(context.Background(), a.Method("T::Loop"), Options{
		Observe: func(s optimize.Step, _ *il.Tree) { seen = append(seen, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, optimize.Steps(), seen)
}

func TestDecodingFailureRendersPlaceholder(t *testing.T) {
	a := testutil.Assembly(t, loopSrc)
	res, err := DecompileMethod(context.Background(), a.Method("T::Broken"), Options{})
	require.NoError(t, err, "decoding failures are not call errors")
	require.Error(t, res.Err)
	assert.True(t, res.Failed())
	assert.Equal(t, il.ErrCodeStackUnderflow, il.DecodingErrorCodeOf(res.Err))
	assert.Nil(t, res.Tree)

	body := res.Body()
	assert.True(t, strings.HasPrefix(body, "/* decoding failed: STACK_UNDERFLOW: "), body)
	assert.True(t, strings.HasSuffix(body, " */\n"), body)
	assert.Equal(t, "static void Broken() {\n\t"+body+"}\n", res.Render())
}

func TestMethodWithoutBody(t *testing.T) {
	m := &il.MethodDef{Name: "Abstract", DeclaringType: &il.TypeDef{Name: "T"}}
	res, err := DecompileMethod(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, il.ErrCodeBadOperand, il.DecodingErrorCodeOf(res.Err))
}

func TestCancelledContext(t *testing.T) {
	a := testutil.Assembly(t, loopSrc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DecompileMethod(ctx, a.Method("T::Loop"), Options{})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = DecompileType(ctx, a.Type("T"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlaceholderForOtherErrors(t *testing.T) {
	assert.Equal(t, "/* decoding failed: PASS_FAILED: find-loops: boom */",
		Placeholder(&il.DecodingError{Code: il.ErrCodePassFailed, Offset: -1, Message: "find-loops: boom"}))
	assert.Equal(t, "/* decoding failed: boom */", Placeholder(errors.New("boom")))
}

const statementsSrc = `
type: T: method: Each: {
	static: true
	params: ["Lib.List list"]
	locals: ["Lib.Enumerator e"]
	body: """
		   ldarg list
		   callvirt instance Lib.Enumerator Lib.List::GetEnumerator()
		   stloc e
		T: br C
		B: ldloc e
		   callvirt instance int32 Lib.Enumerator::get_Current()
		   call void Sink::Use(int32)
		C: ldloc e
		   callvirt instance bool Lib.Enumerator::MoveNext()
		   brtrue B
		   leave E
		F: ldloc e
		   brfalse N
		   ldloc e
		   callvirt instance void System.IDisposable::Dispose()
		N: endfinally
		E: ret
		"""
	handlers: [{kind: "finally", try: ["T", "F"], handler: ["F", "E"]}]
}
type: T: method: Locked: {
	static: true
	params: ["object gate"]
	locals: ["object obj", "bool taken"]
	body: """
		   ldarg gate
		   stloc obj
		   ldc.i4 0
		   stloc taken
		T: ldloc obj
		   ldloca taken
		   call void System.Threading.Monitor::Enter(object, bool&)
		   call void Sink::Work()
		   leave E
		F: ldloc taken
		   brfalse N
		   ldloc obj
		   call void System.Threading.Monitor::Exit(object)
		N: endfinally
		E: ret
		"""
	handlers: [{kind: "finally", try: ["T", "F"], handler: ["F", "E"]}]
}
`

func TestDecompileForeachWithInlinedCurrent(t *testing.T) {
	a := testutil.Assembly(t, statementsSrc)
	res, err := DecompileMethod(context.Background(), a.Method("T::Each"), Options{CheckLabels: true})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	out := res.Body()
	assert.Contains(t, out, "foreach (var item in list) {")
	assert.Contains(t, out, "Sink.Use(item);")
	assert.NotContains(t, out, "MoveNext")
	assert.NotContains(t, out, "get_Current")
	assert.NotContains(t, out, "goto")
}

func TestDecompileLock(t *testing.T) {
	a := testutil.Assembly(t, statementsSrc)
	res, err := DecompileMethod(context.Background(), a.Method("T::Locked"), Options{CheckLabels: true})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	out := res.Body()
	assert.Contains(t, out, "lock (gate) {")
	assert.Contains(t, out, "Sink.Work();")
	assert.NotContains(t, out, "Monitor")
	assert.NotContains(t, out, "taken")
}
