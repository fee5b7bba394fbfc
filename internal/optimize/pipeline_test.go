package optimize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/testutil"
)

func TestIfElseBecomesEarlyReturn(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `
params: ["int32 a"]
returns: "int32"`, `
ldarg a
ldc.i4 0
ble Neg
ldc.i4 1
ret
Neg: ldc.i4 2
ret`), Options{})

	out := tree.Format(tree.Root)
	assert.Contains(t, out, "if (a > 0) {")
	assert.Contains(t, out, "return 1;")
	assert.Contains(t, out, "return 2;")
	assert.NotContains(t, out, "else")
	assert.Zero(t, countCode(tree, il.Br))
}

func TestWhileLoop(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `
params: ["int32 n"]
locals: ["int32 i"]`, `
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
      ret`), Options{})

	out := tree.Format(tree.Root)
	assert.Equal(t, 1, countKind(tree, il.KindLoop))
	assert.Contains(t, out, "while (i < n) {")
	assert.Contains(t, out, "Sink.Use(i);")
	assert.NotContains(t, out, "goto")
}

func TestShortCircuitCondition(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `params: ["bool a", "bool b"]`, `
     ldarg a
     brfalse End
     ldarg b
     brfalse End
     call void Sink::Hit()
End: ret`), Options{})

	out := tree.Format(tree.Root)
	assert.Equal(t, 1, countKind(tree, il.KindCondition), "both tests fold into one condition")
	assert.Regexp(t, `&&|\|\|`, out)
	assert.Contains(t, out, "Sink.Hit();")
	assert.NotContains(t, out, "goto")
}

func TestSwitchCases(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `params: ["int32 k"]`, `
      ldarg k
      switch (A, B)
      br Done
A:    call void Sink::A()
      br Done
B:    call void Sink::B()
Done: ret`), Options{})

	out := tree.Format(tree.Root)
	require.Equal(t, 1, countKind(tree, il.KindSwitch))
	assert.Contains(t, out, "switch (k) {")
	assert.Contains(t, out, "case 0:")
	assert.Contains(t, out, "case 1:")
	assert.NotContains(t, out, "goto")
}

func TestSwitchWithOffset(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `params: ["int32 k"]`, `
      ldarg k
      ldc.i4 3
      sub
      switch (A, B)
      br Done
A:    call void Sink::A()
      br Done
B:    call void Sink::B()
Done: ret`), Options{})

	out := tree.Format(tree.Root)
	assert.Contains(t, out, "switch (k) {")
	assert.Contains(t, out, "case 3:")
	assert.Contains(t, out, "case 4:")
}

func TestTryFinally(t *testing.T) {
	a := testutil.Assembly(t, `
type: T: method: M: {
	static: true
	body: """
		A: call void Sink::Work()
		   leave E
		F: call void Sink::Cleanup()
		   endfinally
		E: ret
		"""
	handlers: [{kind: "finally", try: ["A", "F"], handler: ["F", "E"]}]
}
`)
	tree := decompile(t, a.Method("T::M"), Options{})
	out := tree.Format(tree.Root)
	assert.Contains(t, out, "} finally {")
	assert.Contains(t, out, "Sink.Cleanup();")
	assert.Zero(t, countCode(tree, il.Endfinally))
	assert.NotContains(t, out, "goto")
}

func TestAddressTakenLocalNotInlined(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `locals: ["int32 x"]`, `
ldc.i4 1
stloc x
ldloca x
call void Sink::Ref(int32&)
ldloc x
call void Sink::Use(int32)
ret`), Options{})

	out := tree.Format(tree.Root)
	assert.Contains(t, out, "x = 1;")
	assert.Contains(t, out, "Sink.Ref(&x);")
	assert.Contains(t, out, "Sink.Use(x);")
}

func TestFieldLoadNotMovedPastStore(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `
params: ["int32 a"]
locals: ["int32 old"]`, `
ldsfld int32 S::f
stloc old
ldarg a
stsfld int32 S::f
ldloc old
call void Sink::Use(int32)
ret`), Options{})

	out := tree.Format(tree.Root)
	assert.Contains(t, out, "old = S.f;")
	assert.Contains(t, out, "S.f = a;")
	assert.Contains(t, out, "Sink.Use(old);")
}

func TestUntilStopsAfterStep(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `params: ["bool c"]`, `
  ldarg c
  brtrue L
  call void Sink::A()
L: ret`), Options{Until: StepSplitToBasicBlocks})

	stmts := tree.Stmts(tree.Root)
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.Equal(t, il.KindBasicBlock, tree.Kind(s))
	}
}

func TestObserveSeesEveryStep(t *testing.T) {
	var seen []Step
	decompile(t, testutil.StaticMethod(t, ``, `ret`), Options{
		Observe: func(s Step, _ *il.Tree) { seen = append(seen, s) },
	})
	assert.Equal(t, Steps(), seen)
}

type refusingReverser struct{ calls int }

func (r *refusingReverser) Reverse(*il.Tree) error {
	r.calls++
	return errors.New("not an iterator")
}

func TestReverserRefusalIsNotFatal(t *testing.T) {
	r := &refusingReverser{}
	tree := decompile(t, testutil.StaticMethod(t, ``, `
call void Sink::A()
ret`), Options{Reverser: r})
	assert.Equal(t, 1, r.calls)
	assert.Contains(t, tree.Format(tree.Root), "Sink.A();")
}

// danglingReverser claims success but leaves a branch to a label that is
// not in the tree.
type danglingReverser struct{}

func (danglingReverser) Reverse(t *il.Tree) error {
	missing := t.NewLabel("Missing")
	t.SetStmts(t.Root, append([]il.NodeID{t.Br(missing)}, t.Stmts(t.Root)...))
	return nil
}

func TestFailedStepRestoresTree(t *testing.T) {
	m := testutil.StaticMethod(t, ``, `
call void Sink::A()
ret`)
	tree := decompile(t, m, Options{Until: StepInlineVariables})
	before := tree.Format(tree.Root)

	tree = decompile(t, m, Options{Until: StepInlineVariables})
	err := Optimize(tree, Options{Reverser: danglingReverser{}, CheckLabels: true})
	require.Error(t, err)
	assert.True(t, il.IsDecodingError(err))
	assert.Equal(t, il.ErrCodeUndefinedLabel, il.DecodingErrorCodeOf(err))
	assert.ErrorContains(t, err, "yield-return")
	assert.Equal(t, before, tree.Format(tree.Root), "the tree holds the last good state")
	assert.NoError(t, tree.CheckLabels(tree.Root))
}

func TestLoopBodyStartingWithTryFinally(t *testing.T) {
	a := testutil.Assembly(t, `
type: T: method: M: {
	static: true
	params: ["int32 n"]
	locals: ["int32 i"]
	body: """
		   ldc.i4 0
		   stloc i
		   br C
		B: ldloc i
		   call void Sink::Use(int32)
		   leave N
		F: call void Sink::Done()
		   endfinally
		N: ldloc i
		   ldc.i4 1
		   add
		   stloc i
		C: ldloc i
		   ldarg n
		   blt B
		   ret
		"""
	handlers: [{kind: "finally", try: ["B", "F"], handler: ["F", "N"]}]
}
`)
	tree := decompile(t, a.Method("T::M"), Options{})
	out := tree.Format(tree.Root)
	assert.Equal(t, 1, countKind(tree, il.KindLoop))
	assert.Contains(t, out, "while (i < n) {")
	assert.Contains(t, out, "} finally {")
	assert.Contains(t, out, "Sink.Use(i);")
	assert.Contains(t, out, "Sink.Done();")
	assert.NotContains(t, out, "goto")
}

func TestLoopBodyStartingWithTryCatch(t *testing.T) {
	a := testutil.Assembly(t, `
type: T: method: M: {
	static: true
	params: ["bool c"]
	body: """
		   br C
		B: call void Sink::Run()
		   leave C
		H: pop
		   call void Sink::Log()
		   leave C
		C: ldarg c
		   brtrue B
		   ret
		"""
	handlers: [{kind: "catch", try: ["B", "H"], handler: ["H", "C"]}]
}
`)
	tree := decompile(t, a.Method("T::M"), Options{})
	out := tree.Format(tree.Root)
	assert.Equal(t, 1, countKind(tree, il.KindLoop))
	assert.Equal(t, 1, countKind(tree, il.KindTry))
	assert.Contains(t, out, "while (c) {")
	assert.Contains(t, out, "Sink.Run();")
	assert.Contains(t, out, "Sink.Log();")
	assert.NotContains(t, out, "goto")
}
