package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/il"
)

const counterSrc = `
type: "Demo.Counter": {
	field: count: type: "int32"
	method: Next: {
		returns: "int32"
		params: ["int32 step"]
		locals: ["int32 n"]
		body: """
			ldarg 0
			ldfld Demo.Counter::count
			ldarg step
			add
			stloc n
			ldarg this
			ldloc n
			stfld Demo.Counter::count
			ldloc 0
			ret
			"""
	}
}
`

func TestCompileAssemblyBasic(t *testing.T) {
	a, err := CompileSource(counterSrc)
	require.NoError(t, err)

	typ := a.Type("Demo.Counter")
	require.NotNil(t, typ)
	assert.Equal(t, "Demo", typ.Namespace)
	assert.Equal(t, "Counter", typ.Name)
	require.Len(t, typ.Fields, 1)
	assert.Same(t, il.Int32, typ.Fields[0].Type)

	m := a.Method("Demo.Counter::Next")
	require.NotNil(t, m)
	assert.False(t, m.IsStatic)
	assert.Same(t, il.Int32, m.ReturnType)
	require.Len(t, m.Params, 1)
	assert.Equal(t, "step", m.Params[0].Name)
	require.Len(t, m.Body.Locals, 1)

	ins := m.Body.Instructions
	require.Len(t, ins, 10)
	assert.Equal(t, il.Ldarg, ins[0].Code)
	assert.Equal(t, 0, ins[0].Operand.Index)
	assert.Same(t, typ.Fields[0], ins[1].Operand.Field)
	assert.Equal(t, 1, ins[2].Operand.Index, "named parameter resolves past this")
	assert.Equal(t, 0, ins[4].Operand.Index)
	assert.Equal(t, []*il.MethodDef{m}, a.Methods())

	// offsets are contiguous
	for i := 1; i < len(ins); i++ {
		assert.Equal(t, ins[i-1].End(), ins[i].Offset)
	}
}

func TestCompileAssemblyBranchesAndHandlers(t *testing.T) {
	a, err := CompileSource(`
type: "Demo.Guard": method: Run: {
	static: true
	params: ["object o"]
	body: """
		T0: ldarg 0
		    brfalse DONE
		    ldarg 0
		    callvirt instance void System.IDisposable::Dispose()
		    leave DONE
		H0: pop
		    leave DONE
		DONE: ret
		"""
	handlers: [{kind: "catch", try: ["T0", "H0"], handler: ["H0", "DONE"], catch: "System.InvalidOperationException"}]
}
`)
	require.NoError(t, err)
	m := a.Method("Demo.Guard::Run")
	require.NotNil(t, m)

	ins := m.Body.Instructions
	done := ins[len(ins)-1].Offset
	assert.Equal(t, done, ins[1].Operand.Target)

	call := ins[3].Operand.Method
	require.NotNil(t, call)
	assert.Equal(t, "System.IDisposable::Dispose", call.FullName())
	assert.False(t, call.IsStatic)
	assert.False(t, call.ReturnsValue())

	require.Len(t, m.Body.Handlers, 1)
	h := m.Body.Handlers[0]
	assert.Equal(t, il.HandlerCatch, h.Kind)
	assert.Equal(t, 0, h.TryStart)
	assert.Equal(t, ins[5].Offset, h.TryEnd)
	assert.Equal(t, done, h.HandlerEnd)
	assert.Equal(t, "System.InvalidOperationException", h.CatchType.FullName())
}

func TestCompileAssemblyNestedTypes(t *testing.T) {
	a, err := CompileSource(`
type: "Demo.Outer/<Items>d__0": {
	compilerGenerated: true
	field: "<>1__state": type: "int32"
	method: ".ctor": {params: ["int32 state"], body: "ret"}
}
type: "Demo.Outer": method: Items: {
	static: true
	returns: "System.Collections.IEnumerable"
	body: """
		ldc.i4 -2
		newobj Demo.Outer/<Items>d__0::.ctor(int32)
		ret
		"""
}
`)
	require.NoError(t, err)
	inner := a.Type("Demo.Outer/<Items>d__0")
	require.NotNil(t, inner)
	assert.Same(t, a.Type("Demo.Outer"), inner.DeclaringType)
	assert.True(t, inner.CompilerGenerated)
	assert.Equal(t, "Demo.Outer/<Items>d__0", inner.FullName())
}

func TestCompileAssemblyErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no types", `foo: 1`, "at least one type is required"},
		{"unknown opcode", `type: T: method: M: {static: true, body: "frob"}`, `unknown opcode "frob"`},
		{"undefined label", `type: T: method: M: {static: true, body: "br NOPE"}`, `undefined label "NOPE"`},
		{"bad local", `type: T: method: M: {static: true, body: "ldloc 3\nret"}`, "local 3 out of range"},
		{"missing field", `type: T: method: M: {static: true, body: "ldsfld T::x\nret"}`, "type T has no field x"},
		{"extern without signature", `type: T: method: M: {static: true, body: "call Ext::Go\nret"}`, "needs a parameter list"},
		{"bad handler kind", `type: T: method: M: {static: true, body: "A: ret", handlers: [{kind: "weird", try: ["A", "A"], handler: ["A", "A"]}]}`, "unknown handler kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource(tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileAssemblyFromValue(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(counterSrc)
	require.NoError(t, v.Err())

	a, err := CompileAssembly(v)
	require.NoError(t, err)
	assert.Len(t, a.Types, 1)

	// the type struct on its own is not an assembly
	_, err = CompileAssembly(v.LookupPath(cue.ParsePath(`type."Demo.Counter"`)))
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "type", ce.Field)
}
