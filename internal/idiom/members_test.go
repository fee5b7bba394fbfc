package idiom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/il"
)

var owner = &il.TypeDef{Name: "C"}

func accessor(name string, params ...*il.ParamDef) (*il.Tree, *il.Variable) {
	m := &il.MethodDef{Name: name, DeclaringType: owner, Params: params}
	return il.NewTree(m), &il.Variable{Name: "this", IsThis: true, Type: owner}
}

func propertyTrees(backing *il.FieldDef) (getter, setter *il.Tree) {
	getter, this := accessor("get_Name")
	load := getter.Add(il.Node{Kind: il.KindExpr, Code: il.Ldfld, Field: backing, Args: []il.NodeID{getter.Ldloc(this)}})
	getter.Root = getter.Block(getter.Expr(il.Ret, load))

	param := &il.ParamDef{Index: 0, Name: "value", Type: il.String}
	setter, this = accessor("set_Name", param)
	value := &il.Variable{Name: "value", Type: il.String, OriginalParam: param}
	store := setter.Add(il.Node{Kind: il.KindExpr, Code: il.Stfld, Field: backing,
		Args: []il.NodeID{setter.Ldloc(this), setter.Ldloc(value)}})
	setter.Root = setter.Block(store, setter.Expr(il.Ret))
	return getter, setter
}

func TestAutoProperty(t *testing.T) {
	backing := &il.FieldDef{Name: "<Name>k__BackingField", Type: il.String, DeclaringType: owner, CompilerGenerated: true}
	getter, setter := propertyTrees(backing)

	p, ok := AutoProperty(getter, setter)
	require.True(t, ok)
	assert.Equal(t, "Name", p.Name)
	assert.Same(t, backing, p.Field)
	assert.Same(t, setter.Method, p.Setter)

	p, ok = AutoProperty(getter, nil)
	require.True(t, ok)
	assert.Nil(t, p.Setter)
}

func TestAutoPropertyRequiresGeneratedField(t *testing.T) {
	plain := &il.FieldDef{Name: "<Name>k__BackingField", Type: il.String, DeclaringType: owner}
	getter, setter := propertyTrees(plain)
	_, ok := AutoProperty(getter, setter)
	assert.False(t, ok)
}

func TestAutoPropertyRejectsExtraWork(t *testing.T) {
	backing := &il.FieldDef{Name: "<Name>k__BackingField", Type: il.String, DeclaringType: owner, CompilerGenerated: true}
	getter, setter := propertyTrees(backing)
	stmts := setter.Stmts(setter.Root)
	setter.SetStmts(setter.Root, append([]il.NodeID{call(setter, "Changed")}, stmts...))

	_, ok := AutoProperty(getter, setter)
	assert.False(t, ok)
}

var (
	delegateType    = &il.TypeDef{Namespace: "System", Name: "Delegate"}
	interlockedType = &il.TypeDef{Namespace: "System.Threading", Name: "Interlocked"}
	handlerType     = &il.TypeDef{Name: "EventHandler"}
)

// eventAccessorTree builds the lowering of an event accessor around the
// Delegate method op.
func eventAccessorTree(name, op string, field *il.FieldDef) *il.Tree {
	param := &il.ParamDef{Index: 0, Name: "value", Type: handlerType}
	tree, this := accessor(name, param)
	value := &il.Variable{Name: "value", Type: handlerType, OriginalParam: param}
	h := &il.Variable{Name: "h", Type: handlerType}
	h2 := &il.Variable{Name: "h2", Type: handlerType}

	combine := &il.MethodDef{Name: op, DeclaringType: delegateType, IsStatic: true, ReturnType: delegateType}
	exchange := &il.MethodDef{Name: "CompareExchange", DeclaringType: interlockedType, IsStatic: true, ReturnType: handlerType}
	expr := func(n il.Node) il.NodeID {
		n.Kind = il.KindExpr
		return tree.Add(n)
	}

	read := expr(il.Node{Code: il.Ldfld, Field: field, Args: []il.NodeID{tree.Ldloc(this)}})
	combined := expr(il.Node{Code: il.Castclass, Type: handlerType,
		Args: []il.NodeID{expr(il.Node{Code: il.Call, Method: combine, Args: []il.NodeID{tree.Ldloc(h2), tree.Ldloc(value)}})}})
	addr := expr(il.Node{Code: il.Ldflda, Field: field, Args: []il.NodeID{tree.Ldloc(this)}})
	swap := expr(il.Node{Code: il.Call, Method: exchange, Args: []il.NodeID{addr, combined, tree.Ldloc(h2)}})
	loop := tree.Add(il.Node{
		Kind: il.KindDoWhile,
		Body: tree.Block(tree.Stloc(h2, tree.Ldloc(h)), tree.Stloc(h, swap)),
		Cond: tree.Expr(il.Cne, tree.Ldloc(h), tree.Ldloc(h2)),
	})
	tree.Root = tree.Block(tree.Stloc(h, read), loop, tree.Expr(il.Ret))
	return tree
}

func TestAutoEvent(t *testing.T) {
	field := &il.FieldDef{Name: "Changed", Type: handlerType, DeclaringType: owner}
	adder := eventAccessorTree("add_Changed", "Combine", field)
	remover := eventAccessorTree("remove_Changed", "Remove", field)

	e, ok := AutoEvent(adder, remover)
	require.True(t, ok)
	assert.Equal(t, "Changed", e.Name)
	assert.Same(t, field, e.Field)

	_, ok = AutoEvent(adder, eventAccessorTree("remove_Changed", "Combine", field))
	assert.False(t, ok, "the remover must call Delegate.Remove")

	other := &il.FieldDef{Name: "Changed", Type: handlerType, DeclaringType: owner, IsStatic: true}
	_, ok = AutoEvent(adder, eventAccessorTree("remove_Changed", "Remove", other))
	assert.False(t, ok, "accessors must share the field")
}
