package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/il"
)

var sink = &il.TypeDef{Name: "Sink"}

func call(tree *il.Tree, name string, args ...il.NodeID) il.NodeID {
	return tree.Add(il.Node{Kind: il.KindExpr, Code: il.Call, Args: args,
		Method: &il.MethodDef{Name: name, DeclaringType: sink, IsStatic: true}})
}

func TestReduceBranchInstructionSet(t *testing.T) {
	tree := newTestTree()
	a, b := local("a", il.Int32), local("b", il.Int32)
	target := tree.NewLabel("L")
	bge := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Bge, Target: target,
		Args: []il.NodeID{tree.Ldloc(a), tree.Ldloc(b)}})
	brfalse := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Brfalse, Target: target,
		Args: []il.NodeID{tree.Ldloc(a)}})
	tree.Root = tree.Block(bge, brfalse, target, tree.Expr(il.Ret))

	newTestOptimizer(tree).reduceBranchInstructionSet()
	assert.Equal(t, "if (a >= b) goto "+tree.Node(target).Name, tree.FormatExpr(bge))
	assert.Equal(t, "if (!a) goto "+tree.Node(target).Name, tree.FormatExpr(brfalse))
	assert.NoError(t, tree.CheckLabels(tree.Root))
}

func TestDuplicateReturnStatements(t *testing.T) {
	tree := newTestTree()
	end := tree.NewLabel("L")
	jump := tree.Br(end)
	tree.Root = tree.Block(call(tree, "A"), jump, call(tree, "B"), end, tree.Expr(il.Ret, tree.LdcI4(3)))

	newTestOptimizer(tree).duplicateReturnStatements()
	assert.Equal(t, "return 3", tree.FormatExpr(jump))
}

func TestDuplicateReturnAtMethodEnd(t *testing.T) {
	tree := newTestTree()
	end := tree.NewLabel("L")
	jump := tree.Br(end)
	tree.Root = tree.Block(call(tree, "A"), jump, call(tree, "B"), end)

	newTestOptimizer(tree).duplicateReturnStatements()
	assert.Equal(t, "return", tree.FormatExpr(jump))
}

func TestReduceIfNesting(t *testing.T) {
	tree := newTestTree()
	c := local("c", il.Bool)
	cond := tree.Add(il.Node{Kind: il.KindCondition, Cond: tree.Ldloc(c),
		Then: tree.Block(tree.Expr(il.Ret, tree.LdcI4(1))),
		Else: tree.Block(call(tree, "B")),
	})
	tree.Root = tree.Block(cond, tree.Expr(il.Ret, tree.LdcI4(2)))

	newTestOptimizer(tree).reduceIfNesting(tree.Root)
	assert.Equal(t, "if (c) {\n\treturn 1;\n}\nSink.B();\nreturn 2;\n", tree.Format(tree.Root))
}

func TestReduceIfNestingSwapsEmptyThen(t *testing.T) {
	tree := newTestTree()
	c := local("c", il.Bool)
	cond := tree.Add(il.Node{Kind: il.KindCondition, Cond: tree.Ldloc(c),
		Then: tree.Block(),
		Else: tree.Block(call(tree, "B")),
	})
	tree.Root = tree.Block(cond)

	newTestOptimizer(tree).reduceIfNesting(tree.Root)
	assert.Equal(t, "if (!c) {\n\tSink.B();\n}\n", tree.Format(tree.Root))
}

func TestRemoveGotosInLoop(t *testing.T) {
	tree := newTestTree()
	c := local("c", il.Bool)
	head, exit := tree.NewLabel("L"), tree.NewLabel("L")
	body := tree.Block(
		head,
		tree.Brtrue(exit, tree.Ldloc(c)),
		call(tree, "A"),
		tree.Br(head),
	)
	loop := tree.Add(il.Node{Kind: il.KindLoop, Body: body})
	tree.Root = tree.Block(loop, exit, call(tree, "B"), tree.Expr(il.Ret))

	newTestOptimizer(tree).removeGotos()
	// The conditional exit stays a branch; the back edge disappears.
	assert.Equal(t, 1, countCode(tree, il.Brtrue))
	assert.Zero(t, countCode(tree, il.Br))
	assert.Zero(t, countCode(tree, il.LoopContinue))
}

func TestRemoveGotosBreak(t *testing.T) {
	tree := newTestTree()
	c := local("c", il.Bool)
	exit := tree.NewLabel("L")
	then := tree.Block(tree.Br(exit))
	body := tree.Block(
		tree.Add(il.Node{Kind: il.KindCondition, Cond: tree.Ldloc(c), Then: then, Else: tree.Block()}),
		call(tree, "A"),
	)
	loop := tree.Add(il.Node{Kind: il.KindLoop, Body: body})
	tree.Root = tree.Block(loop, exit, call(tree, "B"))

	newTestOptimizer(tree).removeGotos()
	assert.Equal(t, 1, countCode(tree, il.LoopBreak))
	assert.Zero(t, countCode(tree, il.Br))
	assert.NoError(t, tree.CheckLabels(tree.Root))
}

func TestRemoveEndFinally(t *testing.T) {
	tree := newTestTree()
	fin := tree.Block(call(tree, "Cleanup"), tree.Expr(il.Endfinally))
	try := tree.Add(il.Node{Kind: il.KindTry, TryBlock: tree.Block(call(tree, "Work")), Finally: fin})
	tree.Root = tree.Block(try, tree.Expr(il.Ret))

	newTestOptimizer(tree).removeEndFinally()
	assert.Zero(t, countCode(tree, il.Endfinally))
	stmts := tree.Stmts(fin)
	require.Len(t, stmts, 3)
	target, ok := tree.MatchBr(stmts[1])
	require.True(t, ok)
	assert.Equal(t, stmts[2], target)
	assert.Contains(t, tree.Node(target).Name, "EndFinally")
}

func TestRemoveDeadCodeInSwitch(t *testing.T) {
	tree := newTestTree()
	k := local("k", il.Int32)
	caseA := tree.Add(il.Node{Kind: il.KindCase, Values: []int64{0},
		Body: tree.Block(tree.Expr(il.Ret), tree.Expr(il.LoopBreak))})
	empty := tree.Add(il.Node{Kind: il.KindCase, Values: []int64{1},
		Body: tree.Block(tree.Expr(il.LoopBreak))})
	sw := tree.Add(il.Node{Kind: il.KindSwitch, Cond: tree.Ldloc(k), Cases: []il.NodeID{caseA, empty}})
	tree.Root = tree.Block(sw, call(tree, "B"))

	newTestOptimizer(tree).removeDeadCode()
	cases := tree.Node(sw).Cases
	require.Equal(t, []il.NodeID{caseA}, cases)
	assert.Len(t, tree.Stmts(tree.Node(caseA).Body), 1)
}

func TestCachedDelegateWithField(t *testing.T) {
	tree := newTestTree()
	holder := &il.TypeDef{Name: "T"}
	action := &il.TypeDef{Namespace: "System", Name: "Action"}
	f := &il.FieldDef{Name: "<>9__CachedAnonymousMethodDelegate1", Type: action,
		DeclaringType: holder, IsStatic: true, CompilerGenerated: true}
	lambda := &il.MethodDef{Name: "<M>b__0", DeclaringType: holder, IsStatic: true}
	ctor := &il.MethodDef{Name: ".ctor", DeclaringType: action, IsConstructor: true}

	newObj := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Newobj, Method: ctor, Args: []il.NodeID{
		tree.Expr(il.Ldnull),
		tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldftn, Method: lambda}),
	}})
	store := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Stsfld, Field: f, Args: []il.NodeID{newObj}})
	test := tree.Not(tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldsfld, Field: f}))
	cond := tree.Add(il.Node{Kind: il.KindCondition, Cond: test, Then: tree.Block(store), Else: tree.Block()})
	use := call(tree, "Run", tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldsfld, Field: f}))
	tree.Root = tree.Block(cond, use)

	newTestOptimizer(tree).cachedDelegateInitialization()
	stmts := tree.Stmts(tree.Root)
	require.Equal(t, []il.NodeID{use}, stmts)
	assert.Equal(t, newObj, tree.Node(use).Args[0])
}

func TestCachedDelegateWithLocal(t *testing.T) {
	tree := newTestTree()
	closure := local("closure", &il.TypeDef{Name: "<>c__DisplayClass1", CompilerGenerated: true})
	action := &il.TypeDef{Namespace: "System", Name: "Action"}
	lambda := &il.MethodDef{Name: "<M>b__0", DeclaringType: closure.Type}
	ctor := &il.MethodDef{Name: ".ctor", DeclaringType: action, IsConstructor: true}
	cache := temp("cache")

	newObj := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Newobj, Method: ctor, Args: []il.NodeID{
		tree.Ldloc(closure),
		tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldftn, Method: lambda}),
	}})
	cond := tree.Add(il.Node{Kind: il.KindCondition, Cond: tree.Not(tree.Ldloc(cache)),
		Then: tree.Block(tree.Stloc(cache, newObj)), Else: tree.Block()})
	use := call(tree, "Run", tree.Ldloc(cache))
	tree.Root = tree.Block(tree.Stloc(cache, tree.Expr(il.Ldnull)), cond, use)

	newTestOptimizer(tree).cachedDelegateInitialization()
	stmts := tree.Stmts(tree.Root)
	require.Len(t, stmts, 1)
	assert.Equal(t, il.Call, tree.Code(stmts[0]))
	assert.Equal(t, newObj, tree.Node(stmts[0]).Args[0])
}

func TestIntroduceFixedStatement(t *testing.T) {
	tree := newTestTree()
	x := local("x", il.Int32)
	p := local("p", il.IntPtr)
	p.IsPinned = true
	reset := tree.Stloc(p, tree.Add(il.Node{Kind: il.KindExpr, Code: il.Conv, Type: il.IntPtr,
		Args: []il.NodeID{tree.LdcI4(0)}}))
	tree.Root = tree.Block(
		tree.Stloc(p, tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldloca, Var: x})),
		call(tree, "Use", tree.Ldloc(p)),
		reset,
		tree.Expr(il.Ret),
	)

	newTestOptimizer(tree).introduceFixedStatements()
	stmts := tree.Stmts(tree.Root)
	require.Len(t, stmts, 2)
	fixed := tree.Node(stmts[0])
	require.Equal(t, il.KindFixed, fixed.Kind)
	assert.Len(t, tree.Stmts(fixed.Body), 1)
	assert.False(t, p.IsPinned)
	assert.Equal(t, "fixed (p = &x) {\n\tSink.Use(p);\n}\nreturn;\n", tree.Format(tree.Root))
}
