package optimize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/il"
)

func TestFoldConstantWrapsInt32(t *testing.T) {
	tree := newTestTree()
	sum := tree.Expr(il.Add, tree.LdcI4(math.MaxInt32), tree.LdcI4(1))
	tree.Root = tree.Block(tree.Expr(il.Ret, sum))
	o := newTestOptimizer(tree)

	require.True(t, o.foldConstant(sum))
	v, ok := tree.MatchLdcI4(sum)
	require.True(t, ok)
	assert.Equal(t, int64(math.MinInt32), v)
}

func TestFoldConstantMasksShiftCount(t *testing.T) {
	tests := []struct {
		name string
		code il.Code
		lit  il.Code
		x, y int64
		want int64
	}{
		{"int32 shl", il.Shl, il.LdcI4, 1, 33, 2},
		{"int32 shr", il.Shr, il.LdcI4, -8, 34, -2},
		{"int64 shl", il.Shl, il.LdcI8, 1, 33, 1 << 33},
		{"int64 shl wraps at 64", il.Shl, il.LdcI8, 1, 65, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := newTestTree()
			lit := func(v int64) il.NodeID { return tree.Add(il.Node{Kind: il.KindExpr, Code: tt.lit, Int: v}) }
			shift := tree.Expr(tt.code, lit(tt.x), lit(tt.y))
			tree.Root = tree.Block(tree.Expr(il.Ret, shift))

			require.True(t, newTestOptimizer(tree).foldConstant(shift))
			assert.Equal(t, tt.lit, tree.Code(shift))
			assert.Equal(t, tt.want, tree.Node(shift).Int)
		})
	}
}

func TestFoldConstantComparison(t *testing.T) {
	tree := newTestTree()
	cmp := tree.Expr(il.Clt, tree.LdcI4(1), tree.LdcI4(2))
	tree.Root = tree.Block(tree.Expr(il.Ret, cmp))

	require.True(t, newTestOptimizer(tree).foldConstant(cmp))
	v, ok := tree.MatchLdcI4(cmp)
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, il.Bool, tree.Node(cmp).InferredType)
}

func TestFoldConstantLeavesVariables(t *testing.T) {
	tree := newTestTree()
	x := local("x", il.Int32)
	sum := tree.Expr(il.Add, tree.Ldloc(x), tree.LdcI4(1))
	tree.Root = tree.Block(tree.Expr(il.Ret, sum))

	assert.False(t, newTestOptimizer(tree).foldConstant(sum))
	assert.Equal(t, il.Add, tree.Code(sum))
}

func TestSimplifyNot(t *testing.T) {
	x := local("x", il.Bool)
	a, b := local("a", il.Int32), local("b", il.Int32)

	tests := []struct {
		name  string
		build func(tree *il.Tree) il.NodeID
		want  string
	}{
		{"double negation", func(tree *il.Tree) il.NodeID {
			return tree.Not(tree.Not(tree.Ldloc(x)))
		}, "x"},
		{"equality", func(tree *il.Tree) il.NodeID {
			return tree.Not(tree.Expr(il.Ceq, tree.Ldloc(a), tree.Ldloc(b)))
		}, "a != b"},
		{"greater than", func(tree *il.Tree) il.NodeID {
			return tree.Not(tree.Expr(il.Cgt, tree.Ldloc(a), tree.Ldloc(b)))
		}, "a <= b"},
		{"less than", func(tree *il.Tree) il.NodeID {
			return tree.Not(tree.Expr(il.Clt, tree.Ldloc(a), tree.Ldloc(b)))
		}, "a >= b"},
		{"constant", func(tree *il.Tree) il.NodeID {
			return tree.Not(tree.LdcI4(0))
		}, "1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tree := newTestTree()
			e := tc.build(tree)
			tree.Root = tree.Block(tree.Expr(il.Ret, e))
			newTestOptimizer(tree).simplifyLogicNot()
			assert.Equal(t, tc.want, tree.FormatExpr(e))
		})
	}
}

func TestSimplifyLogicNotNullTests(t *testing.T) {
	tree := newTestTree()
	o := local("o", il.Object)
	b := local("b", il.Bool)
	notNull := tree.Expr(il.CgtUn, tree.Ldloc(o), tree.Expr(il.Ldnull))
	isFalse := tree.Expr(il.Ceq, tree.Ldloc(b), tree.LdcI4(0))
	tree.Node(tree.Node(isFalse).Args[0]).InferredType = il.Bool
	tree.Root = tree.Block(tree.Expr(il.Ret, notNull), tree.Expr(il.Ret, isFalse))

	newTestOptimizer(tree).simplifyLogicNot()
	assert.Equal(t, "o != null", tree.FormatExpr(notNull))
	assert.Equal(t, "!b", tree.FormatExpr(isFalse))
}

func TestSimplifyIndirectAccess(t *testing.T) {
	tree := newTestTree()
	x := local("x", il.Int32)
	load := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldobj, Type: il.Int32, Args: []il.NodeID{
		tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldloca, Var: x}),
	}})
	store := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Stobj, Type: il.Int32, Args: []il.NodeID{
		tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldloca, Var: x}), load,
	}})
	bb := basicBlock(tree, tree.NewLabel("Block"), store, tree.Expr(il.Ret))
	tree.Root = tree.Block(bb)

	o := newTestOptimizer(tree)
	require.True(t, o.simplifyLdObjAndStObj(newInliner(tree), bb, 1))
	assert.Equal(t, "x = x", tree.FormatExpr(store))
}

func TestTransformArrayInitializer(t *testing.T) {
	tree := newTestTree()
	arr := local("arr", &il.TypeDef{Name: "Int32[]"})
	newarr := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Newarr, Type: il.Int32, Args: []il.NodeID{tree.LdcI4(3)}})
	stelem := func(i, v int64) il.NodeID {
		return tree.Expr(il.Stelem, tree.Ldloc(arr), tree.LdcI4(i), tree.LdcI4(v))
	}
	bb := basicBlock(tree,
		tree.NewLabel("Block"),
		tree.Stloc(arr, newarr),
		stelem(0, 5),
		stelem(2, 7),
		tree.Expr(il.Ret, tree.Ldloc(arr)),
	)
	tree.Root = tree.Block(bb)

	o := newTestOptimizer(tree)
	require.True(t, o.transformArrayInitializers(newInliner(tree), bb, 1))

	var init *il.Node
	for _, e := range tree.Exprs(tree.Root) {
		if tree.Code(e) == il.InitArray {
			init = tree.Node(e)
		}
	}
	require.NotNil(t, init)
	require.Len(t, init.Args, 3)
	assert.Equal(t, il.LdcI4, tree.Code(init.Args[0]))
	assert.Equal(t, il.DefaultValue, tree.Code(init.Args[1]))
	assert.Equal(t, il.LdcI4, tree.Code(init.Args[2]))
	assert.Zero(t, countCode(tree, il.Stelem))
}

func TestTransformArrayInitializerRejectsLongTail(t *testing.T) {
	tree := newTestTree()
	arr := local("arr", &il.TypeDef{Name: "Int32[]"})
	newarr := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Newarr, Type: il.Int32, Args: []il.NodeID{tree.LdcI4(20)}})
	bb := basicBlock(tree,
		tree.NewLabel("Block"),
		tree.Stloc(arr, newarr),
		tree.Expr(il.Stelem, tree.Ldloc(arr), tree.LdcI4(0), tree.LdcI4(1)),
		tree.Expr(il.Ret, tree.Ldloc(arr)),
	)
	tree.Root = tree.Block(bb)

	assert.False(t, newTestOptimizer(tree).transformArrayInitializers(newInliner(tree), bb, 1))
	assert.Equal(t, 1, countCode(tree, il.Stelem))
}

func TestPostIncrementLocal(t *testing.T) {
	tree := newTestTree()
	i := local("i", il.Int32)
	tmp := temp("tmp")
	bb := basicBlock(tree,
		tree.NewLabel("Block"),
		tree.Stloc(tmp, tree.Ldloc(i)),
		tree.Stloc(i, tree.Expr(il.Add, tree.Ldloc(tmp), tree.LdcI4(1))),
		tree.Expr(il.Ret, tree.Ldloc(tmp)),
	)
	tree.Root = tree.Block(bb)

	o := newTestOptimizer(tree)
	require.True(t, o.introducePostIncrement(newInliner(tree), bb, 1))
	stmts := tree.Stmts(bb)
	require.Len(t, stmts, 3)
	assert.Equal(t, "tmp = i++", tree.FormatExpr(stmts[1]))
}

func TestPostDecrementStaticField(t *testing.T) {
	tree := newTestTree()
	f := &il.FieldDef{Name: "count", Type: il.Int32, DeclaringType: &il.TypeDef{Name: "S"}, IsStatic: true}
	tmp := temp("tmp")
	ld := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldsfld, Field: f})
	st := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Stsfld, Field: f, Args: []il.NodeID{
		tree.Expr(il.Sub, tree.Ldloc(tmp), tree.LdcI4(1)),
	}})
	bb := basicBlock(tree, tree.NewLabel("Block"), tree.Stloc(tmp, ld), st, tree.Expr(il.Ret, tree.Ldloc(tmp)))
	tree.Root = tree.Block(bb)

	require.True(t, newTestOptimizer(tree).introducePostIncrement(newInliner(tree), bb, 1))
	assert.Equal(t, "tmp = S.count--", tree.FormatExpr(tree.Stmts(bb)[1]))
}

func TestPostIncrementInstanceField(t *testing.T) {
	tree := newTestTree()
	f := &il.FieldDef{Name: "n", Type: il.Int32, DeclaringType: &il.TypeDef{Name: "C"}}
	obj := local("obj", &il.TypeDef{Name: "C"})
	h := temp("h")
	load := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Ldfld, Field: f, Args: []il.NodeID{tree.Ldloc(obj)}})
	st := tree.Add(il.Node{Kind: il.KindExpr, Code: il.Stfld, Field: f, Args: []il.NodeID{
		tree.Ldloc(obj),
		tree.Expr(il.Add, tree.Stloc(h, load), tree.LdcI4(1)),
	}})
	bb := basicBlock(tree, tree.NewLabel("Block"), st, tree.Expr(il.Ret, tree.Ldloc(h)))
	tree.Root = tree.Block(bb)

	require.True(t, newTestOptimizer(tree).postIncrementForInstanceFields(bb, 1))
	assert.Equal(t, "h = obj.n++", tree.FormatExpr(st))
}

func TestMakeAssignmentExpression(t *testing.T) {
	tree := newTestTree()
	tmp := temp("tmp")
	a := local("a", il.Int32)
	bb := basicBlock(tree,
		tree.NewLabel("Block"),
		tree.Stloc(tmp, tree.LdcI4(4)),
		tree.Stloc(a, tree.Ldloc(tmp)),
		tree.Expr(il.Ret, tree.Ldloc(tmp)),
	)
	tree.Root = tree.Block(bb)

	require.True(t, newTestOptimizer(tree).makeAssignmentExpression(newInliner(tree), bb, 1))
	stmts := tree.Stmts(bb)
	require.Len(t, stmts, 3)
	assert.Equal(t, "tmp = a = 4", tree.FormatExpr(stmts[1]))
}
