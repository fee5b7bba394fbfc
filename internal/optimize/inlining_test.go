package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/testutil"
)

func positive(tree *il.Tree, v *il.Variable) il.NodeID {
	return tree.Expr(il.Cgt, tree.Ldloc(v), tree.LdcI4(0))
}

func TestInlineIntoConditionButNotLoopCondition(t *testing.T) {
	tree := newTestTree()
	x := temp("x")
	cond := tree.Add(il.Node{Kind: il.KindCondition, Cond: positive(tree, x),
		Then: tree.Block(call(tree, "G")), Else: tree.Block()})
	tree.Root = tree.Block(tree.Stloc(x, call(tree, "F")), cond)

	newInliner(tree).inlineAllVariables(true)
	require.Equal(t, []il.NodeID{cond}, tree.Stmts(tree.Root))
	assert.Equal(t, "Sink.F() > 0", tree.FormatExpr(tree.Node(cond).Cond))

	tree = newTestTree()
	loop := tree.Add(il.Node{Kind: il.KindLoop, Cond: positive(tree, x), Body: tree.Block(call(tree, "G"))})
	tree.Root = tree.Block(tree.Stloc(x, call(tree, "F")), loop)

	newInliner(tree).inlineAllVariables(true)
	assert.Len(t, tree.Stmts(tree.Root), 2, "the call runs once, not once per iteration")
	assert.Equal(t, "x > 0", tree.FormatExpr(tree.Node(loop).Cond))
}

func TestInlineStopsAtConditionalOperand(t *testing.T) {
	c := local("c", il.Bool)
	tests := []struct {
		name    string
		cond    func(tree *il.Tree, x *il.Variable) il.NodeID
		inlined bool
	}{
		{"left of and", func(tree *il.Tree, x *il.Variable) il.NodeID {
			return tree.Expr(il.LogicAnd, tree.Ldloc(x), tree.Ldloc(c))
		}, true},
		{"right of and", func(tree *il.Tree, x *il.Variable) il.NodeID {
			return tree.Expr(il.LogicAnd, tree.Ldloc(c), tree.Ldloc(x))
		}, false},
		{"right of or", func(tree *il.Tree, x *il.Variable) il.NodeID {
			return tree.Expr(il.LogicOr, tree.Ldloc(c), tree.Ldloc(x))
		}, false},
		{"ternary arm", func(tree *il.Tree, x *il.Variable) il.NodeID {
			return tree.Expr(il.TernaryOp, tree.Ldloc(c), tree.Ldloc(x), tree.LdcI4(0))
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := newTestTree()
			x := temp("x")
			cond := tree.Add(il.Node{Kind: il.KindCondition, Cond: tt.cond(tree, x),
				Then: tree.Block(call(tree, "G")), Else: tree.Block()})
			tree.Root = tree.Block(tree.Stloc(x, call(tree, "F")), cond)

			newInliner(tree).inlineAllVariables(true)
			if tt.inlined {
				assert.Len(t, tree.Stmts(tree.Root), 1)
			} else {
				assert.Len(t, tree.Stmts(tree.Root), 2, "F must not become conditional")
			}
		})
	}
}

func TestSideEffectNotMovedIntoLoopCondition(t *testing.T) {
	tree := decompile(t, testutil.StaticMethod(t, `locals: ["int32 x"]`, `
   call int32 Sink::F()
   stloc x
   br C
B: call void Sink::G()
C: ldloc x
   ldc.i4 0
   bgt B
   ret`), Options{})

	out := tree.Format(tree.Root)
	assert.Contains(t, out, "x = Sink.F();")
	assert.Contains(t, out, "while (x > 0) {")
	assert.NotContains(t, out, "while (Sink.F()")
}
