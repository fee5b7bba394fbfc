package idiom

import (
	"slices"

	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/pattern"
)

// step matches the statement that advances the variable in slot.
var step = pattern.AnyOf(
	pattern.Where(pattern.Stloc("i", pattern.Present), func(m *pattern.Match, id il.NodeID) bool {
		return m.Tree.UsesVariable(m.Tree.Node(id).Args[0], m.Var("i"))
	}),
	pattern.Expr(il.PostIncrement, pattern.Ldloc("i")),
	pattern.Expr(il.CompoundAssignment, pattern.Ldloc("i"), pattern.Present),
)

// forStatement rewrites
//
//	i = init; while (cond) { S; i = next }
//
// into for (i = init; cond; i = next) { S } when cond reads i. A body that
// continues the loop keeps the while form, since continue would skip the
// step there but not in a for loop.
func forStatement(t *il.Tree, block il.NodeID, pos int) (int, bool) {
	stmts := t.Stmts(block)
	if pos+1 >= len(stmts) {
		return pos, false
	}
	items := []pattern.Pattern{
		pattern.Stloc("i", pattern.Present),
		pattern.Shape{
			Kind: il.KindLoop,
			Cond: pattern.Capture("cond", pattern.Present),
			Body: pattern.Seq(pattern.Rest("body"), pattern.Capture("step", step)),
		},
	}
	m, ok := pattern.RunSeq(t, items, stmts[pos:pos+2])
	if !ok {
		return pos, false
	}
	loop := t.Node(stmts[pos+1])
	if !t.UsesVariable(m.Node("cond"), m.Var("i")) || t.ContainsContinue(loop.Body) {
		return pos, false
	}
	collapse(t, block, pos, 2, stmts[pos+1], il.Node{
		Kind: il.KindFor,
		Init: stmts[pos],
		Cond: m.Node("cond"),
		Step: m.Node("step"),
		Body: t.Block(m.List("body")...),
	})
	return pos, true
}

var doWhilePattern = pattern.Shape{
	Kind: il.KindLoop,
	Body: pattern.Seq(
		pattern.Rest("body"),
		pattern.Shape{
			Kind: il.KindCondition,
			Cond: pattern.Capture("exit", pattern.Present),
			Then: pattern.Seq(pattern.Expr(il.LoopBreak)),
			Else: pattern.Empty,
		},
	),
}

// doWhile rewrites while (true) { S; if (c) break; } into
// do { S } while (!c). Variables the body assigns and the condition reads
// are declared before the loop unless the method uses them elsewhere.
func doWhile(t *il.Tree, loop il.NodeID) bool {
	m, ok := pattern.Run(t, doWhilePattern, loop)
	if !ok {
		return false
	}
	body := m.List("body")
	for _, s := range body {
		if t.ContainsContinue(s) {
			return false
		}
	}
	cond := negate(t, m.Node("exit"))
	var hoisted []*il.Variable
	for _, e := range t.Exprs(cond) {
		v := t.Node(e).Var
		if v == nil || v.IsParameter() || slices.Contains(hoisted, v) || !assigns(t, body, v) ||
			usedOutside(t, v, loop) {
			continue
		}
		hoisted = append(hoisted, v)
	}
	t.Replace(loop, il.Node{
		Kind:    il.KindDoWhile,
		Body:    t.Block(body...),
		Cond:    cond,
		Hoisted: hoisted,
		Ranges:  t.Node(loop).Ranges,
	})
	return true
}

func assigns(t *il.Tree, stmts []il.NodeID, v *il.Variable) bool {
	for _, s := range stmts {
		for _, e := range t.Exprs(s) {
			if t.SameVarStore(e, v) {
				return true
			}
		}
	}
	return false
}

// negate returns the logical negation of cond, folding a leading not and
// flipping equality tests.
func negate(t *il.Tree, cond il.NodeID) il.NodeID {
	n := t.Node(cond)
	if n.Kind == il.KindExpr {
		switch n.Code {
		case il.LogicNot:
			return n.Args[0]
		case il.Ceq:
			flipped := *n
			flipped.Code = il.Cne
			return t.Add(flipped)
		case il.Cne:
			flipped := *n
			flipped.Code = il.Ceq
			return t.Add(flipped)
		}
	}
	return t.Not(cond)
}
