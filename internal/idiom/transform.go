package idiom

import (
	"slices"

	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/pattern"
)

// rule tries to rewrite the statements of block starting at pos. On a
// match it returns the index of the replacement statement.
type rule func(t *il.Tree, block il.NodeID, pos int) (int, bool)

var statementRules = []rule{
	foreachStatement,
	usingStatement,
	lockStatement,
	forStatement,
}

// Transform rewrites the idioms found in t.
func Transform(t *il.Tree) {
	replaceOperators(t)
	visit(t, t.Root)
}

func visit(t *il.Tree, id il.NodeID) {
	switch t.Kind(id) {
	case il.KindBlock, il.KindBasicBlock:
		for pos := 0; pos < len(t.Stmts(id)); pos++ {
			for _, r := range statementRules {
				if at, ok := r(t, id, pos); ok {
					pos = at
					break
				}
			}
			compoundAssignment(t, t.Stmts(id)[pos])
		}
	case il.KindLoop:
		doWhile(t, id)
	case il.KindFor:
		compoundAssignment(t, t.Node(id).Step)
	}
	for _, c := range t.Children(id) {
		visit(t, c)
	}
}

// collapse replaces the n statements of block starting at pos by the
// statement that used to be at keep, which now holds node.
func collapse(t *il.Tree, block il.NodeID, pos, n int, keep il.NodeID, node il.Node) {
	node.Ranges = append(slices.Clone(t.Node(keep).Ranges), node.Ranges...)
	t.Replace(keep, node)
	stmts := slices.Clone(t.Stmts(block))
	out := append(stmts[:pos:pos], keep)
	t.SetStmts(block, append(out, stmts[pos+n:]...))
}

// usedOutside reports whether v is accessed anywhere in the method except
// below the given nodes.
func usedOutside(t *il.Tree, v *il.Variable, except ...il.NodeID) bool {
	found := false
	t.Walk(t.Root, func(id il.NodeID) bool {
		if found || slices.Contains(except, id) {
			return false
		}
		if t.Node(id).Var == v {
			found = true
		}
		return !found
	})
	return found
}

// notNull matches the ways a null test of the variable in slot survives
// the pipeline.
func notNull(slot string) pattern.Pattern {
	return pattern.AnyOf(
		pattern.Ldloc(slot),
		pattern.Expr(il.Cne, pattern.Ldloc(slot), pattern.Ldnull()),
		pattern.Expr(il.CgtUn, pattern.Ldloc(slot), pattern.Ldnull()),
		pattern.Expr(il.LogicNot, pattern.Expr(il.Ceq, pattern.Ldloc(slot), pattern.Ldnull())),
	)
}

func isDispose(m *il.MethodDef) bool {
	return pattern.Named("Dispose")(m) && len(m.Params) == 0 && !m.IsStatic
}

// disposal matches the finally block that disposes the variable in slot.
// Value types are disposed unconditionally through their address;
// reference types behind a null test.
func disposal(slot string, valueType bool) pattern.Pattern {
	if valueType {
		return pattern.Seq(pattern.Call(isDispose, pattern.AnyOf(pattern.Ldloca(slot), pattern.Ldloc(slot))))
	}
	return pattern.AnyOf(
		pattern.Seq(guardedDispose(slot, slot)),
		// Non-generic enumerators are tested for IDisposable first.
		pattern.Seq(
			pattern.Stloc("disposable", pattern.Expr(il.Isinst, pattern.Ldloc(slot)).
				Type(func(td *il.TypeDef) bool { return td.FullName() == "System.IDisposable" })),
			guardedDispose("disposable", "disposable"),
		),
	)
}

func guardedDispose(test, target string) pattern.Pattern {
	return pattern.Shape{
		Kind: il.KindCondition,
		Cond: notNull(test),
		Then: pattern.Seq(pattern.Call(isDispose, pattern.Ldloc(target))),
		Else: pattern.Empty,
	}
}

func isValueType(v *il.Variable) bool {
	return v.Type != nil && v.Type.IsValueType
}
