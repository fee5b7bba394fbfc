package idiom

import (
	"fmt"

	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/pattern"
)

var foreachPattern = []pattern.Pattern{
	pattern.Stloc("enumerator", pattern.Call(pattern.Named("GetEnumerator"), pattern.Capture("collection", pattern.Present))),
	pattern.Shape{
		Kind: il.KindTry,
		TryBlock: pattern.Seq(pattern.Capture("loop", pattern.Shape{
			Kind: il.KindLoop,
			Cond: pattern.Call(pattern.Named("MoveNext"), pattern.Ldloc("enumerator")),
			Body: pattern.AnyOf(
				pattern.Seq(
					pattern.Stloc("item", pattern.Call(pattern.Named("get_Current"), pattern.Ldloc("enumerator"))),
					pattern.Rest("body"),
				),
				// The item was read once and inlined into its use.
				pattern.Seq(pattern.Rest("body")),
			),
		})),
		Finally: pattern.Any,
	},
}

// foreachStatement rewrites the enumerator protocol
//
//	e = c.GetEnumerator()
//	try { while (e.MoveNext()) { item = e.Current; S } } finally { dispose e }
//
// into foreach (item in c) { S }. The item variable is hoisted out of the
// loop when the method reads it anywhere else. When the fetch was inlined
// into S, a fresh item variable takes the place of every e.Current in S.
func foreachStatement(t *il.Tree, block il.NodeID, pos int) (int, bool) {
	stmts := t.Stmts(block)
	if pos+1 >= len(stmts) {
		return pos, false
	}
	m, ok := pattern.RunSeq(t, foreachPattern, stmts[pos:pos+2])
	if !ok {
		return pos, false
	}
	e := m.Var("enumerator")
	fin, ok := pattern.Run(t, disposal("enumerator", isValueType(e)), t.Node(stmts[pos+1]).Finally)
	if !ok || fin.Var("enumerator") != e {
		return pos, false
	}
	if usedOutside(t, e, stmts[pos], stmts[pos+1]) {
		return pos, false
	}
	loop := m.Node("loop")
	item := m.Var("item")
	var fetches []il.NodeID
	if item == nil {
		fetches = currentFetches(t, m)
		if len(fetches) == 0 {
			return pos, false
		}
	}
	if enumeratorUses(t, m) != len(fetches) {
		return pos, false
	}
	if item == nil {
		item = &il.Variable{Name: freshName(t, "item"), Type: t.Node(fetches[0]).Method.ReturnType}
		for _, f := range fetches {
			t.Replace(f, il.Node{Kind: il.KindExpr, Code: il.Ldloc, Var: item, Ranges: t.Node(f).Ranges})
		}
	}
	body := t.Block(m.List("body")...)
	node := il.Node{
		Kind: il.KindForeach,
		Var:  item,
		Cond: m.Node("collection"),
		Body: body,
	}
	if usedOutside(t, item, loop) {
		node.Hoisted = []*il.Variable{item}
	}
	collapse(t, block, pos, 2, stmts[pos+1], node)
	return pos, true
}

// currentFetches returns the e.Current reads in the loop body.
func currentFetches(t *il.Tree, m *pattern.Match) []il.NodeID {
	fetch := pattern.Call(pattern.Named("get_Current"), pattern.Ldloc("enumerator"))
	var out []il.NodeID
	for _, s := range m.List("body") {
		for _, id := range t.Exprs(s) {
			if sub, ok := pattern.Run(t, fetch, id); ok && sub.Var("enumerator") == m.Var("enumerator") {
				out = append(out, id)
			}
		}
	}
	return out
}

// enumeratorUses counts the accesses to the enumerator in the loop body.
func enumeratorUses(t *il.Tree, m *pattern.Match) int {
	e := m.Var("enumerator")
	n := 0
	for _, s := range m.List("body") {
		t.Walk(s, func(id il.NodeID) bool {
			if t.Node(id).Var == e {
				n++
			}
			return true
		})
	}
	return n
}

// freshName returns base, or base with a numeric suffix when a variable of
// the method already has that name.
func freshName(t *il.Tree, base string) string {
	taken := make(map[string]bool)
	t.Walk(t.Root, func(id il.NodeID) bool {
		if v := t.Node(id).Var; v != nil {
			taken[v.Name] = true
		}
		return true
	})
	name := base
	for i := 2; taken[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	return name
}
