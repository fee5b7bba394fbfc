package idiom

import (
	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/pattern"
)

// usingStatement rewrites
//
//	v = init; try { S } finally { if (v != null) v.Dispose(); }
//
// into using (v = init) { S }. A value-type resource is disposed without
// the null test.
func usingStatement(t *il.Tree, block il.NodeID, pos int) (int, bool) {
	stmts := t.Stmts(block)
	if pos+1 >= len(stmts) {
		return pos, false
	}
	v, _, ok := t.MatchStloc(stmts[pos])
	if !ok {
		return pos, false
	}
	try := pattern.Shape{
		Kind:     il.KindTry,
		TryBlock: pattern.Capture("body", pattern.Present),
		Finally:  disposal("v", isValueType(v)),
	}
	m, ok := pattern.RunSeq(t, []pattern.Pattern{pattern.Stloc("v", pattern.Present), try}, stmts[pos:pos+2])
	if !ok || usedOutside(t, v, stmts[pos], stmts[pos+1]) {
		return pos, false
	}
	collapse(t, block, pos, 2, stmts[pos+1], il.Node{
		Kind: il.KindUsing,
		Init: stmts[pos],
		Body: m.Node("body"),
	})
	return pos, true
}
