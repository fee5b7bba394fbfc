package idiom

import (
	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/pattern"
)

func monitor(name string) func(*il.MethodDef) bool {
	return func(m *il.MethodDef) bool {
		return m.Name == name && m.IsStatic && m.DeclaringType.FullName() == "System.Threading.Monitor"
	}
}

// lockStatement rewrites both lowerings of lock (o) { S }:
//
//	flag = false; try { Monitor.Enter(o, ref flag); S } finally { if (flag) Monitor.Exit(o); }
//	Monitor.Enter(o); try { S } finally { Monitor.Exit(o); }
//
// A temporary that only holds the lock object is folded back into the
// lock expression.
func lockStatement(t *il.Tree, block il.NodeID, pos int) (int, bool) {
	stmts := t.Stmts(block)
	if pos+1 >= len(stmts) {
		return pos, false
	}
	var (
		m    *pattern.Match
		ok   bool
		body il.NodeID
	)
	flagged := []pattern.Pattern{
		pattern.Stloc("flag", pattern.LdcI4(0)),
		pattern.Shape{
			Kind: il.KindTry,
			TryBlock: pattern.Seq(
				pattern.Expr(il.Call, pattern.Capture("obj", pattern.Present), pattern.Ldloca("flag")).Method(monitor("Enter")),
				pattern.Rest("body"),
			),
			Finally: pattern.Seq(pattern.Shape{
				Kind: il.KindCondition,
				Cond: pattern.Ldloc("flag"),
				Then: pattern.Seq(pattern.Expr(il.Call, pattern.Backref("obj")).Method(monitor("Exit"))),
				Else: pattern.Empty,
			}),
		},
	}
	legacy := []pattern.Pattern{
		pattern.Expr(il.Call, pattern.Capture("obj", pattern.Present)).Method(monitor("Enter")),
		pattern.Shape{
			Kind:     il.KindTry,
			TryBlock: pattern.Capture("block", pattern.Present),
			Finally:  pattern.Seq(pattern.Expr(il.Call, pattern.Backref("obj")).Method(monitor("Exit"))),
		},
	}
	if m, ok = pattern.RunSeq(t, flagged, stmts[pos:pos+2]); ok {
		if usedOutside(t, m.Var("flag"), stmts[pos], stmts[pos+1]) {
			return pos, false
		}
		body = t.Block(m.List("body")...)
	} else if m, ok = pattern.RunSeq(t, legacy, stmts[pos:pos+2]); ok {
		body = m.Node("block")
	} else {
		return pos, false
	}

	start, n := pos, 2
	obj := m.Node("obj")
	if v, isLoad := t.MatchLdloc(obj); isLoad && pos > 0 {
		if tmp, value, isStore := t.MatchStloc(stmts[pos-1]); isStore && tmp == v &&
			!usedOutside(t, v, stmts[pos-1], stmts[pos], stmts[pos+1]) {
			obj = value
			start, n = pos-1, 3
		}
	}
	collapse(t, block, start, n, stmts[pos+1], il.Node{
		Kind: il.KindLock,
		Cond: obj,
		Body: body,
	})
	return start, true
}
