package optimize

import (
	"github.com/roach88/ildecomp/internal/il"
)

// removeRedundantCode drops nops, pops of loaded temporaries and branches to
// the immediately following label, clears the stack arguments of leave and
// strips dup wrappers.
func (o *optimizer) removeRedundantCode() {
	t := o.t
	refs := t.LabelRefs(t.Root)
	for _, b := range t.BlocksOf(t.Root) {
		stmts := t.Stmts(b)
		kept := make([]il.NodeID, 0, len(stmts))
		for i := 0; i < len(stmts); i++ {
			s := stmts[i]
			if target, ok := t.MatchBr(s); ok && i+1 < len(stmts) && stmts[i+1] == target {
				if refs[target] == 1 {
					i++
				}
				continue
			}
			if _, ok := t.MatchExpr(s, il.Nop); ok {
				continue
			}
			if pop, ok := t.MatchExpr(s, il.Pop); ok && len(pop.Args) == 1 {
				if v, ok := t.MatchLdloc(pop.Args[0]); ok {
					if len(kept) > 0 && t.SameVarStore(kept[len(kept)-1], v) {
						_, value, _ := t.MatchStloc(kept[len(kept)-1])
						t.AddRanges(value, pop.Ranges...)
					}
					continue
				}
			}
			kept = append(kept, s)
		}
		t.SetStmts(b, kept)
	}

	for _, e := range t.Exprs(t.Root) {
		n := t.Node(e)
		if n.Code == il.Leave {
			n.Args = nil
		}
		for i, a := range n.Args {
			if dup, ok := t.MatchExpr(a, il.Dup); ok && len(dup.Args) == 1 {
				t.AddRanges(dup.Args[0], dup.Ranges...)
				n.Args[i] = dup.Args[0]
			}
		}
	}
}
