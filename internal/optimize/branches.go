package optimize

import "github.com/roach88/ildecomp/internal/il"

var branchConditions = map[il.Code]il.Code{
	il.Beq: il.Ceq,
	il.Bne: il.Cne,
	il.Bgt: il.Cgt,
	il.Bge: il.Cge,
	il.Blt: il.Clt,
	il.Ble: il.Cle,
}

// reduceBranchInstructionSet rewrites every conditional branch into
// brtrue over an explicit condition. The branch keeps its id and ranges.
func (o *optimizer) reduceBranchInstructionSet() {
	t := o.t
	for _, e := range t.Exprs(t.Root) {
		n := t.Node(e)
		switch {
		case n.Code == il.Brfalse:
			n.Args = []il.NodeID{t.Not(n.Args[0])}
		case branchConditions[n.Code] != 0:
			n.Args = []il.NodeID{t.Expr(branchConditions[n.Code], n.Args...)}
		default:
			continue
		}
		n.Code = il.Brtrue
	}
}
