package idiom

import (
	"slices"

	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/pattern"
)

var binaryOperators = map[string]il.Code{
	"op_Addition":           il.Add,
	"op_Subtraction":        il.Sub,
	"op_Multiply":           il.Mul,
	"op_Division":           il.Div,
	"op_Modulus":            il.Rem,
	"op_BitwiseAnd":         il.And,
	"op_BitwiseOr":          il.Or,
	"op_ExclusiveOr":        il.Xor,
	"op_LeftShift":          il.Shl,
	"op_RightShift":         il.Shr,
	"op_Equality":           il.Ceq,
	"op_Inequality":         il.Cne,
	"op_LessThan":           il.Clt,
	"op_GreaterThan":        il.Cgt,
	"op_LessThanOrEqual":    il.Cle,
	"op_GreaterThanOrEqual": il.Cge,
}

var unaryOperators = map[string]il.Code{
	"op_UnaryNegation":  il.Neg,
	"op_LogicalNot":     il.LogicNot,
	"op_OnesComplement": il.Not,
}

// replaceOperators turns calls of user-defined operators back into
// operator expressions. The method stays on the node so renderers can
// still tell the overload apart from the primitive operator.
func replaceOperators(t *il.Tree) {
	for _, id := range t.Exprs(t.Root) {
		n := t.Node(id)
		if n.Code != il.Call || n.Method == nil || !n.Method.IsOperator() {
			continue
		}
		name := n.Method.Name
		if op, ok := binaryOperators[name]; ok && len(n.Args) == 2 {
			n.Code = op
		} else if op, ok := unaryOperators[name]; ok && len(n.Args) == 1 {
			n.Code = op
		} else if (name == "op_Implicit" || name == "op_Explicit") && len(n.Args) == 1 {
			n.Code = il.Conv
			n.Type = n.Method.ReturnType
		}
	}
}

var compoundOperators = []il.Code{il.Add, il.Sub, il.Mul, il.Div, il.Rem, il.And, il.Or, il.Xor, il.Shl, il.Shr}

// compoundAssignment rewrites the statement x = x op y into x op= y, and
// x = x ± 1 into x++ or x--. Locals, static fields and instance fields on a
// side-effect-free object qualify.
func compoundAssignment(t *il.Tree, id il.NodeID) bool {
	if id == il.Nil || t.Kind(id) != il.KindExpr {
		return false
	}
	n := t.Node(id)
	switch n.Code {
	case il.Stloc, il.Stsfld:
	case il.Stfld:
		if !t.HasNoSideEffects(n.Args[0]) {
			return false
		}
	default:
		return false
	}
	v := t.Node(n.Args[len(n.Args)-1])
	if v.Kind != il.KindExpr || len(v.Args) != 2 || !slices.Contains(compoundOperators, v.Code) {
		return false
	}
	if !loadsTarget(t, n, v.Args[0]) {
		return false
	}
	lhs := v.Args[0]
	if delta, ok := incrementBy(t, v); ok {
		t.Replace(id, il.Node{Kind: il.KindExpr, Code: il.PostIncrement, Int: delta, Args: []il.NodeID{lhs}, Ranges: n.Ranges})
		return true
	}
	t.Replace(id, il.Node{Kind: il.KindExpr, Code: il.CompoundAssignment, Op: v.Code, Args: []il.NodeID{lhs, v.Args[1]}, Ranges: n.Ranges})
	return true
}

// loadsTarget reports whether load reads the location store writes.
func loadsTarget(t *il.Tree, store *il.Node, load il.NodeID) bool {
	switch store.Code {
	case il.Stloc:
		return t.MatchLdlocOf(load, store.Var)
	case il.Stsfld:
		ld, ok := t.MatchExpr(load, il.Ldsfld)
		return ok && ld.Field == store.Field
	case il.Stfld:
		ld, ok := t.MatchExpr(load, il.Ldfld)
		return ok && ld.Field == store.Field && pattern.Equal(t, ld.Args[0], store.Args[0])
	}
	return false
}

func incrementBy(t *il.Tree, v *il.Node) (int64, bool) {
	c, ok := t.MatchLdcI4(v.Args[1])
	if !ok || (c != 1 && c != -1) || (v.Code != il.Add && v.Code != il.Sub) {
		return 0, false
	}
	if v.Code == il.Sub {
		c = -c
	}
	return c, true
}
