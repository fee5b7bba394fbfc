package optimize

import (
	"slices"

	"github.com/roach88/ildecomp/internal/il"
)

// exprPass rewrites the statement at pos of a basic block.
type exprPass func(in *inliner, bb il.NodeID, pos int) bool

// simplifyExpressions runs the expression rewrites over every basic block,
// last statement first, until a full round changes nothing.
func (o *optimizer) simplifyExpressions() {
	t := o.t
	passes := []exprPass{
		o.simplifyLdObjAndStObj,
		o.transformArrayInitializers,
		o.makeAssignmentExpression,
		o.introducePostIncrement,
	}
	for _, block := range o.methodBlocks() {
		for modified := true; modified; {
			modified = false
			in := newInliner(t)
			for _, e := range t.Exprs(block) {
				if o.foldConstant(e) {
					modified = true
				}
			}
			for _, bb := range t.Stmts(block) {
				if t.Kind(bb) != il.KindBasicBlock {
					continue
				}
				for _, pass := range passes {
					for i := len(t.Stmts(bb)) - 1; i >= 0; i-- {
						if i < len(t.Stmts(bb)) && t.Kind(t.Stmts(bb)[i]) == il.KindExpr && pass(in, bb, i) {
							modified = true
							in.analyze()
						}
					}
				}
				if in.inlineAllInBlock(bb, false) {
					modified = true
				}
			}
			o.runPerBlock(block, o.joinBasicBlocks)
		}
	}
}

// foldConstant evaluates operators over int32 and int64 constants and
// simplifies negations. Int32 arithmetic wraps.
func (o *optimizer) foldConstant(id il.NodeID) bool {
	t := o.t
	n := t.Node(id)
	if n.Kind != il.KindExpr {
		return false
	}
	if n.Code == il.LogicNot {
		return o.simplifyNot(id)
	}
	if !n.Code.IsBinaryOperator() || len(n.Args) != 2 {
		return false
	}
	a, b := t.Node(n.Args[0]), t.Node(n.Args[1])
	if a.Code != b.Code || (a.Code != il.LdcI4 && a.Code != il.LdcI8) || a.Kind != il.KindExpr || b.Kind != il.KindExpr {
		return false
	}
	x, y := a.Int, b.Int
	// Shift counts are masked to the operand width.
	width := int64(63)
	if a.Code == il.LdcI4 {
		width = 31
	}
	var r int64
	switch n.Code {
	case il.Add:
		r = x + y
	case il.Sub:
		r = x - y
	case il.Mul:
		r = x * y
	case il.And:
		r = x & y
	case il.Or:
		r = x | y
	case il.Xor:
		r = x ^ y
	case il.Shl:
		r = x << uint(y&width)
	case il.Shr:
		r = x >> uint(y&width)
	case il.Ceq, il.Cne, il.Cgt, il.Clt, il.Cge, il.Cle:
		r = boolInt(compare(n.Code, x, y))
		ranges := n.Ranges
		t.Replace(id, il.Node{Kind: il.KindExpr, Code: il.LdcI4, Int: r, InferredType: il.Bool, Ranges: ranges})
		return true
	default:
		return false
	}
	code := a.Code
	if code == il.LdcI4 {
		r = int64(int32(r))
	}
	ranges := append(slices.Clone(n.Ranges), a.Ranges...)
	ranges = append(ranges, b.Ranges...)
	t.Replace(id, il.Node{Kind: il.KindExpr, Code: code, Int: r, InferredType: n.InferredType, Ranges: ranges})
	return true
}

func compare(code il.Code, x, y int64) bool {
	switch code {
	case il.Ceq:
		return x == y
	case il.Cne:
		return x != y
	case il.Cgt:
		return x > y
	case il.Clt:
		return x < y
	case il.Cge:
		return x >= y
	}
	return x <= y
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

var negatedComparisons = map[il.Code]il.Code{
	il.Ceq: il.Cne,
	il.Cne: il.Ceq,
	il.Cgt: il.Cle,
	il.Cle: il.Cgt,
	il.Clt: il.Cge,
	il.Cge: il.Clt,
}

// simplifyNot pushes a logical negation into its operand where the result
// needs no negation node.
func (o *optimizer) simplifyNot(id il.NodeID) bool {
	t := o.t
	n := t.Node(id)
	inner := t.Node(n.Args[0])
	if inner.Kind != il.KindExpr {
		return false
	}
	ranges := append(slices.Clone(n.Ranges), inner.Ranges...)
	switch {
	case inner.Code == il.LogicNot:
		replaced := *t.Node(inner.Args[0])
		replaced.Ranges = append(ranges, replaced.Ranges...)
		t.Replace(id, replaced)
	case negatedComparisons[inner.Code] != 0:
		t.Replace(id, il.Node{Kind: il.KindExpr, Code: negatedComparisons[inner.Code],
			Args: inner.Args, InferredType: il.Bool, Ranges: ranges})
	case inner.Code == il.LdcI4:
		t.Replace(id, il.Node{Kind: il.KindExpr, Code: il.LdcI4, Int: boolInt(inner.Int == 0),
			InferredType: il.Bool, Ranges: ranges})
	default:
		return false
	}
	return true
}

// simplifyLogicNot folds negations and null comparisons across the whole
// method.
func (o *optimizer) simplifyLogicNot() {
	t := o.t
	for _, e := range t.Exprs(t.Root) {
		n := t.Node(e)
		switch n.Code {
		case il.LogicNot:
			for o.t.Code(e) == il.LogicNot && o.simplifyNot(e) {
			}
		case il.Ceq:
			// b == false is !b.
			if len(n.Args) == 2 && isBoolExpr(t, n.Args[0]) {
				if c, ok := t.MatchLdcI4(n.Args[1]); ok && c == 0 {
					n.Code = il.LogicNot
					n.Args = n.Args[:1]
					for o.t.Code(e) == il.LogicNot && o.simplifyNot(e) {
					}
				}
			}
		case il.CgtUn:
			// x > null is how compilers spell x != null.
			if len(n.Args) == 2 && t.Code(n.Args[1]) == il.Ldnull {
				n.Code = il.Cne
			}
		}
	}
}

func isBoolExpr(t *il.Tree, id il.NodeID) bool {
	n := t.Node(id)
	if n.Kind != il.KindExpr {
		return false
	}
	if n.InferredType == il.Bool || n.Code.IsComparison() {
		return true
	}
	switch n.Code {
	case il.LogicNot, il.LogicAnd, il.LogicOr:
		return true
	}
	return false
}

// simplifyLdObjAndStObj turns indirect loads and stores through a known
// address into direct accesses.
func (o *optimizer) simplifyLdObjAndStObj(in *inliner, bb il.NodeID, pos int) bool {
	t := o.t
	modified := false
	for _, e := range t.Exprs(t.Stmts(bb)[pos]) {
		if o.simplifyIndirect(e) {
			modified = true
		}
	}
	return modified
}

func (o *optimizer) simplifyIndirect(id il.NodeID) bool {
	t := o.t
	n := t.Node(id)
	if n.Code == il.Initobj && len(n.Args) == 1 {
		def := t.Add(il.Node{Kind: il.KindExpr, Code: il.DefaultValue, Type: n.Type})
		n.Code = il.Stobj
		n.Args = []il.NodeID{n.Args[0], def}
	}
	if (n.Code != il.Ldobj && n.Code != il.Stobj) || len(n.Args) == 0 {
		return false
	}
	addr := t.Node(n.Args[0])
	if addr.Kind != il.KindExpr {
		return false
	}
	rest := n.Args[1:]
	var code il.Code
	switch addr.Code {
	case il.Ldloca:
		code = pick(n.Code, il.Ldloc, il.Stloc)
		n.Var = addr.Var
	case il.Ldflda:
		code = pick(n.Code, il.Ldfld, il.Stfld)
		n.Field = addr.Field
	case il.Ldsflda:
		code = pick(n.Code, il.Ldsfld, il.Stsfld)
		n.Field = addr.Field
	case il.Ldelema:
		code = pick(n.Code, il.Ldelem, il.Stelem)
	default:
		return false
	}
	n.Code = code
	n.Args = append(slices.Clone(addr.Args), rest...)
	n.Ranges = append(n.Ranges, addr.Ranges...)
	return true
}

func pick(code, load, store il.Code) il.Code {
	if code == il.Ldobj {
		return load
	}
	return store
}

// maxConsecutiveDefaults bounds the gap of omitted default elements an
// array initializer may contain.
const maxConsecutiveDefaults = 10

// transformArrayInitializers folds stloc(v, newarr(n)) followed by stores
// to consecutive constant indices into stloc(v, initarray(...)).
func (o *optimizer) transformArrayInitializers(in *inliner, bb il.NodeID, pos int) bool {
	t := o.t
	stmts := t.Stmts(bb)
	v, newarr, ok := t.MatchStloc(stmts[pos])
	if !ok {
		return false
	}
	arr, ok := t.MatchExpr(newarr, il.Newarr)
	if !ok || len(arr.Args) != 1 {
		return false
	}
	length, ok := t.MatchLdcI4(arr.Args[0])
	if !ok || length <= 0 {
		return false
	}
	elem := arr.Type
	defaultValue := func() il.NodeID {
		return t.Add(il.Node{Kind: il.KindExpr, Code: il.DefaultValue, Type: elem})
	}
	var operands []il.NodeID
	var ranges []il.Interval
	consumed := 0
	for j := pos + 1; j < len(stmts); j++ {
		st, ok := t.MatchExpr(stmts[j], il.Stelem)
		if !ok || len(st.Args) != 3 || !t.MatchLdlocOf(st.Args[0], v) {
			break
		}
		index, ok := t.MatchLdcI4(st.Args[1])
		if !ok || index < int64(len(operands)) || index > int64(len(operands)+maxConsecutiveDefaults) || index >= length {
			break
		}
		if t.UsesVariable(st.Args[2], v) {
			break
		}
		for int64(len(operands)) < index {
			operands = append(operands, defaultValue())
		}
		operands = append(operands, st.Args[2])
		ranges = append(ranges, st.Ranges...)
		consumed++
	}
	if consumed == 0 || length-int64(len(operands)) > maxConsecutiveDefaults {
		return false
	}
	for int64(len(operands)) < length {
		operands = append(operands, defaultValue())
	}
	init := t.Add(il.Node{Kind: il.KindExpr, Code: il.InitArray, Type: elem, Args: operands,
		Ranges: append(slices.Clone(arr.Ranges), ranges...)})
	t.Node(stmts[pos]).Args[0] = init
	t.SetStmts(bb, slices.Delete(slices.Clone(stmts), pos+1, pos+1+consumed))
	in.analyze()
	in.inlineAt(bb, &pos)
	return true
}

// makeAssignmentExpression turns
//
//	stloc(tmp, value); stloc(v, ldloc(tmp))
//
// into stloc(tmp, stloc(v, value)), so chained assignments can be inlined.
func (o *optimizer) makeAssignmentExpression(in *inliner, bb il.NodeID, pos int) bool {
	t := o.t
	stmts := t.Stmts(bb)
	tmp, value, ok := t.MatchStloc(stmts[pos])
	if !ok || !tmp.IsGenerated || pos+1 >= len(stmts) {
		return false
	}
	next := stmts[pos+1]
	nn := t.Node(next)
	if _, arg, ok := t.MatchStloc(next); ok && t.MatchLdlocOf(arg, tmp) {
		if pos+2 < len(stmts) && storeCanBeAssignment(t, stmts[pos+2], tmp) &&
			in.loads[tmp] == 2 && in.stores[tmp] == 1 {
			// tmp = value; v1 = tmp; store2(tmp)  ->  v1 = store2(value)
			store2 := stmts[pos+2]
			s2 := t.Node(store2)
			s2.Args[len(s2.Args)-1] = value
			nn.Args[0] = store2
			out := slices.Clone(stmts)
			out = slices.Delete(out, pos+2, pos+3)
			out = slices.Delete(out, pos, pos+1)
			t.SetStmts(bb, out)
			in.analyze()
			in.inlineAt(bb, &pos)
			return true
		}
		nn.Args[0] = value
		t.Node(stmts[pos]).Args[0] = next
		t.SetStmts(bb, slices.Delete(slices.Clone(stmts), pos+1, pos+2))
		return true
	}
	if nn.Kind == il.KindExpr && nn.Code == il.Stsfld && len(nn.Args) == 1 && t.MatchLdlocOf(nn.Args[0], tmp) {
		nn.Args[0] = value
		t.Node(stmts[pos]).Args[0] = next
		t.SetStmts(bb, slices.Delete(slices.Clone(stmts), pos+1, pos+2))
		return true
	}
	return false
}

func storeCanBeAssignment(t *il.Tree, store il.NodeID, tmp *il.Variable) bool {
	n := t.Node(store)
	if n.Kind != il.KindExpr || len(n.Args) == 0 {
		return false
	}
	switch n.Code {
	case il.Stloc, il.Stfld, il.Stsfld, il.Stobj, il.Stelem:
	default:
		return false
	}
	return t.MatchLdlocOf(n.Args[len(n.Args)-1], tmp)
}

// introducePostIncrement recognizes the lowering of x++ and x-- whose old
// value is used.
func (o *optimizer) introducePostIncrement(in *inliner, bb il.NodeID, pos int) bool {
	modified := o.postIncrementForVariables(bb, pos)
	if o.postIncrementForInstanceFields(bb, pos) {
		in.analyze()
		in.inlineAt(bb, &pos)
		modified = true
	}
	return modified
}

// incrementAmount matches add(x, ±1) and sub(x, ±1).
func incrementAmount(t *il.Tree, id il.NodeID) (int64, bool) {
	n := t.Node(id)
	if n.Kind != il.KindExpr || (n.Code != il.Add && n.Code != il.Sub) || len(n.Args) != 2 {
		return 0, false
	}
	c, ok := t.MatchLdcI4(n.Args[1])
	if !ok || (c != 1 && c != -1) {
		return 0, false
	}
	if n.Code == il.Sub {
		c = -c
	}
	return c, true
}

// postIncrementForVariables rewrites
//
//	stloc(tmp, ldloc(i)); stloc(i, add(ldloc(tmp), 1))
//
// into stloc(tmp, postincrement(ldloc(i))). Static fields work the same.
// Two lifetimes of the same declared local are recombined.
func (o *optimizer) postIncrementForVariables(bb il.NodeID, pos int) bool {
	t := o.t
	stmts := t.Stmts(bb)
	tmp, init, ok := t.MatchStloc(stmts[pos])
	if !ok || !tmp.IsGenerated || pos+1 >= len(stmts) {
		return false
	}
	next := t.Node(stmts[pos+1])
	load := t.Node(init)
	if next.Kind != il.KindExpr || load.Kind != il.KindExpr {
		return false
	}
	recombine := false
	var value il.NodeID
	switch load.Code {
	case il.Ldloc:
		if next.Code != il.Stloc {
			return false
		}
		if load.Var != next.Var {
			if load.Var.OriginalLocal == nil || load.Var.OriginalLocal != next.Var.OriginalLocal {
				return false
			}
			recombine = true
		}
		value = next.Args[0]
	case il.Ldsfld:
		if next.Code != il.Stsfld || next.Field != load.Field {
			return false
		}
		value = next.Args[0]
	default:
		return false
	}
	delta, ok := incrementAmount(t, value)
	if !ok || !t.MatchLdlocOf(t.Node(value).Args[0], tmp) {
		return false
	}
	if recombine {
		replaceVariable(t, next.Var, load.Var)
	}
	inc := t.Add(il.Node{Kind: il.KindExpr, Code: il.PostIncrement, Int: delta, Args: []il.NodeID{init},
		Ranges: slices.Clone(next.Ranges)})
	t.Node(stmts[pos]).Args[0] = inc
	t.SetStmts(bb, slices.Delete(slices.Clone(stmts), pos+1, pos+2))
	return true
}

// postIncrementForInstanceFields rewrites
//
//	stfld(f, ldloc(o), add(stloc(tmp, ldfld(f, ldloc(o))), 1))
//
// into stloc(tmp, postincrement(ldfld(f, ldloc(o)))).
func (o *optimizer) postIncrementForInstanceFields(bb il.NodeID, pos int) bool {
	t := o.t
	id := t.Stmts(bb)[pos]
	n := t.Node(id)
	if n.Kind != il.KindExpr || n.Code != il.Stfld || len(n.Args) != 2 {
		return false
	}
	obj, ok := t.MatchLdloc(n.Args[0])
	if !ok {
		return false
	}
	delta, ok := incrementAmount(t, n.Args[1])
	if !ok {
		return false
	}
	tmp, load, ok := t.MatchStloc(t.Node(n.Args[1]).Args[0])
	if !ok || !tmp.IsGenerated {
		return false
	}
	ld, ok := t.MatchExpr(load, il.Ldfld)
	if !ok || ld.Field != n.Field || !t.MatchLdlocOf(ld.Args[0], obj) {
		return false
	}
	inc := t.Add(il.Node{Kind: il.KindExpr, Code: il.PostIncrement, Int: delta, Args: []il.NodeID{load}})
	t.Replace(id, il.Node{Kind: il.KindExpr, Code: il.Stloc, Var: tmp, Args: []il.NodeID{inc}, Ranges: n.Ranges})
	return true
}

// replaceVariable renames every access of from to to.
func replaceVariable(t *il.Tree, from, to *il.Variable) {
	t.Walk(t.Root, func(id il.NodeID) bool {
		if n := t.Node(id); n.Var == from {
			n.Var = to
		}
		return true
	})
}
