package optimize

import (
	"slices"
	"strings"

	"github.com/roach88/ildecomp/internal/il"
)

// blockPass rewrites one basic block of block. It returns true after a
// change; the index it was given may then be stale.
type blockPass func(bbs *basicBlocks, block, head il.NodeID) bool

// runPerBlock applies passes to the basic blocks of block in reverse order
// until a full round changes nothing.
func (o *optimizer) runPerBlock(block il.NodeID, passes ...blockPass) {
	t := o.t
	for modified := true; modified; {
		modified = false
		for _, pass := range passes {
			bbs := o.indexBasicBlocks()
			stmts := t.Stmts(block)
			for i := len(stmts) - 1; i >= 0; i-- {
				cur := t.Stmts(block)
				if i >= len(cur) || t.Kind(cur[i]) != il.KindBasicBlock {
					continue
				}
				if pass(bbs, block, cur[i]) {
					modified = true
					bbs = o.indexBasicBlocks()
				}
			}
		}
	}
}

// methodBlocks returns the blocks that hold basic blocks.
func (o *optimizer) methodBlocks() []il.NodeID {
	var out []il.NodeID
	for _, b := range o.t.BlocksOf(o.t.Root) {
		if o.t.Kind(b) == il.KindBlock {
			out = append(out, b)
		}
	}
	return out
}

func (o *optimizer) simplifyControlFlow() {
	for _, b := range o.methodBlocks() {
		o.runPerBlock(b, o.simplifyShortCircuit, o.simplifyTernaryOperator, o.simplifyNullCoalescing, o.joinBasicBlocks)
	}
}

// replaceTail drops the last n statements of bb and appends tail.
func replaceTail(t *il.Tree, bb il.NodeID, n int, tail ...il.NodeID) {
	stmts := t.Stmts(bb)
	out := append(slices.Clone(stmts[:len(stmts)-n]), tail...)
	t.SetStmts(bb, out)
}

// makeLeftAssociativeShortCircuit combines left and right with code,
// keeping chains of the same operator left associative.
func makeLeftAssociativeShortCircuit(t *il.Tree, code il.Code, left, right il.NodeID) il.NodeID {
	if t.Code(right) == code {
		current := right
		for t.Code(t.Node(current).Args[0]) == code {
			current = t.Node(current).Args[0]
		}
		cn := t.Node(current)
		combined := t.Expr(code, left, cn.Args[0])
		t.Node(combined).InferredType = il.Bool
		cn.Args[0] = combined
		return right
	}
	id := t.Expr(code, left, right)
	t.Node(id).InferredType = il.Bool
	return id
}

// simplifyShortCircuit merges a conditional branch into a following block
// that only tests a second condition and shares one of its targets.
func (o *optimizer) simplifyShortCircuit(bbs *basicBlocks, block, head il.NodeID) bool {
	t := o.t
	trueLabel, cond, falseLabel, ok := t.MatchLastAndBr(head, il.Brtrue)
	if !ok {
		return false
	}
	for pass := 0; pass < 2; pass++ {
		nextLabel, otherLabel := trueLabel, falseLabel
		negate := pass == 1
		if negate {
			nextLabel, otherLabel = falseLabel, trueLabel
		}
		next, ok := bbs.blockOf[nextLabel]
		if !ok || next == head || !slices.Contains(t.Stmts(block), next) {
			continue
		}
		if bbs.refs[t.Stmts(next)[0]] != 1 {
			continue
		}
		nextTrue, nextCond, nextFalse, ok := t.MatchSingleAndBr(next, il.Brtrue)
		if !ok || (otherLabel != nextFalse && otherLabel != nextTrue) {
			continue
		}
		var logic il.NodeID
		if otherLabel == nextFalse {
			left := cond
			if negate {
				left = t.Not(cond)
			}
			logic = makeLeftAssociativeShortCircuit(t, il.LogicAnd, left, nextCond)
		} else {
			left := t.Not(cond)
			if negate {
				left = cond
			}
			logic = makeLeftAssociativeShortCircuit(t, il.LogicOr, left, nextCond)
		}
		replaceTail(t, head, 2, t.Brtrue(nextTrue, logic), t.Br(nextFalse))
		removeStmt(t, block, next)
		return true
	}
	return false
}

// matchSingle matches a basic block that is exactly label; code(arg).
func matchSingle(t *il.Tree, bb il.NodeID, code il.Code) (il.NodeID, bool) {
	stmts := t.Stmts(bb)
	if len(stmts) != 2 {
		return il.Nil, false
	}
	n, ok := t.MatchExpr(stmts[1], code)
	if !ok || len(n.Args) != 1 {
		return il.Nil, false
	}
	return n.Args[0], true
}

// matchSingleStore matches label; stloc(v, value); br(fall).
func matchSingleStore(t *il.Tree, bb il.NodeID) (*il.Variable, il.NodeID, il.NodeID, bool) {
	stmts := t.Stmts(bb)
	if len(stmts) != 3 {
		return nil, il.Nil, il.Nil, false
	}
	v, value, ok := t.MatchStloc(stmts[1])
	if !ok {
		return nil, il.Nil, il.Nil, false
	}
	fall, ok := t.MatchBr(stmts[2])
	if !ok {
		return nil, il.Nil, il.Nil, false
	}
	return v, value, fall, true
}

// simplifyTernaryOperator folds a diamond whose arms store into the same
// variable, or both return, into a single store or return.
func (o *optimizer) simplifyTernaryOperator(bbs *basicBlocks, block, head il.NodeID) bool {
	t := o.t
	trueLabel, cond, falseLabel, ok := t.MatchLastAndBr(head, il.Brtrue)
	if !ok || bbs.refs[trueLabel] != 1 || bbs.refs[falseLabel] != 1 {
		return false
	}
	trueBB, ok1 := bbs.blockOf[trueLabel]
	falseBB, ok2 := bbs.blockOf[falseLabel]
	if !ok1 || !ok2 || trueBB == falseBB {
		return false
	}
	body := t.Stmts(block)
	if !slices.Contains(body, trueBB) || !slices.Contains(body, falseBB) {
		return false
	}

	var (
		v                   *il.Variable
		trueExpr, falseExpr il.NodeID
		fall                il.NodeID
		retType             *il.TypeDef
	)
	trueVar, tv, trueFall, okT := matchSingleStore(t, trueBB)
	falseVar, fv, falseFall, okF := matchSingleStore(t, falseBB)
	switch {
	case okT && okF && trueVar == falseVar && trueFall == falseFall:
		v, trueExpr, falseExpr, fall = trueVar, tv, fv, trueFall
		retType = v.Type
	default:
		tr, okT := matchSingle(t, trueBB, il.Ret)
		fr, okF := matchSingle(t, falseBB, il.Ret)
		if !okT || !okF {
			return false
		}
		trueExpr, falseExpr = tr, fr
		if t.Method != nil {
			retType = t.Method.ReturnType
		}
	}

	isBool := retType == il.Bool
	left, leftConst := t.MatchLdcI4(trueExpr)
	right, rightConst := t.MatchLdcI4(falseExpr)
	var result il.NodeID
	switch {
	case isBool && leftConst && rightConst && (left != 0) != (right != 0):
		if left != 0 {
			result = cond
		} else {
			result = t.Not(cond)
			t.Node(result).InferredType = il.Bool
		}
	case (isBool || t.Node(falseExpr).InferredType == il.Bool) && leftConst && (left == 0 || left == 1):
		if left != 0 {
			result = makeLeftAssociativeShortCircuit(t, il.LogicOr, cond, falseExpr)
		} else {
			result = makeLeftAssociativeShortCircuit(t, il.LogicAnd, t.Not(cond), falseExpr)
		}
	case (isBool || t.Node(trueExpr).InferredType == il.Bool) && rightConst && (right == 0 || right == 1):
		if right != 0 {
			result = makeLeftAssociativeShortCircuit(t, il.LogicOr, t.Not(cond), trueExpr)
		} else {
			result = makeLeftAssociativeShortCircuit(t, il.LogicAnd, cond, trueExpr)
		}
	default:
		// Long ternaries in return statements read poorly.
		if v == nil || !v.IsGenerated {
			return false
		}
		result = t.Expr(il.TernaryOp, cond, trueExpr, falseExpr)
		t.Node(result).InferredType = retType
	}

	if v != nil {
		replaceTail(t, head, 2, t.Stloc(v, result), t.Br(fall))
	} else {
		ret := t.Expr(il.Ret, result)
		replaceTail(t, head, 2, ret)
	}
	removeStmt(t, block, trueBB)
	removeStmt(t, block, falseBB)
	return true
}

// simplifyNullCoalescing folds
//
//	stloc(v, left); brtrue(end, ldloc(v)); br(right)
//	right: stloc(v, value); br(end)
//
// into stloc(v, left ?? value); br(end). A value-typed v is a non-zero
// test, not a null test, and is left alone.
func (o *optimizer) simplifyNullCoalescing(bbs *basicBlocks, block, head il.NodeID) bool {
	t := o.t
	stmts := t.Stmts(head)
	if len(stmts) < 4 {
		return false
	}
	v, left, ok := t.MatchStloc(stmts[len(stmts)-3])
	if !ok || !v.IsGenerated || !canBeNull(v.Type) {
		return false
	}
	end, test, rightLabel, ok := t.MatchLastAndBr(head, il.Brtrue)
	if !ok || !t.MatchLdlocOf(test, v) || bbs.refs[rightLabel] != 1 {
		return false
	}
	rightBB, ok := bbs.blockOf[rightLabel]
	if !ok || !slices.Contains(t.Stmts(block), rightBB) {
		return false
	}
	v2, right, end2, ok := matchSingleStore(t, rightBB)
	if !ok || v2 != v || end2 != end {
		return false
	}
	coalesce := t.Expr(il.NullCoalescing, left, right)
	replaceTail(t, head, 3, t.Stloc(v, coalesce), t.Br(end))
	removeStmt(t, block, rightBB)
	return true
}

// canBeNull reports whether values of typ can be compared with null.
func canBeNull(typ *il.TypeDef) bool {
	if typ == nil {
		return false
	}
	return !typ.IsValueType || strings.HasPrefix(typ.FullName(), "System.Nullable")
}
