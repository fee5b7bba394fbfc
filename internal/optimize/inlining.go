package optimize

import (
	"slices"
	"strconv"

	"github.com/roach88/ildecomp/internal/il"
)

// inliner substitutes single-use variables into their use sites. The
// counters cover the whole method and are kept current by the rewrites.
type inliner struct {
	t      *il.Tree
	stores map[*il.Variable]int
	loads  map[*il.Variable]int
	addrs  map[*il.Variable]int
}

func newInliner(t *il.Tree) *inliner {
	in := &inliner{t: t}
	in.analyze()
	return in
}

func (in *inliner) analyze() {
	in.stores = make(map[*il.Variable]int)
	in.loads = make(map[*il.Variable]int)
	in.addrs = make(map[*il.Variable]int)
	in.count(in.t.Root, 1)
}

func (in *inliner) count(id il.NodeID, delta int) {
	in.t.Walk(id, func(c il.NodeID) bool {
		n := in.t.Node(c)
		switch {
		case n.Kind == il.KindCatch && n.Var != nil:
			in.stores[n.Var] += delta
		case n.Kind != il.KindExpr:
		case n.Code == il.Ldloc:
			in.loads[n.Var] += delta
		case n.Code == il.Ldloca:
			in.addrs[n.Var] += delta
		case n.Code == il.Stloc:
			in.stores[n.Var] += delta
		}
		return true
	})
}

// inlineAllVariables runs inlineAllInBlock over every block until nothing
// changes.
func (in *inliner) inlineAllVariables(aggressive bool) bool {
	modified := false
	for _, b := range in.t.BlocksOf(in.t.Root) {
		if in.inlineAllInBlock(b, aggressive) {
			modified = true
		}
	}
	in.inlineCatchVariables()
	return modified
}

func (in *inliner) inlineAllInBlock(block il.NodeID, aggressive bool) bool {
	t := in.t
	modified := false
	for i := 0; i < len(t.Stmts(block))-1; {
		if _, _, ok := t.MatchStloc(t.Stmts(block)[i]); ok && in.inlineOneIfPossible(block, i, aggressive) {
			modified = true
			i = max(0, i-1)
		} else {
			i++
		}
	}
	return modified
}

// inlineCatchVariables binds a catch clause directly to the user variable
// when the body starts by copying a generated exception variable into it.
func (in *inliner) inlineCatchVariables() {
	t := in.t
	t.Walk(t.Root, func(id il.NodeID) bool {
		c := t.Node(id)
		if c.Kind != il.KindCatch || c.Var == nil || !c.Var.IsGenerated || c.Filter != il.Nil {
			return true
		}
		v := c.Var
		if in.addrs[v] != 0 || in.stores[v] != 1 || in.loads[v] != 1 {
			return true
		}
		stmts := t.Stmts(c.Body)
		if len(stmts) < 2 {
			return true
		}
		if v2, value, ok := t.MatchStloc(stmts[0]); ok && t.MatchLdlocOf(value, v) {
			t.SetStmts(c.Body, slices.Delete(slices.Clone(stmts), 0, 1))
			c.Var = v2
		}
		return true
	})
}

// inlineOneIfPossible inlines the store at pos into the next statement, or
// removes it when its variable is never read.
func (in *inliner) inlineOneIfPossible(block il.NodeID, pos int, aggressive bool) bool {
	t := in.t
	stmts := t.Stmts(block)
	store := stmts[pos]
	v, value, ok := t.MatchStloc(store)
	if !ok || v.IsPinned {
		return false
	}
	next := il.Nil
	if pos+1 < len(stmts) {
		next = stmts[pos+1]
	}
	if in.inlineIfPossible(v, value, next, aggressive) {
		t.AddRanges(value, t.Node(store).Ranges...)
		t.SetStmts(block, slices.Delete(stmts, pos, pos+1))
		return true
	}
	if in.loads[v] == 0 && in.addrs[v] == 0 {
		if t.HasNoSideEffects(value) {
			in.count(store, -1)
			t.SetStmts(block, slices.Delete(stmts, pos, pos+1))
			return true
		}
		if v.IsGenerated && t.CanBeExpressionStatement(value) {
			in.stores[v]--
			t.AddRanges(value, t.Node(store).Ranges...)
			stmts[pos] = value
			return true
		}
	}
	return false
}

// inlineIfPossible substitutes value for the single load of v in next.
func (in *inliner) inlineIfPossible(v *il.Variable, value, next il.NodeID, aggressive bool) bool {
	t := in.t
	if in.stores[v] != 1 {
		return false
	}
	loads := in.loads[v]
	if loads > 1 || loads+in.addrs[v] != 1 {
		return false
	}
	if next == il.Nil {
		return false
	}
	// A loop condition is evaluated on every iteration, so nothing is
	// moved into it.
	switch n := t.Node(next); n.Kind {
	case il.KindCondition, il.KindSwitch:
		next = n.Cond
	}
	if t.Kind(next) != il.KindExpr {
		return false
	}

	parent, pos, found := in.findLoadInNext(next, v, value)
	if found != loadFound {
		return false
	}
	if loads == 0 {
		if !in.isGeneratedValueTypeTemporary(parent, pos, v, value) {
			return false
		}
	} else if !aggressive && !v.IsGenerated && !in.nonAggressiveInlineInto(next, parent, value) {
		return false
	}

	p := t.Node(parent)
	load := p.Args[pos]
	t.AddRanges(value, t.Node(load).Ranges...)
	if loads == 0 {
		p.Args[pos] = t.Expr(il.AddressOf, value)
	} else {
		p.Args[pos] = value
	}
	in.stores[v]--
	in.loads[v] = 0
	in.addrs[v] = 0
	return true
}

// nonAggressiveInlineInto restricts mid-pipeline inlining of user variables
// to return values, branch conditions and switch selectors.
func (in *inliner) nonAggressiveInlineInto(next, parent, value il.NodeID) bool {
	t := in.t
	if t.Code(value) == il.DefaultValue {
		return true
	}
	switch t.Code(next) {
	case il.Ret, il.Brtrue:
		return parent == next
	case il.Switch:
		return parent == next || (t.Code(parent) == il.Sub && parent == t.Node(next).Args[0])
	}
	return false
}

// isGeneratedValueTypeTemporary matches a generated temporary whose address
// is only taken to call a method or access a field on a value-type result.
func (in *inliner) isGeneratedValueTypeTemporary(parent il.NodeID, pos int, v *il.Variable, value il.NodeID) bool {
	if !v.IsGenerated || pos != 0 {
		return false
	}
	switch in.t.Code(parent) {
	case il.Call, il.Callvirt, il.Ldfld, il.Stfld, il.Ldflda:
		return isValueTypeExpr(in.t, value)
	}
	return false
}

func isValueTypeExpr(t *il.Tree, id il.NodeID) bool {
	n := t.Node(id)
	var typ *il.TypeDef
	switch n.Code {
	case il.Newobj:
		typ = n.Method.DeclaringType
	case il.Call, il.Callvirt:
		typ = n.Method.ReturnType
	case il.Ldfld, il.Ldsfld:
		typ = n.Field.Type
	case il.Ldobj, il.UnboxAny, il.DefaultValue:
		typ = n.Type
	}
	return typ != nil && typ.IsValueType && typ != il.Void
}

type loadSearch int

const (
	loadContinue loadSearch = iota
	loadFound
	loadBlocked
)

// findLoadInNext looks for the load of v in evaluation order, stopping at
// the first node the moved value may not be evaluated after.
func (in *inliner) findLoadInNext(expr il.NodeID, v *il.Variable, moved il.NodeID) (il.NodeID, int, loadSearch) {
	t := in.t
	n := t.Node(expr)
	for i, a := range n.Args {
		// Operands after the first are evaluated conditionally.
		if i == 1 {
			switch n.Code {
			case il.LogicAnd, il.LogicOr, il.TernaryOp, il.NullCoalescing:
				return il.Nil, 0, loadBlocked
			}
		}
		an := t.Node(a)
		if (an.Code == il.Ldloc || an.Code == il.Ldloca) && an.Var == v {
			return expr, i, loadFound
		}
		if parent, pos, r := in.findLoadInNext(a, v, moved); r != loadContinue {
			return parent, pos, r
		}
	}
	if in.isSafeForInlineOver(expr, moved) {
		return il.Nil, 0, loadContinue
	}
	return il.Nil, 0, loadBlocked
}

// isSafeForInlineOver reports whether moved may be evaluated after expr
// instead of before it.
func (in *inliner) isSafeForInlineOver(expr, moved il.NodeID) bool {
	t := in.t
	n := t.Node(expr)
	switch n.Code {
	case il.Ldloc:
		if in.addrs[n.Var] != 0 {
			return false
		}
		for _, e := range t.Exprs(moved) {
			if t.SameVarStore(e, n.Var) {
				return false
			}
		}
		return true
	case il.Ldloca, il.Ldflda, il.Ldsflda, il.Ldelema, il.AddressOf:
		for _, a := range n.Args {
			if !in.isSafeForInlineOver(a, moved) {
				return false
			}
		}
		return true
	}
	return t.HasNoSideEffects(expr)
}

// inlineInto inlines the stores preceding pos into the statement at pos,
// walking backwards while that keeps succeeding. Returns how many stores
// were consumed.
func (in *inliner) inlineInto(block il.NodeID, pos int, aggressive bool) int {
	if pos >= len(in.t.Stmts(block)) {
		return 0
	}
	orig := pos
	for pos--; pos >= 0; pos-- {
		if _, _, ok := in.t.MatchStloc(in.t.Stmts(block)[pos]); !ok {
			break
		}
		if !in.inlineOneIfPossible(block, pos, aggressive) {
			break
		}
	}
	return orig - pos - 1
}

// inlineAt tries the store at pos aggressively and then the stores before
// it non-aggressively. pos is updated to the surviving statement.
func (in *inliner) inlineAt(block il.NodeID, pos *int) bool {
	if in.inlineOneIfPossible(block, *pos, true) {
		*pos -= in.inlineInto(block, *pos, false)
		return true
	}
	return false
}

// copyPropagation replaces loads of single-assignment copies with the
// copied value when re-evaluating it is equivalent.
func (in *inliner) copyPropagation() {
	t := in.t
	for _, b := range t.BlocksOf(t.Root) {
		for i := 0; i < len(t.Stmts(b)); i++ {
			store := t.Stmts(b)[i]
			v, copied, ok := t.MatchStloc(store)
			if !ok || v.IsParameter() || in.stores[v] != 1 || in.addrs[v] != 0 || !in.canCopy(copied, v) {
				continue
			}
			cn := t.Node(copied)
			uninlined := make([]*il.Variable, len(cn.Args))
			stmts := slices.Clone(t.Stmts(b))
			for j, arg := range cn.Args {
				uninlined[j] = &il.Variable{Name: v.Name + "_cp_" + strconv.Itoa(j), IsGenerated: true}
				stmts = slices.Insert(stmts, i, t.Stloc(uninlined[j], arg))
				i++
			}
			for _, e := range t.Exprs(t.Root) {
				n := t.Node(e)
				if n.Code != il.Ldloc || n.Var != v {
					continue
				}
				ranges := n.Ranges
				*n = *cn
				n.Ranges = ranges
				n.Args = nil
				for _, u := range uninlined {
					n.Args = append(n.Args, t.Ldloc(u))
				}
			}
			stmts = slices.Delete(stmts, i, i+1)
			t.SetStmts(b, stmts)
			in.analyze()
			consumed := in.inlineInto(b, i, false)
			i = max(i-len(uninlined)-1-consumed, -1)
		}
	}
}

// canCopy reports whether expr yields the same value wherever v is read.
func (in *inliner) canCopy(expr il.NodeID, copy *il.Variable) bool {
	t := in.t
	n := t.Node(expr)
	switch n.Code {
	case il.Ldloca, il.Ldelema, il.Ldflda, il.Ldsflda:
		for _, a := range n.Args {
			if !in.canCopy(a, copy) {
				return false
			}
		}
		return true
	case il.Ldloc:
		v := n.Var
		if v.IsParameter() {
			return in.addrs[v] == 0 && in.stores[v] == 0
		}
		return v.IsGenerated && copy.IsGenerated && in.addrs[v] == 0 && in.stores[v] == 1
	}
	return false
}
