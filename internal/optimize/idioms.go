package optimize

import (
	"slices"
	"strings"

	"github.com/roach88/ildecomp/internal/il"
)

// cachedDelegateInitialization removes the lazy caching of lambdas the
// compiler emits:
//
//	if (field == null) field = new D(null, ldftn(<M>b__0)); use(field)
//
// becomes use(new D(null, ldftn(<M>b__0))). The local variant caches a
// delegate over a closure object.
func (o *optimizer) cachedDelegateInitialization() {
	t := o.t
	for _, b := range t.BlocksOf(t.Root) {
		if t.Kind(b) != il.KindBlock {
			continue
		}
		for i := len(t.Stmts(b)) - 1; i >= 0; i-- {
			if i >= len(t.Stmts(b)) {
				continue
			}
			if !o.cachedDelegateWithField(b, i) {
				o.cachedDelegateWithLocal(b, i)
			}
		}
	}
}

// matchCacheTest matches a condition testing a cached value for null and
// returns the load being tested.
func matchCacheTest(t *il.Tree, cond il.NodeID) (il.NodeID, bool) {
	for {
		not, ok := t.MatchExpr(cond, il.LogicNot)
		if !ok {
			break
		}
		inner, ok := t.MatchExpr(not.Args[0], il.LogicNot)
		if !ok {
			return not.Args[0], true
		}
		cond = inner.Args[0]
	}
	if ceq, ok := t.MatchExpr(cond, il.Ceq); ok && len(ceq.Args) == 2 && t.Code(ceq.Args[1]) == il.Ldnull {
		return ceq.Args[0], true
	}
	return il.Nil, false
}

// matchCacheCondition matches if (test) { store } with an empty else.
func matchCacheCondition(t *il.Tree, id il.NodeID) (load, store il.NodeID, ok bool) {
	c := t.Node(id)
	if c.Kind != il.KindCondition {
		return il.Nil, il.Nil, false
	}
	then := t.Stmts(c.Then)
	if len(then) != 1 || len(t.Stmts(c.Else)) != 0 {
		return il.Nil, il.Nil, false
	}
	load, ok = matchCacheTest(t, c.Cond)
	return load, then[0], ok
}

// matchDelegate matches newobj(ctor, target, ldftn(anonymous method)).
func matchDelegate(t *il.Tree, id il.NodeID) bool {
	n, ok := t.MatchExpr(id, il.Newobj)
	if !ok || len(n.Args) != 2 {
		return false
	}
	ftn, ok := t.MatchExpr(n.Args[1], il.Ldftn)
	return ok && isAnonymousMethod(ftn.Method)
}

func isAnonymousMethod(m *il.MethodDef) bool {
	if m == nil {
		return false
	}
	return m.CompilerGenerated || strings.HasPrefix(m.Name, "<") ||
		(m.DeclaringType != nil && m.DeclaringType.CompilerGenerated)
}

func isCompilerGeneratedField(f *il.FieldDef) bool {
	return f != nil && (f.CompilerGenerated || (f.DeclaringType != nil && f.DeclaringType.CompilerGenerated))
}

func (o *optimizer) cachedDelegateWithField(block il.NodeID, i int) bool {
	t := o.t
	stmts := t.Stmts(block)
	load, store, ok := matchCacheCondition(t, stmts[i])
	if !ok {
		return false
	}
	ld, ok := t.MatchExpr(load, il.Ldsfld)
	if !ok || !isCompilerGeneratedField(ld.Field) {
		return false
	}
	st, ok := t.MatchExpr(store, il.Stsfld)
	if !ok || st.Field != ld.Field || len(st.Args) != 1 {
		return false
	}
	newObj := st.Args[0]
	if !matchDelegate(t, newObj) || t.Code(t.Node(newObj).Args[0]) != il.Ldnull {
		return false
	}
	if i+1 >= len(stmts) {
		return false
	}
	uses := fieldLoads(t, stmts[i+1], ld.Field)
	if len(uses) != 1 {
		return false
	}
	t.Node(uses[0].parent).Args[uses[0].index] = newObj
	t.SetStmts(block, slices.Delete(slices.Clone(stmts), i, i+1))
	newInliner(t).inlineInto(block, i, false)
	return true
}

type argRef struct {
	parent il.NodeID
	index  int
}

// fieldLoads returns every argument slot below id holding ldsfld(f).
func fieldLoads(t *il.Tree, id il.NodeID, f *il.FieldDef) []argRef {
	var out []argRef
	for _, e := range t.Exprs(id) {
		for j, a := range t.Node(e).Args {
			if n, ok := t.MatchExpr(a, il.Ldsfld); ok && n.Field == f {
				out = append(out, argRef{e, j})
			}
		}
	}
	return out
}

func (o *optimizer) cachedDelegateWithLocal(block il.NodeID, i int) bool {
	t := o.t
	stmts := t.Stmts(block)
	load, store, ok := matchCacheCondition(t, stmts[i])
	if !ok || i+1 >= len(stmts) {
		return false
	}
	v, ok := t.MatchLdloc(load)
	if !ok {
		return false
	}
	sv, newObj, ok := t.MatchStloc(store)
	if !ok || sv != v || !matchDelegate(t, newObj) {
		return false
	}
	count := 0
	for _, e := range t.Exprs(stmts[i+1]) {
		if t.MatchLdlocOf(e, v) {
			count++
		}
	}
	if count != 1 {
		return false
	}
	in := newInliner(t)
	if in.loads[v] != 2 || in.addrs[v] != 0 {
		return false
	}
	// The cache is reset to null before its first use.
	if in.stores[v] == 2 {
		for _, b := range t.BlocksOf(t.Root) {
			bs := t.Stmts(b)
			j := slices.IndexFunc(bs, func(s il.NodeID) bool {
				sv, value, ok := t.MatchStloc(s)
				return ok && sv == v && t.Code(value) == il.Ldnull
			})
			if j >= 0 {
				t.SetStmts(b, slices.Delete(slices.Clone(bs), j, j+1))
				if b == block && j < i {
					i--
				}
				break
			}
		}
	} else if in.stores[v] != 1 {
		return false
	}
	stmts = slices.Clone(t.Stmts(block))
	stmts[i] = store
	t.SetStmts(block, stmts)
	newInliner(t).inlineOneIfPossible(block, i, false)
	return true
}

// introduceFixedStatements wraps the statements that run while a pinned
// local holds a non-null pointer into a Fixed node. The store resetting the
// local to zero ends the body and is removed.
func (o *optimizer) introduceFixedStatements() {
	t := o.t
	blocks := t.BlocksOf(t.Root)
	for k := len(blocks) - 1; k >= 0; k-- {
		b := blocks[k]
		for i := len(t.Stmts(b)) - 1; i >= 0; i-- {
			o.introduceFixed(b, i)
		}
	}
}

func isNullOrZero(t *il.Tree, id il.NodeID) bool {
	if conv, ok := t.MatchExpr(id, il.Conv); ok && len(conv.Args) == 1 {
		id = conv.Args[0]
	}
	if c, ok := t.MatchLdcI4(id); ok {
		return c == 0
	}
	return t.Code(id) == il.Ldnull
}

func (o *optimizer) introduceFixed(block il.NodeID, i int) bool {
	t := o.t
	stmts := t.Stmts(block)
	v, value, ok := t.MatchStloc(stmts[i])
	if !ok || !v.IsPinned || isNullOrZero(t, value) {
		return false
	}
	j := i + 1
	for ; j < len(stmts); j++ {
		if sv, reset, ok := t.MatchStloc(stmts[j]); ok && sv == v && isNullOrZero(t, reset) {
			break
		}
	}
	body := t.Block(slices.Clone(stmts[i+1 : j])...)
	fixed := t.Add(il.Node{Kind: il.KindFixed, Init: stmts[i], Body: body})
	end := min(j+1, len(stmts))
	out := append(slices.Clone(stmts[:i]), fixed)
	out = append(out, stmts[end:]...)
	t.SetStmts(block, out)
	v.IsPinned = false
	return true
}
