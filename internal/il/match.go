package il

// MatchExpr returns the node if id is an expression with the given code.
func (t *Tree) MatchExpr(id NodeID, code Code) (*Node, bool) {
	if id == Nil {
		return nil, false
	}
	n := t.Node(id)
	if n.Kind != KindExpr || n.Code != code {
		return nil, false
	}
	return n, true
}

// MatchStloc matches stloc(v, value).
func (t *Tree) MatchStloc(id NodeID) (*Variable, NodeID, bool) {
	n, ok := t.MatchExpr(id, Stloc)
	if !ok || len(n.Args) != 1 {
		return nil, Nil, false
	}
	return n.Var, n.Args[0], true
}

// MatchLdloc matches ldloc(v).
func (t *Tree) MatchLdloc(id NodeID) (*Variable, bool) {
	n, ok := t.MatchExpr(id, Ldloc)
	if !ok {
		return nil, false
	}
	return n.Var, true
}

// MatchLdlocOf matches ldloc of exactly v.
func (t *Tree) MatchLdlocOf(id NodeID, v *Variable) bool {
	got, ok := t.MatchLdloc(id)
	return ok && got == v
}

// MatchLdloca matches ldloca(v).
func (t *Tree) MatchLdloca(id NodeID) (*Variable, bool) {
	n, ok := t.MatchExpr(id, Ldloca)
	if !ok {
		return nil, false
	}
	return n.Var, true
}

// MatchLdcI4 matches an int32 constant.
func (t *Tree) MatchLdcI4(id NodeID) (int64, bool) {
	n, ok := t.MatchExpr(id, LdcI4)
	if !ok {
		return 0, false
	}
	return n.Int, true
}

// MatchBr matches br(label).
func (t *Tree) MatchBr(id NodeID) (NodeID, bool) {
	n, ok := t.MatchExpr(id, Br)
	if !ok {
		return Nil, false
	}
	return n.Target, true
}

// MatchBrtrue matches brtrue(label, cond).
func (t *Tree) MatchBrtrue(id NodeID) (NodeID, NodeID, bool) {
	n, ok := t.MatchExpr(id, Brtrue)
	if !ok || len(n.Args) != 1 {
		return Nil, Nil, false
	}
	return n.Target, n.Args[0], true
}

// MatchThis matches a load of the implicit this argument.
func (t *Tree) MatchThis(id NodeID) bool {
	v, ok := t.MatchLdloc(id)
	return ok && v.IsThis
}

// MatchLastAndBr matches a basic block ending in code(label, arg); br(fall).
func (t *Tree) MatchLastAndBr(bb NodeID, code Code) (target, arg, fall NodeID, ok bool) {
	stmts := t.Stmts(bb)
	if len(stmts) < 2 {
		return Nil, Nil, Nil, false
	}
	fall, ok = t.MatchBr(stmts[len(stmts)-1])
	if !ok {
		return Nil, Nil, Nil, false
	}
	n, ok := t.MatchExpr(stmts[len(stmts)-2], code)
	if !ok {
		return Nil, Nil, Nil, false
	}
	if len(n.Args) > 0 {
		arg = n.Args[0]
	}
	return n.Target, arg, fall, true
}

// MatchSingleAndBr matches a basic block that is exactly
// label; code(label2, arg); br(fall).
func (t *Tree) MatchSingleAndBr(bb NodeID, code Code) (target, arg, fall NodeID, ok bool) {
	if len(t.Stmts(bb)) != 3 {
		return Nil, Nil, Nil, false
	}
	return t.MatchLastAndBr(bb, code)
}

// SameVarStore reports whether id is stloc(v, ...) for the given v.
func (t *Tree) SameVarStore(id NodeID, v *Variable) bool {
	got, _, ok := t.MatchStloc(id)
	return ok && got == v
}

// HasNoSideEffects reports whether evaluating id can neither throw nor
// mutate state.
func (t *Tree) HasNoSideEffects(id NodeID) bool {
	n := t.Node(id)
	if n.Kind != KindExpr {
		return false
	}
	switch n.Code {
	case Ldloc, Ldloca, LdcI4, LdcI8, Ldstr, Ldnull, DefaultValue, Ldftn, Ldsflda:
		return true
	case Add, Sub, Mul, And, Or, Xor, Shl, Shr, Neg, Not,
		Ceq, Cne, Cge, Cle, Cgt, CgtUn, Clt, CltUn, LogicNot, LogicAnd, LogicOr, Box:
		for _, a := range n.Args {
			if !t.HasNoSideEffects(a) {
				return false
			}
		}
		return true
	}
	return false
}

// CanBeExpressionStatement reports whether id may stand alone as a statement.
func (t *Tree) CanBeExpressionStatement(id NodeID) bool {
	n := t.Node(id)
	if n.Kind != KindExpr {
		return false
	}
	switch n.Code {
	case Call, Callvirt, Newobj, Stloc, Stfld, Stsfld, Stobj, Stelem,
		CompoundAssignment, PostIncrement, Initobj:
		return true
	}
	return false
}

// CanFallThrough reports whether control may continue after statement id.
func (t *Tree) CanFallThrough(id NodeID) bool {
	n := t.Node(id)
	switch n.Kind {
	case KindExpr:
		return !n.Code.IsUnconditionalControlFlow()
	case KindBlock, KindBasicBlock:
		if len(n.Stmts) == 0 {
			return true
		}
		return t.CanFallThrough(n.Stmts[len(n.Stmts)-1])
	case KindTry:
		if t.CanFallThrough(n.TryBlock) {
			return true
		}
		for _, c := range n.Catches {
			if t.CanFallThrough(t.Node(c).Body) {
				return true
			}
		}
		return false
	case KindCondition:
		return t.CanFallThrough(n.Then) || n.Else == Nil || t.CanFallThrough(n.Else)
	case KindLoop:
		return n.Cond != Nil || t.ContainsBreak(n.Body)
	}
	return true
}

// ContainsBreak reports whether a break targets the loop or switch whose
// body is id.
func (t *Tree) ContainsBreak(id NodeID) bool {
	found := false
	t.Walk(id, func(c NodeID) bool {
		n := t.Node(c)
		if n.Kind == KindLoop || n.Kind == KindSwitch || n.Kind == KindFor ||
			n.Kind == KindDoWhile || n.Kind == KindForeach {
			return false
		}
		if n.Kind == KindExpr && n.Code == LoopBreak {
			found = true
		}
		return !found
	})
	return found
}

// ContainsContinue reports whether a continue targets the loop whose body
// is id.
func (t *Tree) ContainsContinue(id NodeID) bool {
	found := false
	t.Walk(id, func(c NodeID) bool {
		n := t.Node(c)
		if n.Kind == KindLoop || n.Kind == KindFor || n.Kind == KindDoWhile || n.Kind == KindForeach {
			return false
		}
		if n.Kind == KindExpr && n.Code == LoopContinue {
			found = true
		}
		return !found
	})
	return found
}

// UsesVariable reports whether any expression at or below id loads, stores
// or takes the address of v.
func (t *Tree) UsesVariable(id NodeID, v *Variable) bool {
	for _, e := range t.Exprs(id) {
		if t.Node(e).Var == v {
			return true
		}
	}
	return false
}
