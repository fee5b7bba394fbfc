package optimize

import "github.com/roach88/ildecomp/internal/il"

// typeInference annotates every expression with an inferred type and
// assigns types to generated variables from the values stored into them.
type typeInference struct {
	t      *il.Tree
	stores map[*il.Variable][]il.NodeID
	order  []*il.Variable
	// boolish marks generated variables read where a boolean is expected.
	boolish map[*il.Variable]bool
}

func inferTypes(t *il.Tree) {
	ti := &typeInference{t: t, stores: make(map[*il.Variable][]il.NodeID), boolish: make(map[*il.Variable]bool)}
	ti.collect()
	ti.inferVariables()
	for _, s := range ti.statements(t.Root) {
		ti.infer(s, nil)
	}
}

func (ti *typeInference) collect() {
	t := ti.t
	markBool := func(id il.NodeID) {
		if v, ok := t.MatchLdloc(id); ok && v.IsGenerated {
			ti.boolish[v] = true
		}
	}
	t.Walk(t.Root, func(id il.NodeID) bool {
		n := t.Node(id)
		switch n.Kind {
		case il.KindCondition, il.KindLoop:
			markBool(n.Cond)
		case il.KindExpr:
			switch n.Code {
			case il.Stloc:
				if n.Var.IsGenerated {
					if _, seen := ti.stores[n.Var]; !seen {
						ti.order = append(ti.order, n.Var)
					}
					ti.stores[n.Var] = append(ti.stores[n.Var], n.Args[0])
				}
			case il.Brtrue, il.LogicNot, il.LogicAnd, il.LogicOr:
				for _, a := range n.Args {
					markBool(a)
				}
			case il.TernaryOp:
				markBool(n.Args[0])
			}
		}
		n.InferredType = nil
		return true
	})
	for _, v := range ti.order {
		v.Type = nil
	}
}

// inferVariables resolves generated variable types until no variable
// changes. Each round can only fill in types, so it terminates.
func (ti *typeInference) inferVariables() {
	for changed := true; changed; {
		changed = false
		for _, v := range ti.order {
			if v.Type != nil {
				continue
			}
			if typ := ti.variableType(v, ti.stores[v]); typ != nil {
				v.Type = typ
				changed = true
			}
		}
	}
	for _, v := range ti.order {
		if v.Type == nil {
			v.Type = il.Object
		}
	}
}

func (ti *typeInference) variableType(v *il.Variable, values []il.NodeID) *il.TypeDef {
	if ti.boolish[v] {
		allBool := true
		for _, val := range values {
			if !ti.boolCompatible(val) {
				allBool = false
				break
			}
		}
		if allBool {
			return il.Bool
		}
	}
	for _, val := range values {
		if typ := ti.peek(val); typ != nil && typ != il.NullRef {
			return typ
		}
	}
	return nil
}

func (ti *typeInference) boolCompatible(id il.NodeID) bool {
	if c, ok := ti.t.MatchLdcI4(id); ok {
		return c == 0 || c == 1
	}
	return ti.peek(id) == il.Bool
}

// statements returns the top-level expressions of every statement list
// and structured construct below root.
func (ti *typeInference) statements(root il.NodeID) []il.NodeID {
	t := ti.t
	var out []il.NodeID
	t.Walk(root, func(id il.NodeID) bool {
		n := t.Node(id)
		if n.Kind == il.KindExpr {
			out = append(out, id)
			return false
		}
		return true
	})
	return out
}

// peek computes the type of id without annotating it.
func (ti *typeInference) peek(id il.NodeID) *il.TypeDef {
	return ti.typeOf(id, nil, false)
}

func (ti *typeInference) infer(id il.NodeID, expected *il.TypeDef) *il.TypeDef {
	return ti.typeOf(id, expected, true)
}

func (ti *typeInference) typeOf(id il.NodeID, expected *il.TypeDef, annotate bool) *il.TypeDef {
	t := ti.t
	n := t.Node(id)
	if n.Kind != il.KindExpr {
		return nil
	}
	arg := func(i int, want *il.TypeDef) *il.TypeDef {
		if i >= len(n.Args) {
			return nil
		}
		if annotate {
			return ti.infer(n.Args[i], want)
		}
		return ti.peek(n.Args[i])
	}
	rest := func(from int) {
		if annotate {
			for i := from; i < len(n.Args); i++ {
				ti.infer(n.Args[i], nil)
			}
		}
	}

	var typ *il.TypeDef
	switch n.Code {
	case il.LdcI4:
		typ = il.Int32
		if expected == il.Bool && (n.Int == 0 || n.Int == 1) {
			typ = il.Bool
		}
	case il.LdcI8:
		typ = il.Int64
	case il.Ldstr:
		typ = il.String
	case il.Ldnull:
		typ = il.NullRef
	case il.Ldloc:
		typ = n.Var.Type
	case il.Stloc:
		typ = n.Var.Type
		if v := arg(0, n.Var.Type); typ == nil {
			typ = v
		}
	case il.Ldloca, il.Ldflda, il.Ldsflda, il.Ldelema, il.AddressOf, il.Ldftn:
		rest(0)
		typ = il.IntPtr
	case il.Ldfld:
		rest(0)
		typ = n.Field.Type
	case il.Ldsfld:
		typ = n.Field.Type
	case il.Stfld:
		arg(0, nil)
		arg(1, n.Field.Type)
		typ = il.Void
	case il.Stsfld:
		arg(0, n.Field.Type)
		typ = il.Void
	case il.Call, il.Callvirt, il.Newobj:
		m := n.Method
		first := 0
		if m.HasThis() && n.Code != il.Newobj {
			arg(0, nil)
			first = 1
		}
		for i := first; i < len(n.Args); i++ {
			var want *il.TypeDef
			if p := i - first; p < len(m.Params) {
				want = m.Params[p].Type
			}
			arg(i, want)
		}
		typ = m.ReturnType
		if n.Code == il.Newobj {
			typ = m.DeclaringType
		}
	case il.Add, il.Sub, il.Mul, il.Div, il.Rem, il.And, il.Or, il.Xor:
		a, b := arg(0, expected), arg(1, expected)
		typ = arithmeticType(a, b)
		if (n.Code == il.And || n.Code == il.Or || n.Code == il.Xor) && a == il.Bool && b == il.Bool {
			typ = il.Bool
		}
	case il.Shl, il.Shr:
		typ = arg(0, nil)
		arg(1, il.Int32)
	case il.Neg, il.Not:
		typ = arg(0, nil)
	case il.Ceq, il.Cne:
		a := arg(0, nil)
		b := ti.peek(n.Args[1])
		if b == il.Bool && a != il.Bool {
			a = b
		}
		if annotate {
			ti.infer(n.Args[1], a)
			if a == il.Bool {
				ti.infer(n.Args[0], il.Bool)
			}
		}
		typ = il.Bool
	case il.Cgt, il.CgtUn, il.Clt, il.CltUn, il.Cge, il.Cle:
		rest(0)
		typ = il.Bool
	case il.LogicNot, il.LogicAnd, il.LogicOr:
		for i := range n.Args {
			arg(i, il.Bool)
		}
		typ = il.Bool
	case il.TernaryOp:
		arg(0, il.Bool)
		a, b := arg(1, expected), arg(2, expected)
		typ = a
		if typ == nil || typ == il.NullRef {
			typ = b
		}
	case il.NullCoalescing:
		typ = arg(0, expected)
		arg(1, typ)
	case il.Newarr:
		arg(0, il.Int32)
		typ = il.Array
	case il.InitArray:
		for i := range n.Args {
			arg(i, n.Type)
		}
		typ = il.Array
	case il.Ldlen:
		rest(0)
		typ = il.Int32
	case il.Ldelem:
		rest(0)
		typ = n.Type
	case il.Stelem:
		arg(0, nil)
		arg(1, il.Int32)
		arg(2, n.Type)
		typ = il.Void
	case il.Box:
		rest(0)
		typ = il.Object
	case il.UnboxAny, il.Castclass, il.Isinst, il.Conv, il.Ldobj, il.DefaultValue, il.Unbox:
		rest(0)
		typ = n.Type
	case il.Ret:
		if ti.t.Method != nil {
			arg(0, ti.t.Method.ReturnType)
		}
		typ = il.Void
	case il.Brtrue:
		arg(0, il.Bool)
	case il.Switch:
		arg(0, il.Int32)
	case il.Dup, il.CompoundAssignment, il.PostIncrement:
		typ = arg(0, nil)
		rest(1)
	default:
		rest(0)
	}
	if annotate {
		n.InferredType = typ
	}
	return typ
}

func arithmeticType(a, b *il.TypeDef) *il.TypeDef {
	switch {
	case a == il.Int64 || b == il.Int64:
		return il.Int64
	case a == il.IntPtr || b == il.IntPtr:
		return il.IntPtr
	case a == nil:
		return b
	case a == il.Bool:
		return il.Int32
	}
	return a
}
