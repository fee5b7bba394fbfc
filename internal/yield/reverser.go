package yield

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/ildecomp/internal/analyzer"
	"github.com/roach88/ildecomp/internal/assembler"
	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/optimize"
)

// Reverser rewrites enumerator-constructing methods into yield-based
// bodies. The zero value is ready to use.
type Reverser struct {
	// Logger receives one debug record per reversed method. Nil discards.
	Logger *slog.Logger
}

var _ optimize.IteratorReverser = (*Reverser)(nil)

// Reverse replaces t's root with the recovered iterator body. On error t is
// unchanged and the error wraps ErrNotApplicable or an *il.DecodingError
// from one of the enumerator's own bodies.
func (r *Reverser) Reverse(t *il.Tree) error {
	rv := &reversal{
		outer:       t,
		fieldParams: make(map[*il.FieldDef]*il.Variable),
		fieldVars:   make(map[*il.FieldDef]*il.Variable),
	}
	if err := rv.matchCreation(); err != nil {
		return err
	}
	for _, stage := range []func() error{
		rv.analyzeCtor,
		rv.analyzeCurrent,
		rv.mapEnumerableFields,
		rv.buildFinallyTable,
		rv.analyzeMoveNext,
	} {
		if err := stage(); err != nil {
			return err
		}
	}
	rv.translateFields()
	block, err := rv.validate()
	if err != nil {
		return err
	}
	t.Root = t.Import(rv.mt, block)

	log := r.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log.Debug("iterator reversed",
		"method", t.Method.FullName(),
		"enumerator", rv.enumType.FullName(),
		"finally_methods", len(rv.finallyRanges))
	return nil
}

type reversal struct {
	outer    *il.Tree
	ctor     *il.MethodDef
	enumType *il.TypeDef

	// fieldParams maps enumerator fields that only copy a parameter of the
	// outer method to that parameter.
	fieldParams map[*il.FieldDef]*il.Variable
	fieldVars   map[*il.FieldDef]*il.Variable

	stateField    *il.FieldDef
	currentField  *il.FieldDef
	dispose       *il.MethodDef
	finallyRanges map[*il.MethodDef]*stateRange

	// MoveNext
	mt          *il.Tree
	returnVar   *il.Variable
	returnLabel il.NodeID
	returnFalse il.NodeID
	newBody     []il.NodeID
}

// decode runs a method of the enumerator through the analyzer, the
// assembler and the pipeline up to inlining.
func decode(m *il.MethodDef) (*il.Tree, error) {
	if m == nil || m.Body == nil {
		return nil, notApplicable("enumerator method has no body")
	}
	r, err := analyzer.Analyze(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotApplicable, m.Name, err)
	}
	t, err := assembler.Build(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotApplicable, m.Name, err)
	}
	if err := optimize.Optimize(t, optimize.Options{Until: optimize.StepInlineVariables}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotApplicable, m.Name, err)
	}
	return t, nil
}

// findMethod returns the method named name or its explicit interface
// implementation (prefix + "." + name).
func findMethod(typ *il.TypeDef, prefix, name string) *il.MethodDef {
	return typ.MethodFunc(func(n string) bool {
		return n == name || (strings.HasPrefix(n, prefix) && strings.HasSuffix(n, "."+name))
	})
}

// matchCreation matches
//
//	stloc(v, newobj(Enumerator::.ctor, ldc.i4(-2)))
//	stfld(ldloc(v), field, ldloc(param))*
//	[stloc(v2, ldloc(v))]
//	ret(ldloc(v2))
//
// or the single statement ret(newobj(...)).
func (rv *reversal) matchCreation() error {
	t := rv.outer
	stmts := t.Stmts(t.Root)
	switch len(stmts) {
	case 0:
		return notApplicable("empty body")
	case 1:
		ret, ok := t.MatchExpr(stmts[0], il.Ret)
		if !ok || len(ret.Args) != 1 {
			return notApplicable("body is not an enumerator construction")
		}
		return rv.matchNewObj(ret.Args[0])
	}
	v1, newObj, ok := t.MatchStloc(stmts[0])
	if !ok {
		return notApplicable("body is not an enumerator construction")
	}
	if err := rv.matchNewObj(newObj); err != nil {
		return err
	}
	i := 1
	for ; i < len(stmts); i++ {
		st, ok := t.MatchExpr(stmts[i], il.Stfld)
		if !ok {
			break
		}
		if !t.MatchLdlocOf(st.Args[0], v1) {
			return notApplicable("field store on another object")
		}
		param, ok := t.MatchLdloc(st.Args[1])
		if !ok || !param.IsParameter() {
			return notApplicable("enumerator field %s is not set from a parameter", st.Field.Name)
		}
		rv.fieldParams[st.Field] = param
	}
	v2 := v1
	if i < len(stmts) {
		if v, value, ok := t.MatchStloc(stmts[i]); ok {
			if !t.MatchLdlocOf(value, v1) {
				return notApplicable("unexpected store after construction")
			}
			v2 = v
			i++
		}
	}
	if i != len(stmts)-1 {
		return notApplicable("unexpected statements after construction")
	}
	ret, ok := t.MatchExpr(stmts[i], il.Ret)
	if !ok || len(ret.Args) != 1 || !t.MatchLdlocOf(ret.Args[0], v2) {
		return notApplicable("constructed enumerator is not returned")
	}
	return nil
}

// matchNewObj matches newobj(ctor, ldc.i4(-2 or 0)) of a compiler-generated
// enumerator nested in the method's own type.
func (rv *reversal) matchNewObj(id il.NodeID) error {
	t := rv.outer
	n, ok := t.MatchExpr(id, il.Newobj)
	if !ok || len(n.Args) != 1 {
		return notApplicable("not an enumerator construction")
	}
	state, ok := t.MatchLdcI4(n.Args[0])
	if !ok || (state != -2 && state != 0) {
		return notApplicable("initial state is not -2 or 0")
	}
	typ := n.Method.DeclaringType
	if typ == nil || typ.DeclaringType == nil || t.Method == nil || typ.DeclaringType != t.Method.DeclaringType {
		return notApplicable("constructed type is not nested in the declaring type")
	}
	if !typ.CompilerGenerated || !typ.Implements("System.Collections.IEnumerator") {
		return notApplicable("%s is not a compiler-generated enumerator", typ.FullName())
	}
	rv.ctor = n.Method
	rv.enumType = typ
	return nil
}

// analyzeCtor finds the state field: the field the constructor stores its
// first parameter into.
func (rv *reversal) analyzeCtor() error {
	t, err := decode(rv.ctor)
	if err != nil {
		return err
	}
	for _, s := range t.Stmts(t.Root) {
		st, ok := t.MatchExpr(s, il.Stfld)
		if !ok || !t.MatchThis(st.Args[0]) {
			continue
		}
		if v, ok := t.MatchLdloc(st.Args[1]); ok && v.OriginalParam != nil && v.OriginalParam.Index == 0 {
			rv.stateField = st.Field
		}
	}
	if rv.stateField == nil {
		return notApplicable("constructor does not store the state")
	}
	return nil
}

// analyzeCurrent finds the field returned by the Current getter.
func (rv *reversal) analyzeCurrent() error {
	t, err := decode(findMethod(rv.enumType, "System.Collections.Generic.IEnumerator", "get_Current"))
	if err != nil {
		return err
	}
	stmts := t.Stmts(t.Root)
	loadOfThis := func(id il.NodeID) *il.FieldDef {
		if ld, ok := t.MatchExpr(id, il.Ldfld); ok && t.MatchThis(ld.Args[0]) {
			return ld.Field
		}
		return nil
	}
	switch len(stmts) {
	case 1:
		if ret, ok := t.MatchExpr(stmts[0], il.Ret); ok && len(ret.Args) == 1 {
			rv.currentField = loadOfThis(ret.Args[0])
		}
	case 2:
		v, value, ok := t.MatchStloc(stmts[0])
		ret, ok2 := t.MatchExpr(stmts[1], il.Ret)
		if ok && ok2 && len(ret.Args) == 1 && t.MatchLdlocOf(ret.Args[0], v) {
			rv.currentField = loadOfThis(value)
		}
	}
	if rv.currentField == nil {
		return notApplicable("Current does not return a field")
	}
	return nil
}

// mapEnumerableFields follows GetEnumerator's copies from the enumerable's
// parameter fields to the enumerator's working fields.
func (rv *reversal) mapEnumerableFields() error {
	m := findMethod(rv.enumType, "System.Collections.Generic.IEnumerable", "GetEnumerator")
	if m == nil {
		return nil
	}
	t, err := decode(m)
	if err != nil {
		return err
	}
	for _, s := range t.Stmts(t.Root) {
		st, ok := t.MatchExpr(s, il.Stfld)
		if !ok {
			continue
		}
		ld, ok := t.MatchExpr(st.Args[1], il.Ldfld)
		if !ok || !t.MatchThis(ld.Args[0]) {
			continue
		}
		if param, ok := rv.fieldParams[ld.Field]; ok {
			rv.fieldParams[st.Field] = param
		}
	}
	return nil
}

// buildFinallyTable executes Dispose symbolically to learn which states
// each extracted finally method guards.
func (rv *reversal) buildFinallyTable() error {
	rv.dispose = findMethod(rv.enumType, "System.IDisposable", "Dispose")
	t, err := decode(rv.dispose)
	if err != nil {
		return err
	}
	body := t.Stmts(t.Root)
	if len(body) == 0 {
		return notApplicable("Dispose is empty")
	}
	a := newRangeAnalysis(t, body[0], modeDispose, rv.stateField)
	if _, err := a.assign(body, len(body)); err != nil {
		return err
	}
	var failed error
	t.Walk(t.Root, func(id il.NodeID) bool {
		n := t.Node(id)
		if failed != nil || n.Kind != il.KindTry {
			return failed == nil
		}
		inner := t.Stmts(n.TryBlock)
		fin := t.Stmts(n.Finally)
		if len(inner) == 0 || len(fin) != 2 || t.Code(fin[1]) != il.Endfinally {
			failed = notApplicable("Dispose finally block is not call(this); endfinally")
			return false
		}
		m, ok := matchThisCall(t, fin[0])
		if !ok {
			failed = notApplicable("Dispose finally block does not call a finally method")
			return false
		}
		if _, dup := a.finallyRanges[m]; dup {
			failed = notApplicable("finally method %s is called twice", m.Name)
			return false
		}
		r := a.rangeOf(inner[0])
		r.simplify()
		a.finallyRanges[m] = r
		return true
	})
	if failed != nil {
		return failed
	}
	for m := range a.finallyRanges {
		if m.DeclaringType != rv.enumType || m == rv.dispose {
			return notApplicable("%s is not a finally method of the enumerator", m.FullName())
		}
	}
	rv.finallyRanges = a.finallyRanges
	return nil
}

// analyzeMoveNext checks the frame of MoveNext, bounds its state dispatch
// and converts the rest into the new body.
func (rv *reversal) analyzeMoveNext() error {
	t, err := decode(findMethod(rv.enumType, "System.Collections.IEnumerator", "MoveNext"))
	if err != nil {
		return err
	}
	rv.mt = t
	root := t.Stmts(t.Root)
	if len(root) == 0 {
		return notApplicable("MoveNext is empty")
	}
	last, ok := t.MatchExpr(root[len(root)-1], il.Ret)
	if !ok || len(last.Args) != 1 {
		return notApplicable("MoveNext does not end in a return")
	}
	if v, ok := t.MatchLdloc(last.Args[0]); ok {
		// Debug builds and bodies with try blocks return through a variable.
		rv.returnVar = v
		if len(root) < 2 || t.Kind(root[len(root)-2]) != il.KindLabel {
			return notApplicable("return variable is not loaded at a label")
		}
		rv.returnLabel = root[len(root)-2]
	} else if c, ok := t.MatchLdcI4(last.Args[0]); !ok || c != 0 {
		return notApplicable("MoveNext ends in %s", t.FormatExpr(root[len(root)-1]))
	}

	var body []il.NodeID
	var n int
	if t.Kind(root[0]) == il.KindTry {
		try := t.Node(root[0])
		if rv.returnVar == nil || len(root) != 3 {
			return notApplicable("try block does not span MoveNext")
		}
		if len(try.Catches) > 0 || try.Finally != il.Nil || try.Fault == il.Nil {
			return notApplicable("MoveNext handler is not a fault block")
		}
		fault := t.Stmts(try.Fault)
		if len(fault) != 2 || t.Code(fault[1]) != il.Endfinally {
			return notApplicable("fault block is not call(Dispose); endfinally")
		}
		if m, ok := matchThisCall(t, fault[0]); !ok || m != rv.dispose {
			return notApplicable("fault block does not call Dispose")
		}
		body = t.Stmts(try.TryBlock)
		n = len(body)
	} else {
		body = root
		n = len(body) - 1
		if rv.returnVar != nil {
			n--
		}
	}

	if rv.returnVar != nil {
		if n > 0 {
			if br := t.Node(body[n-1]); br.Kind == il.KindExpr && (br.Code == il.Br || br.Code == il.Leave) && br.Target == rv.returnLabel {
				n--
			}
		}
		if n == 0 {
			return notApplicable("MoveNext does not store false")
		}
		v, value, ok := t.MatchStloc(body[n-1])
		if c, isConst := t.MatchLdcI4(value); !ok || v != rv.returnVar || !isConst || c != 0 {
			return notApplicable("MoveNext does not end by storing false")
		}
		n--
	}
	if n == 0 || t.Kind(body[n-1]) != il.KindLabel {
		return notApplicable("return false is not labeled")
	}
	rv.returnFalse = body[n-1]

	a := newRangeAnalysis(t, body[0], modeMoveNext, rv.stateField)
	pos, err := a.assign(body, n)
	if err != nil {
		return err
	}
	before := len(body)
	body, pos = a.ensureLabelAt(body, pos)
	n += len(body) - before
	return rv.convertBody(body, pos, n, a.labelRanges(body, pos, n))
}

type setState struct {
	pos   int
	state int64
}

// convertBody rewrites body[pos:n] of MoveNext into the iterator body.
func (rv *reversal) convertBody(body []il.NodeID, pos, n int, labels []labelRange) error {
	t := rv.mt
	gotoState := func(state int64) (il.NodeID, error) {
		for _, l := range labels {
			if l.r.contains(state) {
				return t.Br(l.label), nil
			}
		}
		return il.Nil, notApplicable("no resume label for state %d", state)
	}
	returnBranch := func(i int, target il.NodeID) bool {
		if i >= n {
			return false
		}
		br := t.Node(body[i])
		return br.Kind == il.KindExpr && (br.Code == il.Br || br.Code == il.Leave) && br.Target == target
	}
	resume := func(value il.NodeID, state int64) (il.NodeID, error) {
		switch c, _ := t.MatchLdcI4(value); {
		case t.Code(value) != il.LdcI4:
		case c == 0:
			return t.Expr(il.YieldBreak), nil
		case c == 1:
			return gotoState(state)
		}
		return il.Nil, notApplicable("MoveNext returns %s", t.FormatExpr(value))
	}

	first, err := gotoState(0)
	if err != nil {
		return err
	}
	out := []il.NodeID{first}
	var changes []setState
	current := int64(-1)
	for i := pos; i < n; i++ {
		s := body[i]
		node := t.Node(s)
		if node.Kind != il.KindExpr {
			out = append(out, s)
			continue
		}
		switch {
		case node.Code == il.Stfld && t.MatchThis(node.Args[0]) && node.Field == rv.stateField:
			c, ok := t.MatchLdcI4(node.Args[1])
			if !ok {
				return notApplicable("state is set to %s", t.FormatExpr(node.Args[1]))
			}
			current = c
			changes = append(changes, setState{len(out), c})

		case node.Code == il.Stfld && t.MatchThis(node.Args[0]) && node.Field == rv.currentField:
			out = append(out, t.Add(il.Node{Kind: il.KindExpr, Code: il.YieldReturn,
				Args: []il.NodeID{node.Args[1]}, Ranges: node.Ranges}))

		case node.Code == il.Stloc && rv.returnVar != nil && node.Var == rv.returnVar:
			i++
			if !returnBranch(i, rv.returnLabel) {
				return notApplicable("return value is stored without returning")
			}
			stmt, err := resume(node.Args[0], current)
			if err != nil {
				return err
			}
			out = append(out, stmt)

		case node.Code == il.Ret:
			if len(node.Args) != 1 {
				return notApplicable("MoveNext returns without a value")
			}
			stmt, err := resume(node.Args[0], current)
			if err != nil {
				return err
			}
			out = append(out, stmt)

		case node.Code == il.Call && len(node.Args) == 1 && t.MatchThis(node.Args[0]):
			m := node.Method
			r, isFinally := rv.finallyRanges[m]
			switch {
			case m == rv.dispose:
				// yield break inside a try: Dispose, then return false.
				i++
				if !returnBranch(i, rv.returnFalse) {
					return notApplicable("Dispose is not followed by return false")
				}
				out = append(out, t.Expr(il.YieldBreak))
			case isFinally:
				idx := slices.IndexFunc(changes, func(c setState) bool { return r.contains(c.state) })
				if idx < 0 {
					return notApplicable("no state store enters the try block of %s", m.Name)
				}
				change := changes[idx]
				changes = changes[:idx]
				fin, err := rv.convertFinally(m)
				if err != nil {
					return err
				}
				label := t.NamedLabel(fmt.Sprintf("JumpOutOfTryFinally%d", change.state))
				inner := append(slices.Clone(out[change.pos:]), t.Add(il.Node{Kind: il.KindExpr, Code: il.Leave, Target: label}))
				try := t.Add(il.Node{Kind: il.KindTry, TryBlock: t.Block(inner...), Finally: fin})
				out = append(out[:change.pos], try, label)
			default:
				out = append(out, s)
			}

		default:
			out = append(out, s)
		}
	}
	rv.newBody = append(out, t.Expr(il.YieldBreak))
	return nil
}

// convertFinally decodes a finally method into a finally block: the state
// reset at its start is dropped and its returns become endfinally.
func (rv *reversal) convertFinally(m *il.MethodDef) (il.NodeID, error) {
	ft, err := decode(m)
	if err != nil {
		return il.Nil, err
	}
	stmts := ft.Stmts(ft.Root)
	if len(stmts) > 0 {
		if st, ok := ft.MatchExpr(stmts[0], il.Stfld); ok && st.Field == rv.stateField && ft.MatchThis(st.Args[0]) {
			ft.SetStmts(ft.Root, slices.Clone(stmts[1:]))
		}
	}
	for _, e := range ft.Exprs(ft.Root) {
		n := ft.Node(e)
		if n.Code != il.Ret {
			continue
		}
		if len(n.Args) != 0 {
			return il.Nil, notApplicable("finally method %s returns a value", m.Name)
		}
		n.Code = il.Endfinally
	}
	return rv.mt.Import(ft, ft.Root), nil
}

// translateFields turns enumerator field accesses on this into locals, or
// into the outer parameter a field only copies.
func (rv *reversal) translateFields() {
	t := rv.mt
	variable := func(f *il.FieldDef) *il.Variable {
		if p, ok := rv.fieldParams[f]; ok {
			return p
		}
		v, ok := rv.fieldVars[f]
		if !ok {
			v = &il.Variable{Name: il.CleanIdentifier(f.Name), Type: f.Type}
			rv.fieldVars[f] = v
		}
		return v
	}
	for _, s := range rv.newBody {
		for _, e := range t.Exprs(s) {
			n := t.Node(e)
			if n.Field == nil || n.Field.DeclaringType != rv.enumType || len(n.Args) == 0 || !t.MatchThis(n.Args[0]) {
				continue
			}
			switch n.Code {
			case il.Ldfld:
				n.Code, n.Var, n.Field, n.Args = il.Ldloc, variable(n.Field), nil, nil
			case il.Ldflda:
				n.Code, n.Var, n.Field, n.Args = il.Ldloca, variable(n.Field), nil, nil
			case il.Stfld:
				n.Code, n.Var, n.Field, n.Args = il.Stloc, variable(n.Field), nil, []il.NodeID{n.Args[1]}
			}
		}
	}
}

// validate wraps the new body in a block and rejects it when the
// enumerator still leaks through or a branch leaves the body.
func (rv *reversal) validate() (il.NodeID, error) {
	t := rv.mt
	block := t.Block(rv.newBody...)
	defined := make(map[il.NodeID]bool)
	for _, id := range t.Descendants(block) {
		n := t.Node(id)
		switch {
		case n.Kind == il.KindLabel:
			defined[id] = true
		case n.Kind != il.KindExpr:
		case n.Var != nil && n.Var.IsThis && n.Var.Type == rv.enumType:
			return il.Nil, notApplicable("enumerator instance is still used: %s", t.FormatExpr(id))
		case n.Field != nil && n.Field.DeclaringType == rv.enumType:
			return il.Nil, notApplicable("enumerator field %s is still used", n.Field.Name)
		}
	}
	for l := range t.LabelRefs(block) {
		if !defined[l] {
			return il.Nil, notApplicable("branch leaves the iterator body")
		}
	}
	return block, nil
}
