package analyzer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/ildecomp/internal/il"
)

// Handler is an exception-table row with its synthesized exception entry.
type Handler struct {
	il.ExceptionHandler

	// Exception pushes the dispatched exception at a catch or filter entry.
	// Its StoreTo lists the variables the exception was bound to.
	Exception *ByteCode
}

// Result is the analyzed method.
type Result struct {
	Method *il.MethodDef

	// Body holds the reachable ByteCodes in offset order.
	Body []*ByteCode

	Handlers []*Handler

	// Parameters holds this (for instance methods) followed by the
	// declared parameters.
	Parameters []*il.Variable

	// Variables holds every variable created for declared locals.
	Variables []*il.Variable
}

type analysis struct {
	method   *il.MethodDef
	body     *il.MethodBody
	all      []*ByteCode
	byOffset map[int]*ByteCode
	handlers []*Handler
	entry    *ByteCode // pseudo definition for "uninitialized"
	params   []*il.Variable
	seq      int
}

// Analyze runs the stack and variable analysis over a method body.
func Analyze(method *il.MethodDef) (*Result, error) {
	if method.Body == nil || len(method.Body.Instructions) == 0 {
		return nil, &il.DecodingError{Code: il.ErrCodeBadOperand, Method: method.FullName(),
			Offset: -1, Message: "method has no body"}
	}
	a := &analysis{
		method:   method,
		body:     method.Body,
		byOffset: make(map[int]*ByteCode),
	}
	if err := a.run(); err != nil {
		var de *il.DecodingError
		if errors.As(err, &de) && de.Method == "" {
			de.Method = method.FullName()
		}
		return nil, err
	}
	return a.result(), nil
}

func (a *analysis) run() error {
	a.entry = &ByteCode{seq: -1, Offset: -1, Code: il.Nop}
	a.createParameters()
	if err := a.createByteCodes(); err != nil {
		return err
	}
	if err := a.flow(); err != nil {
		return err
	}
	a.splitLocals()
	a.bindStack()
	return nil
}

func (a *analysis) createParameters() {
	if a.method.HasThis() {
		a.params = append(a.params, &il.Variable{
			Name:   "this",
			Type:   a.method.DeclaringType,
			IsThis: true,
		})
	}
	for _, p := range a.method.Params {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("p%d", p.Index)
		}
		a.params = append(a.params, &il.Variable{Name: name, Type: p.Type, OriginalParam: p})
	}
}

func (a *analysis) createByteCodes() error {
	var prev *ByteCode
	for _, in := range a.body.Instructions {
		bc := &ByteCode{
			seq:      a.seq,
			Offset:   in.Offset,
			End:      in.End(),
			Code:     in.Code,
			Prefixes: in.Prefixes,
			Operand:  in.Operand,
		}
		a.seq++
		pop, push, err := a.stackEffect(in)
		if err != nil {
			return err
		}
		bc.PopCount, bc.PushCount = pop, push
		if prev != nil {
			prev.Next = bc
		}
		prev = bc
		a.all = append(a.all, bc)
		a.byOffset[in.Offset] = bc
	}

	for _, bc := range a.all {
		for _, target := range branchTargets(bc) {
			t, ok := a.byOffset[target]
			if !ok {
				return il.NewDecodingError(il.ErrCodeBadOperand, bc.Offset,
					"branch target IL_%04x is not an instruction boundary", target)
			}
			t.Label = true
		}
		switch bc.Code {
		case il.Ldarg, il.Starg, il.Ldarga:
			if bc.Operand.Index < 0 || bc.Operand.Index >= len(a.params) {
				return il.NewDecodingError(il.ErrCodeBadOperand, bc.Offset, "argument %d out of range", bc.Operand.Index)
			}
			bc.Var = a.params[bc.Operand.Index]
		case il.Ldloc, il.Stloc, il.Ldloca:
			if bc.Operand.Index < 0 || bc.Operand.Index >= len(a.body.Locals) {
				return il.NewDecodingError(il.ErrCodeBadOperand, bc.Offset, "local %d out of range", bc.Operand.Index)
			}
		}
	}

	for _, eh := range a.body.Handlers {
		h := &Handler{ExceptionHandler: eh}
		for _, off := range []int{eh.TryStart, eh.HandlerStart} {
			if _, ok := a.byOffset[off]; !ok {
				return il.NewDecodingError(il.ErrCodeBadHandlerNesting, off,
					"%s handler boundary is not an instruction boundary", eh.Kind)
			}
		}
		if eh.Kind == il.HandlerCatch || eh.Kind == il.HandlerFilter {
			h.Exception = &ByteCode{
				seq:       a.seq,
				Offset:    eh.HandlerStart,
				End:       eh.HandlerStart,
				Code:      il.Ldexception,
				PushCount: 1,
			}
			a.seq++
		}
		a.handlers = append(a.handlers, h)
	}
	return nil
}

func branchTargets(bc *ByteCode) []int {
	switch {
	case bc.Code == il.Switch:
		return bc.Operand.Targets
	case bc.Code.IsBranch():
		return []int{bc.Operand.Target}
	}
	return nil
}

// stackEffect returns how many values an instruction pops and pushes.
func (a *analysis) stackEffect(in il.Instruction) (int, int, error) {
	switch in.Code {
	case il.Nop, il.Br, il.Rethrow:
		return 0, 0, nil
	case il.Dup:
		return 1, 2, nil
	case il.Pop, il.Stloc, il.Starg, il.Stsfld, il.Brtrue, il.Brfalse,
		il.Switch, il.Throw, il.Endfilter, il.Initobj:
		return 1, 0, nil
	case il.LdcI4, il.LdcI8, il.Ldstr, il.Ldnull, il.Ldloc, il.Ldloca,
		il.Ldarg, il.Ldarga, il.Ldsfld, il.Ldsflda:
		return 0, 1, nil
	case il.Ldftn:
		if in.Operand.Method == nil {
			return 0, 0, il.NewDecodingError(il.ErrCodeBadOperand, in.Offset, "ldftn without method operand")
		}
		return 0, 1, nil
	case il.Ldfld, il.Ldflda, il.Neg, il.Not, il.Newarr, il.Ldlen, il.Ldobj,
		il.Box, il.Unbox, il.UnboxAny, il.Castclass, il.Isinst, il.Conv:
		return 1, 1, nil
	case il.Stfld, il.Stobj, il.Beq, il.Bne, il.Blt, il.Bgt, il.Ble, il.Bge:
		return 2, 0, nil
	case il.Add, il.Sub, il.Mul, il.Div, il.Rem, il.And, il.Or, il.Xor,
		il.Shl, il.Shr, il.Ceq, il.Cgt, il.CgtUn, il.Clt, il.CltUn,
		il.Ldelem, il.Ldelema:
		return 2, 1, nil
	case il.Stelem:
		return 3, 0, nil
	case il.Leave, il.Endfinally:
		return -1, 0, nil
	case il.Ret:
		if a.method.ReturnsValue() {
			return 1, 0, nil
		}
		return 0, 0, nil
	case il.Call, il.Callvirt, il.Newobj:
		m := in.Operand.Method
		if m == nil {
			return 0, 0, il.NewDecodingError(il.ErrCodeBadOperand, in.Offset, "%s without method operand", in.Code)
		}
		pop := len(m.Params)
		if in.Code == il.Newobj {
			return pop, 1, nil
		}
		if m.HasThis() {
			pop++
		}
		push := 0
		if m.ReturnsValue() {
			push = 1
		}
		return pop, push, nil
	}
	return 0, 0, il.NewDecodingError(il.ErrCodeBadOperand, in.Offset, "unsupported opcode %s", in.Code)
}

func (a *analysis) isHandlerEntry(bc *ByteCode) bool {
	for _, h := range a.handlers {
		if bc.Offset == h.HandlerStart || (h.Kind == il.HandlerFilter && bc.Offset == h.FilterStart) {
			return true
		}
	}
	return false
}

// flow runs the work-list dataflow to a fixpoint.
func (a *analysis) flow() error {
	nlocals := len(a.body.Locals)
	var agenda []*ByteCode
	queued := make(map[*ByteCode]bool)
	enqueue := func(bc *ByteCode) {
		if !queued[bc] {
			queued[bc] = true
			agenda = append(agenda, bc)
		}
	}

	first := a.all[0]
	first.StackBefore = []StackSlot{}
	first.VariablesBefore = make([]VariableSlot, nlocals)
	for i := range first.VariablesBefore {
		first.VariablesBefore[i].Definitions = []*ByteCode{a.entry}
	}
	enqueue(first)

	for _, h := range a.handlers {
		starts := []int{h.HandlerStart}
		if h.Kind == il.HandlerFilter {
			starts = append(starts, h.FilterStart)
		}
		for _, off := range starts {
			bc, ok := a.byOffset[off]
			if !ok {
				return il.NewDecodingError(il.ErrCodeBadHandlerNesting, off, "handler entry is not an instruction boundary")
			}
			stack := []StackSlot{}
			if h.Exception != nil {
				stack = []StackSlot{{Definitions: []*ByteCode{h.Exception}}}
			}
			bc.StackBefore = stack
			bc.VariablesBefore = unknownVars(nlocals)
			enqueue(bc)
		}
	}

	for len(agenda) > 0 {
		bc := agenda[len(agenda)-1]
		agenda = agenda[:len(agenda)-1]
		queued[bc] = false

		pops := bc.Pops()
		if pops > len(bc.StackBefore) {
			return il.NewDecodingError(il.ErrCodeStackUnderflow, bc.Offset,
				"%s pops %d values but the stack holds %d", bc.Code, pops, len(bc.StackBefore))
		}
		after := make([]StackSlot, 0, len(bc.StackBefore)-pops+bc.PushCount)
		after = append(after, bc.StackBefore[:len(bc.StackBefore)-pops]...)
		for i := 0; i < bc.PushCount; i++ {
			after = append(after, StackSlot{Definitions: []*ByteCode{bc}})
		}

		var vars []VariableSlot
		if bc.Code == il.Leave {
			// An intervening finally may mutate anything.
			vars = unknownVars(nlocals)
		} else {
			vars = cloneVars(bc.VariablesBefore)
			if bc.Code == il.Stloc {
				vars[bc.Operand.Index] = VariableSlot{Definitions: []*ByteCode{bc}}
			}
		}

		succs := a.successors(bc)
		for i, s := range succs {
			stack, vs := after, vars
			if len(succs) > 1 && i < len(succs)-1 {
				stack, vs = cloneStack(after), cloneVars(vars)
			}
			changed, err := merge(s, stack, vs)
			if err != nil {
				return err
			}
			if changed {
				enqueue(s)
			}
		}
	}
	return nil
}

func (a *analysis) successors(bc *ByteCode) []*ByteCode {
	var out []*ByteCode
	if !bc.Code.IsUnconditionalControlFlow() && bc.Next != nil && !a.isHandlerEntry(bc.Next) {
		out = append(out, bc.Next)
	}
	for _, off := range branchTargets(bc) {
		out = append(out, a.byOffset[off])
	}
	return out
}

// merge folds incoming state into s. It takes ownership of stack and vars.
func merge(s *ByteCode, stack []StackSlot, vars []VariableSlot) (bool, error) {
	if s.StackBefore == nil {
		s.StackBefore = stack
		s.VariablesBefore = vars
		return true, nil
	}
	if len(s.StackBefore) != len(stack) {
		return false, il.NewDecodingError(il.ErrCodeStackMismatch, s.Offset,
			"inconsistent stack depth at join: %d vs %d", len(s.StackBefore), len(stack))
	}
	changed := false
	for i := range stack {
		defs, grew := unionDefs(s.StackBefore[i].Definitions, stack[i].Definitions)
		if grew {
			s.StackBefore[i].Definitions = defs
			changed = true
		}
	}
	for i := range vars {
		cur := &s.VariablesBefore[i]
		if cur.Unknown {
			continue
		}
		if vars[i].Unknown {
			cur.Unknown = true
			cur.Definitions = nil
			changed = true
			continue
		}
		defs, grew := unionDefs(cur.Definitions, vars[i].Definitions)
		if grew {
			cur.Definitions = defs
			changed = true
		}
	}
	return changed, nil
}

// splitLocals creates the variables for declared locals.
func (a *analysis) splitLocals() {
	var reachable []*ByteCode
	for _, bc := range a.all {
		if bc.Reachable() {
			reachable = append(reachable, bc)
		}
	}

	for idx, local := range a.body.Locals {
		var stores, loads, addrs []*ByteCode
		unknownRead := false
		for _, bc := range reachable {
			if bc.Operand.Index != idx {
				continue
			}
			switch bc.Code {
			case il.Stloc:
				stores = append(stores, bc)
			case il.Ldloc:
				loads = append(loads, bc)
				if bc.VariablesBefore[idx].Unknown {
					unknownRead = true
				}
			case il.Ldloca:
				addrs = append(addrs, bc)
			}
		}
		base := local.Name
		if base == "" {
			base = fmt.Sprintf("V_%d", idx)
		}
		newVar := func(name string) *il.Variable {
			v := &il.Variable{
				Name:          name,
				Type:          local.Type,
				IsPinned:      local.Pinned,
				OriginalLocal: local,
			}
			return v
		}

		if local.Pinned || len(addrs) > 0 || unknownRead {
			v := newVar(base)
			for _, bc := range append(append(stores, loads...), addrs...) {
				bc.Var = v
			}
			continue
		}

		uf := newUnionFind()
		uf.add(a.entry)
		for _, s := range stores {
			uf.add(s)
		}
		for _, l := range loads {
			defs := l.VariablesBefore[idx].Definitions
			for _, d := range defs[1:] {
				uf.union(defs[0], d)
			}
		}

		classes := make(map[*ByteCode]*il.Variable)
		var order []*ByteCode
		for _, s := range stores {
			order = append(order, uf.find(s))
		}
		for _, l := range loads {
			if defs := l.VariablesBefore[idx].Definitions; len(defs) > 0 {
				order = append(order, uf.find(defs[0]))
			}
		}
		n := 0
		varOf := func(root *ByteCode) *il.Variable {
			if v, ok := classes[root]; ok {
				return v
			}
			name := base
			if n > 0 {
				name = fmt.Sprintf("%s_%d", base, n)
			}
			n++
			v := newVar(name)
			classes[root] = v
			return v
		}
		for _, r := range order {
			varOf(r)
		}
		for _, s := range stores {
			s.Var = classes[uf.find(s)]
		}
		for _, l := range loads {
			defs := l.VariablesBefore[idx].Definitions
			if len(defs) == 0 {
				l.Var = newVar(base + "_default")
				continue
			}
			l.Var = classes[uf.find(defs[0])]
		}
	}
}

// bindStack binds every consumed stack slot to a generated variable and
// then collapses temporaries with a single producer and consumers that
// only see that producer.
func (a *analysis) bindStack() {
	type use struct {
		bc  *ByteCode
		idx int
	}
	loads := make(map[*il.Variable][]use)
	for _, bc := range a.all {
		if !bc.Reachable() {
			continue
		}
		n := len(bc.StackBefore)
		for i := n - bc.Pops(); i < n; i++ {
			slot := &bc.StackBefore[i]
			tmp := &il.Variable{Name: fmt.Sprintf("arg_%02X_%d", bc.Offset, i), IsGenerated: true}
			slot.LoadFrom = tmp
			for _, def := range slot.Definitions {
				def.StoreTo = append(def.StoreTo, tmp)
			}
			loads[tmp] = append(loads[tmp], use{bc, i})
		}
	}

	producers := append([]*ByteCode{}, a.all...)
	for _, h := range a.handlers {
		if h.Exception != nil {
			producers = append(producers, h.Exception)
		}
	}
	for _, bc := range producers {
		if len(bc.StoreTo) <= 1 {
			continue
		}
		single := true
		for _, v := range bc.StoreTo {
			for _, u := range loads[v] {
				defs := u.bc.StackBefore[u.idx].Definitions
				if len(defs) != 1 || defs[0] != bc {
					single = false
				}
			}
		}
		if !single {
			continue
		}
		tmp := &il.Variable{Name: fmt.Sprintf("expr_%02X", bc.Offset), IsGenerated: true}
		for _, v := range bc.StoreTo {
			for _, u := range loads[v] {
				u.bc.StackBefore[u.idx].LoadFrom = tmp
			}
		}
		bc.StoreTo = []*il.Variable{tmp}
	}
}

func (a *analysis) result() *Result {
	r := &Result{
		Method:     a.method,
		Handlers:   a.handlers,
		Parameters: a.params,
	}
	seen := make(map[*il.Variable]bool)
	for _, bc := range a.all {
		if !bc.Reachable() {
			continue
		}
		r.Body = append(r.Body, bc)
		if bc.Var != nil && !bc.Var.IsParameter() && !seen[bc.Var] {
			seen[bc.Var] = true
			r.Variables = append(r.Variables, bc.Var)
		}
	}
	sort.SliceStable(r.Body, func(i, j int) bool { return r.Body[i].Offset < r.Body[j].Offset })
	return r
}

// unionFind groups definition sites that must share one variable.
type unionFind struct {
	parent map[*ByteCode]*ByteCode
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[*ByteCode]*ByteCode)}
}

func (u *unionFind) add(b *ByteCode) {
	if _, ok := u.parent[b]; !ok {
		u.parent[b] = b
	}
}

func (u *unionFind) find(b *ByteCode) *ByteCode {
	u.add(b)
	for u.parent[b] != b {
		u.parent[b] = u.parent[u.parent[b]]
		b = u.parent[b]
	}
	return b
}

func (u *unionFind) union(a, b *ByteCode) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		if rb.seq < ra.seq {
			ra, rb = rb, ra
		}
		u.parent[rb] = ra
	}
}
