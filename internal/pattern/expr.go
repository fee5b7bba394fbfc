package pattern

import (
	"github.com/roach88/ildecomp/internal/il"
)

// ExprPattern matches an expression by code, arguments and operands.
// Constraints are added with the chaining methods.
type ExprPattern struct {
	code    il.Code
	args    []Pattern
	anyArgs bool
	slot    string
	hasInt  bool
	value   int64
	field   func(*il.FieldDef) bool
	method  func(*il.MethodDef) bool
	typ     func(*il.TypeDef) bool
}

// Expr matches an expression with the given code whose arguments match
// args one to one.
func Expr(code il.Code, args ...Pattern) *ExprPattern {
	return &ExprPattern{code: code, args: args}
}

// AnyArgs drops the argument constraint.
func (e *ExprPattern) AnyArgs() *ExprPattern {
	e.anyArgs = true
	return e
}

// Var binds the expression's variable to slot.
func (e *ExprPattern) Var(slot string) *ExprPattern {
	e.slot = slot
	return e
}

// Int requires the integer operand to equal v.
func (e *ExprPattern) Int(v int64) *ExprPattern {
	e.hasInt, e.value = true, v
	return e
}

// Field constrains the field operand.
func (e *ExprPattern) Field(fn func(*il.FieldDef) bool) *ExprPattern {
	e.field = fn
	return e
}

// Method constrains the method operand.
func (e *ExprPattern) Method(fn func(*il.MethodDef) bool) *ExprPattern {
	e.method = fn
	return e
}

// Type constrains the type operand.
func (e *ExprPattern) Type(fn func(*il.TypeDef) bool) *ExprPattern {
	e.typ = fn
	return e
}

func (e *ExprPattern) match(m *Match, id il.NodeID) bool {
	n, ok := m.Tree.MatchExpr(id, e.code)
	if !ok {
		return false
	}
	if e.hasInt && n.Int != e.value {
		return false
	}
	if e.field != nil && (n.Field == nil || !e.field(n.Field)) {
		return false
	}
	if e.method != nil && (n.Method == nil || !e.method(n.Method)) {
		return false
	}
	if e.typ != nil && !e.typ(n.Type) {
		return false
	}
	if e.slot != "" && (n.Var == nil || !m.bindVar(e.slot, n.Var)) {
		return false
	}
	if e.anyArgs {
		return true
	}
	if len(n.Args) != len(e.args) {
		return false
	}
	for i, a := range e.args {
		if !a.match(m, n.Args[i]) {
			return false
		}
	}
	return true
}

// Ldloc matches a load of the variable bound to slot.
func Ldloc(slot string) *ExprPattern { return Expr(il.Ldloc).Var(slot) }

// Ldloca matches the address of the variable bound to slot.
func Ldloca(slot string) *ExprPattern { return Expr(il.Ldloca).Var(slot) }

// Stloc matches a store of value into the variable bound to slot.
func Stloc(slot string, value Pattern) *ExprPattern { return Expr(il.Stloc, value).Var(slot) }

// LdcI4 matches the int32 constant v.
func LdcI4(v int64) *ExprPattern { return Expr(il.LdcI4).Int(v) }

// Ldnull matches the null constant.
func Ldnull() *ExprPattern { return Expr(il.Ldnull) }

// This matches a load of the implicit this argument.
var This Pattern = Where(Expr(il.Ldloc), func(m *Match, id il.NodeID) bool {
	return m.Tree.Node(id).Var.IsThis
})

// Call matches call or callvirt of a method accepted by fn.
func Call(fn func(*il.MethodDef) bool, args ...Pattern) Pattern {
	return AnyOf(Expr(il.Call, args...).Method(fn), Expr(il.Callvirt, args...).Method(fn))
}

// Named accepts methods called name, including explicit interface
// implementations such as "System.IDisposable.Dispose".
func Named(name string) func(*il.MethodDef) bool {
	return func(md *il.MethodDef) bool { return isNamed(md.Name, name) }
}

func isNamed(got, name string) bool {
	return got == name || (len(got) > len(name) && got[len(got)-len(name)-1] == '.' && got[len(got)-len(name):] == name)
}

// Shape matches a structural node. A nil slot requires the node's slot to
// be absent; use Any to accept anything.
type Shape struct {
	Kind     il.Kind
	Cond     Pattern
	Then     Pattern
	Else     Pattern
	Body     Pattern
	Init     Pattern
	Step     Pattern
	TryBlock Pattern
	Finally  Pattern
	Fault    Pattern
	Catches  []Pattern
}

func (s Shape) match(m *Match, id il.NodeID) bool {
	if m.Tree.Kind(id) != s.Kind {
		return false
	}
	n := m.Tree.Node(id)
	slot := func(p Pattern, child il.NodeID) bool {
		if p == nil {
			return child == il.Nil
		}
		return p.match(m, child)
	}
	if !slot(s.Cond, n.Cond) || !slot(s.Then, n.Then) || !slot(s.Else, n.Else) ||
		!slot(s.Body, n.Body) || !slot(s.Init, n.Init) || !slot(s.Step, n.Step) ||
		!slot(s.TryBlock, n.TryBlock) || !slot(s.Finally, n.Finally) || !slot(s.Fault, n.Fault) {
		return false
	}
	if len(n.Catches) != len(s.Catches) {
		return false
	}
	for i, c := range s.Catches {
		if !c.match(m, n.Catches[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether a and b are structurally equal. Expressions
// compare by code, operands and arguments; other nodes by kind and
// children.
func Equal(t *il.Tree, a, b il.NodeID) bool {
	if a == b {
		return true
	}
	if a == il.Nil || b == il.Nil {
		return false
	}
	na, nb := t.Node(a), t.Node(b)
	if na.Kind != nb.Kind {
		return false
	}
	switch na.Kind {
	case il.KindLabel:
		return false
	case il.KindExpr:
		if na.Code != nb.Code || na.Var != nb.Var || na.Int != nb.Int || na.Str != nb.Str ||
			na.Field != nb.Field || na.Method != nb.Method || na.Type != nb.Type ||
			na.Target != nb.Target || na.Op != nb.Op || len(na.Args) != len(nb.Args) {
			return false
		}
	}
	ca, cb := t.Children(a), t.Children(b)
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if !Equal(t, ca[i], cb[i]) {
			return false
		}
	}
	return true
}
