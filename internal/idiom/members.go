package idiom

import (
	"strings"

	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/pattern"
)

// Property is an automatic property recovered from its accessors.
type Property struct {
	Name   string
	Field  *il.FieldDef
	Getter *il.MethodDef
	Setter *il.MethodDef // nil for a get-only property
}

// Event is an automatic event recovered from its accessors.
type Event struct {
	Name    string
	Field   *il.FieldDef
	Adder   *il.MethodDef
	Remover *il.MethodDef
}

func backingField(property string) func(*il.FieldDef) bool {
	return func(f *il.FieldDef) bool {
		return f.CompilerGenerated && f.Name == "<"+property+">k__BackingField"
	}
}

func fieldLoad(static bool, fn func(*il.FieldDef) bool) pattern.Pattern {
	if static {
		return pattern.Expr(il.Ldsfld).Field(fn)
	}
	return pattern.Expr(il.Ldfld, pattern.This).Field(fn)
}

func fieldStore(static bool, fn func(*il.FieldDef) bool, value pattern.Pattern) pattern.Pattern {
	if static {
		return pattern.Expr(il.Stsfld, value).Field(fn)
	}
	return pattern.Expr(il.Stfld, pattern.This, value).Field(fn)
}

var voidReturn = pattern.Expr(il.Ret)

// AutoProperty reports whether getter, and setter when not nil, are the
// accessors of an automatic property: the getter returns one
// compiler-generated backing field and the setter stores its value
// parameter into the same field.
func AutoProperty(getter, setter *il.Tree) (*Property, bool) {
	if getter == nil {
		return nil, false
	}
	gm := getter.Method
	name, ok := strings.CutPrefix(gm.Name, "get_")
	if !ok {
		return nil, false
	}
	m, ok := pattern.Run(getter, pattern.Seq(pattern.Expr(il.Ret, pattern.Capture("load", fieldLoad(gm.IsStatic, backingField(name))))), getter.Root)
	if !ok {
		return nil, false
	}
	p := &Property{Name: name, Field: getter.Node(m.Node("load")).Field, Getter: gm}
	if setter == nil {
		return p, true
	}
	sm := setter.Method
	if sm.Name != "set_"+name || sm.IsStatic != gm.IsStatic || len(sm.Params) != 1 {
		return nil, false
	}
	isField := func(f *il.FieldDef) bool { return f == p.Field }
	value := pattern.Where(pattern.Expr(il.Ldloc), func(m *pattern.Match, id il.NodeID) bool {
		return m.Tree.Node(id).Var.OriginalParam == sm.Params[0]
	})
	store := fieldStore(sm.IsStatic, isField, value)
	if _, ok := pattern.Run(setter, pattern.AnyOf(pattern.Seq(store), pattern.Seq(store, voidReturn)), setter.Root); !ok {
		return nil, false
	}
	p.Setter = sm
	return p, true
}

func delegateCall(name string) func(*il.MethodDef) bool {
	return func(m *il.MethodDef) bool {
		return m.Name == name && m.IsStatic && m.DeclaringType.FullName() == "System.Delegate"
	}
}

func isCompareExchange(m *il.MethodDef) bool {
	return m.Name == "CompareExchange" && m.IsStatic && m.DeclaringType.FullName() == "System.Threading.Interlocked"
}

// AutoEvent reports whether adder and remover are the accessors of an
// automatic event: each reads the event field and retries an interlocked
// compare-exchange of the combined or removed delegate until no other
// thread raced it.
func AutoEvent(adder, remover *il.Tree) (*Event, bool) {
	if adder == nil || remover == nil {
		return nil, false
	}
	name, ok := strings.CutPrefix(adder.Method.Name, "add_")
	if !ok || remover.Method.Name != "remove_"+name || adder.Method.IsStatic != remover.Method.IsStatic {
		return nil, false
	}
	f1, ok := eventAccessor(adder, name, "Combine")
	if !ok {
		return nil, false
	}
	f2, ok := eventAccessor(remover, name, "Remove")
	if !ok || f1 != f2 {
		return nil, false
	}
	return &Event{Name: name, Field: f1, Adder: adder.Method, Remover: remover.Method}, true
}

// eventAccessor matches
//
//	h = this.E
//	do { h2 = h; h = Interlocked.CompareExchange(ref this.E, (T)Delegate.op(h2, value), h2) } while (h != h2)
//
// allowing for the inlining the pipeline may have done inside the loop.
func eventAccessor(t *il.Tree, name, op string) (*il.FieldDef, bool) {
	static := t.Method.IsStatic
	isEventField := func(f *il.FieldDef) bool { return f.Name == name && f.IsStatic == static }
	loop := pattern.AnyOf(pattern.Shape{Kind: il.KindDoWhile, Body: pattern.Present, Cond: pattern.Present},
		pattern.Shape{Kind: il.KindLoop, Body: pattern.Present, Cond: pattern.Any})
	items := []pattern.Pattern{
		pattern.Stloc("h", pattern.Capture("read", fieldLoad(static, isEventField))),
		pattern.Capture("loop", loop),
	}
	m, ok := pattern.RunSeq(t, items, t.Stmts(t.Root))
	if !ok {
		m, ok = pattern.RunSeq(t, append(items, voidReturn), t.Stmts(t.Root))
	}
	if !ok {
		return nil, false
	}
	field := t.Node(m.Node("read")).Field

	var combines, exchanges int
	for _, e := range t.Exprs(m.Node("loop")) {
		n := t.Node(e)
		switch {
		case n.Code == il.Call && delegateCall(op)(n.Method):
			combines++
			if len(n.Args) != 2 || !isValueParam(t, n.Args[1]) {
				return nil, false
			}
		case n.Code == il.Call && isCompareExchange(n.Method):
			exchanges++
			addr, ok := t.MatchExpr(n.Args[0], addressCode(static))
			if !ok || addr.Field != field || (!static && !t.MatchThis(addr.Args[0])) {
				return nil, false
			}
		case n.Code == il.Call || n.Code == il.Callvirt || n.Code == il.Newobj:
			return nil, false
		case n.Code == il.Stfld || n.Code == il.Stsfld:
			return nil, false
		}
	}
	if combines != 1 || exchanges != 1 {
		return nil, false
	}
	return field, true
}

func addressCode(static bool) il.Code {
	if static {
		return il.Ldsflda
	}
	return il.Ldflda
}

func isValueParam(t *il.Tree, id il.NodeID) bool {
	v, ok := t.MatchLdloc(id)
	params := t.Method.Params
	return ok && len(params) == 1 && v.OriginalParam == params[0]
}
