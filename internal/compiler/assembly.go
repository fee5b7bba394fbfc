package compiler

import (
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/ildecomp/internal/il"
)

// Assembly is a compiled fixture: the declared types plus the extern types
// their bodies reference.
type Assembly struct {
	// Types lists declared types in declaration order.
	Types []*il.TypeDef

	declared map[string]*il.TypeDef
	extern   map[string]*il.TypeDef
	builtin  map[*il.TypeDef]*il.TypeDef
}

func newAssembly() *Assembly {
	return &Assembly{
		declared: make(map[string]*il.TypeDef),
		extern:   make(map[string]*il.TypeDef),
		builtin:  make(map[*il.TypeDef]*il.TypeDef),
	}
}

// Type returns a declared type by full name.
func (a *Assembly) Type(fullName string) *il.TypeDef {
	return a.declared[fullName]
}

// Method resolves "Type::Name" against declared types.
func (a *Assembly) Method(ref string) *il.MethodDef {
	typeName, name, ok := strings.Cut(ref, "::")
	if !ok {
		return nil
	}
	t := a.declared[typeName]
	if t == nil {
		return nil
	}
	return t.Method(name)
}

// Methods returns every declared method that has a body.
func (a *Assembly) Methods() []*il.MethodDef {
	var out []*il.MethodDef
	for _, t := range a.Types {
		for _, m := range t.Methods {
			if m.Body != nil {
				out = append(out, m)
			}
		}
	}
	return out
}

// CompileSource compiles CUE source text holding a top-level "type" struct.
func CompileSource(src string) (*Assembly, error) {
	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileAssembly(v)
}

// CompileAssembly compiles the "type" struct of a CUE value.
func CompileAssembly(v cue.Value) (*Assembly, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	typesVal := v.LookupPath(cue.ParsePath("type"))
	if !typesVal.Exists() {
		return nil, &CompileError{Field: "type", Message: "at least one type is required", Pos: v.Pos()}
	}

	type pending struct {
		name string
		val  cue.Value
	}
	var decls []pending
	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		decls = append(decls, pending{iter.Label(), iter.Value()})
	}
	// Outer types before the types nested in them.
	sort.SliceStable(decls, func(i, j int) bool {
		return strings.Count(decls[i].name, "/") < strings.Count(decls[j].name, "/")
	})

	a := newAssembly()
	for _, d := range decls {
		if err := a.declareType(d.name, d.val); err != nil {
			return nil, err
		}
	}
	for _, d := range decls {
		if err := a.declareMembers(a.declared[d.name], d.val); err != nil {
			return nil, err
		}
	}
	for _, d := range decls {
		if err := a.compileBodies(a.declared[d.name], d.val); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Assembly) declareType(fullName string, v cue.Value) error {
	if _, dup := a.declared[fullName]; dup {
		return &CompileError{Field: "type." + fullName, Message: "duplicate type", Pos: v.Pos()}
	}
	t := &il.TypeDef{}
	if outer, inner, nested := cutLast(fullName, "/"); nested {
		parent := a.declared[outer]
		if parent == nil {
			return &CompileError{Field: "type." + fullName, Message: fmt.Sprintf("declaring type %q is not declared", outer), Pos: v.Pos()}
		}
		t.DeclaringType = parent
		t.Name = inner
	} else if ns, name, ok := cutLast(fullName, "."); ok {
		t.Namespace, t.Name = ns, name
	} else {
		t.Name = fullName
	}

	var err error
	if t.IsValueType, err = optBool(v, "valueType"); err != nil {
		return err
	}
	if t.CompilerGenerated, err = optBool(v, "compilerGenerated"); err != nil {
		return err
	}
	if t.Interfaces, err = optStrings(v, "interfaces"); err != nil {
		return err
	}
	a.declared[fullName] = t
	a.Types = append(a.Types, t)
	return nil
}

func (a *Assembly) declareMembers(t *il.TypeDef, v cue.Value) error {
	if fieldsVal := v.LookupPath(cue.ParsePath("field")); fieldsVal.Exists() {
		iter, err := fieldsVal.Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			fv := iter.Value()
			f := &il.FieldDef{Name: iter.Label(), DeclaringType: t}
			typeName, err := reqString(fv, "type")
			if err != nil {
				return err
			}
			f.Type = a.typeRef(typeName)
			if f.IsStatic, err = optBool(fv, "static"); err != nil {
				return err
			}
			if f.CompilerGenerated, err = optBool(fv, "compilerGenerated"); err != nil {
				return err
			}
			t.Fields = append(t.Fields, f)
		}
	}

	methodsVal := v.LookupPath(cue.ParsePath("method"))
	if !methodsVal.Exists() {
		return nil
	}
	iter, err := methodsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		mv := iter.Value()
		m := &il.MethodDef{Name: iter.Label(), DeclaringType: t}
		m.IsConstructor = m.Name == ".ctor"
		if m.IsStatic, err = optBool(mv, "static"); err != nil {
			return err
		}
		if m.CompilerGenerated, err = optBool(mv, "compilerGenerated"); err != nil {
			return err
		}
		m.ReturnType = il.Void
		if ret, ok, err := optString(mv, "returns"); err != nil {
			return err
		} else if ok {
			m.ReturnType = a.typeRef(ret)
		}
		params, err := optStrings(mv, "params")
		if err != nil {
			return err
		}
		for i, p := range params {
			typeName, name := splitDecl(p)
			m.Params = append(m.Params, &il.ParamDef{Index: i, Name: name, Type: a.typeRef(typeName)})
		}
		t.Methods = append(t.Methods, m)
	}
	return nil
}

func (a *Assembly) compileBodies(t *il.TypeDef, v cue.Value) error {
	for _, m := range t.Methods {
		mv := v.LookupPath(cue.MakePath(cue.Str("method"), cue.Str(m.Name)))
		bodyVal := mv.LookupPath(cue.ParsePath("body"))
		if !bodyVal.Exists() {
			continue
		}
		src, err := bodyVal.String()
		if err != nil {
			return formatCUEError(err)
		}
		body := &il.MethodBody{}
		locals, err := optStrings(mv, "locals")
		if err != nil {
			return err
		}
		for i, l := range locals {
			pinned := false
			if rest, ok := strings.CutPrefix(l, "pinned "); ok {
				pinned, l = true, rest
			}
			typeName, name := splitDecl(l)
			body.Locals = append(body.Locals, &il.LocalDef{Index: i, Name: name, Type: a.typeRef(typeName), Pinned: pinned})
		}
		m.Body = body

		p := &bodyParser{asm: a, method: m}
		labels, err := p.parse(src)
		if err != nil {
			return &CompileError{Field: m.FullName() + ".body", Message: err.Error(), Pos: bodyVal.Pos()}
		}
		if body.Handlers, err = a.parseHandlers(mv, labels); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembly) parseHandlers(mv cue.Value, labels map[string]int) ([]il.ExceptionHandler, error) {
	hv := mv.LookupPath(cue.ParsePath("handlers"))
	if !hv.Exists() {
		return nil, nil
	}
	list, err := hv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []il.ExceptionHandler
	for list.Next() {
		v := list.Value()
		var h il.ExceptionHandler
		kind, err := reqString(v, "kind")
		if err != nil {
			return nil, err
		}
		switch kind {
		case "catch":
			h.Kind = il.HandlerCatch
		case "filter":
			h.Kind = il.HandlerFilter
		case "finally":
			h.Kind = il.HandlerFinally
		case "fault":
			h.Kind = il.HandlerFault
		default:
			return nil, &CompileError{Field: "handlers.kind", Message: fmt.Sprintf("unknown handler kind %q", kind), Pos: v.Pos()}
		}
		label := func(name string) (int, error) {
			off, ok := labels[name]
			if !ok {
				return 0, &CompileError{Field: "handlers", Message: fmt.Sprintf("undefined label %q", name), Pos: v.Pos()}
			}
			return off, nil
		}
		rng := func(field string) (int, int, error) {
			bounds, err := optStrings(v, field)
			if err != nil {
				return 0, 0, err
			}
			if len(bounds) != 2 {
				return 0, 0, &CompileError{Field: "handlers." + field, Message: "expected [start, end] labels", Pos: v.Pos()}
			}
			start, err := label(bounds[0])
			if err != nil {
				return 0, 0, err
			}
			end, err := label(bounds[1])
			return start, end, err
		}
		if h.TryStart, h.TryEnd, err = rng("try"); err != nil {
			return nil, err
		}
		if h.HandlerStart, h.HandlerEnd, err = rng("handler"); err != nil {
			return nil, err
		}
		if h.Kind == il.HandlerFilter {
			name, err := reqString(v, "filter")
			if err != nil {
				return nil, err
			}
			if h.FilterStart, err = label(name); err != nil {
				return nil, err
			}
		}
		if h.Kind == il.HandlerCatch {
			name, ok, err := optString(v, "catch")
			if err != nil {
				return nil, err
			}
			if !ok {
				name = "System.Exception"
			}
			h.CatchType = a.typeRef(name)
		}
		out = append(out, h)
	}
	return out, nil
}

// typeRef resolves a type name, creating extern stand-ins on demand.
func (a *Assembly) typeRef(name string) *il.TypeDef {
	name = strings.TrimSpace(name)
	valueType := false
	if rest, ok := strings.CutPrefix(name, "valuetype "); ok {
		valueType, name = true, rest
	}
	if t, ok := il.BuiltinType(name); ok {
		return t
	}
	if t := a.declared[name]; t != nil {
		return t
	}
	if t := a.extern[name]; t != nil {
		return t
	}
	t := &il.TypeDef{Name: name, IsValueType: valueType}
	if !strings.ContainsAny(name, "/[&") {
		if ns, n, ok := cutLast(name, "."); ok {
			t.Namespace, t.Name = ns, n
		}
	}
	a.extern[name] = t
	return t
}

// memberTable returns the type that records the extern members referenced
// on t. The builtin types are shared by every assembly, so their members
// go to a copy owned by this assembly.
func (a *Assembly) memberTable(t *il.TypeDef) *il.TypeDef {
	if !il.IsBuiltin(t) {
		return t
	}
	if c := a.builtin[t]; c != nil {
		return c
	}
	c := &il.TypeDef{Namespace: t.Namespace, Name: t.Name, IsValueType: t.IsValueType}
	a.builtin[t] = c
	return c
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", s, false
	}
	return s[:i], s[i+len(sep):], true
}

// splitDecl splits "type name" declarations; a bare type leaves the name empty.
func splitDecl(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		return strings.TrimSpace(s[:i]), s[i+1:]
	}
	return s, ""
}

func optBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optString(v cue.Value, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

func reqString(v cue.Value, field string) (string, error) {
	s, ok, err := optString(v, field)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	return s, nil
}

func optStrings(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}
