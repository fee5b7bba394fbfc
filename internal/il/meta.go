package il

import "strings"

// TypeDef describes a type as supplied by the metadata collaborator.
// Types are compared by pointer identity.
type TypeDef struct {
	Namespace         string
	Name              string
	IsValueType       bool
	CompilerGenerated bool
	DeclaringType     *TypeDef
	Interfaces        []string // full names, e.g. "System.Collections.IEnumerator"
	Fields            []*FieldDef
	Methods           []*MethodDef
}

// FullName returns the namespace-qualified name, using '/' for nesting.
func (t *TypeDef) FullName() string {
	if t == nil {
		return ""
	}
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + "/" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Implements reports whether t lists the named interface.
func (t *TypeDef) Implements(fullName string) bool {
	for _, i := range t.Interfaces {
		if i == fullName {
			return true
		}
	}
	return false
}

// Method returns the first method with the given name.
func (t *TypeDef) Method(name string) *MethodDef {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// MethodFunc returns the first method whose name satisfies match.
func (t *TypeDef) MethodFunc(match func(name string) bool) *MethodDef {
	for _, m := range t.Methods {
		if match(m.Name) {
			return m
		}
	}
	return nil
}

// Field returns the field with the given name.
func (t *TypeDef) Field(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Well-known types used by type inference and the idiom patterns.
var (
	Void    = &TypeDef{Namespace: "System", Name: "Void", IsValueType: true}
	Object  = &TypeDef{Namespace: "System", Name: "Object"}
	Bool    = &TypeDef{Namespace: "System", Name: "Boolean", IsValueType: true}
	Int32   = &TypeDef{Namespace: "System", Name: "Int32", IsValueType: true}
	Int64   = &TypeDef{Namespace: "System", Name: "Int64", IsValueType: true}
	String  = &TypeDef{Namespace: "System", Name: "String"}
	IntPtr  = &TypeDef{Namespace: "System", Name: "IntPtr", IsValueType: true}
	Array   = &TypeDef{Namespace: "System", Name: "Array"}
	NullRef = &TypeDef{Name: "<null>"}
)

// IsBuiltin reports whether t is one of the well-known types above.
func IsBuiltin(t *TypeDef) bool {
	switch t {
	case Void, Object, Bool, Int32, Int64, String, IntPtr, Array, NullRef:
		return true
	}
	return false
}

// BuiltinType resolves the short keyword names used in assembly listings.
func BuiltinType(name string) (*TypeDef, bool) {
	switch name {
	case "void":
		return Void, true
	case "object":
		return Object, true
	case "bool":
		return Bool, true
	case "int32", "int":
		return Int32, true
	case "int64", "long":
		return Int64, true
	case "string":
		return String, true
	case "native int":
		return IntPtr, true
	}
	return nil, false
}

// FieldDef describes a field.
type FieldDef struct {
	Name              string
	Type              *TypeDef
	DeclaringType     *TypeDef
	IsStatic          bool
	CompilerGenerated bool
}

// FullName returns "Type::Name".
func (f *FieldDef) FullName() string {
	return f.DeclaringType.FullName() + "::" + f.Name
}

// ParamDef describes a declared parameter. Index counts declared parameters
// only; the implicit this of an instance method is not a ParamDef.
type ParamDef struct {
	Index int
	Name  string
	Type  *TypeDef
}

// LocalDef describes a declared local slot.
type LocalDef struct {
	Index  int
	Name   string
	Type   *TypeDef
	Pinned bool
}

// MethodDef describes a method and, when present, its body.
type MethodDef struct {
	Name              string
	DeclaringType     *TypeDef
	IsStatic          bool
	IsConstructor     bool
	CompilerGenerated bool
	Params            []*ParamDef
	ReturnType        *TypeDef // nil or Void for no result
	Body              *MethodBody
}

// FullName returns "Type::Name".
func (m *MethodDef) FullName() string {
	return m.DeclaringType.FullName() + "::" + m.Name
}

// HasThis reports whether the method receives an implicit this argument.
func (m *MethodDef) HasThis() bool { return !m.IsStatic }

// ReturnsValue reports whether a call pushes a result.
func (m *MethodDef) ReturnsValue() bool {
	return m.ReturnType != nil && m.ReturnType != Void
}

// IsOperator reports whether the method is a user-defined operator.
func (m *MethodDef) IsOperator() bool {
	return m.IsStatic && strings.HasPrefix(m.Name, "op_")
}

// MethodBody is the decoded body of a method.
type MethodBody struct {
	Instructions []Instruction
	Locals       []*LocalDef
	Handlers     []ExceptionHandler
}

// Prefix is a bit set of instruction prefixes.
type Prefix uint8

const (
	PrefixConstrained Prefix = 1 << iota
	PrefixVolatile
	PrefixTail
)

// Operand is the decoded operand of an instruction. Which field is
// meaningful depends on the opcode.
type Operand struct {
	Int     int64      // ldc.i4, ldc.i8
	String  string     // ldstr
	Index   int        // ldloc/stloc/ldloca local index, ldarg/starg/ldarga argument index
	Target  int        // branch target offset
	Targets []int      // switch target offsets
	Field   *FieldDef  // field access
	Method  *MethodDef // call, callvirt, newobj, ldftn
	Type    *TypeDef   // newarr, box, castclass, isinst, initobj, ldobj, stobj, conv
}

// Instruction is one immutable input instruction.
type Instruction struct {
	Offset   int
	Size     int
	Code     Code
	Prefixes Prefix
	Operand  Operand
}

// End returns the offset just past the instruction.
func (i Instruction) End() int { return i.Offset + i.Size }

// HandlerKind identifies the kind of an exception handler.
type HandlerKind int

const (
	HandlerCatch HandlerKind = iota
	HandlerFilter
	HandlerFinally
	HandlerFault
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFilter:
		return "filter"
	case HandlerFinally:
		return "finally"
	case HandlerFault:
		return "fault"
	}
	return "unknown"
}

// ExceptionHandler is one row of the exception-handler table. Ranges are
// half-open offset intervals.
type ExceptionHandler struct {
	Kind         HandlerKind
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	FilterStart  int      // only for HandlerFilter
	CatchType    *TypeDef // only for HandlerCatch
}
