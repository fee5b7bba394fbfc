package decompiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/ildecomp/internal/il"
)

// Placeholder returns the comment rendered in place of a method body that
// failed to decode.
func Placeholder(err error) string {
	var de *il.DecodingError
	if errors.As(err, &de) {
		return fmt.Sprintf("/* decoding failed: %s: %s */", de.Code, de.Message)
	}
	return fmt.Sprintf("/* decoding failed: %v */", err)
}

// Body renders the method body without its signature. A failed method
// renders as its placeholder followed by any partial tree.
func (r *Result) Body() string {
	var sb strings.Builder
	if r.Err != nil {
		sb.WriteString(Placeholder(r.Err))
		sb.WriteByte('\n')
	}
	if r.Tree != nil {
		sb.WriteString(r.Tree.Format(r.Tree.Root))
	}
	return sb.String()
}

// Render renders the method with its signature.
func (r *Result) Render() string {
	return RenderMethod(r.Method, r.Body())
}

// RenderMethod wraps a rendered body in the signature of m.
func RenderMethod(m *il.MethodDef, body string) string {
	var sb strings.Builder
	sb.WriteString(Signature(m))
	sb.WriteString(" {\n")
	indent(&sb, body, 1)
	sb.WriteString("}\n")
	return sb.String()
}

// Signature renders the declaration line of m.
func Signature(m *il.MethodDef) string {
	var sb strings.Builder
	if m.IsStatic {
		sb.WriteString("static ")
	}
	if m.IsConstructor {
		sb.WriteString(m.DeclaringType.Name)
	} else {
		sb.WriteString(il.TypeName(returnType(m)))
		sb.WriteByte(' ')
		sb.WriteString(m.Name)
	}
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(il.TypeName(p.Type))
		sb.WriteByte(' ')
		sb.WriteString(p.Name)
	}
	sb.WriteByte(')')
	return sb.String()
}

func returnType(m *il.MethodDef) *il.TypeDef {
	if m.ReturnType == nil {
		return il.Void
	}
	return m.ReturnType
}

// Render renders the type with its recovered members followed by the
// remaining methods in declaration order.
func (r *TypeResult) Render() string {
	var sb strings.Builder
	kind := "class"
	if r.Type.IsValueType {
		kind = "struct"
	}
	fmt.Fprintf(&sb, "%s %s {\n", kind, r.Type.Name)

	for _, p := range r.Properties {
		accessors := "get;"
		if p.Setter != nil {
			accessors = "get; set;"
		}
		fmt.Fprintf(&sb, "\t%s%s %s { %s }\n", static(p.Getter), il.TypeName(p.Field.Type), p.Name, accessors)
	}
	for _, e := range r.Events {
		fmt.Fprintf(&sb, "\t%sevent %s %s;\n", static(e.Adder), il.TypeName(e.Field.Type), e.Name)
	}

	first := len(r.Properties)+len(r.Events) == 0
	for _, res := range r.Methods {
		if r.IsAccessor(res.Method) {
			continue
		}
		if !first {
			sb.WriteByte('\n')
		}
		first = false
		indent(&sb, res.Render(), 1)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func static(m *il.MethodDef) string {
	if m.IsStatic {
		return "static "
	}
	return ""
}

func indent(sb *strings.Builder, text string, depth int) {
	prefix := strings.Repeat("\t", depth)
	for line := range strings.Lines(text) {
		if line != "\n" {
			sb.WriteString(prefix)
		}
		sb.WriteString(line)
	}
}
