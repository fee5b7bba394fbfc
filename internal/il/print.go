package il

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders the subtree at id as indented pseudo-source.
func (t *Tree) Format(id NodeID) string {
	p := &printer{t: t}
	p.stmt(id)
	return p.sb.String()
}

// FormatExpr renders a single expression on one line.
func (t *Tree) FormatExpr(id NodeID) string {
	p := &printer{t: t}
	return p.expr(id)
}

type printer struct {
	t      *Tree
	sb     strings.Builder
	indent int
}

func (p *printer) line(format string, args ...any) {
	p.sb.WriteString(strings.Repeat("\t", max(p.indent, 0)))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

func (p *printer) body(id NodeID) {
	p.indent++
	if id != Nil {
		p.stmts(id)
	}
	p.indent--
}

func (p *printer) stmts(id NodeID) {
	n := p.t.Node(id)
	if n.Kind == KindBlock || n.Kind == KindBasicBlock {
		if n.EntryGoto != Nil {
			p.stmt(n.EntryGoto)
		}
		for _, s := range n.Stmts {
			p.stmt(s)
		}
		return
	}
	p.stmt(id)
}

func (p *printer) stmt(id NodeID) {
	t := p.t
	n := t.Node(id)
	switch n.Kind {
	case KindBlock, KindBasicBlock:
		p.stmts(id)
	case KindLabel:
		p.indent--
		p.line("%s:", n.Name)
		p.indent++
	case KindExpr:
		p.line("%s;", p.expr(id))
	case KindTry:
		p.line("try {")
		p.body(n.TryBlock)
		for _, c := range n.Catches {
			cn := t.Node(c)
			header := "catch (" + TypeName(cn.Type)
			if cn.Var != nil {
				header += " " + cn.Var.Name
			}
			header += ")"
			if cn.Filter != Nil {
				p.line("} %s when {", header)
				p.body(cn.Filter)
				p.line("} {")
			} else {
				p.line("} %s {", header)
			}
			p.body(cn.Body)
		}
		if n.Fault != Nil {
			p.line("} fault {")
			p.body(n.Fault)
		}
		if n.Finally != Nil {
			p.line("} finally {")
			p.body(n.Finally)
		}
		p.line("}")
	case KindCondition:
		p.line("if (%s) {", p.cond(n.Cond))
		p.body(n.Then)
		if n.Else != Nil && len(t.Stmts(n.Else)) > 0 {
			p.line("} else {")
			p.body(n.Else)
		}
		p.line("}")
	case KindLoop:
		cond := "true"
		if n.Cond != Nil {
			cond = p.cond(n.Cond)
		}
		p.line("while (%s) {", cond)
		p.body(n.Body)
		p.line("}")
	case KindSwitch:
		p.line("switch (%s) {", p.expr(n.Cond))
		for _, c := range n.Cases {
			cn := t.Node(c)
			if len(cn.Values) == 0 {
				p.line("default:")
			}
			for _, v := range cn.Values {
				p.line("case %d:", v)
			}
			p.body(cn.Body)
		}
		p.line("}")
	case KindUsing:
		p.line("using (%s) {", p.expr(n.Init))
		p.body(n.Body)
		p.line("}")
	case KindFixed:
		p.line("fixed (%s) {", p.expr(n.Init))
		p.body(n.Body)
		p.line("}")
	case KindForeach:
		decl := "var " + n.Var.Name
		if len(n.Hoisted) > 0 {
			decl = n.Var.Name
		}
		p.line("foreach (%s in %s) {", decl, p.expr(n.Cond))
		p.body(n.Body)
		p.line("}")
	case KindFor:
		cond := ""
		if n.Cond != Nil {
			cond = p.cond(n.Cond)
		}
		p.line("for (%s; %s; %s) {", p.optExpr(n.Init), cond, p.optExpr(n.Step))
		p.body(n.Body)
		p.line("}")
	case KindDoWhile:
		for _, v := range n.Hoisted {
			p.line("%s %s;", TypeName(v.Type), v.Name)
		}
		p.line("do {")
		p.body(n.Body)
		p.line("} while (%s);", p.cond(n.Cond))
	case KindLock:
		p.line("lock (%s) {", p.expr(n.Cond))
		p.body(n.Body)
		p.line("}")
	default:
		p.line("/* %s */", n.Kind)
	}
}

// cond renders a branch condition. An integer tested for truth is
// spelled as a comparison with zero.
func (p *printer) cond(id NodeID) string {
	if typ := p.t.staticType(id); typ != nil && typ.IsValueType && typ != Bool {
		return p.operand(id) + " != 0"
	}
	return p.expr(id)
}

func (p *printer) optExpr(id NodeID) string {
	if id == Nil {
		return ""
	}
	return p.expr(id)
}

var operators = map[Code]string{
	Add: "+", Sub: "-", Mul: "*", Div: "/", Rem: "%",
	And: "&", Or: "|", Xor: "^", Shl: "<<", Shr: ">>",
	Ceq: "==", Cne: "!=", Cge: ">=", Cle: "<=", Cgt: ">", CgtUn: ">", Clt: "<", CltUn: "<",
	LogicAnd: "&&", LogicOr: "||", NullCoalescing: "??",
}

func (p *printer) args(ids []NodeID) string {
	parts := make([]string, len(ids))
	for i, a := range ids {
		parts[i] = p.expr(a)
	}
	return strings.Join(parts, ", ")
}

func (p *printer) operand(id NodeID) string {
	s := p.expr(id)
	n := p.t.Node(id)
	if n.Kind == KindExpr {
		if _, infix := operators[n.Code]; infix || n.Code == TernaryOp {
			return "(" + s + ")"
		}
	}
	return s
}

func (p *printer) label(id NodeID) string {
	if id == Nil {
		return "<nil>"
	}
	return p.t.Node(id).Name
}

func (p *printer) expr(id NodeID) string {
	t := p.t
	n := t.Node(id)
	if n.Kind != KindExpr {
		return "/* " + n.Kind.String() + " */"
	}
	a := n.Args
	if op, ok := operators[n.Code]; ok && len(a) == 2 {
		return p.operand(a[0]) + " " + op + " " + p.operand(a[1])
	}
	switch n.Code {
	case Nop:
		return "nop"
	case LdcI4, LdcI8:
		return strconv.FormatInt(n.Int, 10)
	case Ldstr:
		return strconv.Quote(n.Str)
	case Ldnull:
		return "null"
	case Ldloc:
		return n.Var.Name
	case Ldloca:
		return "&" + n.Var.Name
	case Stloc:
		return n.Var.Name + " = " + p.expr(a[0])
	case Ldfld:
		return p.operand(a[0]) + "." + n.Field.Name
	case Ldflda:
		return "&" + p.operand(a[0]) + "." + n.Field.Name
	case Stfld:
		return p.operand(a[0]) + "." + n.Field.Name + " = " + p.expr(a[1])
	case Ldsfld:
		return TypeName(n.Field.DeclaringType) + "." + n.Field.Name
	case Ldsflda:
		return "&" + TypeName(n.Field.DeclaringType) + "." + n.Field.Name
	case Stsfld:
		return TypeName(n.Field.DeclaringType) + "." + n.Field.Name + " = " + p.expr(a[0])
	case Neg:
		return "-" + p.operand(a[0])
	case Not:
		return "~" + p.operand(a[0])
	case LogicNot:
		return "!" + p.operand(a[0])
	case TernaryOp:
		return p.operand(a[0]) + " ? " + p.operand(a[1]) + " : " + p.operand(a[2])
	case Call, Callvirt:
		if n.Method.HasThis() && len(a) > 0 {
			return p.operand(a[0]) + "." + n.Method.Name + "(" + p.args(a[1:]) + ")"
		}
		return TypeName(n.Method.DeclaringType) + "." + n.Method.Name + "(" + p.args(a) + ")"
	case Newobj:
		return "new " + TypeName(n.Method.DeclaringType) + "(" + p.args(a) + ")"
	case Newarr:
		return "new " + TypeName(n.Type) + "[" + p.expr(a[0]) + "]"
	case InitArray:
		return "new " + TypeName(n.Type) + "[] { " + p.args(a) + " }"
	case Ldlen:
		return p.operand(a[0]) + ".Length"
	case Ldelem:
		return p.operand(a[0]) + "[" + p.expr(a[1]) + "]"
	case Ldelema:
		return "&" + p.operand(a[0]) + "[" + p.expr(a[1]) + "]"
	case Stelem:
		return p.operand(a[0]) + "[" + p.expr(a[1]) + "] = " + p.expr(a[2])
	case Ldobj:
		return "*" + p.operand(a[0])
	case Stobj:
		return "*" + p.operand(a[0]) + " = " + p.expr(a[1])
	case Box, Conv, Castclass, UnboxAny:
		return "(" + TypeName(n.Type) + ")" + p.operand(a[0])
	case Isinst:
		return p.operand(a[0]) + " as " + TypeName(n.Type)
	case Ldftn:
		return "&" + n.Method.FullName()
	case AddressOf:
		return "&" + p.operand(a[0])
	case DefaultValue:
		return "default(" + TypeName(n.Type) + ")"
	case Ret:
		if len(a) == 0 {
			return "return"
		}
		return "return " + p.expr(a[0])
	case Throw:
		return "throw " + p.expr(a[0])
	case Rethrow:
		return "throw"
	case Br, Leave:
		return "goto " + p.label(n.Target)
	case Brtrue:
		return "if (" + p.cond(a[0]) + ") goto " + p.label(n.Target)
	case Switch:
		labels := make([]string, len(n.Targets))
		for i, l := range n.Targets {
			labels[i] = p.label(l)
		}
		return "switch (" + p.expr(a[0]) + ") goto [" + strings.Join(labels, ", ") + "]"
	case YieldReturn:
		return "yield return " + p.expr(a[0])
	case YieldBreak:
		return "yield break"
	case LoopBreak:
		return "break"
	case LoopContinue:
		return "continue"
	case Endfinally:
		return "endfinally"
	case CompoundAssignment:
		target := p.expr(a[0])
		if op, ok := operators[n.Op]; ok {
			return target + " " + op + "= " + p.expr(a[1])
		}
		return target + " " + n.Op.String() + "= " + p.expr(a[1])
	case PostIncrement:
		if n.Int < 0 {
			return p.operand(a[0]) + "--"
		}
		return p.operand(a[0]) + "++"
	case Ldexception:
		return "<exception>"
	}
	if len(a) == 0 {
		return n.Code.String()
	}
	return n.Code.String() + "(" + p.args(a) + ")"
}

// TypeName returns the keyword or short name used in rendered source.
func TypeName(td *TypeDef) string {
	if td == nil {
		return "object"
	}
	switch td {
	case Int32:
		return "int"
	case Int64:
		return "long"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Object:
		return "object"
	case Void:
		return "void"
	}
	return td.Name
}

// staticType returns the type an expression is known to produce, or nil.
func (t *Tree) staticType(id NodeID) *TypeDef {
	n := t.Node(id)
	if n.Kind != KindExpr {
		return nil
	}
	switch {
	case n.Code.IsComparison():
		return Bool
	case n.InferredType != nil:
		return n.InferredType
	}
	switch n.Code {
	case Ldloc:
		return n.Var.Type
	case Call, Callvirt:
		return n.Method.ReturnType
	case Ldfld, Ldsfld:
		return n.Field.Type
	}
	return nil
}
