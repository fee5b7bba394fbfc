package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/ildecomp/internal/il"
)

var (
	labelRe     = regexp.MustCompile(`^([A-Za-z_]\w*):(?:\s+|$)`)
	methodRefRe = regexp.MustCompile(`^(?:(instance)\s+)?(?:(\S+)\s+)?([^\s:]+)::([^\s(]+)(?:\(([^)]*)\))?$`)
	fieldRefRe  = regexp.MustCompile(`^(?:(\S+)\s+)?([^\s:]+)::(\S+)$`)
)

var prefixes = map[string]il.Prefix{
	"constrained.": il.PrefixConstrained,
	"volatile.":    il.PrefixVolatile,
	"tail.":        il.PrefixTail,
}

type rawInstruction struct {
	line     int
	code     il.Code
	prefixes il.Prefix
	operand  string
	offset   int
	size     int
}

// bodyParser assembles one textual method body.
type bodyParser struct {
	asm    *Assembly
	method *il.MethodDef
}

// parse fills method.Body.Instructions and returns the label offsets.
// Labels after the last instruction resolve to the end of the body.
func (p *bodyParser) parse(src string) (map[string]int, error) {
	var raws []rawInstruction
	labels := make(map[string]int)
	var pending []string
	offset := 0

	for n, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(stripComment(line))
		for {
			m := labelRe.FindStringSubmatch(line)
			if m == nil {
				break
			}
			pending = append(pending, m[1])
			line = strings.TrimSpace(line[len(m[0]):])
		}
		if line == "" {
			continue
		}

		raw := rawInstruction{line: n + 1}
		line = strings.ReplaceAll(line, "\t", " ")
		var head string
		for {
			var tail string
			head, tail, _ = strings.Cut(line, " ")
			line = strings.TrimSpace(tail)
			prefix, ok := prefixes[head]
			if !ok {
				break
			}
			raw.prefixes |= prefix
		}
		code, ok := il.ParseCode(head)
		if !ok {
			return nil, fmt.Errorf("line %d: unknown opcode %q", raw.line, head)
		}
		raw.code = code
		raw.operand = line
		raw.offset = offset
		raw.size = instructionSize(code, raw.operand)
		offset += raw.size

		for _, l := range pending {
			if _, dup := labels[l]; dup {
				return nil, fmt.Errorf("line %d: duplicate label %q", raw.line, l)
			}
			labels[l] = raw.offset
		}
		pending = pending[:0]
		raws = append(raws, raw)
	}
	for _, l := range pending {
		if _, dup := labels[l]; dup {
			return nil, fmt.Errorf("duplicate label %q", l)
		}
		labels[l] = offset
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	instrs := make([]il.Instruction, 0, len(raws))
	for _, raw := range raws {
		in := il.Instruction{Offset: raw.offset, Size: raw.size, Code: raw.code, Prefixes: raw.prefixes}
		op, err := p.operand(raw, labels)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", raw.line, raw.code, err)
		}
		in.Operand = op
		instrs = append(instrs, in)
	}
	p.method.Body.Instructions = instrs
	return labels, nil
}

// stripComment drops a trailing // comment outside string literals.
func stripComment(line string) string {
	quoted := false
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && quoted:
			i++
		case line[i] == '"':
			quoted = !quoted
		case !quoted && strings.HasPrefix(line[i:], "//"):
			return line[:i]
		}
	}
	return line
}

// instructionSize approximates encoded sizes so offsets read naturally.
func instructionSize(code il.Code, operand string) int {
	switch code {
	case il.LdcI8:
		return 9
	case il.Switch:
		return 5 + 4*len(splitList(operand))
	}
	if operand == "" {
		return 1
	}
	switch code {
	case il.Ldloc, il.Stloc, il.Ldloca, il.Ldarg, il.Starg, il.Ldarga:
		return 2
	}
	return 5
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *bodyParser) operand(raw rawInstruction, labels map[string]int) (il.Operand, error) {
	var op il.Operand
	s := raw.operand
	need := func() error {
		if s == "" {
			return fmt.Errorf("missing operand")
		}
		return nil
	}

	switch raw.code {
	case il.LdcI4, il.LdcI8:
		if err := need(); err != nil {
			return op, err
		}
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return op, fmt.Errorf("bad integer %q", s)
		}
		op.Int = n
	case il.Ldstr:
		str, err := strconv.Unquote(s)
		if err != nil {
			return op, fmt.Errorf("bad string literal %s", s)
		}
		op.String = str
	case il.Ldloc, il.Stloc, il.Ldloca:
		if err := need(); err != nil {
			return op, err
		}
		idx, err := p.localIndex(s)
		if err != nil {
			return op, err
		}
		op.Index = idx
	case il.Ldarg, il.Starg, il.Ldarga:
		if err := need(); err != nil {
			return op, err
		}
		idx, err := p.argIndex(s)
		if err != nil {
			return op, err
		}
		op.Index = idx
	case il.Br, il.Brtrue, il.Brfalse, il.Beq, il.Bne, il.Blt, il.Bgt, il.Ble, il.Bge, il.Leave:
		target, ok := labels[s]
		if !ok {
			return op, fmt.Errorf("undefined label %q", s)
		}
		op.Target = target
	case il.Switch:
		for _, l := range splitList(s) {
			target, ok := labels[l]
			if !ok {
				return op, fmt.Errorf("undefined label %q", l)
			}
			op.Targets = append(op.Targets, target)
		}
	case il.Ldfld, il.Stfld, il.Ldflda, il.Ldsfld, il.Stsfld, il.Ldsflda:
		if err := need(); err != nil {
			return op, err
		}
		static := raw.code == il.Ldsfld || raw.code == il.Stsfld || raw.code == il.Ldsflda
		f, err := p.fieldRef(s, static)
		if err != nil {
			return op, err
		}
		op.Field = f
	case il.Call, il.Callvirt, il.Newobj, il.Ldftn:
		if err := need(); err != nil {
			return op, err
		}
		m, err := p.methodRef(s, raw.code == il.Newobj)
		if err != nil {
			return op, err
		}
		op.Method = m
	case il.Newarr, il.Box, il.Unbox, il.UnboxAny, il.Castclass, il.Isinst,
		il.Initobj, il.Ldobj, il.Stobj, il.Conv:
		if err := need(); err != nil {
			return op, err
		}
		op.Type = p.asm.typeRef(s)
	case il.Ldelem, il.Stelem, il.Ldelema:
		if s != "" {
			op.Type = p.asm.typeRef(s)
		}
	default:
		if s != "" {
			return op, fmt.Errorf("unexpected operand %q", s)
		}
	}
	return op, nil
}

func (p *bodyParser) localIndex(s string) (int, error) {
	locals := p.method.Body.Locals
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(locals) {
			return 0, fmt.Errorf("local %d out of range", n)
		}
		return n, nil
	}
	for _, l := range locals {
		if l.Name == s {
			return l.Index, nil
		}
	}
	return 0, fmt.Errorf("unknown local %q", s)
}

// argIndex maps an argument operand to the IL argument number, where an
// instance method's this is argument 0.
func (p *bodyParser) argIndex(s string) (int, error) {
	shift := 0
	if p.method.HasThis() {
		shift = 1
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(p.method.Params)+shift {
			return 0, fmt.Errorf("argument %d out of range", n)
		}
		return n, nil
	}
	if s == "this" && shift == 1 {
		return 0, nil
	}
	for _, prm := range p.method.Params {
		if prm.Name == s {
			return prm.Index + shift, nil
		}
	}
	return 0, fmt.Errorf("unknown argument %q", s)
}

func (p *bodyParser) fieldRef(s string, static bool) (*il.FieldDef, error) {
	m := fieldRefRe.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("bad field reference %q", s)
	}
	t := p.asm.typeRef(m[2])
	host := p.asm.memberTable(t)
	if f := host.Field(m[3]); f != nil {
		return f, nil
	}
	if p.asm.declared[m[2]] != nil {
		return nil, fmt.Errorf("type %s has no field %s", m[2], m[3])
	}
	f := &il.FieldDef{Name: m[3], DeclaringType: t, IsStatic: static, Type: il.Object}
	if m[1] != "" {
		f.Type = p.asm.typeRef(m[1])
	}
	host.Fields = append(host.Fields, f)
	return f, nil
}

func (p *bodyParser) methodRef(s string, ctor bool) (*il.MethodDef, error) {
	m := methodRefRe.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("bad method reference %q", s)
	}
	instance, retName, typeName, name, paramList := m[1] != "", m[2], m[3], m[4], m[5]
	hasParens := strings.Contains(s, "(")
	var paramTypes []string
	if hasParens {
		paramTypes = splitList(paramList)
	}

	if t := p.asm.declared[typeName]; t != nil {
		for _, md := range t.Methods {
			if md.Name == name && (!hasParens || len(md.Params) == len(paramTypes)) {
				return md, nil
			}
		}
		return nil, fmt.Errorf("type %s has no method %s", typeName, name)
	}

	t := p.asm.typeRef(typeName)
	host := p.asm.memberTable(t)
	for _, md := range host.Methods {
		if md.Name == name && len(md.Params) == len(paramTypes) {
			return md, nil
		}
	}
	if !hasParens {
		return nil, fmt.Errorf("extern method %s::%s needs a parameter list", typeName, name)
	}
	md := &il.MethodDef{
		Name:          name,
		DeclaringType: t,
		IsStatic:      !instance && !ctor,
		IsConstructor: name == ".ctor",
		ReturnType:    il.Void,
	}
	if retName != "" && !ctor {
		md.ReturnType = p.asm.typeRef(retName)
	}
	for i, pt := range paramTypes {
		md.Params = append(md.Params, &il.ParamDef{Index: i, Type: p.asm.typeRef(pt)})
	}
	host.Methods = append(host.Methods, md)
	return md, nil
}
