package il

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// DomainMethod prefixes method body hashes. The version suffix allows the
// encoding to change without colliding with older cache entries.
const DomainMethod = "ildecomp/method/v2"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MethodHash computes a content-addressed identity for a method body. Two
// methods with the same name, signature, locals, handlers and instruction
// stream hash identically. The bodies of compiler-generated types the
// method constructs are folded in, since iterator reversal decompiles the
// enumerator's methods in place of the stub.
func MethodHash(m *MethodDef) (string, error) {
	if m.Body == nil {
		return "", fmt.Errorf("MethodHash: %s has no body", m.FullName())
	}
	obj := methodObject(m)
	if generated := constructedGenerated(m); len(generated) > 0 {
		nested := make([]any, 0)
		for _, td := range generated {
			for _, nm := range td.Methods {
				if nm.Body != nil {
					nested = append(nested, methodObject(nm))
				}
			}
		}
		obj["nested"] = nested
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("MethodHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMethod, canonical), nil
}

func methodObject(m *MethodDef) map[string]any {
	insns := make([]any, len(m.Body.Instructions))
	for i, in := range m.Body.Instructions {
		insns[i] = map[string]any{
			"offset":  in.Offset,
			"op":      in.Code.String(),
			"operand": operandText(in),
		}
	}
	params := make([]any, len(m.Params))
	for i, p := range m.Params {
		params[i] = map[string]any{
			"name": p.Name,
			"type": p.Type.FullName(),
		}
	}
	locals := make([]any, len(m.Body.Locals))
	for i, l := range m.Body.Locals {
		locals[i] = map[string]any{
			"name":   l.Name,
			"type":   l.Type.FullName(),
			"pinned": l.Pinned,
		}
	}
	handlers := make([]any, len(m.Body.Handlers))
	for i, h := range m.Body.Handlers {
		handlers[i] = map[string]any{
			"kind":          h.Kind.String(),
			"try_start":     h.TryStart,
			"try_end":       h.TryEnd,
			"handler_start": h.HandlerStart,
			"handler_end":   h.HandlerEnd,
			"catch_type":    h.CatchType.FullName(),
		}
	}
	return map[string]any{
		"method":   m.FullName(),
		"static":   m.IsStatic,
		"returns":  m.ReturnType.FullName(),
		"params":   params,
		"locals":   locals,
		"handlers": handlers,
		"body":     insns,
	}
}

// constructedGenerated returns the compiler-generated types nested beside
// m that its body constructs, in order of first construction.
func constructedGenerated(m *MethodDef) []*TypeDef {
	var out []*TypeDef
	for _, in := range m.Body.Instructions {
		if in.Code != Newobj || in.Operand.Method == nil {
			continue
		}
		td := in.Operand.Method.DeclaringType
		if td == nil || !td.CompilerGenerated || td.DeclaringType == nil ||
			td.DeclaringType != m.DeclaringType || slices.Contains(out, td) {
			continue
		}
		out = append(out, td)
	}
	return out
}

// operandText renders the operand of in the way listings spell it.
func operandText(in Instruction) string {
	op := in.Operand
	switch {
	case op.Method != nil:
		return op.Method.FullName()
	case op.Field != nil:
		return op.Field.FullName()
	case op.Type != nil:
		return op.Type.FullName()
	}
	switch in.Code {
	case LdcI4, LdcI8:
		return fmt.Sprintf("%d", op.Int)
	case Ldstr:
		return op.String
	case Ldloc, Stloc, Ldloca, Ldarg, Starg, Ldarga:
		return fmt.Sprintf("%d", op.Index)
	case Switch:
		return fmt.Sprintf("%v", op.Targets)
	}
	if in.Code.IsBranch() {
		return fmt.Sprintf("IL_%04x", op.Target)
	}
	return ""
}

// CleanIdentifier turns a compiler-generated member name such as
// "<total>5__1" or "<>4__this" into a usable identifier, NFC-normalized.
func CleanIdentifier(name string) string {
	name = norm.NFC.String(name)
	if len(name) > 0 && name[0] == '<' {
		for i := 1; i < len(name); i++ {
			if name[i] == '>' {
				inner := name[1:i]
				if inner != "" {
					return inner
				}
				break
			}
		}
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '<' || r == '>' || r == '$' || r == '.' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}
