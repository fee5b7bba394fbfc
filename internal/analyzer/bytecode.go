package analyzer

import (
	"fmt"

	"github.com/roach88/ildecomp/internal/il"
)

// ByteCode is the analysis record for one instruction, or for a synthesized
// exception-dispatch entry.
type ByteCode struct {
	seq int

	Offset   int
	End      int
	Code     il.Code
	Prefixes il.Prefix
	Operand  il.Operand

	// Var is the variable a local or argument access resolves to.
	Var *il.Variable

	// Label is set when a branch targets this instruction.
	Label bool

	// Next is the following instruction in offset order.
	Next *ByteCode

	PopCount  int // -1 pops the whole stack
	PushCount int

	// StackBefore is nil for unreachable instructions.
	StackBefore     []StackSlot
	VariablesBefore []VariableSlot

	// StoreTo lists the variables the pushed value is stored into.
	StoreTo []*il.Variable
}

func (b *ByteCode) String() string {
	return fmt.Sprintf("IL_%04x: %s", b.Offset, b.Code)
}

// Reachable reports whether the dataflow reached b.
func (b *ByteCode) Reachable() bool { return b.StackBefore != nil }

// Pops returns the number of stack slots b consumes.
func (b *ByteCode) Pops() int {
	if b.PopCount < 0 {
		return len(b.StackBefore)
	}
	return b.PopCount
}

// StackSlot is one abstract stack cell: the set of producing ByteCodes,
// and after binding the variable the consumer loads from.
type StackSlot struct {
	Definitions []*ByteCode
	LoadFrom    *il.Variable
}

// VariableSlot is the reaching-definition state of one declared local.
// Unknown is the conservative "any store may reach" sentinel.
type VariableSlot struct {
	Definitions []*ByteCode
	Unknown     bool
}

// unionDefs merges two definition sets ordered by seq. It never writes into
// either input.
func unionDefs(a, b []*ByteCode) ([]*ByteCode, bool) {
	out := make([]*ByteCode, 0, len(a)+len(b))
	i, j := 0, 0
	grew := false
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i].seq < b[j].seq):
			out = append(out, a[i])
			i++
		case i == len(a) || b[j].seq < a[i].seq:
			out = append(out, b[j])
			j++
			grew = true
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	if !grew {
		return a, false
	}
	return out, true
}

func cloneStack(s []StackSlot) []StackSlot {
	out := make([]StackSlot, len(s))
	copy(out, s)
	return out
}

func cloneVars(v []VariableSlot) []VariableSlot {
	out := make([]VariableSlot, len(v))
	copy(out, v)
	return out
}

func unknownVars(n int) []VariableSlot {
	out := make([]VariableSlot, n)
	for i := range out {
		out[i].Unknown = true
	}
	return out
}
