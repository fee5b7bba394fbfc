package il

import "fmt"

// Code identifies an instruction opcode or an AST-only expression code.
// Input bytecode uses the codes up to Conv; the remaining codes are only
// produced by the assembler and the optimization passes.
type Code int

const (
	Nop Code = iota

	// Stack manipulation
	Dup
	Pop

	// Constants
	LdcI4
	LdcI8
	Ldstr
	Ldnull

	// Locals and arguments
	Ldloc
	Stloc
	Ldloca
	Ldarg
	Starg
	Ldarga

	// Fields
	Ldfld
	Stfld
	Ldflda
	Ldsfld
	Stsfld
	Ldsflda

	// Arithmetic and bitwise
	Add
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Shl
	Shr
	Neg
	Not

	// Comparison
	Ceq
	Cgt
	CgtUn
	Clt
	CltUn

	// Control flow
	Br
	Brtrue
	Brfalse
	Beq
	Bne
	Blt
	Bgt
	Ble
	Bge
	Switch
	Leave
	Endfinally
	Endfilter
	Ret
	Throw
	Rethrow

	// Objects, arrays and calls
	Call
	Callvirt
	Newobj
	Newarr
	Ldlen
	Ldelem
	Stelem
	Ldelema
	Ldobj
	Stobj
	Initobj
	Box
	Unbox
	UnboxAny
	Castclass
	Isinst
	Ldftn
	Conv

	// AST-only codes
	Ldexception
	Cne
	Cge
	Cle
	LogicNot
	LogicAnd
	LogicOr
	TernaryOp
	NullCoalescing
	InitArray
	AddressOf
	CompoundAssignment
	PostIncrement
	YieldReturn
	YieldBreak
	LoopBreak
	LoopContinue
	DefaultValue

	codeCount
)

var codeNames = [codeCount]string{
	Nop:                "nop",
	Dup:                "dup",
	Pop:                "pop",
	LdcI4:              "ldc.i4",
	LdcI8:              "ldc.i8",
	Ldstr:              "ldstr",
	Ldnull:             "ldnull",
	Ldloc:              "ldloc",
	Stloc:              "stloc",
	Ldloca:             "ldloca",
	Ldarg:              "ldarg",
	Starg:              "starg",
	Ldarga:             "ldarga",
	Ldfld:              "ldfld",
	Stfld:              "stfld",
	Ldflda:             "ldflda",
	Ldsfld:             "ldsfld",
	Stsfld:             "stsfld",
	Ldsflda:            "ldsflda",
	Add:                "add",
	Sub:                "sub",
	Mul:                "mul",
	Div:                "div",
	Rem:                "rem",
	And:                "and",
	Or:                 "or",
	Xor:                "xor",
	Shl:                "shl",
	Shr:                "shr",
	Neg:                "neg",
	Not:                "not",
	Ceq:                "ceq",
	Cgt:                "cgt",
	CgtUn:              "cgt.un",
	Clt:                "clt",
	CltUn:              "clt.un",
	Br:                 "br",
	Brtrue:             "brtrue",
	Brfalse:            "brfalse",
	Beq:                "beq",
	Bne:                "bne.un",
	Blt:                "blt",
	Bgt:                "bgt",
	Ble:                "ble",
	Bge:                "bge",
	Switch:             "switch",
	Leave:              "leave",
	Endfinally:         "endfinally",
	Endfilter:          "endfilter",
	Ret:                "ret",
	Throw:              "throw",
	Rethrow:            "rethrow",
	Call:               "call",
	Callvirt:           "callvirt",
	Newobj:             "newobj",
	Newarr:             "newarr",
	Ldlen:              "ldlen",
	Ldelem:             "ldelem",
	Stelem:             "stelem",
	Ldelema:            "ldelema",
	Ldobj:              "ldobj",
	Stobj:              "stobj",
	Initobj:            "initobj",
	Box:                "box",
	Unbox:              "unbox",
	UnboxAny:           "unbox.any",
	Castclass:          "castclass",
	Isinst:             "isinst",
	Ldftn:              "ldftn",
	Conv:               "conv",
	Ldexception:        "ldexception",
	Cne:                "cne",
	Cge:                "cge",
	Cle:                "cle",
	LogicNot:           "logicnot",
	LogicAnd:           "logicand",
	LogicOr:            "logicor",
	TernaryOp:          "ternary",
	NullCoalescing:     "nullcoalescing",
	InitArray:          "initarray",
	AddressOf:          "addressof",
	CompoundAssignment: "compoundassign",
	PostIncrement:      "postincrement",
	YieldReturn:        "yield.return",
	YieldBreak:         "yield.break",
	LoopBreak:          "break",
	LoopContinue:       "continue",
	DefaultValue:       "defaultvalue",
}

var codesByName = func() map[string]Code {
	m := make(map[string]Code, codeCount)
	for c := Code(0); c < codeCount; c++ {
		m[codeNames[c]] = c
	}
	return m
}()

// String returns the mnemonic of the code.
func (c Code) String() string {
	if c >= 0 && c < codeCount {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// ParseCode resolves an input mnemonic. AST-only codes are rejected.
func ParseCode(name string) (Code, bool) {
	c, ok := codesByName[name]
	if !ok || c > Conv {
		return 0, false
	}
	return c, true
}

// IsConditionalBranch reports whether c branches to its target on a
// condition and otherwise falls through.
func (c Code) IsConditionalBranch() bool {
	switch c {
	case Brtrue, Brfalse, Beq, Bne, Blt, Bgt, Ble, Bge:
		return true
	}
	return false
}

// IsBranch reports whether c carries label targets.
func (c Code) IsBranch() bool {
	return c == Br || c == Leave || c == Switch || c.IsConditionalBranch()
}

// IsUnconditionalControlFlow reports whether execution never continues with
// the next statement after c.
func (c Code) IsUnconditionalControlFlow() bool {
	switch c {
	case Br, Leave, Ret, Throw, Rethrow, Endfinally, Endfilter,
		LoopBreak, LoopContinue, YieldBreak:
		return true
	}
	return false
}

// IsBinaryOperator reports whether c is a two-operand arithmetic, bitwise or
// comparison operator.
func (c Code) IsBinaryOperator() bool {
	switch c {
	case Add, Sub, Mul, Div, Rem, And, Or, Xor, Shl, Shr,
		Ceq, Cne, Cge, Cle, Cgt, CgtUn, Clt, CltUn:
		return true
	}
	return false
}

// IsComparison reports whether c yields a boolean.
func (c Code) IsComparison() bool {
	switch c {
	case Ceq, Cne, Cge, Cle, Cgt, CgtUn, Clt, CltUn, LogicNot, LogicAnd, LogicOr:
		return true
	}
	return false
}
