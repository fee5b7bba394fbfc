package il

import "fmt"

// NodeID addresses a node inside a Tree. The zero value is the absent node.
type NodeID int32

// Nil is the absent node.
const Nil NodeID = 0

// Kind is the node variant.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBlock
	KindBasicBlock
	KindLabel
	KindExpr
	KindTry
	KindCatch
	KindCondition
	KindLoop
	KindSwitch
	KindCase
	KindUsing
	KindForeach
	KindFor
	KindDoWhile
	KindLock
	KindFixed
)

var kindNames = [...]string{
	KindInvalid:    "invalid",
	KindBlock:      "block",
	KindBasicBlock: "basicblock",
	KindLabel:      "label",
	KindExpr:       "expr",
	KindTry:        "try",
	KindCatch:      "catch",
	KindCondition:  "condition",
	KindLoop:       "loop",
	KindSwitch:     "switch",
	KindCase:       "case",
	KindUsing:      "using",
	KindForeach:    "foreach",
	KindFor:        "for",
	KindDoWhile:    "dowhile",
	KindLock:       "lock",
	KindFixed:      "fixed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// IsBlock reports whether the node holds an ordered statement list.
func (k Kind) IsBlock() bool { return k == KindBlock || k == KindBasicBlock }

// Interval is a half-open bytecode offset range.
type Interval struct {
	Start int
	End   int
}

// Node is one tree node. Which fields are meaningful depends on Kind:
//
//	KindBlock       Stmts, EntryGoto
//	KindBasicBlock  Stmts (first is the entry label)
//	KindLabel       Name
//	KindExpr        Code, Args, Var, Int, Str, Field, Method, Type, Target, Targets, Op
//	KindTry         TryBlock, Catches, Fault, Finally
//	KindCatch       Type (caught type), Var (bound exception variable), Filter, Body
//	KindCondition   Cond, Then, Else
//	KindLoop        Cond (Nil = infinite), Body
//	KindSwitch      Cond (selector), Cases
//	KindCase        Values (empty = default), Body
//	KindUsing       Init, Body
//	KindForeach     Var (item), Cond (collection), Body, Hoisted
//	KindFor         Init, Cond, Step, Body
//	KindDoWhile     Body, Cond, Hoisted
//	KindLock        Cond (lock object), Body
//	KindFixed       Init, Body
type Node struct {
	Kind Kind

	// Expression
	Code     Code
	Args     []NodeID
	Var      *Variable
	Int      int64
	Str      string
	Field    *FieldDef
	Method   *MethodDef
	Type     *TypeDef
	Target   NodeID
	Targets  []NodeID
	Op       Code // operator of CompoundAssignment
	Prefixes Prefix

	// Annotations
	Ranges       []Interval
	InferredType *TypeDef

	// Label
	Name string

	// Containers
	Stmts     []NodeID
	EntryGoto NodeID
	Cond      NodeID
	Then      NodeID
	Else      NodeID
	Body      NodeID
	Init      NodeID
	Step      NodeID
	TryBlock  NodeID
	Catches   []NodeID
	Finally   NodeID
	Fault     NodeID
	Filter    NodeID
	Cases     []NodeID
	Values    []int64
	Hoisted   []*Variable
}

// Tree is the node arena for one method body.
type Tree struct {
	nodes  []*Node
	labels int

	// Root is the method body block.
	Root NodeID

	// Method is the method the tree was built from.
	Method *MethodDef
}

// NewTree creates an empty arena for the given method.
func NewTree(m *MethodDef) *Tree {
	return &Tree{nodes: []*Node{nil}, Method: m}
}

// Add appends a node and returns its id.
func (t *Tree) Add(n Node) NodeID {
	nn := n
	t.nodes = append(t.nodes, &nn)
	return NodeID(len(t.nodes) - 1)
}

// Node returns the node for id. The pointer stays valid for the life of the
// tree, but its content changes when the id is replaced.
func (t *Tree) Node(id NodeID) *Node {
	if id <= 0 || int(id) >= len(t.nodes) {
		panic(fmt.Sprintf("il: invalid node id %d", id))
	}
	return t.nodes[id]
}

// Replace overwrites the node at id, keeping the id stable.
func (t *Tree) Replace(id NodeID, n Node) {
	*t.Node(id) = n
}

// Len returns the number of allocated nodes.
func (t *Tree) Len() int { return len(t.nodes) - 1 }

// Kind returns the kind of id, or KindInvalid for Nil.
func (t *Tree) Kind(id NodeID) Kind {
	if id == Nil {
		return KindInvalid
	}
	return t.Node(id).Kind
}

// Code returns the expression code of id, or -1 if id is not an expression.
func (t *Tree) Code(id NodeID) Code {
	if t.Kind(id) != KindExpr {
		return -1
	}
	return t.Node(id).Code
}

// Constructors

// Expr creates an expression node.
func (t *Tree) Expr(code Code, args ...NodeID) NodeID {
	return t.Add(Node{Kind: KindExpr, Code: code, Args: args})
}

// Ldloc creates a load of v.
func (t *Tree) Ldloc(v *Variable) NodeID {
	return t.Add(Node{Kind: KindExpr, Code: Ldloc, Var: v})
}

// Stloc creates a store of value into v.
func (t *Tree) Stloc(v *Variable, value NodeID) NodeID {
	return t.Add(Node{Kind: KindExpr, Code: Stloc, Var: v, Args: []NodeID{value}})
}

// LdcI4 creates an int32 constant.
func (t *Tree) LdcI4(v int64) NodeID {
	return t.Add(Node{Kind: KindExpr, Code: LdcI4, Int: v})
}

// Br creates an unconditional branch to label.
func (t *Tree) Br(label NodeID) NodeID {
	return t.Add(Node{Kind: KindExpr, Code: Br, Target: label})
}

// Brtrue creates a branch to label taken when cond is true.
func (t *Tree) Brtrue(label, cond NodeID) NodeID {
	return t.Add(Node{Kind: KindExpr, Code: Brtrue, Target: label, Args: []NodeID{cond}})
}

// Not wraps cond in a LogicNot.
func (t *Tree) Not(cond NodeID) NodeID {
	return t.Expr(LogicNot, cond)
}

// NewLabel creates a label with a generated name using prefix.
func (t *Tree) NewLabel(prefix string) NodeID {
	t.labels++
	return t.Add(Node{Kind: KindLabel, Name: fmt.Sprintf("%s_%d", prefix, t.labels)})
}

// NamedLabel creates a label with an explicit name.
func (t *Tree) NamedLabel(name string) NodeID {
	return t.Add(Node{Kind: KindLabel, Name: name})
}

// Block creates a block holding stmts.
func (t *Tree) Block(stmts ...NodeID) NodeID {
	return t.Add(Node{Kind: KindBlock, Stmts: stmts})
}

// Stmts returns the statement list of a block node.
func (t *Tree) Stmts(id NodeID) []NodeID {
	if id == Nil {
		return nil
	}
	return t.Node(id).Stmts
}

// SetStmts replaces the statement list of a block node.
func (t *Tree) SetStmts(id NodeID, stmts []NodeID) {
	t.Node(id).Stmts = stmts
}

// Children returns the direct children of id in evaluation order.
func (t *Tree) Children(id NodeID) []NodeID {
	if id == Nil {
		return nil
	}
	n := t.Node(id)
	var out []NodeID
	add := func(ids ...NodeID) {
		for _, c := range ids {
			if c != Nil {
				out = append(out, c)
			}
		}
	}
	switch n.Kind {
	case KindExpr:
		add(n.Args...)
	case KindBlock:
		add(n.EntryGoto)
		add(n.Stmts...)
	case KindBasicBlock:
		add(n.Stmts...)
	case KindTry:
		add(n.TryBlock)
		add(n.Catches...)
		add(n.Fault, n.Finally)
	case KindCatch:
		add(n.Filter, n.Body)
	case KindCondition:
		add(n.Cond, n.Then, n.Else)
	case KindLoop:
		add(n.Cond, n.Body)
	case KindSwitch:
		add(n.Cond)
		add(n.Cases...)
	case KindCase:
		add(n.Body)
	case KindUsing, KindFixed:
		add(n.Init, n.Body)
	case KindForeach, KindLock:
		add(n.Cond, n.Body)
	case KindFor:
		add(n.Init, n.Cond, n.Step, n.Body)
	case KindDoWhile:
		add(n.Body, n.Cond)
	}
	return out
}

// Walk visits id and its descendants in pre-order. Returning false from fn
// skips the children of the visited node.
func (t *Tree) Walk(id NodeID, fn func(id NodeID) bool) {
	if id == Nil {
		return
	}
	if !fn(id) {
		return
	}
	for _, c := range t.Children(id) {
		t.Walk(c, fn)
	}
}

// Descendants returns id and all nodes below it in pre-order.
func (t *Tree) Descendants(id NodeID) []NodeID {
	var out []NodeID
	t.Walk(id, func(n NodeID) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Exprs returns every expression node at or below id.
func (t *Tree) Exprs(id NodeID) []NodeID {
	var out []NodeID
	t.Walk(id, func(n NodeID) bool {
		if t.Node(n).Kind == KindExpr {
			out = append(out, n)
		}
		return true
	})
	return out
}

// BlocksOf returns every Block and BasicBlock node at or below id.
func (t *Tree) BlocksOf(id NodeID) []NodeID {
	var out []NodeID
	t.Walk(id, func(n NodeID) bool {
		if t.Node(n).Kind.IsBlock() {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Parents maps every node below root to its parent.
func (t *Tree) Parents(root NodeID) map[NodeID]NodeID {
	parents := make(map[NodeID]NodeID)
	var visit func(id NodeID)
	visit = func(id NodeID) {
		for _, c := range t.Children(id) {
			parents[c] = id
			visit(c)
		}
	}
	visit(root)
	return parents
}

// AddRanges appends source ranges to id.
func (t *Tree) AddRanges(id NodeID, ranges ...Interval) {
	n := t.Node(id)
	n.Ranges = append(n.Ranges, ranges...)
}

// CollectRanges returns the ranges of id and all expressions below it.
func (t *Tree) CollectRanges(id NodeID) []Interval {
	var out []Interval
	t.Walk(id, func(n NodeID) bool {
		out = append(out, t.Node(n).Ranges...)
		return true
	})
	return out
}
