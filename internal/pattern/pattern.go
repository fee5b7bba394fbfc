package pattern

import (
	"maps"

	"github.com/roach88/ildecomp/internal/il"
)

// Pattern matches a single node.
type Pattern interface {
	match(m *Match, id il.NodeID) bool
}

// Match holds the bindings of a successful match.
type Match struct {
	Tree  *il.Tree
	nodes map[string]il.NodeID
	lists map[string][]il.NodeID
	vars  map[string]*il.Variable
}

func newMatch(t *il.Tree) *Match {
	return &Match{
		Tree:  t,
		nodes: make(map[string]il.NodeID),
		lists: make(map[string][]il.NodeID),
		vars:  make(map[string]*il.Variable),
	}
}

// Node returns the node captured under name, or il.Nil.
func (m *Match) Node(name string) il.NodeID { return m.nodes[name] }

// List returns the statements consumed by the Repeat named name.
func (m *Match) List(name string) []il.NodeID { return m.lists[name] }

// Var returns the variable bound to slot.
func (m *Match) Var(slot string) *il.Variable { return m.vars[slot] }

type checkpoint struct {
	nodes map[string]il.NodeID
	lists map[string][]il.NodeID
	vars  map[string]*il.Variable
}

func (m *Match) save() checkpoint {
	return checkpoint{maps.Clone(m.nodes), maps.Clone(m.lists), maps.Clone(m.vars)}
}

func (m *Match) restore(c checkpoint) {
	m.nodes, m.lists, m.vars = c.nodes, c.lists, c.vars
}

// bindVar binds slot to v, or checks an existing binding. The empty slot
// accepts any variable.
func (m *Match) bindVar(slot string, v *il.Variable) bool {
	if slot == "" {
		return true
	}
	if bound, ok := m.vars[slot]; ok {
		return bound == v
	}
	m.vars[slot] = v
	return true
}

// Run matches p against id.
func Run(t *il.Tree, p Pattern, id il.NodeID) (*Match, bool) {
	m := newMatch(t)
	if !p.match(m, id) {
		return nil, false
	}
	return m, true
}

// RunSeq matches items against the whole statement list.
func RunSeq(t *il.Tree, items []Pattern, stmts []il.NodeID) (*Match, bool) {
	m := newMatch(t)
	if !matchSeq(m, items, stmts) {
		return nil, false
	}
	return m, true
}

// RunPrefix matches items against the statements starting at stmts[0] and
// reports how many statements the match consumed.
func RunPrefix(t *il.Tree, items []Pattern, stmts []il.NodeID) (*Match, int, bool) {
	for n := min(len(stmts), maxLen(items)); n >= minLen(items); n-- {
		if m, ok := RunSeq(t, items, stmts[:n]); ok {
			return m, n, true
		}
	}
	return nil, 0, false
}

func minLen(items []Pattern) int {
	n := 0
	for _, it := range items {
		if r, ok := it.(*repeat); ok {
			n += r.min
		} else {
			n++
		}
	}
	return n
}

func maxLen(items []Pattern) int {
	n := 0
	for _, it := range items {
		if r, ok := it.(*repeat); ok {
			if r.max < 0 {
				return int(^uint(0) >> 1)
			}
			n += r.max
		} else {
			n++
		}
	}
	return n
}

type anyNode struct{}

func (anyNode) match(*Match, il.NodeID) bool { return true }

// Any matches every node, including the absent one.
var Any Pattern = anyNode{}

type present struct{}

func (present) match(_ *Match, id il.NodeID) bool { return id != il.Nil }

// Present matches any node that exists.
var Present Pattern = present{}

type empty struct{}

func (empty) match(m *Match, id il.NodeID) bool {
	return id == il.Nil || (m.Tree.Kind(id).IsBlock() && len(m.Tree.Stmts(id)) == 0)
}

// Empty matches an absent node or a block without statements.
var Empty Pattern = empty{}

type capture struct {
	name string
	p    Pattern
}

func (c capture) match(m *Match, id il.NodeID) bool {
	if !c.p.match(m, id) {
		return false
	}
	m.nodes[c.name] = id
	return true
}

// Capture binds the node matched by p under name.
func Capture(name string, p Pattern) Pattern { return capture{name, p} }

type backref struct{ name string }

func (b backref) match(m *Match, id il.NodeID) bool {
	prev, ok := m.nodes[b.name]
	return ok && Equal(m.Tree, prev, id)
}

// Backref matches a node structurally equal to the earlier capture name.
func Backref(name string) Pattern { return backref{name} }

type anyOf []Pattern

func (a anyOf) match(m *Match, id il.NodeID) bool {
	for _, p := range a {
		cp := m.save()
		if p.match(m, id) {
			return true
		}
		m.restore(cp)
	}
	return false
}

// AnyOf tries each alternative in order.
func AnyOf(alternatives ...Pattern) Pattern { return anyOf(alternatives) }

type where struct {
	p  Pattern
	fn func(m *Match, id il.NodeID) bool
}

func (w where) match(m *Match, id il.NodeID) bool {
	return w.p.match(m, id) && w.fn(m, id)
}

// Where matches p and then checks fn against the partial bindings.
func Where(p Pattern, fn func(m *Match, id il.NodeID) bool) Pattern {
	return where{p, fn}
}

type repeat struct {
	name     string
	p        Pattern
	min, max int
}

func (*repeat) match(*Match, il.NodeID) bool { return false }

// Repeat consumes between min and max statements that each match p,
// binding them under name. A negative max is unbounded. Repeat only has
// meaning inside a Seq; on its own it matches nothing. Matching is greedy
// with backtracking.
func Repeat(name string, p Pattern, min, max int) Pattern {
	return &repeat{name: name, p: p, min: min, max: max}
}

// Rest is Repeat of any statements, zero or more.
func Rest(name string) Pattern { return Repeat(name, Any, 0, -1) }

func matchSeq(m *Match, items []Pattern, stmts []il.NodeID) bool {
	if len(items) == 0 {
		return len(stmts) == 0
	}
	r, ok := items[0].(*repeat)
	if !ok {
		if len(stmts) == 0 {
			return false
		}
		cp := m.save()
		if items[0].match(m, stmts[0]) && matchSeq(m, items[1:], stmts[1:]) {
			return true
		}
		m.restore(cp)
		return false
	}

	start := m.save()
	longest := 0
	for longest < len(stmts) && (r.max < 0 || longest < r.max) && r.p.match(m, stmts[longest]) {
		longest++
	}
	m.restore(start)
	for n := longest; n >= r.min; n-- {
		ok := true
		for _, s := range stmts[:n] {
			if !r.p.match(m, s) {
				ok = false
				break
			}
		}
		if ok {
			m.lists[r.name] = stmts[:n:n]
			if matchSeq(m, items[1:], stmts[n:]) {
				return true
			}
		}
		m.restore(start)
	}
	return false
}

type seq struct {
	items []Pattern
}

func (s seq) match(m *Match, id il.NodeID) bool {
	if id == il.Nil {
		return false
	}
	n := m.Tree.Node(id)
	if !n.Kind.IsBlock() || n.EntryGoto != il.Nil {
		return false
	}
	return matchSeq(m, s.items, n.Stmts)
}

// Seq matches a block whose statements match items exactly.
func Seq(items ...Pattern) Pattern { return seq{items} }
