package optimize

import (
	"slices"

	"github.com/roach88/ildecomp/internal/il"
)

// cfNode is a vertex of the control flow graph built over the basic blocks
// of one block. Indices 0..2 are the synthetic entry and exit nodes.
type cfNode struct {
	index    int
	bb       il.NodeID
	incoming []*cfNode
	outgoing []*cfNode

	idom     *cfNode
	children []*cfNode
	frontier map[*cfNode]bool
	visited  bool
}

// dominates reports whether n dominates other. Every node dominates itself.
func (n *cfNode) dominates(other *cfNode) bool {
	for cur := other; cur != nil; cur = cur.idom {
		if cur == n {
			return true
		}
	}
	return false
}

const (
	cfEntry = iota
	cfRegularExit
	cfExceptionalExit
	cfFirstBlock
)

type controlFlowGraph struct {
	nodes   []*cfNode
	byLabel map[il.NodeID]*cfNode
}

func (g *controlFlowGraph) entry() *cfNode { return g.nodes[cfEntry] }

// blockNodes returns the nodes standing for basic blocks.
func (g *controlFlowGraph) blockNodes() []*cfNode { return g.nodes[cfFirstBlock:] }

func (g *controlFlowGraph) addEdge(from, to *cfNode) {
	from.outgoing = append(from.outgoing, to)
	to.incoming = append(to.incoming, from)
}

// buildGraph creates the graph for the basic blocks bbs entered at label
// entry. Labels nested anywhere inside a basic block map to that block;
// branches to labels outside bbs add no edge. A block branching to itself
// gets a self edge only when the target is its leading label.
func buildGraph(t *il.Tree, bbs []il.NodeID, entry il.NodeID) (*controlFlowGraph, error) {
	g := &controlFlowGraph{byLabel: make(map[il.NodeID]*cfNode)}
	for i := range cfFirstBlock {
		g.nodes = append(g.nodes, &cfNode{index: i})
	}
	for _, bb := range bbs {
		if t.Kind(bb) != il.KindBasicBlock {
			return nil, passFailed("block holds a %s where a basic block is expected", t.Kind(bb))
		}
		node := &cfNode{index: len(g.nodes), bb: bb}
		g.nodes = append(g.nodes, node)
		t.Walk(bb, func(id il.NodeID) bool {
			if t.Kind(id) == il.KindLabel {
				g.byLabel[id] = node
			}
			return true
		})
	}
	first, ok := g.byLabel[entry]
	if !ok {
		return nil, passFailed("entry label is not in the block")
	}
	g.addEdge(g.entry(), first)
	for _, source := range g.blockNodes() {
		stmts := t.Stmts(source.bb)
		for _, e := range t.Exprs(source.bb) {
			n := t.Node(e)
			targets := n.Targets
			if n.Target != il.Nil {
				targets = append([]il.NodeID{n.Target}, targets...)
			}
			for _, target := range targets {
				dest, ok := g.byLabel[target]
				if ok && (dest != source || target == stmts[0]) {
					g.addEdge(source, dest)
				}
			}
		}
	}
	return g, nil
}

// computeDominance fills in immediate dominators and the dominator tree
// using the iterative algorithm of Cooper, Harvey and Kennedy over reverse
// post-order. Unreachable nodes keep a nil dominator.
func (g *controlFlowGraph) computeDominance() {
	var postorder []*cfNode
	for _, n := range g.nodes {
		n.visited = false
	}
	var visit func(n *cfNode)
	visit = func(n *cfNode) {
		n.visited = true
		for _, s := range n.outgoing {
			if !s.visited {
				visit(s)
			}
		}
		postorder = append(postorder, n)
	}
	visit(g.entry())
	number := make(map[*cfNode]int, len(postorder))
	for i, n := range postorder {
		number[n] = i
	}

	entry := g.entry()
	entry.idom = entry
	intersect := func(a, b *cfNode) *cfNode {
		for a != b {
			for number[a] < number[b] {
				a = a.idom
			}
			for number[b] < number[a] {
				b = b.idom
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for i := len(postorder) - 2; i >= 0; i-- {
			b := postorder[i]
			var idom *cfNode
			for _, p := range b.incoming {
				if p.idom == nil || !p.visited {
					continue
				}
				if idom == nil {
					idom = p
				} else {
					idom = intersect(p, idom)
				}
			}
			if idom != nil && b.idom != idom {
				b.idom = idom
				changed = true
			}
		}
	}
	entry.idom = nil
	for _, n := range g.nodes {
		if n.idom != nil {
			n.idom.children = append(n.idom.children, n)
		}
	}
}

// computeDominanceFrontier computes the frontier of every reachable node in
// post-order over the dominator tree.
func (g *controlFlowGraph) computeDominanceFrontier() {
	var visit func(n *cfNode)
	visit = func(n *cfNode) {
		for _, c := range n.children {
			visit(c)
		}
		n.frontier = make(map[*cfNode]bool)
		for _, s := range n.outgoing {
			if s.idom != n {
				n.frontier[s] = true
			}
		}
		for _, c := range n.children {
			for p := range c.frontier {
				if p.idom != n {
					n.frontier[p] = true
				}
			}
		}
	}
	visit(g.entry())
}

// nodeSet is a set of graph nodes iterated in graph order.
type nodeSet map[*cfNode]bool

func newNodeSet(nodes ...*cfNode) nodeSet {
	s := make(nodeSet, len(nodes))
	for _, n := range nodes {
		s[n] = true
	}
	return s
}

func (s nodeSet) clone() nodeSet {
	out := make(nodeSet, len(s))
	for n := range s {
		out[n] = true
	}
	return out
}

func (s nodeSet) union(other nodeSet) {
	for n := range other {
		s[n] = true
	}
}

func (s nodeSet) subtract(other nodeSet) {
	for n := range other {
		delete(s, n)
	}
}

// sorted returns the members by graph index.
func (s nodeSet) sorted() []*cfNode {
	out := make([]*cfNode, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *cfNode) int { return a.index - b.index })
	return out
}

// first returns the member with the lowest index.
func (s nodeSet) first() *cfNode {
	var best *cfNode
	for n := range s {
		if best == nil || n.index < best.index {
			best = n
		}
	}
	return best
}

// findDominatedNodes collects the nodes in scope reachable from head that
// head dominates.
func findDominatedNodes(scope nodeSet, head *cfNode) nodeSet {
	result := nodeSet{}
	agenda := []*cfNode{head}
	for len(agenda) > 0 {
		n := agenda[len(agenda)-1]
		agenda = agenda[:len(agenda)-1]
		if scope[n] && head.dominates(n) && !result[n] {
			result[n] = true
			agenda = append(agenda, n.outgoing...)
		}
	}
	return result
}

// findLoopContent collects the natural loop of head within scope: every
// node that reaches a back edge into head while staying dominated by it.
func findLoopContent(scope nodeSet, head *cfNode) nodeSet {
	result := nodeSet{}
	var agenda []*cfNode
	for _, p := range head.incoming {
		if head.dominates(p) {
			agenda = append(agenda, p)
		}
	}
	for len(agenda) > 0 {
		n := agenda[len(agenda)-1]
		agenda = agenda[:len(agenda)-1]
		if scope[n] && head.dominates(n) && !result[n] {
			result[n] = true
			agenda = append(agenda, n.incoming...)
		}
	}
	if scope[head] {
		result[head] = true
	}
	return result
}

// hasSingleEdgeEnteringBlock reports whether exactly one edge reaches n from
// outside the region n dominates.
func hasSingleEdgeEnteringBlock(n *cfNode) bool {
	count := 0
	for _, p := range n.incoming {
		if !n.dominates(p) {
			count++
		}
	}
	return count == 1
}
