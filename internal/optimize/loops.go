package optimize

import (
	"slices"

	"github.com/roach88/ildecomp/internal/il"
)

// structurer rebuilds one block's basic blocks into loops or conditions.
type structurer struct {
	o *optimizer
	t *il.Tree
	g *controlFlowGraph
}

func (o *optimizer) newStructurer(block il.NodeID) (*structurer, bool, error) {
	t := o.t
	n := t.Node(block)
	if len(n.Stmts) == 0 {
		return nil, false, nil
	}
	entry, ok := t.MatchBr(n.EntryGoto)
	if !ok {
		return nil, false, passFailed("block has no entry goto")
	}
	g, err := buildGraph(t, n.Stmts, entry)
	if err != nil {
		return nil, false, err
	}
	g.computeDominance()
	g.computeDominanceFrontier()
	return &structurer{o: o, t: t, g: g}, true, nil
}

// findLoops turns every natural loop into a Loop node, hoisting a leading
// condition into the loop header when one branch leaves the loop.
func (o *optimizer) findLoops() error {
	for _, block := range o.methodBlocks() {
		s, ok, err := o.newStructurer(block)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		o.t.SetStmts(block, s.findLoops(newNodeSet(s.g.blockNodes()...), s.g.entry(), false))
	}
	return nil
}

type placed struct {
	order int
	bb    il.NodeID
}

func flattenPlaced(ps []placed) []il.NodeID {
	slices.SortStableFunc(ps, func(a, b placed) int { return a.order - b.order })
	out := make([]il.NodeID, len(ps))
	for i, p := range ps {
		out[i] = p.bb
	}
	return out
}

func (s *structurer) findLoops(scope nodeSet, entry *cfNode, excludeEntry bool) []il.NodeID {
	t := s.t
	var result []placed
	scope = scope.clone()

	agenda := []*cfNode{entry}
	for len(agenda) > 0 {
		node := agenda[0]
		agenda = agenda[1:]

		if scope[node] && node.frontier[node] && (node != entry || !excludeEntry) {
			content := findLoopContent(scope, node)
			bb := node.bb

			if trueLabel, cond, falseLabel, ok := t.MatchSingleAndBr(bb, il.Brtrue); ok {
				trueTarget, falseTarget := s.g.byLabel[trueLabel], s.g.byLabel[falseLabel]
				if content[trueTarget] != content[falseTarget] {
					delete(content, node)
					delete(scope, node)
					if content[falseTarget] || falseTarget == node {
						cond = t.Not(cond)
						trueLabel, falseLabel = falseLabel, trueLabel
					}
					if post, ok := s.g.byLabel[falseLabel]; ok {
						postContent := findDominatedNodes(scope, post)
						for n := range scope {
							if !postContent[n] && node.dominates(n) {
								content[n] = true
							}
						}
					}
					body := t.Block(s.findLoops(content, node, false)...)
					t.Node(body).EntryGoto = t.Br(trueLabel)
					loop := t.Add(il.Node{Kind: il.KindLoop, Cond: cond, Body: body})
					stmts := t.Stmts(bb)
					t.SetStmts(bb, append(slices.Clone(stmts[:len(stmts)-2]), loop, t.Br(falseLabel)))
					result = append(result, placed{node.index, bb})
					scope.subtract(content)
				}
			}

			// while (true) fallback
			if scope[node] {
				body := t.Block(s.findLoops(content, node, true)...)
				t.Node(body).EntryGoto = t.Br(t.Stmts(bb)[0])
				loop := t.Add(il.Node{Kind: il.KindLoop, Body: body})
				result = append(result, placed{node.index, t.Add(il.Node{Kind: il.KindBasicBlock, Stmts: []il.NodeID{loop}})})
				scope.subtract(content)
			}
		}
		agenda = append(agenda, node.children...)
	}
	for _, n := range scope.sorted() {
		result = append(result, placed{n.index, n.bb})
	}
	return flattenPlaced(result)
}

// findConditions turns two-way branches into Condition nodes and switch
// tables into Switch nodes, pulling the code each arm dominates inside.
func (o *optimizer) findConditions() error {
	for _, block := range o.methodBlocks() {
		s, ok, err := o.newStructurer(block)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		o.t.SetStmts(block, s.findConditions(newNodeSet(s.g.blockNodes()...), s.g.entry()))
	}
	return nil
}

func (s *structurer) findConditions(scope nodeSet, entry *cfNode) []il.NodeID {
	t := s.t
	var result []il.NodeID
	scope = scope.clone()

	agenda := newNodeSet(entry)
	for len(agenda) > 0 {
		node := agenda.first()
		for node.idom != nil && agenda[node.idom] {
			node = node.idom
		}
		delete(agenda, node)

		if scope[node] {
			bb := node.bb
			if labels, arg, fall, ok := matchSwitchAndBr(t, bb); ok {
				result = append(result, bb)
				delete(scope, node)
				s.buildSwitch(scope, bb, labels, arg, fall)
			}
			if trueLabel, cond, falseLabel, ok := t.MatchLastAndBr(bb, il.Brtrue); ok {
				// Swapped, since the else branch usually comes first.
				trueLabel, falseLabel = falseLabel, trueLabel
				cond = t.Not(cond)
				then := t.Block()
				t.Node(then).EntryGoto = t.Br(trueLabel)
				els := t.Block()
				t.Node(els).EntryGoto = t.Br(falseLabel)
				c := t.Add(il.Node{Kind: il.KindCondition, Cond: cond, Then: then, Else: els})
				stmts := t.Stmts(bb)
				t.SetStmts(bb, append(slices.Clone(stmts[:len(stmts)-2]), c))
				result = append(result, bb)
				delete(scope, node)

				for _, arm := range []struct {
					label, block il.NodeID
				}{{trueLabel, then}, {falseLabel, els}} {
					target, ok := s.g.byLabel[arm.label]
					if ok && hasSingleEdgeEnteringBlock(target) {
						content := findDominatedNodes(scope, target)
						scope.subtract(content)
						t.SetStmts(arm.block, s.findConditions(content, target))
					}
				}
			}
			if scope[node] {
				result = append(result, bb)
				delete(scope, node)
			}
		}
		for i := len(node.children) - 1; i >= 0; i-- {
			agenda[node.children[i]] = true
		}
	}
	for _, n := range scope.sorted() {
		result = append(result, n.bb)
	}
	return result
}

func matchSwitchAndBr(t *il.Tree, bb il.NodeID) ([]il.NodeID, il.NodeID, il.NodeID, bool) {
	stmts := t.Stmts(bb)
	if len(stmts) < 2 {
		return nil, il.Nil, il.Nil, false
	}
	fall, ok := t.MatchBr(stmts[len(stmts)-1])
	if !ok {
		return nil, il.Nil, il.Nil, false
	}
	sw, ok := t.MatchExpr(stmts[len(stmts)-2], il.Switch)
	if !ok || len(sw.Args) != 1 {
		return nil, il.Nil, il.Nil, false
	}
	return sw.Targets, sw.Args[0], fall, true
}

// buildSwitch replaces the trailing switch(arg); br(fall) of bb with a
// Switch node. Case bodies pull in the code their label dominates unless it
// is also reached from another case; each ends with an explicit break the
// goto removal may use.
func (s *structurer) buildSwitch(scope nodeSet, bb il.NodeID, labels []il.NodeID, arg, fall il.NodeID) {
	t := s.t
	sw := t.Add(il.Node{Kind: il.KindSwitch, Cond: arg})
	stmts := t.Stmts(bb)
	tail := t.Br(fall)
	t.SetStmts(bb, append(slices.Clone(stmts[:len(stmts)-2]), sw, tail))

	// switch (x - k) has case values shifted by k.
	offset := int64(0)
	if sub, ok := t.MatchExpr(arg, il.Sub); ok && len(sub.Args) == 2 {
		if k, ok := t.MatchLdcI4(sub.Args[1]); ok {
			offset = k
			t.Node(sw).Cond = sub.Args[0]
		}
	}

	frontiers := nodeSet{}
	fallTarget, hasFall := s.g.byLabel[fall]
	if hasFall {
		for n := range fallTarget.frontier {
			if n != fallTarget {
				frontiers[n] = true
			}
		}
	}
	for _, l := range labels {
		if target, ok := s.g.byLabel[l]; ok {
			for n := range target.frontier {
				if n != target {
					frontiers[n] = true
				}
			}
		}
	}

	var cases []il.NodeID
	entryOf := make(map[il.NodeID]il.NodeID)
	newCase := func(label il.NodeID, values []int64) il.NodeID {
		body := t.Block()
		t.Node(body).EntryGoto = t.Br(label)
		c := t.Add(il.Node{Kind: il.KindCase, Values: values, Body: body})
		cases = append(cases, c)
		entryOf[label] = c
		return c
	}
	fillCase := func(c il.NodeID, target *cfNode) {
		content := findDominatedNodes(scope, target)
		scope.subtract(content)
		body := t.Node(c).Body
		brk := t.Add(il.Node{Kind: il.KindBasicBlock, Stmts: []il.NodeID{
			t.NewLabel("SwitchBreak"),
			t.Expr(il.LoopBreak),
		}})
		t.SetStmts(body, append(s.findConditions(content, target), brk))
	}

	for i, l := range labels {
		c, ok := entryOf[l]
		if !ok {
			c = newCase(l, []int64{})
			if target, ok := s.g.byLabel[l]; ok && !frontiers[target] {
				fillCase(c, target)
			}
		}
		cn := t.Node(c)
		cn.Values = append(cn.Values, int64(i)+offset)
	}

	// Use the fallthrough target as the default case when nothing else
	// reaches it.
	if hasFall && !frontiers[fallTarget] {
		if len(findDominatedNodes(scope, fallTarget)) > 0 {
			c := newCase(fall, nil)
			t.SetStmts(bb, slices.Clone(t.Stmts(bb)[:len(t.Stmts(bb))-1]))
			fillCase(c, fallTarget)
		}
	}
	t.Node(sw).Cases = cases
}
