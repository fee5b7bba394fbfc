package optimize

import (
	"slices"

	"github.com/roach88/ildecomp/internal/il"
)

// removeEndFinally turns every endfinally into a branch to a label at the end
// of its finally or fault block. Nested handlers are processed first.
func (o *optimizer) removeEndFinally() {
	t := o.t
	var tries []il.NodeID
	t.Walk(t.Root, func(id il.NodeID) bool {
		if t.Kind(id) == il.KindTry {
			tries = append(tries, id)
		}
		return true
	})
	for i := len(tries) - 1; i >= 0; i-- {
		n := t.Node(tries[i])
		for _, handler := range []il.NodeID{n.Finally, n.Fault} {
			if handler == il.Nil {
				continue
			}
			label := t.NewLabel("EndFinally")
			for _, b := range t.BlocksOf(handler) {
				for _, s := range t.Stmts(b) {
					if end, ok := t.MatchExpr(s, il.Endfinally); ok {
						t.Replace(s, il.Node{Kind: il.KindExpr, Code: il.Br, Target: label, Ranges: end.Ranges})
					}
				}
			}
			t.SetStmts(handler, append(slices.Clone(t.Stmts(handler)), label))
		}
	}
}

// gotoRemoval navigates the structured tree to replace branches with
// fallthrough, break or continue where the destination is the same.
type gotoRemoval struct {
	t           *il.Tree
	parent      map[il.NodeID]il.NodeID
	nextSibling map[il.NodeID]il.NodeID
}

func newGotoRemoval(t *il.Tree) *gotoRemoval {
	g := &gotoRemoval{t: t, parent: map[il.NodeID]il.NodeID{t.Root: il.Nil}, nextSibling: make(map[il.NodeID]il.NodeID)}
	t.Walk(t.Root, func(id il.NodeID) bool {
		prev := il.Nil
		for _, c := range t.Children(id) {
			g.parent[c] = id
			if prev != il.Nil {
				g.nextSibling[prev] = c
			}
			prev = c
		}
		if prev != il.Nil {
			g.nextSibling[prev] = il.Nil
		}
		return true
	})
	return g
}

// removeGotos simplifies branches until nothing changes, then removes the
// code made redundant by it.
func (o *optimizer) removeGotos() {
	t := o.t
	g := newGotoRemoval(t)
	for modified := true; modified; {
		modified = false
		for _, e := range t.Exprs(t.Root) {
			if c := t.Code(e); c == il.Br || c == il.Leave {
				if g.simplifyGoto(e) {
					modified = true
				}
			}
		}
	}
	o.removeDeadCode()
}

func (g *gotoRemoval) simplifyGoto(id il.NodeID) bool {
	t := g.t
	target := g.enter(id, map[il.NodeID]bool{})
	if target == il.Nil {
		return false
	}
	n := t.Node(id)
	// The exit path must start at the branch itself so that the same
	// finally blocks run.
	if target == g.exit(id, map[il.NodeID]bool{id: true}) {
		if t.Kind(target) == il.KindExpr {
			t.AddRanges(target, n.Ranges...)
		}
		t.Replace(id, il.Node{Kind: il.KindExpr, Code: il.Nop})
		return true
	}
	if breakable := g.enclosing(id, il.KindLoop, il.KindSwitch); breakable != il.Nil &&
		target == g.exit(breakable, map[il.NodeID]bool{id: true}) {
		t.Replace(id, il.Node{Kind: il.KindExpr, Code: il.LoopBreak, Ranges: n.Ranges})
		return true
	}
	if loop := g.enclosing(id, il.KindLoop); loop != il.Nil &&
		target == g.enter(loop, map[il.NodeID]bool{id: true}) {
		t.Replace(id, il.Node{Kind: il.KindExpr, Code: il.LoopContinue, Ranges: n.Ranges})
		return true
	}
	return false
}

// enclosing returns the nearest ancestor of one of the given kinds.
func (g *gotoRemoval) enclosing(id il.NodeID, kinds ...il.Kind) il.NodeID {
	for p := g.parent[id]; p != il.Nil; p = g.parent[p] {
		if slices.Contains(kinds, g.t.Kind(p)) {
			return p
		}
	}
	return il.Nil
}

// tryBlocks lists the try nodes enclosing id, outermost first.
func (g *gotoRemoval) tryBlocks(id il.NodeID) []il.NodeID {
	var out []il.NodeID
	for p := g.parent[id]; p != il.Nil; p = g.parent[p] {
		if g.t.Kind(p) == il.KindTry {
			out = append(out, p)
		}
	}
	slices.Reverse(out)
	return out
}

// enter returns the first node executed when control reaches the start of
// id. A try block is never entered; the try node itself is returned when the
// destination is its first statement.
func (g *gotoRemoval) enter(id il.NodeID, visited map[il.NodeID]bool) il.NodeID {
	t := g.t
	if visited[id] {
		return il.Nil
	}
	visited[id] = true
	n := t.Node(id)
	switch n.Kind {
	case il.KindLabel:
		return g.exit(id, visited)
	case il.KindExpr:
		switch n.Code {
		case il.Br, il.Leave:
			return g.enterBranch(id, n.Target, visited)
		case il.Nop:
			return g.exit(id, visited)
		case il.LoopBreak:
			return g.exit(g.enclosing(id, il.KindLoop, il.KindSwitch), map[il.NodeID]bool{id: true})
		case il.LoopContinue:
			return g.enter(g.enclosing(id, il.KindLoop), map[il.NodeID]bool{id: true})
		}
		return id
	case il.KindBlock, il.KindBasicBlock:
		switch {
		case n.EntryGoto != il.Nil:
			return g.enter(n.EntryGoto, visited)
		case len(n.Stmts) > 0:
			return g.enter(n.Stmts[0], visited)
		}
		return g.exit(id, visited)
	case il.KindCondition, il.KindSwitch:
		return n.Cond
	case il.KindLoop:
		if n.Cond != il.Nil {
			return n.Cond
		}
		return g.enter(n.Body, visited)
	}
	return id
}

func (g *gotoRemoval) enterBranch(id, target il.NodeID, visited map[il.NodeID]bool) il.NodeID {
	t := g.t
	src, dst := g.tryBlocks(id), g.tryBlocks(target)
	i := 0
	for i < len(src) && i < len(dst) && src[i] == dst[i] {
		i++
	}
	if i == len(dst) {
		return g.enter(target, visited)
	}
	// Entering a try is only a fallthrough when the label starts it.
	entered := dst[i]
	for current := entered; current != il.Nil; {
		next := il.Nil
		for _, s := range t.Stmts(t.Node(current).TryBlock) {
			if t.Kind(s) == il.KindLabel {
				if s == target {
					return entered
				}
				continue
			}
			if t.Code(s) != il.Nop {
				if t.Kind(s) == il.KindTry {
					next = s
				}
				break
			}
		}
		current = next
	}
	return il.Nil
}

// exit returns the first node executed when control leaves the end of id,
// or Nil when it leaves the method or falls out of a switch case.
func (g *gotoRemoval) exit(id il.NodeID, visited map[il.NodeID]bool) il.NodeID {
	t := g.t
	parent := g.parent[id]
	if parent == il.Nil {
		return il.Nil
	}
	switch t.Kind(parent) {
	case il.KindBlock, il.KindBasicBlock:
		if next := g.nextSibling[id]; next != il.Nil {
			return g.enter(next, visited)
		}
		return g.exit(parent, visited)
	case il.KindCondition, il.KindTry, il.KindCatch:
		// Finally blocks are ignored; a try is never entered from outside.
		return g.exit(parent, visited)
	case il.KindLoop:
		return g.enter(parent, visited)
	}
	return il.Nil
}

// removeDeadCode drops nops and dead labels, redundant trailing break,
// continue and return statements and empty switch cases.
func (o *optimizer) removeDeadCode() {
	t := o.t
	refs := t.LabelRefs(t.Root)
	for _, b := range t.BlocksOf(t.Root) {
		t.SetStmts(b, slices.DeleteFunc(slices.Clone(t.Stmts(b)), func(s il.NodeID) bool {
			return t.Code(s) == il.Nop || (t.Kind(s) == il.KindLabel && refs[s] == 0)
		}))
	}
	t.Walk(t.Root, func(id il.NodeID) bool {
		n := t.Node(id)
		switch n.Kind {
		case il.KindLoop:
			if body := t.Stmts(n.Body); len(body) > 0 && t.Code(body[len(body)-1]) == il.LoopContinue {
				t.SetStmts(n.Body, body[:len(body)-1])
			}
		case il.KindSwitch:
			o.removeRedundantCases(id)
		}
		return true
	})
	if body := t.Stmts(t.Root); len(body) > 0 {
		if ret, ok := t.MatchExpr(body[len(body)-1], il.Ret); ok && len(ret.Args) == 0 {
			t.SetStmts(t.Root, body[:len(body)-1])
		}
	}
	modified := false
	for _, b := range t.BlocksOf(t.Root) {
		stmts := t.Stmts(b)
		for i := 0; i < len(stmts)-1; {
			if isUnconditionalControlFlow(t, stmts[i]) && t.Code(stmts[i+1]) == il.Ret {
				stmts = slices.Delete(slices.Clone(stmts), i+1, i+2)
				modified = true
			} else {
				i++
			}
		}
		t.SetStmts(b, stmts)
	}
	if modified {
		o.removeGotos()
	}
}

func (o *optimizer) removeRedundantCases(sw il.NodeID) {
	t := o.t
	n := t.Node(sw)
	onlyBreak := func(c il.NodeID) bool {
		body := t.Stmts(t.Node(c).Body)
		return len(body) == 1 && t.Code(body[0]) == il.LoopBreak
	}
	def := il.Nil
	for _, c := range n.Cases {
		body := t.Node(c).Body
		if stmts := t.Stmts(body); len(stmts) >= 2 &&
			isUnconditionalControlFlow(t, stmts[len(stmts)-2]) && t.Code(stmts[len(stmts)-1]) == il.LoopBreak {
			t.SetStmts(body, stmts[:len(stmts)-1])
		}
		if len(t.Node(c).Values) == 0 {
			def = c
		}
	}
	if def == il.Nil || onlyBreak(def) {
		n.Cases = slices.DeleteFunc(slices.Clone(n.Cases), onlyBreak)
	}
}

// removeRedundantCodeFinal runs both cleanup phases.
func (o *optimizer) removeRedundantCodeFinal() {
	o.removeRedundantCode()
	o.removeDeadCode()
}

// duplicateReturnStatements replaces branches to a return of a local or
// constant with a copy of that return.
func (o *optimizer) duplicateReturnStatements() {
	t := o.t
	next := make(map[il.NodeID]il.NodeID)
	for _, b := range t.BlocksOf(t.Root) {
		stmts := t.Stmts(b)
		for i := 0; i+1 < len(stmts); i++ {
			if t.Kind(stmts[i]) == il.KindLabel {
				next[stmts[i]] = stmts[i+1]
			}
		}
	}
	root := t.Stmts(t.Root)
	for _, b := range t.BlocksOf(t.Root) {
		for _, s := range t.Stmts(b) {
			n := t.Node(s)
			if n.Kind != il.KindExpr || (n.Code != il.Br && n.Code != il.Leave) {
				continue
			}
			label := n.Target
			for t.Kind(next[label]) == il.KindLabel {
				label = next[label]
			}
			target, ok := next[label]
			if !ok {
				if len(root) > 0 && root[len(root)-1] == label {
					t.Replace(s, il.Node{Kind: il.KindExpr, Code: il.Ret, Ranges: n.Ranges})
				}
				continue
			}
			ret, ok := t.MatchExpr(target, il.Ret)
			if !ok {
				continue
			}
			switch {
			case len(ret.Args) == 0:
				t.Replace(s, il.Node{Kind: il.KindExpr, Code: il.Ret, Ranges: n.Ranges})
			case t.Code(ret.Args[0]) == il.Ldloc || t.Code(ret.Args[0]) == il.LdcI4:
				value := *t.Node(ret.Args[0])
				value.Ranges = nil
				t.Replace(s, il.Node{Kind: il.KindExpr, Code: il.Ret, Args: []il.NodeID{t.Add(value)}, Ranges: n.Ranges})
			}
		}
	}
}

// reduceIfNesting moves the branch that does not exit after a condition
// whose other branch always exits, and drops empty then-branches.
func (o *optimizer) reduceIfNesting(id il.NodeID) {
	t := o.t
	n := t.Node(id)
	if n.Kind == il.KindBlock {
		for i := 0; i < len(n.Stmts); i++ {
			c := n.Stmts[i]
			if t.Kind(c) != il.KindCondition {
				continue
			}
			cond := t.Node(c)
			if cond.Else == il.Nil {
				cond.Else = t.Block()
			}
			exits := func(b il.NodeID) bool {
				stmts := t.Stmts(b)
				return len(stmts) > 0 && !t.CanFallThrough(stmts[len(stmts)-1])
			}
			var moved []il.NodeID
			switch {
			case exits(cond.Then):
				moved = t.Stmts(cond.Else)
				cond.Else = t.Block()
			case exits(cond.Else):
				moved = t.Stmts(cond.Then)
				cond.Then = t.Block()
			}
			if len(moved) > 0 {
				n.Stmts = slices.Insert(slices.Clone(n.Stmts), i+1, moved...)
			}
			if len(t.Stmts(cond.Then)) == 0 && len(t.Stmts(cond.Else)) > 0 {
				cond.Then, cond.Else = cond.Else, cond.Then
				cond.Cond = t.Not(cond.Cond)
			}
		}
	}
	for _, c := range t.Children(id) {
		if t.Kind(c) != il.KindExpr {
			o.reduceIfNesting(c)
		}
	}
}
