package optimize

import (
	"slices"

	"github.com/roach88/ildecomp/internal/il"
)

// isConditionalControlFlow reports whether statement id may branch away.
func isConditionalControlFlow(t *il.Tree, id il.NodeID) bool {
	n := t.Node(id)
	return n.Kind == il.KindExpr && (n.Code.IsConditionalBranch() || n.Code == il.Switch)
}

func isUnconditionalControlFlow(t *il.Tree, id il.NodeID) bool {
	n := t.Node(id)
	return n.Kind == il.KindExpr && n.Code.IsUnconditionalControlFlow()
}

// splitToBasicBlocks turns the statement list of every block into basic
// blocks that each start with a label and end with explicit control flow.
func (o *optimizer) splitToBasicBlocks() {
	t := o.t
	for _, b := range t.BlocksOf(t.Root) {
		if t.Kind(b) == il.KindBlock {
			o.splitBlock(b)
		}
	}
}

func (o *optimizer) splitBlock(block il.NodeID) {
	t := o.t
	body := t.Stmts(block)
	var blocks []il.NodeID

	entry := il.Nil
	if len(body) > 0 && t.Kind(body[0]) == il.KindLabel {
		entry = body[0]
	} else {
		entry = t.NewLabel("Block")
	}
	current := []il.NodeID{entry}
	t.Node(block).EntryGoto = t.Br(entry)

	if len(body) > 0 {
		if body[0] != entry {
			current = append(current, body[0])
		}
		for i := 1; i < len(body); i++ {
			last, curr := body[i-1], body[i]
			if t.Kind(curr) == il.KindLabel || t.Kind(curr) == il.KindTry ||
				isConditionalControlFlow(t, last) || isUnconditionalControlFlow(t, last) {
				label := curr
				if t.Kind(curr) != il.KindLabel {
					label = t.NewLabel("Block")
				}
				if !isUnconditionalControlFlow(t, last) {
					current = append(current, t.Br(label))
				}
				blocks = append(blocks, t.Add(il.Node{Kind: il.KindBasicBlock, Stmts: current}))
				current = []il.NodeID{label}
				if curr != label {
					current = append(current, curr)
				}
			} else {
				current = append(current, curr)
			}
		}
	}
	blocks = append(blocks, t.Add(il.Node{Kind: il.KindBasicBlock, Stmts: current}))
	t.SetStmts(block, blocks)
}

// basicBlocks indexes the basic blocks of a method by the labels they
// contain directly, and counts label references across the method.
type basicBlocks struct {
	refs    map[il.NodeID]int
	blockOf map[il.NodeID]il.NodeID
}

func (o *optimizer) indexBasicBlocks() *basicBlocks {
	t := o.t
	bbs := &basicBlocks{refs: t.LabelRefs(t.Root), blockOf: make(map[il.NodeID]il.NodeID)}
	t.Walk(t.Root, func(id il.NodeID) bool {
		if t.Kind(id) == il.KindBasicBlock {
			for _, s := range t.Stmts(id) {
				if t.Kind(s) == il.KindLabel {
					bbs.blockOf[s] = id
				}
			}
		}
		return true
	})
	return bbs
}

// joinBasicBlocks appends the block that head unconditionally branches to
// when head is its only predecessor.
func (o *optimizer) joinBasicBlocks(bbs *basicBlocks, block, head il.NodeID) bool {
	t := o.t
	stmts := t.Stmts(head)
	if len(stmts) >= 2 && isConditionalControlFlow(t, stmts[len(stmts)-2]) {
		return false
	}
	if len(stmts) == 0 {
		return false
	}
	label, ok := t.MatchBr(stmts[len(stmts)-1])
	if !ok || bbs.refs[label] != 1 {
		return false
	}
	next, ok := bbs.blockOf[label]
	if !ok || next == head || !slices.Contains(t.Stmts(block), next) {
		return false
	}
	nextStmts := t.Stmts(next)
	if nextStmts[0] != label {
		return false
	}
	for _, s := range nextStmts {
		if t.Kind(s) == il.KindTry {
			return false
		}
	}
	joined := append(slices.Clone(stmts[:len(stmts)-1]), nextStmts[1:]...)
	t.SetStmts(head, joined)
	for _, s := range nextStmts[1:] {
		if t.Kind(s) == il.KindLabel {
			bbs.blockOf[s] = head
		}
	}
	delete(bbs.blockOf, label)
	delete(bbs.refs, label)
	removeStmt(t, block, next)
	return true
}

// removeStmt deletes the statement id from block.
func removeStmt(t *il.Tree, block, id il.NodeID) {
	stmts := t.Stmts(block)
	if i := slices.Index(stmts, id); i >= 0 {
		t.SetStmts(block, slices.Delete(slices.Clone(stmts), i, i+1))
	}
}

// flattenBasicBlocks inlines every basic block into its enclosing block.
// The entry goto becomes the first statement.
func (o *optimizer) flattenBasicBlocks() error {
	return o.flatten(o.t.Root)
}

func (o *optimizer) flatten(id il.NodeID) error {
	t := o.t
	n := t.Node(id)
	switch n.Kind {
	case il.KindExpr:
		return nil
	case il.KindBlock:
		var flat []il.NodeID
		if n.EntryGoto != il.Nil {
			flat = append(flat, n.EntryGoto)
		}
		for _, c := range n.Stmts {
			if err := o.flatten(c); err != nil {
				return err
			}
			if t.Kind(c) != il.KindBasicBlock {
				flat = append(flat, c)
				continue
			}
			bb := t.Stmts(c)
			if len(bb) == 0 {
				continue
			}
			if first := t.Kind(bb[0]); first != il.KindLabel && first != il.KindLoop {
				return passFailed("basic block does not start with a label")
			}
			if last := bb[len(bb)-1]; t.Kind(last) == il.KindExpr && !isUnconditionalControlFlow(t, last) {
				return passFailed("basic block %s does not end with unconditional control flow", t.Node(bb[0]).Name)
			}
			flat = append(flat, bb...)
		}
		n.EntryGoto = il.Nil
		n.Stmts = flat
		return nil
	}
	for _, c := range t.Children(id) {
		if err := o.flatten(c); err != nil {
			return err
		}
	}
	return nil
}
