package il

import "fmt"

// LabelRefs counts, for every label, the branches at or below root that
// target it.
func (t *Tree) LabelRefs(root NodeID) map[NodeID]int {
	refs := make(map[NodeID]int)
	t.Walk(root, func(id NodeID) bool {
		n := t.Node(id)
		if n.Kind != KindExpr {
			return true
		}
		if n.Target != Nil {
			refs[n.Target]++
		}
		for _, l := range n.Targets {
			refs[l]++
		}
		return true
	})
	return refs
}

// CheckLabels verifies tree consistency below root: every label referenced
// by a branch is present exactly once and every present label is referenced.
func (t *Tree) CheckLabels(root NodeID) error {
	present := make(map[NodeID]int)
	t.Walk(root, func(id NodeID) bool {
		if t.Node(id).Kind == KindLabel {
			present[id]++
		}
		return true
	})
	refs := t.LabelRefs(root)
	for l := range refs {
		if present[l] == 0 {
			return &DecodingError{Code: ErrCodeUndefinedLabel, Offset: -1,
				Message: fmt.Sprintf("branch to label %s which is not in the tree", t.labelName(l))}
		}
	}
	for l, count := range present {
		if count > 1 {
			return &DecodingError{Code: ErrCodeUndefinedLabel, Offset: -1,
				Message: fmt.Sprintf("label %s occurs %d times", t.labelName(l), count)}
		}
		if refs[l] == 0 {
			return &DecodingError{Code: ErrCodeUnreferencedLabel, Offset: -1,
				Message: fmt.Sprintf("label %s is never referenced", t.labelName(l))}
		}
	}
	return nil
}

func (t *Tree) labelName(id NodeID) string {
	if id <= 0 || int(id) >= len(t.nodes) {
		return fmt.Sprintf("#%d", id)
	}
	return t.Node(id).Name
}

// RemoveUnusedLabels deletes labels below root that no branch targets. A
// basic block that starts with a label and holds no referenced label cannot
// be entered and is deleted whole. Reports whether anything changed.
func (t *Tree) RemoveUnusedLabels(root NodeID) bool {
	changed := false
	for {
		refs := t.LabelRefs(root)
		round := false
		for _, b := range t.BlocksOf(root) {
			stmts := t.Stmts(b)
			kept := stmts[:0:0]
			dropped := false
			for _, s := range stmts {
				n := t.Node(s)
				if n.Kind == KindLabel && refs[s] == 0 {
					dropped = true
					continue
				}
				if n.Kind == KindBasicBlock && t.unreachableBlock(s, refs) {
					dropped = true
					continue
				}
				kept = append(kept, s)
			}
			if dropped {
				t.SetStmts(b, kept)
				round = true
			}
		}
		if !round {
			return changed
		}
		changed = true
	}
}

func (t *Tree) unreachableBlock(bb NodeID, refs map[NodeID]int) bool {
	stmts := t.Stmts(bb)
	if len(stmts) == 0 || t.Kind(stmts[0]) != KindLabel {
		return false
	}
	entered := false
	t.Walk(bb, func(id NodeID) bool {
		if t.Node(id).Kind == KindLabel && refs[id] > 0 {
			entered = true
		}
		return !entered
	})
	return !entered
}
