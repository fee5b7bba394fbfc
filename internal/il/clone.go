package il

import "slices"

// Clone deep-copies the subtree at id within t. Labels defined inside the
// subtree are duplicated and branches to them are redirected; branches to
// labels outside the subtree keep their targets.
func (t *Tree) Clone(id NodeID) NodeID {
	return t.Import(t, id)
}

// Import deep-copies the subtree at id of src into t. When src is a
// different tree every branch target must be defined inside the subtree;
// otherwise the copy would reference a foreign label and Import panics.
func (t *Tree) Import(src *Tree, id NodeID) NodeID {
	labels := make(map[NodeID]NodeID)
	src.Walk(id, func(n NodeID) bool {
		if src.Node(n).Kind == KindLabel {
			labels[n] = t.NamedLabel(src.Node(n).Name)
		}
		return true
	})
	return t.copyFrom(src, id, labels)
}

func (t *Tree) copyFrom(src *Tree, id NodeID, labels map[NodeID]NodeID) NodeID {
	if id == Nil {
		return Nil
	}
	if mapped, ok := labels[id]; ok {
		return mapped
	}
	n := *src.Node(id)
	remap := func(target NodeID) NodeID {
		if target == Nil {
			return Nil
		}
		if mapped, ok := labels[target]; ok {
			return mapped
		}
		if src != t {
			panic("il: imported subtree branches to a label outside of it")
		}
		return target
	}
	cp := func(ids []NodeID) []NodeID {
		if ids == nil {
			return nil
		}
		out := make([]NodeID, len(ids))
		for i, c := range ids {
			out[i] = t.copyFrom(src, c, labels)
		}
		return out
	}
	n.Target = remap(n.Target)
	if n.Targets != nil {
		targets := make([]NodeID, len(n.Targets))
		for i, l := range n.Targets {
			targets[i] = remap(l)
		}
		n.Targets = targets
	}
	n.Args = cp(n.Args)
	n.Stmts = cp(n.Stmts)
	n.Catches = cp(n.Catches)
	n.Cases = cp(n.Cases)
	n.Ranges = slices.Clone(n.Ranges)
	n.Values = slices.Clone(n.Values)
	n.Hoisted = slices.Clone(n.Hoisted)
	n.EntryGoto = t.copyFrom(src, n.EntryGoto, labels)
	n.Cond = t.copyFrom(src, n.Cond, labels)
	n.Then = t.copyFrom(src, n.Then, labels)
	n.Else = t.copyFrom(src, n.Else, labels)
	n.Body = t.copyFrom(src, n.Body, labels)
	n.Init = t.copyFrom(src, n.Init, labels)
	n.Step = t.copyFrom(src, n.Step, labels)
	n.TryBlock = t.copyFrom(src, n.TryBlock, labels)
	n.Finally = t.copyFrom(src, n.Finally, labels)
	n.Fault = t.copyFrom(src, n.Fault, labels)
	n.Filter = t.copyFrom(src, n.Filter, labels)
	return t.Add(n)
}
