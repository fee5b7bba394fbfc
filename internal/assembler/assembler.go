package assembler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/ildecomp/internal/analyzer"
	"github.com/roach88/ildecomp/internal/il"
)

type builder struct {
	tree   *il.Tree
	result *analyzer.Result
	labels map[int]il.NodeID
}

// Build converts an analyzed method into a tree whose root is a Block.
func Build(r *analyzer.Result) (*il.Tree, error) {
	if err := checkNesting(r.Handlers); err != nil {
		var de *il.DecodingError
		if errors.As(err, &de) {
			de.Method = r.Method.FullName()
		}
		return nil, err
	}
	b := &builder{
		tree:   il.NewTree(r.Method),
		result: r,
		labels: make(map[int]il.NodeID),
	}
	for _, bc := range r.Body {
		if bc.Label {
			b.labels[bc.Offset] = b.tree.NamedLabel(fmt.Sprintf("IL_%04x", bc.Offset))
		}
	}
	body := append([]*analyzer.ByteCode(nil), r.Body...)
	stmts, err := b.convert(&body, append([]*analyzer.Handler(nil), r.Handlers...))
	if err != nil {
		return nil, err
	}
	b.tree.Root = b.tree.Block(stmts...)
	b.splitTryEntries()
	return b.tree, nil
}

// splitTryEntries moves the target of branches that enter a protected
// region from outside in front of the try node. The region's first label
// keeps the branches from inside it, so every basic block built later is
// entered through a label in its own statement list.
func (b *builder) splitTryEntries() {
	t := b.tree
	nodes := t.Descendants(t.Root)
	for i := len(nodes) - 1; i >= 0; i-- {
		try := nodes[i]
		if t.Kind(try) != il.KindTry {
			continue
		}
		body := t.Node(try).TryBlock
		stmts := t.Stmts(body)
		if len(stmts) == 0 || t.Kind(stmts[0]) != il.KindLabel {
			continue
		}
		first := stmts[0]
		within := make(map[il.NodeID]bool)
		for _, e := range t.Exprs(try) {
			within[e] = true
		}
		var outside []il.NodeID
		inside := 0
		for _, e := range t.Exprs(t.Root) {
			n := t.Node(e)
			if n.Target != first && !slices.Contains(n.Targets, first) {
				continue
			}
			if within[e] {
				inside++
			} else {
				outside = append(outside, e)
			}
		}
		if len(outside) == 0 {
			continue
		}

		entry := first
		if inside == 0 {
			t.SetStmts(body, slices.Delete(slices.Clone(stmts), 0, 1))
		} else {
			entry = t.NamedLabel(t.Node(first).Name + "_entry")
			for _, e := range outside {
				retarget(t.Node(e), first, entry)
			}
		}
		parent := b.parentBlock(try)
		ps := t.Stmts(parent)
		at := slices.Index(ps, try)
		t.SetStmts(parent, slices.Insert(slices.Clone(ps), at, entry))
	}
}

func retarget(n *il.Node, from, to il.NodeID) {
	if n.Target == from {
		n.Target = to
	}
	if slices.Contains(n.Targets, from) {
		n.Targets = slices.Clone(n.Targets)
		for i, l := range n.Targets {
			if l == from {
				n.Targets[i] = to
			}
		}
	}
}

func (b *builder) parentBlock(id il.NodeID) il.NodeID {
	for _, blk := range b.tree.BlocksOf(b.tree.Root) {
		if slices.Contains(b.tree.Stmts(blk), id) {
			return blk
		}
	}
	return il.Nil
}

// checkNesting rejects regions that partially overlap.
func checkNesting(handlers []*analyzer.Handler) error {
	type region struct {
		start, end int
	}
	var regions []region
	for _, h := range handlers {
		regions = append(regions, region{h.TryStart, h.TryEnd})
		start := h.HandlerStart
		if h.Kind == il.HandlerFilter {
			start = h.FilterStart
		}
		regions = append(regions, region{start, h.HandlerEnd})
	}
	for i, a := range regions {
		for _, b := range regions[i+1:] {
			disjoint := a.end <= b.start || b.end <= a.start
			nested := (a.start <= b.start && b.end <= a.end) || (b.start <= a.start && a.end <= b.end)
			if !disjoint && !nested {
				return il.NewDecodingError(il.ErrCodeBadHandlerNesting, b.start,
					"region IL_%04x-IL_%04x overlaps IL_%04x-IL_%04x", b.start, b.end, a.start, a.end)
			}
		}
	}
	return nil
}

// cut removes and returns the leading ByteCodes that start before offset.
func cut(body *[]*analyzer.ByteCode, offset int) []*analyzer.ByteCode {
	n := 0
	for n < len(*body) && (*body)[n].Offset < offset {
		n++
	}
	head := (*body)[:n:n]
	*body = (*body)[n:]
	return head
}

// cutRange removes and returns the ByteCodes in [start, end).
func cutRange(body *[]*analyzer.ByteCode, start, end int) []*analyzer.ByteCode {
	var in, out []*analyzer.ByteCode
	for _, bc := range *body {
		if bc.Offset >= start && bc.Offset < end {
			in = append(in, bc)
		} else {
			out = append(out, bc)
		}
	}
	*body = out
	return in
}

func (b *builder) convert(body *[]*analyzer.ByteCode, handlers []*analyzer.Handler) ([]il.NodeID, error) {
	var ast []il.NodeID
	for len(handlers) > 0 {
		tryStart := handlers[0].TryStart
		for _, h := range handlers {
			tryStart = min(tryStart, h.TryStart)
		}
		tryEnd := tryStart
		for _, h := range handlers {
			if h.TryStart == tryStart {
				tryEnd = max(tryEnd, h.TryEnd)
			}
		}
		var same, rest []*analyzer.Handler
		for _, h := range handlers {
			if h.TryStart == tryStart && h.TryEnd == tryEnd {
				same = append(same, h)
			} else {
				rest = append(rest, h)
			}
		}
		handlers = rest

		before := cut(body, tryStart)
		stmts, err := b.flatten(before)
		if err != nil {
			return nil, err
		}
		ast = append(ast, stmts...)

		var nested []*analyzer.Handler
		nested, handlers = partition(handlers, func(h *analyzer.Handler) bool {
			return (tryStart <= h.TryStart && h.TryEnd < tryEnd) || (tryStart < h.TryStart && h.TryEnd <= tryEnd)
		})
		tryBody := cut(body, tryEnd)
		tryStmts, err := b.convert(&tryBody, nested)
		if err != nil {
			return nil, err
		}
		try := il.Node{Kind: il.KindTry, TryBlock: b.tree.Block(tryStmts...)}

		for _, h := range same {
			start := h.HandlerStart
			if h.Kind == il.HandlerFilter {
				start = h.FilterStart
			}
			nested, handlers = partition(handlers, func(e *analyzer.Handler) bool {
				return (start <= e.TryStart && e.TryEnd < h.HandlerEnd) || (start < e.TryStart && e.TryEnd <= h.HandlerEnd)
			})
			region := cutRange(body, start, h.HandlerEnd)

			switch h.Kind {
			case il.HandlerCatch, il.HandlerFilter:
				c, err := b.catchClause(h, region, nested)
				if err != nil {
					return nil, err
				}
				try.Catches = append(try.Catches, c)
			case il.HandlerFinally, il.HandlerFault:
				stmts, err := b.convert(&region, nested)
				if err != nil {
					return nil, err
				}
				if h.Kind == il.HandlerFinally {
					try.Finally = b.tree.Block(stmts...)
				} else {
					try.Fault = b.tree.Block(stmts...)
				}
			}
		}
		ast = append(ast, b.tree.Add(try))
	}
	rest, err := b.flatten(*body)
	if err != nil {
		return nil, err
	}
	*body = nil
	return append(ast, rest...), nil
}

func partition(hs []*analyzer.Handler, pred func(*analyzer.Handler) bool) (yes, no []*analyzer.Handler) {
	for _, h := range hs {
		if pred(h) {
			yes = append(yes, h)
		} else {
			no = append(no, h)
		}
	}
	return yes, no
}

func (b *builder) catchClause(h *analyzer.Handler, region []*analyzer.ByteCode, nested []*analyzer.Handler) (il.NodeID, error) {
	c := il.Node{Kind: il.KindCatch, Type: h.CatchType}
	var filterStmts []il.NodeID
	if h.Kind == il.HandlerFilter {
		filterCode := cut(&region, h.HandlerStart)
		var inFilter []*analyzer.Handler
		inFilter, nested = partition(nested, func(e *analyzer.Handler) bool { return e.TryStart < h.HandlerStart })
		stmts, err := b.convert(&filterCode, inFilter)
		if err != nil {
			return il.Nil, err
		}
		filterStmts = stmts
		c.Type = il.Object
	}
	bodyStmts, err := b.convert(&region, nested)
	if err != nil {
		return il.Nil, err
	}

	ex := h.Exception
	switch {
	case len(ex.StoreTo) == 0:
	case len(ex.StoreTo) == 1 && h.Kind == il.HandlerCatch && b.isPopOf(bodyStmts, ex.StoreTo[0]):
		bodyStmts = bodyStmts[1:]
	case len(ex.StoreTo) == 1:
		c.Var = ex.StoreTo[0]
	default:
		tmp := &il.Variable{Name: fmt.Sprintf("ex_%02X", h.HandlerStart), IsGenerated: true, Type: h.CatchType}
		c.Var = tmp
		fanOut := func(stmts []il.NodeID) []il.NodeID {
			out := make([]il.NodeID, 0, len(ex.StoreTo)+len(stmts))
			for _, v := range ex.StoreTo {
				out = append(out, b.tree.Stloc(v, b.tree.Ldloc(tmp)))
			}
			return append(out, stmts...)
		}
		bodyStmts = fanOut(bodyStmts)
		if filterStmts != nil {
			filterStmts = fanOut(filterStmts)
		}
	}
	if filterStmts != nil {
		c.Filter = b.tree.Block(filterStmts...)
	}
	c.Body = b.tree.Block(bodyStmts...)
	return b.tree.Add(c), nil
}

func (b *builder) isPopOf(stmts []il.NodeID, v *il.Variable) bool {
	if len(stmts) == 0 {
		return false
	}
	n, ok := b.tree.MatchExpr(stmts[0], il.Pop)
	return ok && len(n.Args) == 1 && b.tree.MatchLdlocOf(n.Args[0], v)
}

// flatten turns straight ByteCodes into labels and expression statements.
func (b *builder) flatten(body []*analyzer.ByteCode) ([]il.NodeID, error) {
	var ast []il.NodeID
	for _, bc := range body {
		if !bc.Reachable() {
			continue
		}
		if label, ok := b.labels[bc.Offset]; ok {
			ast = append(ast, label)
		}
		expr, err := b.expression(bc)
		if err != nil {
			return nil, err
		}
		n := len(bc.StackBefore)
		args := make([]il.NodeID, 0, bc.Pops())
		for i := n - bc.Pops(); i < n; i++ {
			args = append(args, b.tree.Ldloc(bc.StackBefore[i].LoadFrom))
		}
		b.tree.Node(expr).Args = args

		switch len(bc.StoreTo) {
		case 0:
			ast = append(ast, expr)
		case 1:
			ast = append(ast, b.tree.Stloc(bc.StoreTo[0], expr))
		default:
			tmp := &il.Variable{Name: fmt.Sprintf("expr_%02X", bc.Offset), IsGenerated: true}
			ast = append(ast, b.tree.Stloc(tmp, expr))
			for i := len(bc.StoreTo) - 1; i >= 0; i-- {
				ast = append(ast, b.tree.Stloc(bc.StoreTo[i], b.tree.Ldloc(tmp)))
			}
		}
	}
	return ast, nil
}

// expression creates the expression node of one ByteCode, without arguments.
// Argument accesses become local accesses of the parameter variables.
func (b *builder) expression(bc *analyzer.ByteCode) (il.NodeID, error) {
	n := il.Node{
		Kind:     il.KindExpr,
		Code:     bc.Code,
		Prefixes: bc.Prefixes,
		Var:      bc.Var,
		Int:      bc.Operand.Int,
		Str:      bc.Operand.String,
		Field:    bc.Operand.Field,
		Method:   bc.Operand.Method,
		Type:     bc.Operand.Type,
		Ranges:   []il.Interval{{Start: bc.Offset, End: bc.End}},
	}
	switch bc.Code {
	case il.Ldarg:
		n.Code = il.Ldloc
	case il.Starg:
		n.Code = il.Stloc
	case il.Ldarga:
		n.Code = il.Ldloca
	case il.Switch:
		for _, target := range bc.Operand.Targets {
			label, err := b.label(bc, target)
			if err != nil {
				return il.Nil, err
			}
			n.Targets = append(n.Targets, label)
		}
	default:
		if bc.Code.IsBranch() {
			label, err := b.label(bc, bc.Operand.Target)
			if err != nil {
				return il.Nil, err
			}
			n.Target = label
		}
	}
	return b.tree.Add(n), nil
}

func (b *builder) label(bc *analyzer.ByteCode, target int) (il.NodeID, error) {
	label, ok := b.labels[target]
	if !ok {
		return il.Nil, &il.DecodingError{
			Code:    il.ErrCodeUndefinedLabel,
			Method:  b.result.Method.FullName(),
			Offset:  bc.Offset,
			Message: fmt.Sprintf("branch target IL_%04x is not reachable code", target),
		}
	}
	return label, nil
}
