package yield

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/ildecomp/internal/il"
)

// interval is a closed range of state values.
type interval struct {
	start, end int64
}

// stateRange is a set of state values kept as a list of intervals.
type stateRange struct {
	data []interval
}

func fullRange() *stateRange {
	return &stateRange{data: []interval{{math.MinInt32, math.MaxInt32}}}
}

func (r *stateRange) isEmpty() bool { return len(r.data) == 0 }

func (r *stateRange) contains(v int64) bool {
	for _, i := range r.data {
		if i.start <= v && v <= i.end {
			return true
		}
	}
	return false
}

// unionWith adds every value of other.
func (r *stateRange) unionWith(other *stateRange) {
	r.data = append(r.data, other.data...)
}

// unionWithin adds the values of other that lie in [start, end].
func (r *stateRange) unionWithin(other *stateRange, start, end int64) {
	for _, i := range other.data {
		s, e := max(i.start, start), min(i.end, end)
		if s <= e {
			r.data = append(r.data, interval{s, e})
		}
	}
}

// simplify sorts the intervals and merges overlapping or adjacent ones.
func (r *stateRange) simplify() {
	if len(r.data) < 2 {
		return
	}
	slices.SortFunc(r.data, func(a, b interval) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		}
		return 0
	})
	out := r.data[:1]
	for _, i := range r.data[1:] {
		last := &out[len(out)-1]
		if i.start <= last.end+1 {
			last.end = max(last.end, i.end)
			continue
		}
		out = append(out, i)
	}
	r.data = out
}

func (r *stateRange) String() string {
	parts := make([]string, len(r.data))
	for i, iv := range r.data {
		if iv.start == iv.end {
			parts[i] = fmt.Sprint(iv.start)
		} else {
			parts[i] = fmt.Sprintf("%d..%d", iv.start, iv.end)
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

type analysisMode int

const (
	// modeDispose requires every statement to be understood.
	modeDispose analysisMode = iota
	// modeMoveNext stops at the first statement past the state dispatch.
	modeMoveNext
)

// rangeAnalysis propagates the states reaching each statement forward
// through a statement list. Flow is assumed acyclic.
type rangeAnalysis struct {
	t      *il.Tree
	mode   analysisMode
	eval   *evaluator
	ranges map[il.NodeID]*stateRange

	// finallyRanges maps each extracted finally method to the states in
	// which Dispose runs it. Only filled in modeDispose.
	finallyRanges map[*il.MethodDef]*stateRange
}

func newRangeAnalysis(t *il.Tree, entry il.NodeID, mode analysisMode, stateField *il.FieldDef) *rangeAnalysis {
	a := &rangeAnalysis{
		t:      t,
		mode:   mode,
		eval:   newEvaluator(t, stateField),
		ranges: make(map[il.NodeID]*stateRange),
	}
	if mode == modeDispose {
		a.finallyRanges = make(map[*il.MethodDef]*stateRange)
	}
	a.ranges[entry] = fullRange()
	return a
}

func (a *rangeAnalysis) rangeOf(id il.NodeID) *stateRange {
	r, ok := a.ranges[id]
	if !ok {
		r = &stateRange{}
		a.ranges[id] = r
	}
	return r
}

// next returns the range of the statement after position i.
func (a *rangeAnalysis) next(body []il.NodeID, i int) (*stateRange, error) {
	if i+1 >= len(body) {
		return nil, notApplicable("control falls off the end of the body")
	}
	return a.rangeOf(body[i+1]), nil
}

// assign propagates ranges through body[:n]. In modeMoveNext it returns the
// position of the first statement it does not understand; in modeDispose
// such a statement is an error.
func (a *rangeAnalysis) assign(body []il.NodeID, n int) (int, error) {
	t := a.t
	for i := 0; i < n; i++ {
		stmt := body[i]
		current := a.rangeOf(stmt)
		current.simplify()
		node := t.Node(stmt)

		switch node.Kind {
		case il.KindLabel:
			next, err := a.next(body, i)
			if err != nil {
				return 0, err
			}
			next.unionWith(current)
			continue
		case il.KindTry:
			if a.mode != modeDispose {
				return 0, notApplicable("exception handler inside the state dispatch")
			}
			if len(node.Catches) > 0 || node.Fault != il.Nil || node.Finally == il.Nil {
				return 0, notApplicable("Dispose holds a handler other than try/finally")
			}
			a.rangeOf(node.TryBlock).unionWith(current)
			if inner := t.Stmts(node.TryBlock); len(inner) > 0 {
				a.rangeOf(inner[0]).unionWith(current)
				if _, err := a.assign(inner, len(inner)); err != nil {
					return 0, err
				}
			}
			continue
		case il.KindExpr:
		default:
			return a.unknown(i, stmt)
		}

		switch node.Code {
		case il.Switch:
			v, err := a.eval.eval(node.Args[0])
			if err != nil {
				return a.unknown(i, stmt)
			}
			s, ok := v.(stateOffset)
			if !ok {
				return a.unknown(i, stmt)
			}
			for j, label := range node.Targets {
				state := int64(j) - int64(s)
				a.rangeOf(label).unionWithin(current, state, state)
			}
			next, err := a.next(body, i)
			if err != nil {
				return 0, err
			}
			next.unionWithin(current, math.MinInt32, -1-int64(s))
			next.unionWithin(current, int64(len(node.Targets))-int64(s), math.MaxInt32)
		case il.Br, il.Leave:
			a.rangeOf(node.Target).unionWith(current)
		case il.Brtrue:
			v, err := a.eval.condition(node.Args[0])
			if err != nil {
				return a.unknown(i, stmt)
			}
			next, err := a.next(body, i)
			if err != nil {
				return 0, err
			}
			target := a.rangeOf(node.Target)
			switch c := v.(type) {
			case stateEquals:
				target.unionWithin(current, int64(c), int64(c))
				next.unionWithin(current, math.MinInt32, int64(c)-1)
				next.unionWithin(current, int64(c)+1, math.MaxInt32)
			case stateNotEquals:
				next.unionWithin(current, int64(c), int64(c))
				target.unionWithin(current, math.MinInt32, int64(c)-1)
				target.unionWithin(current, int64(c)+1, math.MaxInt32)
			default:
				return a.unknown(i, stmt)
			}
		case il.Nop:
			next, err := a.next(body, i)
			if err != nil {
				return 0, err
			}
			next.unionWith(current)
		case il.Ret:
		case il.Stloc:
			v, err := a.eval.eval(node.Args[0])
			if s, ok := v.(stateOffset); err != nil || !ok || s != 0 {
				return a.unknown(i, stmt)
			}
			a.eval.stateVars[node.Var] = true
			next, err := a.next(body, i)
			if err != nil {
				return 0, err
			}
			next.unionWith(current)
		case il.Call:
			// Dispose may call a finally method outside of any try block.
			if a.mode != modeDispose {
				return i, nil
			}
			if err := a.addFinallyMethod(stmt, current); err != nil {
				return 0, err
			}
			next, err := a.next(body, i)
			if err != nil {
				return 0, err
			}
			next.unionWith(current)
		default:
			return a.unknown(i, stmt)
		}
	}
	return n, nil
}

func (a *rangeAnalysis) unknown(i int, stmt il.NodeID) (int, error) {
	if a.mode == modeMoveNext {
		return i, nil
	}
	return 0, notApplicable("unexpected statement in Dispose: %s", a.t.Format(stmt))
}

// addFinallyMethod records call(this) of a finally method guarded by r.
func (a *rangeAnalysis) addFinallyMethod(call il.NodeID, r *stateRange) error {
	m, ok := matchThisCall(a.t, call)
	if !ok {
		return notApplicable("unexpected call in Dispose: %s", a.t.FormatExpr(call))
	}
	if _, dup := a.finallyRanges[m]; dup {
		return notApplicable("finally method %s is called twice", m.Name)
	}
	r.simplify()
	a.finallyRanges[m] = &stateRange{data: slices.Clone(r.data)}
	return nil
}

// matchThisCall matches call(this) of an instance method.
func matchThisCall(t *il.Tree, id il.NodeID) (*il.MethodDef, bool) {
	n, ok := t.MatchExpr(id, il.Call)
	if !ok || len(n.Args) != 1 || !t.MatchThis(n.Args[0]) || n.Method == nil {
		return nil, false
	}
	return n.Method, true
}

// ensureLabelAt makes body[pos] a label, inserting one carrying the range of
// the statement at pos when needed.
func (a *rangeAnalysis) ensureLabelAt(body []il.NodeID, pos int) ([]il.NodeID, int) {
	if pos > 0 && a.t.Kind(body[pos-1]) == il.KindLabel {
		return body, pos - 1
	}
	label := a.t.NewLabel("YieldReturnEntryPoint")
	if pos < len(body) {
		a.ranges[label] = a.rangeOf(body[pos])
	}
	return slices.Insert(slices.Clone(body), pos, label), pos
}

// labelRange pairs a resume label with the states that reach it.
type labelRange struct {
	label il.NodeID
	r     *stateRange
}

// labelRanges lists the labels of body[pos:n] and the leading labels of
// any try block among them, in order.
func (a *rangeAnalysis) labelRanges(body []il.NodeID, pos, n int) []labelRange {
	var out []labelRange
	a.collectLabels(body, pos, n, false, &out)
	return out
}

func (a *rangeAnalysis) collectLabels(body []il.NodeID, pos, n int, leadingOnly bool, out *[]labelRange) {
	t := a.t
	for i := pos; i < n; i++ {
		switch node := t.Node(body[i]); node.Kind {
		case il.KindLabel:
			r := a.rangeOf(body[i])
			r.simplify()
			*out = append(*out, labelRange{body[i], r})
		case il.KindTry:
			inner := t.Stmts(node.TryBlock)
			a.collectLabels(inner, 0, len(inner), true, out)
		default:
			if leadingOnly {
				return
			}
		}
	}
}
