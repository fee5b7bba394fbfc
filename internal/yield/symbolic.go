package yield

import (
	"errors"
	"fmt"

	"github.com/roach88/ildecomp/internal/il"
)

// ErrNotApplicable is wrapped by every shape mismatch. The reversal is then
// skipped and the enumerator is rendered literally.
var ErrNotApplicable = errors.New("iterator reversal not applicable")

func notApplicable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotApplicable, fmt.Sprintf(format, args...))
}

// symbolic is a value of the state algebra. Only the types in this file
// implement it.
type symbolic interface {
	symbolic()
}

// intConst is an integer constant.
type intConst int64

// stateOffset is the value of the state field plus an offset.
type stateOffset int64

// thisRef is the enumerator instance.
type thisRef struct{}

// stateEquals is the boolean state == n.
type stateEquals int64

// stateNotEquals is the boolean state != n.
type stateNotEquals int64

func (intConst) symbolic()       {}
func (stateOffset) symbolic()    {}
func (thisRef) symbolic()        {}
func (stateEquals) symbolic()    {}
func (stateNotEquals) symbolic() {}

// evaluator interprets expressions over the state algebra. Variables that
// were assigned the plain state value count as the state itself.
type evaluator struct {
	t          *il.Tree
	stateField *il.FieldDef
	stateVars  map[*il.Variable]bool
}

func newEvaluator(t *il.Tree, stateField *il.FieldDef) *evaluator {
	return &evaluator{t: t, stateField: stateField, stateVars: make(map[*il.Variable]bool)}
}

// eval returns the symbolic value of id, or an error when id falls outside
// the algebra.
func (e *evaluator) eval(id il.NodeID) (symbolic, error) {
	t := e.t
	n := t.Node(id)
	if n.Kind != il.KindExpr {
		return nil, notApplicable("%s is not an expression", n.Kind)
	}
	switch n.Code {
	case il.LdcI4:
		return intConst(n.Int), nil
	case il.Ldloc:
		switch {
		case e.stateVars[n.Var]:
			return stateOffset(0), nil
		case n.Var.IsThis:
			return thisRef{}, nil
		}
	case il.Ldfld:
		obj, err := e.eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		if _, ok := obj.(thisRef); ok && n.Field == e.stateField {
			return stateOffset(0), nil
		}
	case il.Sub, il.Add:
		left, err := e.eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		right, err := e.eval(n.Args[1])
		if err != nil {
			return nil, err
		}
		c, ok := right.(intConst)
		if !ok {
			break
		}
		delta := int64(c)
		if n.Code == il.Sub {
			delta = -delta
		}
		switch l := left.(type) {
		case intConst:
			return intConst(wrap32(int64(l) + delta)), nil
		case stateOffset:
			return stateOffset(wrap32(int64(l) + delta)), nil
		}
	case il.Ceq, il.Cne:
		left, err := e.eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		right, err := e.eval(n.Args[1])
		if err != nil {
			return nil, err
		}
		l, ok1 := left.(stateOffset)
		r, ok2 := right.(intConst)
		if !ok1 || !ok2 {
			break
		}
		// state + l == r  <=>  state == r - l
		v := wrap32(int64(r) - int64(l))
		if n.Code == il.Ceq {
			return stateEquals(v), nil
		}
		return stateNotEquals(v), nil
	case il.LogicNot:
		inner, err := e.eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		switch v := inner.(type) {
		case stateEquals:
			return stateNotEquals(v), nil
		case stateNotEquals:
			return stateEquals(v), nil
		case stateOffset:
			return stateEquals(wrap32(-int64(v))), nil
		}
	}
	return nil, notApplicable("cannot evaluate %s", t.FormatExpr(id))
}

// condition evaluates a branch condition. A bare state value tests for
// non-zero.
func (e *evaluator) condition(id il.NodeID) (symbolic, error) {
	v, err := e.eval(id)
	if err != nil {
		return nil, err
	}
	if s, ok := v.(stateOffset); ok {
		return stateNotEquals(wrap32(-int64(s))), nil
	}
	return v, nil
}

func wrap32(v int64) int64 {
	return int64(int32(v))
}
