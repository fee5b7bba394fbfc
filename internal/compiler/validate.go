package compiler

import (
	"fmt"

	"github.com/roach88/ildecomp/internal/il"
)

// Validation error codes (E100-E199)
const (
	// Type errors (E101-E104)
	ErrDuplicateMember   = "E101" // duplicate field or method name
	ErrValueTypeAbstract = "E102" // value type without fields or methods
	ErrMissingInterface  = "E103" // compiler-generated enumerator without IEnumerator
	ErrBadParamName      = "E104" // parameter without a name

	// Body errors (E110-E119)
	ErrFallsOffEnd       = "E110" // last instruction falls through the end of the body
	ErrEmptyTryRange     = "E111" // try or handler range is empty
	ErrHandlerInsideTry  = "E112" // handler range overlaps its own try range
	ErrFilterOutsideBody = "E113" // filter block does not precede its handler
	ErrBranchIntoHandler = "E114" // branch from outside into a handler block
)

// ValidationError represents a fixture validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled assembly for shapes the decompiler cannot take
// as input. Returns all errors found (does not fail-fast).
func Validate(a *Assembly) []ValidationError {
	var errs []ValidationError
	for _, t := range a.Types {
		errs = append(errs, validateType(t)...)
		for _, m := range t.Methods {
			if m.Body != nil {
				errs = append(errs, validateBody(m)...)
			}
		}
	}
	return errs
}

func validateType(t *il.TypeDef) []ValidationError {
	var errs []ValidationError
	name := t.FullName()

	seen := make(map[string]bool)
	for _, f := range t.Fields {
		if seen[f.Name] {
			errs = append(errs, ValidationError{
				Field:   name + "." + f.Name,
				Message: fmt.Sprintf("duplicate field name: %q", f.Name),
				Code:    ErrDuplicateMember,
			})
		}
		seen[f.Name] = true
	}
	for _, m := range t.Methods {
		if seen[m.Name] {
			errs = append(errs, ValidationError{
				Field:   name + "." + m.Name,
				Message: fmt.Sprintf("duplicate member name: %q", m.Name),
				Code:    ErrDuplicateMember,
			})
		}
		seen[m.Name] = true
		for _, p := range m.Params {
			if p.Name == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.params[%d]", m.FullName(), p.Index),
					Message: "parameter needs a name",
					Code:    ErrBadParamName,
				})
			}
		}
	}

	if t.IsValueType && len(t.Fields) == 0 && len(t.Methods) == 0 {
		errs = append(errs, ValidationError{
			Field:   name,
			Message: "value type declares no members",
			Code:    ErrValueTypeAbstract,
		})
	}
	if t.CompilerGenerated && t.Method("MoveNext") != nil && !t.Implements("System.Collections.IEnumerator") {
		errs = append(errs, ValidationError{
			Field:   name + ".interfaces",
			Message: "enumerator type must list System.Collections.IEnumerator",
			Code:    ErrMissingInterface,
		})
	}
	return errs
}

func validateBody(m *il.MethodDef) []ValidationError {
	var errs []ValidationError
	name := m.FullName()
	body := m.Body

	if n := len(body.Instructions); n > 0 {
		last := body.Instructions[n-1]
		if !last.Code.IsUnconditionalControlFlow() {
			errs = append(errs, ValidationError{
				Field:   name + ".body",
				Message: fmt.Sprintf("IL_%04x: %s falls off the end of the body", last.Offset, last.Code),
				Code:    ErrFallsOffEnd,
			})
		}
	}

	for i, h := range body.Handlers {
		field := fmt.Sprintf("%s.handlers[%d]", name, i)
		if h.TryStart >= h.TryEnd || h.HandlerStart >= h.HandlerEnd {
			errs = append(errs, ValidationError{Field: field, Message: "empty try or handler range", Code: ErrEmptyTryRange})
			continue
		}
		if h.HandlerStart < h.TryEnd && h.TryStart < h.HandlerEnd {
			errs = append(errs, ValidationError{Field: field, Message: "handler overlaps its try range", Code: ErrHandlerInsideTry})
		}
		if h.Kind == il.HandlerFilter && (h.FilterStart >= h.HandlerStart || h.FilterStart < h.TryEnd) {
			errs = append(errs, ValidationError{Field: field, Message: "filter must sit between the try and its handler", Code: ErrFilterOutsideBody})
		}
		for _, in := range body.Instructions {
			inside := in.Offset >= h.HandlerStart && in.Offset < h.HandlerEnd
			if inside || !(in.Code.IsBranch() || in.Code == il.Switch) {
				continue
			}
			targets := in.Operand.Targets
			if in.Code != il.Switch {
				targets = []int{in.Operand.Target}
			}
			for _, target := range targets {
				if target > h.HandlerStart && target < h.HandlerEnd {
					errs = append(errs, ValidationError{
						Field:   field,
						Message: fmt.Sprintf("IL_%04x: branch into handler at IL_%04x", in.Offset, target),
						Code:    ErrBranchIntoHandler,
					})
				}
			}
		}
	}
	return errs
}
