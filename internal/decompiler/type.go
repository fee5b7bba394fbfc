package decompiler

import (
	"context"
	"strings"

	"github.com/roach88/ildecomp/internal/idiom"
	"github.com/roach88/ildecomp/internal/il"
)

// TypeResult is the outcome of decompiling every method of a type.
type TypeResult struct {
	Type       *il.TypeDef
	Methods    []*Result
	Properties []*idiom.Property
	Events     []*idiom.Event

	// accessors holds the methods folded into a property or event.
	accessors map[*il.MethodDef]bool
}

// IsAccessor reports whether m was folded into an automatic property or
// event and is not rendered on its own.
func (r *TypeResult) IsAccessor(m *il.MethodDef) bool {
	return r.accessors[m]
}

// DecompileType decompiles each method of typ that has a body, then folds
// accessor pairs into automatic properties and events. Cancellation is
// checked between methods.
func DecompileType(ctx context.Context, typ *il.TypeDef, opts Options) (*TypeResult, error) {
	out := &TypeResult{Type: typ, accessors: make(map[*il.MethodDef]bool)}
	for _, m := range typ.Methods {
		if m.Body == nil {
			continue
		}
		res, err := DecompileMethod(ctx, m, opts)
		if err != nil {
			return nil, err
		}
		out.Methods = append(out.Methods, res)
	}
	if opts.Until == 0 {
		out.foldAccessors()
	}
	return out, nil
}

func (r *TypeResult) foldAccessors() {
	trees := make(map[string]*il.Tree, len(r.Methods))
	failed := make(map[string]bool)
	for _, res := range r.Methods {
		if res.Failed() {
			failed[res.Method.Name] = true
			continue
		}
		trees[res.Method.Name] = res.Tree
	}

	for _, res := range r.Methods {
		name := res.Method.Name
		if res.Failed() {
			continue
		}
		if prop, ok := strings.CutPrefix(name, "get_"); ok {
			if failed["set_"+prop] {
				continue
			}
			if p, ok := idiom.AutoProperty(res.Tree, trees["set_"+prop]); ok {
				r.Properties = append(r.Properties, p)
				r.accessors[p.Getter] = true
				if p.Setter != nil {
					r.accessors[p.Setter] = true
				}
			}
		}
		if event, ok := strings.CutPrefix(name, "add_"); ok {
			if e, ok := idiom.AutoEvent(res.Tree, trees["remove_"+event]); ok {
				r.Events = append(r.Events, e)
				r.accessors[e.Adder] = true
				r.accessors[e.Remover] = true
			}
		}
	}
}

// Failures returns the results of the methods that failed to decode.
func (r *TypeResult) Failures() []*Result {
	var out []*Result
	for _, res := range r.Methods {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}
