package decompiler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/roach88/ildecomp/internal/analyzer"
	"github.com/roach88/ildecomp/internal/assembler"
	"github.com/roach88/ildecomp/internal/idiom"
	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/optimize"
	"github.com/roach88/ildecomp/internal/yield"
)

// Options configures a decompilation. The zero value runs everything.
type Options struct {
	// Until stops the optimization pipeline after the given step. Idiom
	// recovery only runs when the whole pipeline ran.
	Until optimize.Step

	// NoYield disables iterator reversal.
	NoYield bool

	// CheckLabels verifies label consistency after every pipeline step.
	CheckLabels bool

	// Logger receives pipeline records. Nil discards.
	Logger *slog.Logger

	// Observe, if set, is called after each completed pipeline step.
	Observe func(step optimize.Step, t *il.Tree)
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Result is the outcome of decompiling one method.
type Result struct {
	Method *il.MethodDef

	// Tree is the decompiled body. After a pipeline failure it holds the
	// output of the last successful step; it is nil when the method failed
	// before a tree existed.
	Tree *il.Tree

	// Err is the *il.DecodingError that aborted the method, if any.
	Err error
}

// Failed reports whether the method could not be fully decompiled.
func (r *Result) Failed() bool { return r.Err != nil }

// DecompileMethod decompiles one method body. The returned error is only
// set when ctx is done; decoding failures are reported through Result.Err.
func DecompileMethod(ctx context.Context, m *il.MethodDef, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &Result{Method: m}
	if m.Body == nil {
		res.Err = &il.DecodingError{Code: il.ErrCodeBadOperand, Method: m.FullName(), Offset: -1, Message: "method has no body"}
		return res, nil
	}
	res.Err = run(res, opts)
	return res, nil
}

func run(res *Result, opts Options) (err error) {
	m := res.Method
	defer func() {
		if r := recover(); r != nil {
			opts.logger().Error("decompiler panic", "method", m.FullName(), "panic", r, "stack", string(debug.Stack()))
			err = &il.DecodingError{Code: il.ErrCodePassFailed, Method: m.FullName(), Offset: -1, Message: fmt.Sprint(r)}
			// A step may have stopped halfway through a rewrite.
			res.Tree = nil
		}
	}()

	a, err := analyzer.Analyze(m)
	if err != nil {
		return err
	}
	t, err := assembler.Build(a)
	if err != nil {
		return err
	}
	res.Tree = t

	po := optimize.Options{
		Until:       opts.Until,
		Logger:      opts.Logger,
		CheckLabels: opts.CheckLabels,
		Observe:     opts.Observe,
	}
	if !opts.NoYield {
		po.Reverser = &yield.Reverser{Logger: opts.Logger}
	}
	if err := optimize.Optimize(t, po); err != nil {
		return err
	}
	if opts.Until == 0 {
		idiom.Transform(t)
	}
	return nil
}
