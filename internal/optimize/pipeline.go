package optimize

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/ildecomp/internal/il"
)

type optimizer struct {
	t    *il.Tree
	opts Options
	log  *slog.Logger
}

type step struct {
	id  Step
	run func(o *optimizer) error
}

var pipeline = []step{
	{StepRemoveRedundantCode, func(o *optimizer) error { o.removeRedundantCode(); return nil }},
	{StepReduceBranchInstructionSet, func(o *optimizer) error { o.reduceBranchInstructionSet(); return nil }},
	{StepInlineVariables, func(o *optimizer) error {
		in := newInliner(o.t)
		in.inlineAllVariables(false)
		in.copyPropagation()
		return nil
	}},
	{StepYieldReturn, (*optimizer).yieldReturn},
	{StepSplitToBasicBlocks, func(o *optimizer) error { o.splitToBasicBlocks(); return nil }},
	{StepTypeInference, func(o *optimizer) error { inferTypes(o.t); return nil }},
	{StepSimplifyControlFlow, func(o *optimizer) error { o.simplifyControlFlow(); return nil }},
	{StepSimplifyExpressions, func(o *optimizer) error { o.simplifyExpressions(); return nil }},
	{StepFindLoops, (*optimizer).findLoops},
	{StepFindConditions, (*optimizer).findConditions},
	{StepFlattenBasicBlocks, (*optimizer).flattenBasicBlocks},
	{StepRemoveDeadCode, func(o *optimizer) error {
		o.removeEndFinally()
		o.removeRedundantCode()
		return nil
	}},
	{StepGotoRemoval, func(o *optimizer) error { o.removeGotos(); return nil }},
	{StepDuplicateReturns, func(o *optimizer) error {
		o.duplicateReturnStatements()
		o.removeGotos()
		return nil
	}},
	{StepReduceIfNesting, func(o *optimizer) error { o.reduceIfNesting(o.t.Root); return nil }},
	{StepInlineVariables3, func(o *optimizer) error { newInliner(o.t).inlineAllVariables(true); return nil }},
	{StepIdioms, func(o *optimizer) error {
		o.cachedDelegateInitialization()
		o.introduceFixedStatements()
		return nil
	}},
	{StepTypeInference2, func(o *optimizer) error {
		o.simplifyLogicNot()
		inferTypes(o.t)
		o.removeRedundantCodeFinal()
		return nil
	}},
}

// Optimize runs the pipeline over t. On failure the returned error is an
// *il.DecodingError and t holds the output of the last successful step.
func Optimize(t *il.Tree, opts Options) error {
	o := &optimizer{t: t, opts: opts, log: opts.Logger}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}
	method := ""
	if t.Method != nil {
		method = t.Method.FullName()
	}

	for _, s := range pipeline {
		if !opts.runs(s.id) {
			break
		}
		o.log.Debug("running step", "method", method, "step", s.id.String())
		snapshot := t.Clone(t.Root)
		err := s.run(o)
		if err == nil {
			t.RemoveUnusedLabels(t.Root)
			if opts.CheckLabels {
				err = t.CheckLabels(t.Root)
			}
		}
		if err != nil {
			t.Root = snapshot
			o.log.Warn("step aborted method", "method", method, "step", s.id.String(), "error", err)
			return stepError(method, s.id, err)
		}
		if opts.Observe != nil {
			opts.Observe(s.id, t)
		}
	}
	return nil
}

func stepError(method string, s Step, err error) error {
	var de *il.DecodingError
	if errors.As(err, &de) {
		if de.Method == "" {
			de.Method = method
		}
		de.Message = s.String() + ": " + de.Message
		return de
	}
	return &il.DecodingError{
		Code:    il.ErrCodePassFailed,
		Method:  method,
		Offset:  -1,
		Message: fmt.Sprintf("%s: %v", s, err),
	}
}

func (o *optimizer) yieldReturn() error {
	if o.opts.Reverser == nil {
		return nil
	}
	if err := o.opts.Reverser.Reverse(o.t); err != nil {
		o.log.Debug("iterator reversal not applicable", "method", o.t.Method.FullName(), "reason", err)
		return nil
	}
	// Fields turned into locals open up more inlining.
	in := newInliner(o.t)
	in.inlineAllVariables(false)
	in.copyPropagation()
	return nil
}

// passFailed reports a violated structural assumption inside a step.
func passFailed(format string, args ...any) error {
	return il.NewDecodingError(il.ErrCodePassFailed, -1, format, args...)
}
