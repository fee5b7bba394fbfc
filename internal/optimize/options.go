package optimize

import (
	"fmt"
	"log/slog"

	"github.com/roach88/ildecomp/internal/il"
)

// Step identifies one pipeline step. Steps run in declaration order.
type Step int

const (
	StepRemoveRedundantCode Step = iota + 1
	StepReduceBranchInstructionSet
	StepInlineVariables
	StepYieldReturn
	StepSplitToBasicBlocks
	StepTypeInference
	StepSimplifyControlFlow
	StepSimplifyExpressions
	StepFindLoops
	StepFindConditions
	StepFlattenBasicBlocks
	StepRemoveDeadCode
	StepGotoRemoval
	StepDuplicateReturns
	StepReduceIfNesting
	StepInlineVariables3
	StepIdioms
	StepTypeInference2

	stepEnd
)

var stepNames = [...]string{
	StepRemoveRedundantCode:        "remove-redundant-code",
	StepReduceBranchInstructionSet: "reduce-branches",
	StepInlineVariables:            "inline-variables",
	StepYieldReturn:                "yield-return",
	StepSplitToBasicBlocks:         "split-basic-blocks",
	StepTypeInference:              "type-inference",
	StepSimplifyControlFlow:        "simplify-control-flow",
	StepSimplifyExpressions:        "simplify-expressions",
	StepFindLoops:                  "find-loops",
	StepFindConditions:             "find-conditions",
	StepFlattenBasicBlocks:         "flatten-basic-blocks",
	StepRemoveDeadCode:             "remove-dead-code",
	StepGotoRemoval:                "goto-removal",
	StepDuplicateReturns:           "duplicate-returns",
	StepReduceIfNesting:            "reduce-if-nesting",
	StepInlineVariables3:           "inline-variables-3",
	StepIdioms:                     "idioms",
	StepTypeInference2:             "type-inference-2",
}

func (s Step) String() string {
	if s > 0 && s < stepEnd {
		return stepNames[s]
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Steps returns every step in pipeline order.
func Steps() []Step {
	out := make([]Step, 0, stepEnd-1)
	for s := Step(1); s < stepEnd; s++ {
		out = append(out, s)
	}
	return out
}

// ParseStep resolves a step name as printed by Step.String.
func ParseStep(name string) (Step, error) {
	for s := Step(1); s < stepEnd; s++ {
		if stepNames[s] == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown pipeline step %q", name)
}

// IteratorReverser rewrites the body of a method that only constructs a
// compiler-generated enumerator into an equivalent yield-based body.
//
// Reverse returns nil after replacing t's root. Any error means the method
// does not have the expected shape; the tree must then be left untouched.
type IteratorReverser interface {
	Reverse(t *il.Tree) error
}

// Options configures one Optimize call. The zero value runs every step.
type Options struct {
	// Until stops the pipeline after the given step. Zero runs all steps.
	Until Step

	// Reverser is consulted at StepYieldReturn. Nil skips the step.
	Reverser IteratorReverser

	// Logger receives one debug record per step. Nil discards.
	Logger *slog.Logger

	// CheckLabels verifies label consistency after every step.
	CheckLabels bool

	// Observe, if set, is called after each completed step.
	Observe func(step Step, t *il.Tree)
}

func (o Options) runs(s Step) bool {
	return o.Until == 0 || s <= o.Until
}
