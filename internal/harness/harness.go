package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/ildecomp/internal/compiler"
	"github.com/roach88/ildecomp/internal/decompiler"
	"github.com/roach88/ildecomp/internal/driver"
	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/optimize"
)

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Compile the assembly fixture
// 2. Select the methods under test
// 3. Decompile them through the driver with label checks enabled
// 4. Evaluate assertions
//
// The returned error reports a scenario that could not run at all; failed
// assertions are reported through Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	src, err := os.ReadFile(scenario.Assembly)
	if err != nil {
		return nil, fmt.Errorf("failed to read assembly: %w", err)
	}
	asm, err := compiler.CompileSource(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to compile assembly %s: %w", scenario.Assembly, err)
	}

	methods, err := selectMethods(asm, scenario.Methods)
	if err != nil {
		return nil, err
	}

	opts, err := decompilerOptions(scenario.Options)
	if err != nil {
		return nil, err
	}

	d := driver.New(opts,
		driver.WithRunIDGenerator(driver.NewFixedGenerator(scenario.Name)),
		driver.WithLogger(slog.New(slog.DiscardHandler)),
	)
	rep, err := d.Run(ctx, methods)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := NewResult()
	for _, m := range rep.Methods {
		result.Methods = append(result.Methods, MethodOutput{
			Method:    m.Method.FullName(),
			Text:      m.Render(),
			ErrorCode: string(m.ErrorCode),
		})
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func selectMethods(asm *compiler.Assembly, refs []string) ([]*il.MethodDef, error) {
	if len(refs) == 0 {
		return asm.Methods(), nil
	}
	out := make([]*il.MethodDef, 0, len(refs))
	for _, ref := range refs {
		m := asm.Method(ref)
		if m == nil {
			return nil, fmt.Errorf("method %s is not declared in the assembly", ref)
		}
		out = append(out, m)
	}
	return out, nil
}

func decompilerOptions(o ScenarioOptions) (decompiler.Options, error) {
	opts := decompiler.Options{NoYield: o.NoYield, CheckLabels: true}
	if o.Until != "" {
		step, err := optimize.ParseStep(o.Until)
		if err != nil {
			return decompiler.Options{}, err
		}
		opts.Until = step
	}
	return opts, nil
}
