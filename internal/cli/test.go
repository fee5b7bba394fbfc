package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ildecomp/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string // glob over scenario file names without extension
	Golden string
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the outcome of a test command.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run decompilation scenarios",
		Long: `Run YAML decompilation scenarios.

Each scenario names an assembly fixture and the methods to decompile, and
asserts on the rendered source. Scenarios with golden: true are also
compared with <golden-dir>/<name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  ildecomp test ./testdata/scenarios
  ildecomp test ./testdata/scenarios --filter "iterator-*"
  ildecomp test ./testdata/scenarios --update
  ildecomp test ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory (default: golden next to the scenarios dir)")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	paths, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	r := &scenarioRunner{
		opts:   opts,
		golden: opts.Golden,
		w:      cmd.OutOrStdout(),
		text:   opts.Format != "json",
	}
	if r.golden == "" {
		r.golden = filepath.Join(filepath.Dir(filepath.Clean(scenariosDir)), "golden")
	}
	if len(paths) == 0 && r.text {
		fmt.Fprintln(r.w, "No scenarios found.")
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(paths)), Total: len(paths)}
	for _, path := range paths {
		sr := r.run(ctx, path)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if !r.text {
		return outputTestJSON(r.w, result)
	}
	fmt.Fprintf(r.w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(r.w, "✓ All scenarios passed")
	return nil
}

// findScenarioFiles lists the scenarios of dir whose base name matches
// filter. An empty filter keeps every scenario.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	all, err := harness.FindScenarios(dir)
	if err != nil || filter == "" {
		return all, err
	}
	var files []string
	for _, path := range all {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		matched, err := filepath.Match(filter, name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			files = append(files, path)
		}
	}
	return files, nil
}

type scenarioRunner struct {
	opts   *TestOptions
	golden string
	w      io.Writer
	text   bool
}

func (r *scenarioRunner) run(ctx context.Context, path string) ScenarioResult {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return r.fail(filepath.Base(path), fmt.Sprintf("failed to load scenario: %v", err))
	}
	result, err := harness.Run(ctx, scenario)
	if err != nil {
		return r.fail(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}

	note := ""
	if scenario.Golden {
		if r.opts.Update {
			if err := harness.WriteGolden(r.golden, scenario.Name, result); err != nil {
				return r.fail(scenario.Name, fmt.Sprintf("failed to update golden file: %v", err))
			}
			note = " (golden updated)"
		} else if err := harness.CheckGolden(r.golden, scenario.Name, result); err != nil {
			var mismatch *harness.GoldenMismatchError
			if errors.As(err, &mismatch) {
				return r.fail(scenario.Name, "rendering does not match golden file (run with --update to regenerate)")
			}
			return r.fail(scenario.Name, fmt.Sprintf("golden comparison failed: %v", err))
		}
	}

	if !result.Pass {
		return r.fail(scenario.Name, result.Errors...)
	}
	if r.text {
		fmt.Fprintf(r.w, "✓ %s%s\n", scenario.Name, note)
	}
	return ScenarioResult{Name: scenario.Name, Pass: true}
}

func (r *scenarioRunner) fail(name string, errs ...string) ScenarioResult {
	if r.text {
		fmt.Fprintf(r.w, "✗ %s\n", name)
		for _, e := range errs {
			fmt.Fprintf(r.w, "  %s\n", e)
		}
	}
	return ScenarioResult{Name: name, Errors: errs}
}

func outputTestJSON(w io.Writer, result TestResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	var exitErr error
	if result.Failed > 0 {
		msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
		resp.Status = "error"
		resp.Error = &CLIError{Code: "E_TEST_FAILED", Message: msg}
		exitErr = NewExitError(ExitFailure, msg)
	}
	f := &OutputFormatter{Format: "json", Writer: w}
	if err := f.JSON(resp); err != nil {
		return err
	}
	return exitErr
}
