package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ildecomp/internal/decompiler"
	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/optimize"
)

// idiomRecovery labels the final snapshot, taken after the idiom rewrites
// that follow the pipeline.
const idiomRecovery = "idiom-recovery"

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Method  string
	Until   string
	NoYield bool
	Step    string // optional - show only this step
}

// TraceStep is the tree after one pipeline step.
type TraceStep struct {
	Seq  int    `json:"seq"`
	Step string `json:"step"`
	Text string `json:"text"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Method    string      `json:"method"`
	Steps     []TraceStep `json:"steps"`
	Source    string      `json:"source"`
	ErrorCode string      `json:"error_code,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <assembly>",
		Short: "Show a method after every pipeline step",
		Long: `Decompile one method and print its tree after every pipeline step.

Steps that leave the tree unchanged are listed without a body unless
--verbose is set. A step that fails shows the tree restored from the
last successful step, followed by the error.

Examples:
  ildecomp trace ./asm.cue --method T::Count
  ildecomp trace ./asm.cue --method T::Count --step find-loops
  ildecomp trace ./asm.cue --method T::Count --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Method, "method", "", "Type::Name of the method to trace (required)")
	_ = cmd.MarkFlagRequired("method")
	cmd.Flags().StringVar(&opts.Until, "until", "", "stop the pipeline after this step")
	cmd.Flags().BoolVar(&opts.NoYield, "no-yield", false, "disable iterator reversal")
	cmd.Flags().StringVar(&opts.Step, "step", "", "show only this step")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	dopts, err := pipelineOptions(opts.RootOptions, opts.Until, opts.NoYield, cmd)
	if err != nil {
		return err
	}
	if opts.Step != "" && opts.Step != idiomRecovery {
		if _, err := optimize.ParseStep(opts.Step); err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
	}

	loaded, err := LoadAssembly(path)
	if err != nil {
		return loadFailure(f, err)
	}
	methods, err := SelectMethods(loaded.Assembly, []string{opts.Method})
	if err != nil {
		return loadFailure(f, err)
	}
	m := methods[0]

	result := TraceResult{Method: m.FullName(), Steps: []TraceStep{}}
	dopts.Observe = func(s optimize.Step, t *il.Tree) {
		result.Steps = append(result.Steps, TraceStep{Seq: len(result.Steps) + 1, Step: s.String(), Text: t.Format(t.Root)})
	}

	res, err := decompiler.DecompileMethod(context.Background(), m, dopts)
	if err != nil {
		return WrapExitError(ExitCommandError, "decompilation stopped", err)
	}
	if res.Err != nil {
		result.ErrorCode = string(il.DecodingErrorCodeOf(res.Err))
		result.Error = res.Err.Error()
	} else if dopts.Until == 0 {
		result.Steps = append(result.Steps, TraceStep{Seq: len(result.Steps) + 1, Step: idiomRecovery, Text: res.Tree.Format(res.Tree.Root)})
	}
	result.Source = res.Render()
	result.Steps = filterSteps(result.Steps, opts.Step)

	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: result})
	}
	outputTraceText(f.Writer, result, opts.Verbose || opts.Step != "")
	return nil
}

func filterSteps(steps []TraceStep, name string) []TraceStep {
	if name == "" {
		return steps
	}
	out := []TraceStep{}
	for _, s := range steps {
		if s.Step == name {
			out = append(out, s)
		}
	}
	return out
}

// outputTraceText prints each step with its tree. Unless all is set, a
// step whose tree equals the previous one is listed as unchanged.
func outputTraceText(w io.Writer, result TraceResult, all bool) {
	fmt.Fprintf(w, "Trace for %s\n\n", result.Method)

	prev := ""
	for _, s := range result.Steps {
		if !all && s.Text == prev {
			fmt.Fprintf(w, "=== [%d] %s (unchanged) ===\n", s.Seq, s.Step)
			continue
		}
		fmt.Fprintf(w, "=== [%d] %s ===\n", s.Seq, s.Step)
		for line := range strings.Lines(s.Text) {
			fmt.Fprintf(w, "  %s", line)
		}
		if !strings.HasSuffix(s.Text, "\n") && s.Text != "" {
			fmt.Fprintln(w)
		}
		prev = s.Text
	}

	if result.ErrorCode != "" {
		fmt.Fprintf(w, "\nFailed: %s\n", result.Error)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Source ===")
	fmt.Fprint(w, result.Source)
}
