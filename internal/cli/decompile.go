package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ildecomp/internal/decompiler"
	"github.com/roach88/ildecomp/internal/driver"
	"github.com/roach88/ildecomp/internal/optimize"
	"github.com/roach88/ildecomp/internal/store"
)

// DecompileOptions holds flags for the decompile command.
type DecompileOptions struct {
	*RootOptions
	Methods []string
	Until   string
	NoYield bool
	Cache   string
	Types   bool

	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs driver.RunIDGenerator
}

// MethodOutput is one decompiled method in JSON output.
type MethodOutput struct {
	Method    string `json:"method"`
	Hash      string `json:"hash,omitempty"`
	Source    string `json:"source"`
	ErrorCode string `json:"error_code,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
}

// DecompileResult is the JSON payload of the decompile command.
type DecompileResult struct {
	RunID    string         `json:"run_id"`
	Methods  []MethodOutput `json:"methods"`
	Failures int            `json:"failures"`
	Cached   int            `json:"cached"`
}

// TypeOutput is one decompiled type in JSON output.
type TypeOutput struct {
	Type     string `json:"type"`
	Source   string `json:"source"`
	Failures int    `json:"failures"`
}

// NewDecompileCommand creates the decompile command.
func NewDecompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decompile <assembly>",
		Short: "Decompile method bodies to source",
		Long: `Decompile the method bodies of a CUE assembly fixture.

The assembly is a .cue file or a directory holding one CUE package.
Methods that cannot be decoded are rendered with a placeholder comment
and do not stop the run.

With --cache, results are stored in a SQLite database keyed by method
content and options, and unchanged methods are served from it.

Examples:
  ildecomp decompile ./asm.cue
  ildecomp decompile ./asm --method T::Count --until find-loops
  ildecomp decompile ./asm --cache ./ildecomp.db --format json
  ildecomp decompile ./asm --types`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Methods, "method", nil, "decompile only this Type::Name method (repeatable)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "stop the pipeline after this step")
	cmd.Flags().BoolVar(&opts.NoYield, "no-yield", false, "disable iterator reversal")
	cmd.Flags().StringVar(&opts.Cache, "cache", "", "path to SQLite result cache")
	cmd.Flags().BoolVar(&opts.Types, "types", false, "render whole types with properties and events")

	return cmd
}

func pipelineOptions(opts *RootOptions, until string, noYield bool, cmd *cobra.Command) (decompiler.Options, error) {
	dopts := decompiler.Options{
		NoYield: noYield,
		Logger:  newLogger(opts, cmd.ErrOrStderr()),
	}
	if until != "" {
		step, err := optimize.ParseStep(until)
		if err != nil {
			return decompiler.Options{}, NewExitError(ExitCommandError, err.Error())
		}
		dopts.Until = step
	}
	return dopts, nil
}

func runDecompile(opts *DecompileOptions, path string, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := newFormatter(opts.RootOptions, cmd)
	dopts, err := pipelineOptions(opts.RootOptions, opts.Until, opts.NoYield, cmd)
	if err != nil {
		return err
	}

	loaded, err := LoadAssembly(path)
	if err != nil {
		return loadFailure(f, err)
	}
	f.VerboseLog("Loaded %d CUE file(s) from %s", loaded.FileCount, path)

	if opts.Types {
		return decompileTypes(ctx, f, loaded, dopts)
	}

	methods, err := SelectMethods(loaded.Assembly, opts.Methods)
	if err != nil {
		return loadFailure(f, err)
	}

	log := dopts.Logger
	options := []driver.Option{driver.WithLogger(log)}
	if opts.RunIDs != nil {
		options = append(options, driver.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Cache != "" {
		st, err := store.Open(opts.Cache)
		if err != nil {
			_ = f.Error(ErrCodeCacheFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open cache", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				log.Error("error closing cache", "error", closeErr)
			}
		}()
		options = append(options, driver.WithCache(st))
	}

	rep, err := driver.New(dopts, options...).Run(ctx, methods)
	if err != nil {
		return WrapExitError(ExitCommandError, "decompilation stopped", err)
	}
	f.VerboseLog("Run %s: %d method(s), %d failure(s), %d cached", rep.RunID, len(rep.Methods), rep.Failures, rep.Cached)

	if f.Format == "json" {
		result := DecompileResult{RunID: rep.RunID, Methods: []MethodOutput{}, Failures: rep.Failures, Cached: rep.Cached}
		for _, m := range rep.Methods {
			result.Methods = append(result.Methods, MethodOutput{
				Method:    m.Method.FullName(),
				Hash:      m.Hash,
				Source:    m.Render(),
				ErrorCode: string(m.ErrorCode),
				Cached:    m.FromCache,
			})
		}
		return f.JSON(CLIResponse{Status: "ok", Data: result, RunID: rep.RunID})
	}

	for i, m := range rep.Methods {
		if i > 0 {
			fmt.Fprintln(f.Writer)
		}
		fmt.Fprintf(f.Writer, "// %s\n", m.Method.FullName())
		fmt.Fprint(f.Writer, m.Render())
	}
	return nil
}

func decompileTypes(ctx context.Context, f *OutputFormatter, loaded *LoadResult, dopts decompiler.Options) error {
	var out []TypeOutput
	for _, t := range loaded.Assembly.Types {
		if t.CompilerGenerated {
			continue
		}
		res, err := decompiler.DecompileType(ctx, t, dopts)
		if err != nil {
			return WrapExitError(ExitCommandError, "decompilation stopped", err)
		}
		out = append(out, TypeOutput{Type: t.FullName(), Source: res.Render(), Failures: len(res.Failures())})
	}

	if f.Format == "json" {
		if out == nil {
			out = []TypeOutput{}
		}
		return f.JSON(CLIResponse{Status: "ok", Data: out})
	}
	for i, t := range out {
		if i > 0 {
			fmt.Fprintln(f.Writer)
		}
		fmt.Fprint(f.Writer, t.Source)
	}
	return nil
}
