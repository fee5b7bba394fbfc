package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ildecomp/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Cache   string
	Results bool
}

// RunSummary is one run in the runs listing.
type RunSummary struct {
	ID       string         `json:"id"`
	Options  map[string]any `json:"options"`
	Methods  int            `json:"methods"`
	Failures int            `json:"failures"`
	Cached   int            `json:"cached"`
	Finished bool           `json:"finished"`
}

// RunDetail is one run replayed from the cache.
type RunDetail struct {
	RunSummary
	Results []RunMethodOutput `json:"results"`
}

// RunMethodOutput is one method a run decompiled, as cached.
type RunMethodOutput struct {
	Seq       int64  `json:"seq"`
	Method    string `json:"method"`
	Hash      string `json:"hash"`
	Body      string `json:"body"`
	ErrorCode string `json:"error_code,omitempty"`
	FromCache bool   `json:"from_cache"`
	FirstRun  string `json:"first_run"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List cached runs or replay one",
		Long: `List the decompilation runs recorded in a result cache.

With a run id, prints the methods that run decompiled in their original
order, read back from the cache without decompiling anything.

Exit codes:
  0 - Success
  2 - Command error (cache not found, unknown run, etc.)

Examples:
  ildecomp runs --cache ./ildecomp.db
  ildecomp runs --cache ./ildecomp.db 01926f3a-...
  ildecomp runs --cache ./ildecomp.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runRuns(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Cache, "cache", "", "path to SQLite result cache (required)")
	_ = cmd.MarkFlagRequired("cache")
	cmd.Flags().BoolVar(&opts.Results, "results", false, "list every cached result instead of runs")

	return cmd
}

func runRuns(opts *RunsOptions, runID string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Cache)
	if err != nil {
		_ = f.Error(ErrCodeCacheFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	defer st.Close()

	if opts.Results {
		return listResults(ctx, st, f)
	}
	if runID == "" {
		return listRuns(ctx, st, f)
	}
	return showRun(ctx, st, f, runID)
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		ID:       r.ID,
		Options:  r.Options,
		Methods:  r.Methods,
		Failures: r.Failures,
		Cached:   r.Cached,
		Finished: r.Finished,
	}
}

func listRuns(ctx context.Context, st *store.Store, f *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, summarize(r))
	}

	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: out})
	}
	if len(out) == 0 {
		fmt.Fprintln(f.Writer, "No runs found in cache.")
		return nil
	}
	for _, r := range out {
		status := "finished"
		if !r.Finished {
			status = "interrupted"
		}
		fmt.Fprintf(f.Writer, "%s  %d methods, %d failed, %d cached (%s)\n", r.ID, r.Methods, r.Failures, r.Cached, status)
		f.VerboseLog("  options: %v", r.Options)
	}
	return nil
}

// CachedResult is one entry of the results listing.
type CachedResult struct {
	Method     string `json:"method"`
	Hash       string `json:"hash"`
	OptionsKey string `json:"options_key"`
	ErrorCode  string `json:"error_code,omitempty"`
	FirstRun   string `json:"first_run"`
}

func listResults(ctx context.Context, st *store.Store, f *OutputFormatter) error {
	results, err := st.ListResults(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list results", err)
	}
	out := make([]CachedResult, 0, len(results))
	for _, r := range results {
		out = append(out, CachedResult{
			Method:     r.Method,
			Hash:       r.MethodHash,
			OptionsKey: r.OptionsKey,
			ErrorCode:  r.ErrorCode,
			FirstRun:   r.RunID,
		})
	}

	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: out})
	}
	if len(out) == 0 {
		fmt.Fprintln(f.Writer, "No results found in cache.")
		return nil
	}
	for _, r := range out {
		status := "ok"
		if r.ErrorCode != "" {
			status = r.ErrorCode
		}
		fmt.Fprintf(f.Writer, "%s  %s  %s  %s\n", r.Method, r.Hash[:min(12, len(r.Hash))], r.OptionsKey, status)
	}
	return nil
}

func showRun(ctx context.Context, st *store.Store, f *OutputFormatter, runID string) error {
	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("run %s not found", runID), nil)
		return WrapExitError(ExitCommandError, "unknown run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	methods, err := st.ReplayRun(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay run", err)
	}

	detail := RunDetail{RunSummary: summarize(run), Results: make([]RunMethodOutput, 0, len(methods))}
	for _, m := range methods {
		detail.Results = append(detail.Results, RunMethodOutput{
			Seq:       m.Seq,
			Method:    m.Result.Method,
			Hash:      m.Result.MethodHash,
			Body:      m.Result.Body,
			ErrorCode: m.Result.ErrorCode,
			FromCache: m.FromCache,
			FirstRun:  m.Result.RunID,
		})
	}

	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: detail, RunID: runID})
	}

	fmt.Fprintf(f.Writer, "Run %s (%d methods, %d failed, %d cached)\n", run.ID, run.Methods, run.Failures, run.Cached)
	for _, m := range detail.Results {
		origin := ""
		if m.FromCache {
			origin = " [cached from " + m.FirstRun + "]"
		}
		fmt.Fprintf(f.Writer, "\n// [%d] %s%s\n%s", m.Seq, m.Method, origin, m.Body)
	}
	return nil
}
