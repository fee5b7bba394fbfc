package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ildecomp/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool                       `json:"valid"`
	Types   int                        `json:"types"`
	Methods int                        `json:"methods"`
	Errors  []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <assembly>",
		Short: "Validate an assembly fixture without decompiling it",
		Long: `Validate a CUE assembly fixture without decompiling it.

Compiles the fixture, then checks member declarations, exception handler
ranges and branch targets for shapes no compiler emits. Faster than
decompile for fixture development feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loaded, err := LoadAssembly(path)
	if err != nil {
		var loadErr *LoadError
		// A malformed fixture is a validation failure, not a command error.
		if errors.As(err, &loadErr) && loadErr.Code == ErrCodeCompileFailed {
			return outputValidationErrors(formatter, []compiler.ValidationError{{
				Field:   "assembly",
				Message: loadErr.Error(),
				Code:    loadErr.Code,
			}})
		}
		return loadFailure(formatter, err)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, path)
	for _, t := range loaded.Assembly.Types {
		formatter.VerboseLog("Validating type: %s", t.FullName())
	}

	if errs := compiler.Validate(loaded.Assembly); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	result := ValidationResult{
		Valid:   true,
		Types:   len(loaded.Assembly.Types),
		Methods: len(loaded.Assembly.Methods()),
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Assembly valid (%d types, %d method bodies)\n", result.Types, result.Methods)
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	fail := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		err := formatter.JSON(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		})
		if err != nil {
			return err
		}
		return fail
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}
	return fail
}
