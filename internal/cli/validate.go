package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/repoql/internal/compiler"
	"github.com/roach88/repoql/internal/engine"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Files      int                        `json:"files"`
	Contracts  int                        `json:"contracts"`
	Operations int                        `json:"operations"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
	Cycles     []compiler.CycleWarning    `json:"cycles,omitempty"`
}

// WriteText renders the result for the text format.
func (r ValidationResult) WriteText(w io.Writer) error {
	if r.Valid {
		_, err := fmt.Fprintf(w, "✓ All contracts valid (%d repositories, %d operations)\n", r.Contracts, r.Operations)
		return err
	}

	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, e := range r.Errors {
		if e.Line > 0 {
			fmt.Fprintf(w, "line %d\n", e.Line)
		}
		fmt.Fprintf(w, "  %s: %s: %s\n\n", e.Code, e.Field, e.Message)
	}
	return nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [contracts-dir]",
		Short: "Validate contracts and plan every operation",
		Long: `Validate CUE repository contracts.

Compiles the entity schema and every repository, checks declarations, then
registers each repository on an engine so every method resolves to a
strategy and every query parses. No database connection is made: SQL is
planned for the configured driver.

Relation cycles that would make eager fetching recurse are reported as
warnings.

The directory defaults to the configured contracts directory.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, rootOpts.contractsDir(args, 0), cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := NewOutputFormatter(opts, cmd)

	loadResult, loadErrors := LoadContracts(dir, LoadModeCollectAll)
	if loadResult == nil {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.Logger.Debug("contracts loaded", "dir", dir, "files", loadResult.FileCount)

	result := validateBundle(opts, loadResult, loadErrors, formatter)
	if !result.Valid {
		if formatter.JSON() {
			if err := formatter.encode(CLIResponse{
				Status: "error",
				Data:   result,
				Error: &CLIError{
					Code:    result.Errors[0].Code,
					Message: result.Errors[0].Message,
				},
			}); err != nil {
				return err
			}
		} else if err := result.WriteText(formatter.Writer); err != nil {
			return err
		}
		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	var warnings []string
	for _, c := range result.Cycles {
		warnings = append(warnings, c.Message)
	}
	return formatter.Success(result, warnings...)
}

// validateBundle collects load errors, declaration errors and, when the
// declarations are sound, the registration error of every repository.
func validateBundle(opts *RootOptions, loadResult *LoadResult, loadErrors []error, formatter *OutputFormatter) ValidationResult {
	bundle := loadResult.Bundle
	result := ValidationResult{
		Files:     loadResult.FileCount,
		Contracts: len(bundle.Contracts),
	}
	for _, c := range bundle.Contracts {
		result.Operations += len(c.Operations)
	}

	for _, err := range loadErrors {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			loadErr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
		field := loadErr.Field
		if field == "" {
			field = "load"
		}
		result.Errors = append(result.Errors, compiler.ValidationError{
			Field:   field,
			Message: loadErr.Message,
			Code:    loadErr.Code,
			Line:    lineOf(loadErr),
		})
	}

	if len(result.Errors) == 0 {
		result.Errors = append(result.Errors, compiler.Validate(bundle)...)
	}

	// Registration resolves every method; it only makes sense over a
	// schema whose declarations are consistent.
	if len(result.Errors) == 0 {
		e := planningEngine(opts, bundle, formatter.Logger)
		failed := register(e, bundle.Contracts, LoadModeCollectAll)
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "repository." + name,
				Message: failed[name].Error(),
				Code:    engine.ErrorCode(failed[name]),
			})
		}
	}

	result.Cycles = compiler.AnalyzeCycles(bundle.Schema)
	result.Valid = len(result.Errors) == 0
	return result
}

func lineOf(e *LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}
