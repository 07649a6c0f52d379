package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/repoql/internal/compiler"
	"github.com/roach88/repoql/internal/engine"
	"github.com/roach88/repoql/internal/querysql"
)

// ExplainOutput is the resolved plan of one operation.
type ExplainOutput struct {
	*engine.Explanation
	Driver string `json:"driver"`
}

// WriteText renders the plan for the text format.
func (o ExplainOutput) WriteText(w io.Writer) error {
	x := o.Explanation
	fmt.Fprintf(w, "Operation: %s\n", x.Op)
	fmt.Fprintf(w, "Strategy:  %s\n", x.Strategy)
	fmt.Fprintf(w, "Returns:   %s\n", x.Returns)
	fmt.Fprintf(w, "Driver:    %s\n", o.Driver)
	if len(x.Fetch) > 0 {
		fmt.Fprintf(w, "Fetch:     %s\n", strings.Join(x.Fetch, ", "))
	}
	if x.Bulk != nil {
		fmt.Fprintf(w, "Bulk:      flush=%t clear=%t\n", x.Bulk.Flush, x.Bulk.Clear)
	}
	writeStatement(w, "Content", x.Content)
	writeStatement(w, "Count", x.Count)
	writeMap(w, "Shapes", x.Shapes)
	writeMap(w, "Deferred", x.Deferred)
	return nil
}

func writeStatement(w io.Writer, label string, stmt *querysql.Statement) {
	if stmt == nil {
		return
	}
	fmt.Fprintf(w, "%s:\n  %s\n", label, stmt.SQL)
	for i, b := range stmt.Binds {
		name := b.Name
		if name == "" {
			name = fmt.Sprintf("#%d", b.Param)
		}
		if b.Like != querysql.LikeNone {
			fmt.Fprintf(w, "  ?%d <- %s (%s)\n", i+1, name, b.Like)
		} else {
			fmt.Fprintf(w, "  ?%d <- %s\n", i+1, name)
		}
	}
}

func writeMap(w io.Writer, label string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s:\n", label)
	for _, k := range keys {
		name := k
		if name == "" {
			name = "(default)"
		}
		fmt.Fprintf(w, "  %s: %s\n", name, m[k])
	}
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <contracts-dir> <Contract.method>",
		Short: "Show the resolved plan of an operation",
		Long: `Show how repoql resolved an operation: its strategy, result kind, fetch
paths, the content and count statements with their parameter bindings,
shape variants and the lookups deferred relations run.

Statements are planned for the configured driver without connecting.

Examples:
  repoql explain ./contracts MemberRepository.findByAge
  repoql explain ./contracts MemberRepository.findByAge --driver pgx --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runExplain(opts *RootOptions, dir, target string, cmd *cobra.Command) error {
	formatter := NewOutputFormatter(opts, cmd)

	contract, method, err := parseTarget(target)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUsage, err.Error(), nil)
	}

	repo, err := loadRepository(dir, contract, formatter, func(b *compiler.Bundle) (*engine.Engine, error) {
		return planningEngine(opts, b, formatter.Logger), nil
	})
	if err != nil {
		return err
	}
	if _, ok := repo.Operation(method); !ok {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("%s has no method %q", contract, method), nil)
	}

	x, err := repo.Explain(method)
	if err != nil {
		return formatter.EngineError(err)
	}
	return formatter.Success(ExplainOutput{Explanation: x, Driver: opts.Config().Database.Driver})
}

// loadRepository compiles the contracts in dir and registers the named
// contract on the engine newEngine builds over the compiled schema.
// Failures are written through the formatter and returned as the
// command's exit error; newEngine reports its failures the same way.
func loadRepository(dir, contract string, formatter *OutputFormatter, newEngine func(*compiler.Bundle) (*engine.Engine, error)) (*engine.Repository, error) {
	loaded, errs := LoadContracts(dir, LoadModeFailFast)
	if len(errs) > 0 {
		exitCode := ExitFailure
		if loaded == nil {
			exitCode = ExitCommandError
		}
		var loadErr *LoadError
		if errors.As(errs[0], &loadErr) {
			return nil, formatter.Fail(exitCode, loadErr.Code, loadErr.Message, nil)
		}
		return nil, formatter.Fail(exitCode, ErrCodeGeneric, errs[0].Error(), nil)
	}
	formatter.Logger.Debug("contracts loaded", "dir", dir, "files", loaded.FileCount)

	c, ok := loaded.Bundle.Contract(contract)
	if !ok {
		return nil, formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no repository %q in %s", contract, dir), nil)
	}

	e, err := newEngine(loaded.Bundle)
	if err != nil {
		return nil, err
	}
	repo, err := e.Register(c)
	if err != nil {
		return nil, formatter.EngineError(err)
	}
	return repo, nil
}
