package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/guregu/null.v4"

	"github.com/roach88/repoql/internal/compiler"
	"github.com/roach88/repoql/internal/engine"
	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/metrics"
	"github.com/roach88/repoql/internal/page"
	"github.com/roach88/repoql/internal/store"
	"github.com/roach88/repoql/internal/tracking"
)

// nullLiteral passes a SQL NULL for a scalar parameter.
const nullLiteral = "null"

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Schema string   // DDL file applied before the call
	Page   string   // page index
	Size   string   // page size
	Sort   []string // property[,direction]
	Total  int64    // known total, -1 when unknown
	Shape  string   // result shape for shape parameters
}

// CallOutput is the result of one call.
type CallOutput struct {
	Op       string      `json:"op"`
	Items    []any       `json:"items"`
	Page     *PageOutput `json:"page,omitempty"`
	Affected *int64      `json:"affected,omitempty"`
	Value    any         `json:"value,omitempty"`
}

// PageOutput describes the position of a page result.
type PageOutput struct {
	Index      int      `json:"page"`
	Size       int      `json:"size"`
	Total      null.Int `json:"total"`
	TotalPages int      `json:"total_pages"`
	HasNext    bool     `json:"has_next"`
}

// WriteText renders the result for the text format: one JSON document per
// item, followed by the page position or the affected row count.
func (o CallOutput) WriteText(w io.Writer) error {
	for _, item := range o.Items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("render item: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
	switch {
	case o.Page != nil && o.Page.Total.Valid:
		fmt.Fprintf(w, "page %d of %d (%d total, size %d)\n", o.Page.Index, o.Page.TotalPages, o.Page.Total.Int64, o.Page.Size)
	case o.Page != nil:
		fmt.Fprintf(w, "page %d (size %d, has next: %t)\n", o.Page.Index, o.Page.Size, o.Page.HasNext)
	case o.Affected != nil:
		fmt.Fprintf(w, "%d row(s) affected\n", *o.Affected)
	case o.Value != nil:
		data, err := json.Marshal(o.Value)
		if err != nil {
			return fmt.Errorf("render value: %w", err)
		}
		fmt.Fprintln(w, string(data))
	default:
		fmt.Fprintf(w, "%d item(s)\n", len(o.Items))
	}
	return nil
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <contracts-dir> <Contract.method> [args...]",
		Short: "Call a repository method against the configured database",
		Long: `Call one repository method and print its result.

Arguments are given in parameter order, page and shape parameters excluded,
and parsed by the declared parameter type: int, float, bool, time
(RFC 3339), collection (comma separated) or string. "null" passes NULL.

Page parameters are filled from --page, --size and --sort; a known total
given with --total skips the count query.

Examples:
  repoql call ./contracts MemberRepository.findByUsername member1 --dsn repo.db
  repoql call ./contracts MemberRepository.findByAge 10 --size 3 --sort username,desc
  repoql call ./contracts MemberRepository.findShapeByUsername member1 --shape UsernameOnly
  REPOQL_DATABASE_DRIVER=pgx REPOQL_DATABASE_DSN=postgres://localhost/repo \
    repoql call ./contracts MemberRepository.bulkAgePlus 20`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(opts, args[0], args[1], args[2:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "SQL file applied before the call")
	cmd.Flags().StringVar(&opts.Page, "page", "", "page index (default 0)")
	cmd.Flags().StringVar(&opts.Size, "size", "", fmt.Sprintf("page size (default %d)", page.DefaultSize))
	cmd.Flags().StringArrayVar(&opts.Sort, "sort", nil, "sort order property[,asc|desc] (repeatable)")
	cmd.Flags().Int64Var(&opts.Total, "total", -1, "known total; skips the count query")
	cmd.Flags().StringVar(&opts.Shape, "shape", "", "result shape for shape parameters")

	return cmd
}

func runCall(opts *CallOptions, dir, target string, literals []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := NewOutputFormatter(opts.RootOptions, cmd)

	contract, method, err := parseTarget(target)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUsage, err.Error(), nil)
	}
	req, err := opts.pageRequest()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUsage, err.Error(), nil)
	}

	cfg := opts.Config()
	st, err := store.Open(cfg.Store())
	if err != nil {
		return formatter.Fail(ExitCommandError, string(engine.ErrStoreFailure), err.Error(), nil)
	}
	defer st.Close()

	if opts.Schema != "" {
		ddl, err := os.ReadFile(opts.Schema)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("schema file: %v", err), nil)
		}
		if err := st.ApplySchema(ctx, string(ddl)); err != nil {
			return formatter.Fail(ExitCommandError, string(engine.ErrStoreFailure), err.Error(), nil)
		}
	}

	repo, err := loadRepository(dir, contract, formatter, func(b *compiler.Bundle) (*engine.Engine, error) {
		session := tracking.New(st, b.Schema)
		return engine.New(st, b.Schema,
			engine.WithWorkingSet(session),
			engine.WithLogger(formatter.Logger),
			engine.WithMetrics(metrics.New()),
		), nil
	})
	if err != nil {
		return err
	}

	op, ok := repo.Operation(method)
	if !ok {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("%s has no method %q", contract, method), nil)
	}
	args, err := callArguments(op, literals, req, opts.Shape)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUsage, err.Error(), nil)
	}

	res, err := repo.Call(ctx, method, args...)
	if err != nil {
		return formatter.EngineError(err)
	}
	return formatter.Success(newCallOutput(target, op, res))
}

// pageRequest reads the paging flags the way HTTP paging parameters are
// read.
func (o *CallOptions) pageRequest() (page.Request, error) {
	values := url.Values{}
	if o.Page != "" {
		values.Set("page", o.Page)
	}
	if o.Size != "" {
		values.Set("size", o.Size)
	}
	values["sort"] = o.Sort

	req, err := page.FromValues(values)
	if err != nil {
		return page.Request{}, err
	}
	if o.Total >= 0 {
		req = req.WithTotal(o.Total)
	}
	return req, nil
}

// callArguments converts command-line literals into call arguments
// following the declared parameters.
func callArguments(op ir.Operation, literals []string, req page.Request, shape string) ([]any, error) {
	var args []any
	next := 0
	for _, prm := range op.Params {
		switch prm.Type {
		case ir.TypePageable:
			args = append(args, req)
		case ir.TypeShape:
			if shape == "" {
				return nil, fmt.Errorf("parameter %q needs --shape", prm.Name)
			}
			args = append(args, engine.Shape(shape))
		default:
			if next >= len(literals) {
				return nil, fmt.Errorf("missing argument for parameter %q", prm.Name)
			}
			v, err := parseLiteral(prm.Type, literals[next])
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", prm.Name, err)
			}
			next++
			args = append(args, v)
		}
	}
	if next != len(literals) {
		return nil, fmt.Errorf("expected %d argument(s), got %d", next, len(literals))
	}
	return args, nil
}

func parseLiteral(t ir.ParamType, s string) (any, error) {
	if s == nullLiteral && t.IsScalar() {
		return nil, nil
	}
	return t.ParseLiteral(s)
}

func newCallOutput(target string, op ir.Operation, res *engine.Result) CallOutput {
	out := CallOutput{Op: target, Items: res.Items, Value: res.Value}
	if out.Items == nil {
		out.Items = []any{}
	}
	if op.Modifying != nil {
		out.Affected = &res.Affected
	}
	if p := res.Page; p != nil {
		out.Page = &PageOutput{
			Index:      p.Index,
			Size:       p.Size,
			Total:      p.Total,
			TotalPages: p.TotalPages(),
			HasNext:    p.HasNext(),
		}
	}
	return out
}
