package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/repoql/internal/derive"
	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/metrics"
	"github.com/roach88/repoql/internal/pql"
	"github.com/roach88/repoql/internal/projection"
	"github.com/roach88/repoql/internal/queryir"
	"github.com/roach88/repoql/internal/querysql"
	"github.com/roach88/repoql/internal/store"
)

// Call executes one method of the repository.
//
// Arguments follow the declared parameters: positionally, or all as
// Named. A pageable parameter takes a page.Request, a shape parameter a
// Shape or string.
func (r *Repository) Call(ctx context.Context, method string, args ...any) (*Result, error) {
	p, ok := r.plans[method]
	if !ok {
		return nil, fmt.Errorf("%s: no method %q", r.contract.Name, method)
	}
	return r.engine.call(ctx, p, args)
}

func (e *Engine) call(ctx context.Context, p *plan, args []any) (*Result, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveCall(p.key, time.Since(start)) }()

	if p.delegate != nil {
		return e.custom(ctx, p, args)
	}
	c, err := e.bind(p, args)
	if err != nil {
		return nil, err
	}

	switch {
	case p.bulk != nil:
		return e.bulk(ctx, p, c)
	case p.op.Returns.Paged():
		return e.paginate(ctx, p, c)
	case !p.selects():
		return e.aggregate(ctx, p, c)
	}

	items, err := e.run(ctx, p, c, p.variant(c.shape), window{})
	if err != nil {
		return nil, err
	}
	switch p.op.Returns {
	case ir.ReturnSingle, ir.ReturnOptional:
		if len(items) > 1 {
			return nil, &ExecutionError{
				Code:    ErrNonUniqueResult,
				Op:      c.op,
				CallID:  c.id,
				Message: fmt.Sprintf("expected at most one result, got %d", len(items)),
			}
		}
	}
	return &Result{Items: items}, nil
}

// window is the per-call part of a content statement.
type window struct {
	sort   []queryir.Order
	limit  int
	offset int
}

// rowWindow fills in the row limit of a Top<N> subject or of the
// operation when the call imposes none. Native text carries its own.
func (p *plan) rowWindow(w window) window {
	if w.limit == 0 && p.tree != nil {
		w.limit = p.tree.Subject.Limit
	}
	if w.limit == 0 && !p.isNative() {
		w.limit = p.op.Limit
	}
	return w
}

func (w window) empty() bool {
	return w.limit == 0 && w.offset == 0
}

// apply cuts the window out of projected root records.
func (w window) apply(items []any) []any {
	if w.empty() {
		return items
	}
	if w.offset >= len(items) {
		return items[:0]
	}
	items = items[w.offset:]
	if w.limit > 0 && w.limit < len(items) {
		items = items[:w.limit]
	}
	return items
}

// fetchesCollection reports whether the content statement of v joins a
// collection. Its rows then outnumber its root records, so a row window
// cannot be applied in SQL.
func (p *plan) fetchesCollection(v *variant) bool {
	names := v.fetch
	if p.query != nil {
		names = p.query.Fetched()
	}
	for _, name := range names {
		if rel, ok := p.meta.Relation(name); ok && rel.Kind == ir.RelationMany {
			return true
		}
	}
	return false
}

// splitWindow returns the window rendered into SQL and the window cut
// from the projected root records.
func (p *plan) splitWindow(v *variant, w window) (rows, roots window) {
	w = p.rowWindow(w)
	if w.empty() || !p.fetchesCollection(v) {
		return w, window{}
	}
	return window{sort: w.sort}, w
}

func (p *plan) variant(shape string) *variant {
	if v, ok := p.variants[shape]; ok {
		return v
	}
	if v, ok := p.variants[""]; ok {
		return v
	}
	return p.variants[p.meta.Name]
}

// content renders the content statement of a select plan.
func (e *Engine) content(p *plan, v *variant, w window) (*querysql.Statement, error) {
	switch {
	case p.tree != nil:
		return e.compiler.Compile(queryir.Select{
			Entity:   p.meta.Name,
			Distinct: p.tree.Subject.Distinct,
			Filter:   p.tree.Predicate(),
			Sort:     append(append([]queryir.Order(nil), p.tree.OrderBy...), w.sort...),
			Limit:    w.limit,
			Offset:   w.offset,
			Fetch:    v.fetch,
			Columns:  v.columns,
			Lock:     p.op.Lock,
		})

	case p.query != nil:
		stmt, err := p.query.Statement(e.store.Dialect(), pql.Window{
			Sort:   w.sort,
			Limit:  w.limit,
			Offset: w.offset,
			Lock:   p.op.Lock,
		})
		if err != nil {
			return nil, err
		}
		if stmt.Binds, err = p.resolveBinds(stmt.Binds); err != nil {
			return nil, err
		}
		return stmt, nil

	default:
		stmt := querysql.NativeStatement(p.native, p.meta.Name, len(p.values))
		stmt.Lock = p.op.Lock
		if w.limit > 0 || w.offset > 0 {
			stmt = stmt.WithWindow(e.store.Dialect(), w.limit, w.offset)
		}
		return stmt, nil
	}
}

// countStatement renders the total-count companion of a paged plan.
func (e *Engine) countStatement(p *plan) (*querysql.Statement, error) {
	switch {
	case p.tree != nil:
		stmt, err := e.compiler.Compile(queryir.CountOf(queryir.Select{
			Entity:   p.meta.Name,
			Distinct: p.tree.Subject.Distinct,
			Filter:   p.tree.Predicate(),
		}))
		if err != nil {
			return nil, invalidQuery(p.key, err, "count statement does not compile")
		}
		return stmt, nil

	case p.query != nil:
		var stmt *querysql.Statement
		var err error
		if p.count != nil {
			stmt, err = p.count.Statement(e.store.Dialect(), pql.Window{})
		} else {
			stmt, err = p.query.CountStatement()
		}
		if err != nil {
			return nil, invalidQuery(p.key, err, "count statement does not render")
		}
		if stmt.Binds, err = p.resolveBinds(stmt.Binds); err != nil {
			return nil, err
		}
		return stmt, nil

	default:
		return querysql.NativeStatement(p.nativeCount, p.meta.Name, len(p.values)), nil
	}
}

// run executes the content statement and projects its rows.
//
// A window over a collection fetch is applied after the rows are folded
// into root records: every matching row is read.
func (e *Engine) run(ctx context.Context, p *plan, c *call, v *variant, w window) ([]any, error) {
	w, roots := p.splitWindow(v, w)
	stmt, err := e.content(p, v, w)
	if err != nil {
		return nil, &ExecutionError{Code: ErrInvalidQuery, Op: c.op, CallID: c.id, Message: "render content statement", Cause: err}
	}
	rs, err := e.query(ctx, p, c, stmt, metrics.KindContent)
	if err != nil {
		return nil, err
	}
	if stmt.Native {
		v.once.Do(func() {
			checked := *stmt
			checked.Columns = projection.Columns(rs.Columns)
			v.checkErr = e.projector.Check(&checked, v.target)
		})
		if v.checkErr != nil {
			return nil, fmt.Errorf("%s: %w", p.key, v.checkErr)
		}
	}
	items, err := e.project(ctx, p, c, stmt, rs, v.target)
	if err != nil {
		return nil, err
	}
	return roots.apply(items), nil
}

// query runs a statement that returns rows.
func (e *Engine) query(ctx context.Context, p *plan, c *call, stmt *querysql.Statement, kind string) (*store.RowSet, error) {
	req, err := e.request(p, c, stmt)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("executing statement",
		"op", c.op,
		"call_id", c.id,
		"kind", kind,
		"sql", req.SQL,
	)
	e.metrics.Statement(kind)
	rs, err := e.store.Query(ctx, req)
	if err != nil {
		return nil, storeFailure(c, kind+" statement", err)
	}
	return rs, nil
}

// project shapes rows and attaches entity records to the working set.
// A record the working set already tracks replaces the fresh copy.
func (e *Engine) project(ctx context.Context, p *plan, c *call, stmt *querysql.Statement, rs *store.RowSet, t projection.Target) ([]any, error) {
	ld := &loader{engine: e, call: c, readOnly: p.op.Hints.ReadOnly}
	items, err := e.projector.Project(ctx, stmt, rs, t, ld)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.key, err)
	}
	if e.ws == nil {
		return items, nil
	}
	for i, it := range items {
		if en, ok := it.(*projection.Entity); ok {
			items[i] = e.ws.Attach(en, p.op.Hints.ReadOnly)
		}
	}
	return items, nil
}

// aggregate runs a derived count or exists statement.
func (e *Engine) aggregate(ctx context.Context, p *plan, c *call) (*Result, error) {
	stmt, err := e.compiler.Compile(p.tree.Query(p.meta.Name))
	if err != nil {
		return nil, &ExecutionError{Code: ErrInvalidQuery, Op: c.op, CallID: c.id, Message: "render count statement", Cause: err}
	}
	rs, err := e.query(ctx, p, c, stmt, metrics.KindCount)
	if err != nil {
		return nil, err
	}
	n, err := countValue(rs)
	if err != nil {
		return nil, storeFailure(c, "read count", err)
	}
	if p.tree.Subject.Kind == derive.KindExists {
		return &Result{Items: []any{n > 0}}, nil
	}
	return &Result{Items: []any{n}}, nil
}

// countValue reads the single value of a count statement.
func countValue(rs *store.RowSet) (int64, error) {
	if rs.Len() != 1 || len(rs.Rows[0]) != 1 {
		return 0, fmt.Errorf("count statement returned %d row(s)", rs.Len())
	}
	switch v := rs.Rows[0][0].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("count has type %T", v)
	}
}
