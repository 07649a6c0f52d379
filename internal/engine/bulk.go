package engine

import (
	"context"

	"github.com/roach88/repoql/internal/derive"
	"github.com/roach88/repoql/internal/metrics"
	"github.com/roach88/repoql/internal/pql"
	"github.com/roach88/repoql/internal/queryir"
	"github.com/roach88/repoql/internal/querysql"
)

// bulk executes a writing statement directly against the store.
//
// The statement bypasses the working set: tracked copies of affected
// records keep their old values unless the operation asks for Clear.
// Flush writes pending changes first so the statement sees them.
func (e *Engine) bulk(ctx context.Context, p *plan, c *call) (*Result, error) {
	if p.bulk.Flush && e.ws != nil {
		if err := e.ws.Flush(ctx); err != nil {
			return nil, storeFailure(c, "flush working set", err)
		}
	}

	stmt, err := e.bulkStatement(p)
	if err != nil {
		return nil, &ExecutionError{Code: ErrInvalidQuery, Op: c.op, CallID: c.id, Message: "render bulk statement", Cause: err}
	}

	// A derived delete removes records the working set may hold. When the
	// set is not cleared anyway, the removed ids are read first so their
	// entries can be invalidated.
	var removed []any
	if e.ws != nil && !p.bulk.Clear && p.tree != nil && p.tree.Subject.Kind == derive.KindDelete {
		if removed, err = e.matchingIDs(ctx, p, c); err != nil {
			return nil, err
		}
	}

	req, err := e.request(p, c, stmt)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("executing statement",
		"op", c.op,
		"call_id", c.id,
		"kind", metrics.KindBulk,
		"sql", req.SQL,
	)
	e.metrics.Statement(metrics.KindBulk)
	n, err := e.store.Exec(ctx, req)
	if err != nil {
		return nil, storeFailure(c, "bulk statement", err)
	}
	e.metrics.Bulk(n)

	if e.ws != nil {
		if p.bulk.Clear {
			e.ws.Clear()
		}
		for _, id := range removed {
			e.ws.Invalidate(p.meta.Name, id)
		}
	}
	return &Result{Items: []any{n}, Affected: n}, nil
}

func (e *Engine) bulkStatement(p *plan) (*querysql.Statement, error) {
	switch {
	case p.tree != nil:
		return e.compiler.Compile(p.tree.Query(p.meta.Name))
	case p.query != nil:
		stmt, err := p.query.Statement(e.store.Dialect(), pql.Window{})
		if err != nil {
			return nil, err
		}
		if stmt.Binds, err = p.resolveBinds(stmt.Binds); err != nil {
			return nil, err
		}
		return stmt, nil
	default:
		return querysql.NativeStatement(p.native, p.meta.Name, len(p.values)), nil
	}
}

// matchingIDs selects the identifiers a derived delete is about to remove.
func (e *Engine) matchingIDs(ctx context.Context, p *plan, c *call) ([]any, error) {
	stmt, err := e.compiler.Compile(queryir.Select{
		Entity:  p.meta.Name,
		Filter:  p.tree.Predicate(),
		Columns: []queryir.Path{{Field: p.meta.ID}},
	})
	if err != nil {
		return nil, &ExecutionError{Code: ErrInvalidQuery, Op: c.op, CallID: c.id, Message: "render id statement", Cause: err}
	}
	rs, err := e.query(ctx, p, c, stmt, metrics.KindContent)
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, rs.Len())
	for _, row := range rs.Rows {
		ids = append(ids, row[0])
	}
	return ids, nil
}
