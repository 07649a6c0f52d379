package engine

import (
	"context"
	"math"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/metrics"
	"github.com/roach88/repoql/internal/page"
	"github.com/roach88/repoql/internal/queryir"
)

// paginate runs a page or slice operation.
//
// Page mode runs the content statement, then the count statement unless
// the request carries a total. Slice mode never counts: it fetches one
// row past the page and reports whether that row exists.
func (e *Engine) paginate(ctx context.Context, p *plan, c *call) (*Result, error) {
	req := *c.page
	if p.isNative() && len(req.Sort) > 0 {
		return nil, invalidArgument(c, "native statements cannot be sorted per call")
	}
	sort, err := e.sortKeys(p, c, req.Sort)
	if err != nil {
		return nil, err
	}
	v := p.variant(c.shape)
	w := window{sort: sort, limit: req.Size, offset: req.Offset()}

	if p.op.Returns == ir.ReturnSlice {
		if req.Size < math.MaxInt {
			w.limit = req.Size + 1
		}
		items, err := e.run(ctx, p, c, v, w)
		if err != nil {
			return nil, err
		}
		hasNext := len(items) > req.Size
		if hasNext {
			items = items[:req.Size]
		}
		return &Result{Items: items, Page: page.NewSlice(items, req, hasNext)}, nil
	}

	items, err := e.run(ctx, p, c, v, w)
	if err != nil {
		return nil, err
	}
	if req.Total.Valid {
		return &Result{Items: items, Page: page.New(items, req, req.Total.Int64)}, nil
	}

	stmt, err := e.countStatement(p)
	if err != nil {
		return nil, err
	}
	rs, err := e.query(ctx, p, c, stmt, metrics.KindCount)
	if err != nil {
		return nil, err
	}
	total, err := countValue(rs)
	if err != nil {
		return nil, storeFailure(c, "read count", err)
	}
	return &Result{Items: items, Page: page.New(items, req, total)}, nil
}

// sortKeys converts request sort keys to paths of the root entity. A key
// is a field name or relation.field of a single-valued relation.
func (e *Engine) sortKeys(p *plan, c *call, orders []page.Order) ([]queryir.Order, error) {
	out := make([]queryir.Order, 0, len(orders))
	for _, o := range orders {
		path := queryir.ParsePath(o.Property)
		meta := p.meta
		if path.Relation != "" {
			rel, ok := meta.Relation(path.Relation)
			if !ok || rel.Kind != ir.RelationOne {
				return nil, invalidArgument(c, "cannot sort by %q", o.Property)
			}
			meta, _ = e.schema.Entity(rel.Target)
		}
		if _, ok := meta.Field(path.Field); !ok {
			return nil, invalidArgument(c, "cannot sort by %q: no such field", o.Property)
		}
		out = append(out, queryir.Order{Path: path, Desc: o.Direction == page.Desc})
	}
	return out, nil
}
