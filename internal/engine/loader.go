package engine

import (
	"context"
	"fmt"

	"github.com/roach88/repoql/internal/metrics"
	"github.com/roach88/repoql/internal/projection"
	"github.com/roach88/repoql/internal/querysql"
	"github.com/roach88/repoql/internal/store"
)

// loader resolves deferred relations of the records one call returned.
//
// Every load is one secondary fetch: one round trip per distinct related
// record. It is counted in the secondary fetch metric because a result set
// walked record by record turns into N+1 statements.
type loader struct {
	engine   *Engine
	call     *call
	readOnly bool
}

// Load returns the record of entity with identifier id. A record the
// working set tracks is returned without a statement.
func (l *loader) Load(ctx context.Context, entity string, id any) (*projection.Entity, error) {
	e := l.engine
	if e.ws != nil {
		if tracked, ok := e.ws.Tracked(entity, id); ok {
			return tracked, nil
		}
	}
	meta, ok := e.schema.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("load %s: unknown entity", entity)
	}
	items, err := l.lookup(ctx, entity, meta.IDField().Column, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("load %s %v: record not found", entity, id)
	}
	return items[0], nil
}

// LoadBy returns the records of entity whose column equals value.
func (l *loader) LoadBy(ctx context.Context, entity, column string, value any) ([]*projection.Entity, error) {
	return l.lookup(ctx, entity, column, value)
}

func (l *loader) lookup(ctx context.Context, entity, column string, value any) ([]*projection.Entity, error) {
	e := l.engine
	stmt, err := e.compiler.CompileLookup(entity, column)
	if err != nil {
		return nil, err
	}
	req := store.Request{
		SQL:  e.store.Rebind(stmt.SQL),
		Args: []any{value},
		Op:   l.call.op,
	}
	e.logger.Debug("executing statement",
		"op", l.call.op,
		"call_id", l.call.id,
		"kind", metrics.KindLoad,
		"sql", req.SQL,
	)
	e.metrics.Statement(metrics.KindLoad)
	e.metrics.SecondaryFetch(entity)
	rs, err := e.store.Query(ctx, req)
	if err != nil {
		return nil, storeFailure(l.call, "load "+entity, err)
	}

	items, err := e.projector.Project(ctx, stmt, rs, projection.EntityTarget{}, l)
	if err != nil {
		return nil, err
	}
	out := make([]*projection.Entity, 0, len(items))
	for _, it := range items {
		en := it.(*projection.Entity)
		if e.ws != nil {
			en = e.ws.Attach(en, l.readOnly)
		}
		out = append(out, en)
	}
	return out, nil
}

var _ projection.Loader = (*loader)(nil)

// lookupStatement is exposed to Explain so the cost of a deferred
// relation can be shown next to the content statement.
func (e *Engine) lookupStatement(entity, column string) (*querysql.Statement, error) {
	return e.compiler.CompileLookup(entity, column)
}
