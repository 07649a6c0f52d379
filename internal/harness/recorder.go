package harness

import (
	"context"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/store"
)

// recorder is the store the scenario engine runs against. It forwards
// every statement to the real store and appends it to the trace.
type recorder struct {
	store  *store.Store
	result *Result
}

func (r *recorder) Query(ctx context.Context, req store.Request) (*store.RowSet, error) {
	rs, err := r.store.Query(ctx, req)
	event := TraceEvent{Type: EventQuery, Op: req.Op, SQL: req.SQL, Args: req.Args}
	if err == nil {
		event.Rows = rows(int64(rs.Len()))
	}
	r.result.add(event)
	return rs, err
}

func (r *recorder) Exec(ctx context.Context, req store.Request) (int64, error) {
	n, err := r.store.Exec(ctx, req)
	event := TraceEvent{Type: EventExec, Op: req.Op, SQL: req.SQL, Args: req.Args}
	if err == nil {
		event.Rows = rows(n)
	}
	r.result.add(event)
	return n, err
}

func (r *recorder) Dialect() ir.Dialect {
	return r.store.Dialect()
}

func (r *recorder) Rebind(query string) string {
	return r.store.Rebind(query)
}
