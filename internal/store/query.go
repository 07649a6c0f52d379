package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Request is one fully bound statement.
type Request struct {
	SQL    string
	Args   []any
	Native bool   // statement text is passed through verbatim
	Op     string // operation label for error messages
}

// RowSet is a materialized query result. Column names are the labels the
// statement assigned, in select-list order.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Index returns the position of a column label, or -1.
func (r *RowSet) Index(column string) int {
	for i, c := range r.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Querier runs statements. *Store and the transaction handle passed to
// InTx both implement it.
type Querier interface {
	Query(ctx context.Context, req Request) (*RowSet, error)
	Exec(ctx context.Context, req Request) (int64, error)
}

type txQuerier struct {
	tx *sqlx.Tx
}

func (q *txQuerier) Query(ctx context.Context, req Request) (*RowSet, error) {
	return query(ctx, q.tx, req)
}

func (q *txQuerier) Exec(ctx context.Context, req Request) (int64, error) {
	return exec(ctx, q.tx, req)
}

func query(ctx context.Context, ext sqlx.ExtContext, req Request) (*RowSet, error) {
	rows, err := ext.QueryxContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return nil, wrapOp(req.Op, "query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, wrapOp(req.Op, "read columns", err)
	}

	rs := &RowSet{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return nil, wrapOp(req.Op, "scan row", err)
		}
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapOp(req.Op, "iterate rows", err)
	}
	return rs, nil
}

func exec(ctx context.Context, ext sqlx.ExtContext, req Request) (int64, error) {
	res, err := ext.ExecContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return 0, wrapOp(req.Op, "exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapOp(req.Op, "rows affected", err)
	}
	return n, nil
}
