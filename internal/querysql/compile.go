package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/queryir"
)

// Compiler compiles query IR to parameterized SQL.
//
// CRITICAL: Every Select ends its ORDER BY with the root identifier so row
// windows are deterministic.
// CRITICAL: All values are parameterized (never interpolated). Only row
// window sizes, which are integers, are written into the text.
type Compiler struct {
	schema  *ir.Schema
	dialect ir.Dialect
}

// NewCompiler creates a compiler for a schema and dialect.
func NewCompiler(schema *ir.Schema, dialect ir.Dialect) *Compiler {
	return &Compiler{schema: schema, dialect: dialect}
}

// Dialect returns the dialect the compiler renders for.
func (c *Compiler) Dialect() ir.Dialect {
	return c.dialect
}

// Compile converts a query to a statement. The query is validated against
// the schema first; validation warnings do not stop compilation.
func (c *Compiler) Compile(q queryir.Query) (*Statement, error) {
	if q == nil {
		return nil, fmt.Errorf("cannot compile nil query")
	}
	if res := queryir.Validate(q, c.schema); !res.Valid() {
		return nil, fmt.Errorf("invalid query: %s", strings.Join(res.Errors, "; "))
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.Count:
		return c.compileCount(query)
	case *queryir.Count:
		return c.compileCount(*query)
	case queryir.Delete:
		return c.compileDelete(query)
	case *queryir.Delete:
		return c.compileDelete(*query)
	default:
		return nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a queryir.Select to SQL.
// MANDATORY: Includes ORDER BY with the root identifier as tiebreaker.
func (c *Compiler) compileSelect(q queryir.Select) (*Statement, error) {
	s := c.newScope(q.Entity)
	for _, name := range q.Fetch {
		s.join(name)
	}

	stmt := &Statement{Entity: q.Entity, Fetched: q.Fetch, Lock: q.Lock}

	var cols []string
	if len(q.Columns) > 0 {
		for _, p := range q.Columns {
			ref, typ := s.column(p)
			label := p.Field
			if p.Relation != "" {
				label = RelationLabel(p.Relation, p.Field)
			}
			cols = append(cols, ref+" AS "+Quote(label))
			stmt.Columns = append(stmt.Columns, Column{Label: label, Type: typ})
		}
	} else {
		cols, stmt.Columns = s.entityColumns(q.Fetch)
	}

	where, binds := s.where(q.Filter)
	stmt.Binds = binds
	order := s.orderBy(q.Sort, q.Fetch)
	if q.Distinct && len(q.Columns) > 0 {
		order = s.distinctOrder(q.Sort, q.Columns)
	}

	// Joins are rendered last: every clause above may add one.
	var b strings.Builder
	b.WriteString("SELECT ")
	if q.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.root.Table + " t0")
	b.WriteString(s.joinClause())
	b.WriteString(where)
	b.WriteString(" ORDER BY ")
	b.WriteString(order)
	b.WriteString(WindowClause(c.dialect, q.Limit, q.Offset))
	b.WriteString(LockClause(c.dialect, q.Lock))

	stmt.SQL = b.String()
	return stmt, nil
}

// compileCount compiles a queryir.Count. Counting is distinct on the root
// identifier whenever joins could duplicate root rows.
func (c *Compiler) compileCount(q queryir.Count) (*Statement, error) {
	s := c.newScope(q.Entity)
	where, binds := s.where(q.Filter)

	expr := "COUNT(*)"
	if q.Distinct || len(s.joins) > 0 {
		expr = "COUNT(DISTINCT t0." + s.root.IDField().Column + ")"
	}

	return &Statement{
		SQL:     "SELECT " + expr + " AS " + Quote("count") + " FROM " + s.root.Table + " t0" + s.joinClause() + where,
		Binds:   binds,
		Columns: []Column{{Label: "count", Type: ir.TypeInt}},
		Entity:  q.Entity,
	}, nil
}

// compileDelete compiles a queryir.Delete. The filter runs in a sub-select
// so that relation paths can be joined.
func (c *Compiler) compileDelete(q queryir.Delete) (*Statement, error) {
	s := c.newScope(q.Entity)
	if q.Filter == nil {
		return &Statement{SQL: "DELETE FROM " + s.root.Table, Entity: q.Entity}, nil
	}
	where, binds := s.where(q.Filter)
	id := s.root.IDField().Column
	return &Statement{
		SQL: "DELETE FROM " + s.root.Table + " WHERE " + id + " IN (SELECT t0." + id +
			" FROM " + s.root.Table + " t0" + s.joinClause() + where + ")",
		Binds:  binds,
		Entity: q.Entity,
	}, nil
}

// LockClause renders a lock intent on the root alias t0. SQLite has no row
// locks; its single writer connection serializes writes already.
func LockClause(dialect ir.Dialect, lock ir.LockMode) string {
	if dialect != ir.DialectPostgres {
		return ""
	}
	switch lock {
	case ir.LockPessimisticWrite:
		return " FOR UPDATE OF t0"
	case ir.LockPessimisticRead:
		return " FOR SHARE OF t0"
	}
	return ""
}

// Quote quotes a column label so that drivers report it with its case.
func Quote(label string) string {
	return `"` + strings.ReplaceAll(label, `"`, `""`) + `"`
}

// CompileLookup compiles a select of every column of entity whose raw
// column equals one bound value. It loads a collection through the
// foreign key the collection's relation names.
func (c *Compiler) CompileLookup(entity, column string) (*Statement, error) {
	meta, ok := c.schema.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}
	s := c.newScope(entity)
	cols, columns := s.entityColumns(nil)
	return &Statement{
		SQL: "SELECT " + strings.Join(cols, ", ") + " FROM " + meta.Table + " t0 WHERE t0." + column +
			" = ? ORDER BY t0." + meta.IDField().Column + " ASC",
		Binds:   []Bind{{Param: 0}},
		Columns: columns,
		Entity:  entity,
	}, nil
}
