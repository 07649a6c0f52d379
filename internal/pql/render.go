package pql

import (
	"fmt"
	"strings"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/queryir"
	"github.com/roach88/repoql/internal/querysql"
)

// Window carries the per-call parts of a select: extra sort keys, a row
// window and a lock intent.
type Window struct {
	Sort   []queryir.Order
	Limit  int
	Offset int
	Lock   ir.LockMode
}

// WithFetch returns a copy of the query that also loads the named
// relations of the root entity. A relation the query already joins is
// upgraded to a fetch join; any other gets a LEFT JOIN.
func (q *Query) WithFetch(relations []string) (*Query, error) {
	if len(relations) == 0 {
		return q, nil
	}
	if q.result != ResultEntity {
		return nil, &Error{Pos: -1, Message: "fetch needs a query selecting entity records"}
	}
	out := *q
	out.joins = append([]join(nil), q.joins...)
	for _, name := range relations {
		if strings.Contains(name, ".") {
			return nil, &Error{Pos: -1, Message: fmt.Sprintf("fetch path %q is deeper than one relation", name)}
		}
		rel, ok := q.root.Relation(name)
		if !ok {
			return nil, &Error{Pos: -1, Message: fmt.Sprintf("entity %s has no relation %q", q.root.Name, name)}
		}
		found := false
		for i := range out.joins {
			if out.joins[i].rel.Name == name {
				out.joins[i].fetch = true
				found = true
				break
			}
		}
		if !found {
			target, _ := q.schema.Entity(rel.Target)
			out.joins = append(out.joins, join{
				rel:    rel,
				target: target,
				alias:  fmt.Sprintf("t%d", len(out.joins)+1),
				fetch:  true,
			})
		}
	}
	return &out, nil
}

// Statement renders the query. Window sort keys follow the query's own
// ORDER BY keys.
func (q *Query) Statement(dialect ir.Dialect, w Window) (*querysql.Statement, error) {
	stmt := &querysql.Statement{
		Binds:  q.Binds(),
		Entity: q.root.Name,
		Lock:   w.Lock,
	}
	switch q.kind {
	case KindUpdate:
		stmt.SQL = "UPDATE " + q.root.Table + " SET " + q.set + q.whereClause()
		return stmt, nil
	case KindDelete:
		stmt.SQL = "DELETE FROM " + q.root.Table + q.whereClause()
		return stmt, nil
	}

	var cols []string
	if q.result == ResultEntity {
		cols, stmt.Columns = q.entityColumns()
		stmt.Fetched = q.Fetched()
	} else {
		for _, it := range q.items {
			cols = append(cols, it.sql+" AS "+querysql.Quote(it.col.Label))
			stmt.Columns = append(stmt.Columns, it.col)
		}
	}

	order, err := q.orderBy(w.Sort)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM " + q.root.Table + " t0")
	for _, j := range q.joins {
		b.WriteString(j.clause(q.root))
	}
	b.WriteString(q.whereClause())
	if order != "" {
		b.WriteString(" ORDER BY " + order)
	}
	b.WriteString(querysql.WindowClause(dialect, w.Limit, w.Offset))
	b.WriteString(querysql.LockClause(dialect, w.Lock))
	stmt.SQL = b.String()
	return stmt, nil
}

// CountStatement renders the total-count companion of a select: the select
// list becomes a count, ORDER BY is dropped, and so are outer joins the
// where clause does not reference.
func (q *Query) CountStatement() (*querysql.Statement, error) {
	if q.kind != KindSelect {
		return nil, &Error{Pos: -1, Message: "only a select can be counted"}
	}
	var kept []join
	for _, j := range q.joins {
		if j.inner || j.filtering {
			kept = append(kept, j)
		}
	}
	expr := "COUNT(*)"
	switch {
	case q.distinct && len(q.items) == 1 && q.result == ResultScalar:
		expr = "COUNT(DISTINCT " + q.items[0].sql + ")"
	case q.distinct || len(kept) > 0:
		expr = "COUNT(DISTINCT t0." + q.root.IDField().Column + ")"
	}

	var b strings.Builder
	b.WriteString("SELECT " + expr + " AS " + querysql.Quote("count"))
	b.WriteString(" FROM " + q.root.Table + " t0")
	for _, j := range kept {
		b.WriteString(j.clause(q.root))
	}
	b.WriteString(q.whereClause())
	return &querysql.Statement{
		SQL:     b.String(),
		Binds:   append([]querysql.Bind(nil), q.filter...),
		Columns: []querysql.Column{{Label: "count", Type: ir.TypeInt}},
		Entity:  q.root.Name,
	}, nil
}

func (q *Query) whereClause() string {
	if q.where == "" {
		return ""
	}
	return " WHERE " + q.where
}

func (j join) clause(root *ir.Entity) string {
	kw := " LEFT JOIN "
	if j.inner {
		kw = " JOIN "
	}
	on := j.alias + "." + j.target.IDField().Column + " = t0." + j.rel.Column
	if j.rel.Kind == ir.RelationMany {
		on = j.alias + "." + j.rel.Column + " = t0." + root.IDField().Column
	}
	return kw + j.target.Table + " " + j.alias + " ON " + on
}

func (q *Query) fetchJoin(rel string) (join, bool) {
	for _, j := range q.joins {
		if j.fetch && j.rel.Name == rel {
			return j, true
		}
	}
	return join{}, false
}

// entityColumns renders the root fields, then per relation either the
// fetched target fields or the foreign key of a single-valued relation.
func (q *Query) entityColumns() ([]string, []querysql.Column) {
	var cols []string
	var meta []querysql.Column
	add := func(ref, label string, typ ir.ParamType) {
		cols = append(cols, ref+" AS "+querysql.Quote(label))
		meta = append(meta, querysql.Column{Label: label, Type: typ})
	}
	for _, f := range q.root.Fields {
		add("t0."+f.Column, f.Name, f.Type)
	}
	for _, rel := range q.root.Relations {
		target, _ := q.schema.Entity(rel.Target)
		if j, ok := q.fetchJoin(rel.Name); ok {
			for _, f := range target.Fields {
				add(j.alias+"."+f.Column, querysql.RelationLabel(rel.Name, f.Name), f.Type)
			}
			continue
		}
		if rel.Kind == ir.RelationOne {
			add("t0."+rel.Column, querysql.RelationLabel(rel.Name, target.ID), target.IDField().Type)
		}
	}
	return cols, meta
}

// orderBy renders the query's keys, then the window keys, then for entity
// results the root identifier and the identifiers of fetched collections.
func (q *Query) orderBy(sort []queryir.Order) (string, error) {
	var keys []string
	if q.order != "" {
		keys = append(keys, q.order)
	}
	idSorted := false
	for _, o := range sort {
		ref, err := q.sortColumn(o.Path)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		keys = append(keys, ref+" "+dir)
		if o.Path.Relation == "" && o.Path.Field == q.root.ID {
			idSorted = true
		}
	}
	if q.result != ResultEntity {
		return strings.Join(keys, ", "), nil
	}
	if !idSorted {
		keys = append(keys, "t0."+q.root.IDField().Column+" ASC")
	}
	for _, j := range q.joins {
		if j.fetch && j.rel.Kind == ir.RelationMany {
			keys = append(keys, j.alias+"."+j.target.IDField().Column+" ASC")
		}
	}
	return strings.Join(keys, ", "), nil
}

// sortColumn resolves a window sort key. Relation keys need the relation
// to be joined already.
func (q *Query) sortColumn(p queryir.Path) (string, error) {
	if p.Relation == "" {
		f, ok := q.root.Field(p.Field)
		if !ok {
			return "", &Error{Pos: -1, Message: fmt.Sprintf("cannot sort by %q: entity %s has no such field", p.Field, q.root.Name)}
		}
		return "t0." + f.Column, nil
	}
	rel, ok := q.root.Relation(p.Relation)
	if !ok || rel.Kind != ir.RelationOne {
		return "", &Error{Pos: -1, Message: fmt.Sprintf("cannot sort by %q", p.String())}
	}
	target, _ := q.schema.Entity(rel.Target)
	f, ok := target.Field(p.Field)
	if !ok {
		return "", &Error{Pos: -1, Message: fmt.Sprintf("cannot sort by %q: entity %s has no such field", p.String(), target.Name)}
	}
	if f.Name == target.ID {
		return "t0." + rel.Column, nil
	}
	for _, j := range q.joins {
		if j.rel.Name == rel.Name {
			return j.alias + "." + f.Column, nil
		}
	}
	return "", &Error{Pos: -1, Message: fmt.Sprintf("cannot sort by %q: relation %s is not joined", p.String(), rel.Name)}
}
