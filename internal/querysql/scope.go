package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/queryir"
)

// scope tracks the table aliases of one statement: t0 is the root entity,
// t1... are joined relations in order of first use.
type scope struct {
	schema *ir.Schema
	root   *ir.Entity
	joins  []joined
}

type joined struct {
	relation ir.Relation
	target   *ir.Entity
	alias    string
}

// newScope assumes the query was validated against the schema.
func (c *Compiler) newScope(entity string) *scope {
	root, _ := c.schema.Entity(entity)
	return &scope{schema: c.schema, root: root}
}

// join returns the alias of a relation, adding a LEFT JOIN on first use.
func (s *scope) join(name string) *joined {
	for i := range s.joins {
		if s.joins[i].relation.Name == name {
			return &s.joins[i]
		}
	}
	rel, _ := s.root.Relation(name)
	target, _ := s.schema.Entity(rel.Target)
	s.joins = append(s.joins, joined{
		relation: rel,
		target:   target,
		alias:    fmt.Sprintf("t%d", len(s.joins)+1),
	})
	return &s.joins[len(s.joins)-1]
}

// column resolves a path to a qualified column and its type. A path to the
// identifier of a single-valued relation reads the owner's foreign key and
// needs no join.
func (s *scope) column(p queryir.Path) (string, ir.ParamType) {
	if p.Relation == "" {
		f, _ := s.root.Field(p.Field)
		return "t0." + f.Column, f.Type
	}
	rel, _ := s.root.Relation(p.Relation)
	target, _ := s.schema.Entity(rel.Target)
	f, _ := target.Field(p.Field)
	if rel.Kind == ir.RelationOne && p.Field == target.ID && !s.joined(p.Relation) {
		return "t0." + rel.Column, f.Type
	}
	j := s.join(p.Relation)
	return j.alias + "." + f.Column, f.Type
}

func (s *scope) joined(name string) bool {
	for _, j := range s.joins {
		if j.relation.Name == name {
			return true
		}
	}
	return false
}

// entityColumns renders the full select list of the root entity: every
// field, then per single-valued relation either the fetched target fields
// or the foreign key labeled as the target identifier, then the fields of
// fetched collections.
func (s *scope) entityColumns(fetch []string) ([]string, []Column) {
	var cols []string
	var meta []Column
	add := func(ref, label string, typ ir.ParamType) {
		cols = append(cols, ref+" AS "+Quote(label))
		meta = append(meta, Column{Label: label, Type: typ})
	}

	fetched := make(map[string]bool, len(fetch))
	for _, name := range fetch {
		fetched[name] = true
	}

	for _, f := range s.root.Fields {
		add("t0."+f.Column, f.Name, f.Type)
	}
	for _, rel := range s.root.Relations {
		target, _ := s.schema.Entity(rel.Target)
		switch {
		case fetched[rel.Name]:
			j := s.join(rel.Name)
			for _, f := range target.Fields {
				add(j.alias+"."+f.Column, RelationLabel(rel.Name, f.Name), f.Type)
			}
		case rel.Kind == ir.RelationOne:
			add("t0."+rel.Column, RelationLabel(rel.Name, target.ID), target.IDField().Type)
		}
	}
	return cols, meta
}

func (s *scope) joinClause() string {
	var b strings.Builder
	for _, j := range s.joins {
		b.WriteString(" LEFT JOIN ")
		b.WriteString(j.target.Table)
		b.WriteString(" ")
		b.WriteString(j.alias)
		b.WriteString(" ON ")
		if j.relation.Kind == ir.RelationOne {
			fmt.Fprintf(&b, "%s.%s = t0.%s", j.alias, j.target.IDField().Column, j.relation.Column)
		} else {
			fmt.Fprintf(&b, "%s.%s = t0.%s", j.alias, j.relation.Column, s.root.IDField().Column)
		}
	}
	return b.String()
}

// orderBy renders the sort keys followed by the root identifier and the
// identifiers of fetched collections.
func (s *scope) orderBy(sort []queryir.Order, fetch []string) string {
	var keys []string
	idSorted := false
	for _, o := range sort {
		ref, _ := s.column(o.Path)
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		keys = append(keys, ref+" "+dir)
		if o.Path.Relation == "" && o.Path.Field == s.root.ID {
			idSorted = true
		}
	}
	if !idSorted {
		keys = append(keys, "t0."+s.root.IDField().Column+" ASC")
	}
	for _, name := range fetch {
		j := s.join(name)
		if j.relation.Kind == ir.RelationMany {
			keys = append(keys, j.alias+"."+j.target.IDField().Column+" ASC")
		}
	}
	return strings.Join(keys, ", ")
}

// distinctOrder orders a DISTINCT select over a pruned select list. The
// root identifier is not selected, so the selected columns break ties.
func (s *scope) distinctOrder(sort []queryir.Order, columns []queryir.Path) string {
	var keys []string
	seen := make(map[string]bool)
	for _, o := range sort {
		ref, _ := s.column(o.Path)
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		keys = append(keys, ref+" "+dir)
		seen[ref] = true
	}
	for _, p := range columns {
		ref, _ := s.column(p)
		if !seen[ref] {
			keys = append(keys, ref+" ASC")
			seen[ref] = true
		}
	}
	return strings.Join(keys, ", ")
}

// where renders the WHERE clause, or "" for a nil filter.
func (s *scope) where(p queryir.Predicate) (string, []Bind) {
	if p == nil {
		return "", nil
	}
	sql, binds := s.predicate(p)
	return " WHERE " + sql, binds
}

// predicate compiles a predicate to a SQL fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (s *scope) predicate(p queryir.Predicate) (string, []Bind) {
	switch pred := p.(type) {
	case queryir.Compare:
		return s.compare(pred)
	case *queryir.Compare:
		return s.compare(*pred)
	case queryir.And:
		return s.compound(pred.Predicates, " AND ", "1 = 1")
	case *queryir.And:
		return s.compound(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return s.compound(pred.Predicates, " OR ", "1 = 0")
	case *queryir.Or:
		return s.compound(pred.Predicates, " OR ", "1 = 0")
	}
	return "1 = 1", nil
}

// compound joins sub-predicates, parenthesizing nested compounds.
func (s *scope) compound(preds []queryir.Predicate, sep, empty string) (string, []Bind) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(preds))
	var binds []Bind
	for _, sub := range preds {
		sql, b := s.predicate(sub)
		switch sub.(type) {
		case queryir.And, *queryir.And, queryir.Or, *queryir.Or:
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		binds = append(binds, b...)
	}
	return strings.Join(parts, sep), binds
}

func (s *scope) compare(c queryir.Compare) (string, []Bind) {
	col, _ := s.column(c.Path)
	ph := "?"
	if c.IgnoreCase && c.Op != queryir.OpIn && c.Op != queryir.OpNotIn {
		col = "LOWER(" + col + ")"
		ph = "LOWER(?)"
	}
	one := []Bind{{Param: c.Param}}

	switch c.Op {
	case queryir.OpEquals:
		return col + " = " + ph, one
	case queryir.OpNotEquals:
		return col + " <> " + ph, one
	case queryir.OpGreaterThan:
		return col + " > " + ph, one
	case queryir.OpGreaterThanEqual:
		return col + " >= " + ph, one
	case queryir.OpLessThan:
		return col + " < " + ph, one
	case queryir.OpLessThanEqual:
		return col + " <= " + ph, one
	case queryir.OpBetween:
		return col + " BETWEEN " + ph + " AND " + ph, []Bind{{Param: c.Param}, {Param: c.Param + 1}}
	case queryir.OpLike:
		return col + " LIKE " + ph, one
	case queryir.OpNotLike:
		return col + " NOT LIKE " + ph, one
	case queryir.OpStartingWith:
		return col + " LIKE " + ph, []Bind{{Param: c.Param, Like: LikeStarting}}
	case queryir.OpEndingWith:
		return col + " LIKE " + ph, []Bind{{Param: c.Param, Like: LikeEnding}}
	case queryir.OpContaining:
		return col + " LIKE " + ph, []Bind{{Param: c.Param, Like: LikeContaining}}
	case queryir.OpNotContaining:
		return col + " NOT LIKE " + ph, []Bind{{Param: c.Param, Like: LikeContaining}}
	case queryir.OpIn:
		return col + " IN (?)", one
	case queryir.OpNotIn:
		return col + " NOT IN (?)", one
	case queryir.OpIsNull:
		return col + " IS NULL", nil
	case queryir.OpIsNotNull:
		return col + " IS NOT NULL", nil
	case queryir.OpTrue:
		return col + " = TRUE", nil
	case queryir.OpFalse:
		return col + " = FALSE", nil
	}
	return "1 = 1", nil
}
