package queryir

import (
	"fmt"

	"github.com/roach88/repoql/internal/ir"
)

// ValidationResult contains the outcome of checking a query against a schema.
type ValidationResult struct {
	// Errors lists references the schema cannot satisfy. A query with errors
	// must not be compiled.
	Errors []string

	// Warnings lists constructs that compile but carry a known hazard, such
	// as a row window applied to a query that fetches a collection.
	Warnings []string
}

// Valid reports whether the query has no errors.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validate checks every path, relation and window of a query against the
// schema.
//
// Hazards reported as warnings:
//  1. Limit or offset combined with a fetched collection (the window applies
//     to joined rows, not to root records)
//  2. Distinct combined with a lock (most stores reject the combination)
//
// Validate is a pure function with no side effects.
func Validate(query Query, schema *ir.Schema) ValidationResult {
	v := &validator{schema: schema}
	v.validateQuery(query)
	return ValidationResult{
		Errors:   v.errors,
		Warnings: v.warnings,
	}
}

// validator accumulates findings during traversal.
type validator struct {
	schema   *ir.Schema
	errors   []string
	warnings []string
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// validateQuery dispatches on the query node.
func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case Count:
		v.validateFilter(query.Entity, query.Filter)
	case *Count:
		v.validateFilter(query.Entity, query.Filter)
	case Delete:
		v.validateFilter(query.Entity, query.Filter)
	case *Delete:
		v.validateFilter(query.Entity, query.Filter)
	case nil:
		v.addError("nil query")
	default:
		v.addError("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	entity := v.validateFilter(sel.Entity, sel.Filter)
	if entity == nil {
		return
	}
	if sel.Limit < 0 || sel.Offset < 0 {
		v.addError("negative row window (limit %d, offset %d)", sel.Limit, sel.Offset)
	}
	for _, o := range sel.Sort {
		v.validatePath(entity, o.Path)
	}
	for _, c := range sel.Columns {
		v.validatePath(entity, c)
	}

	fetchesMany := false
	seen := make(map[string]bool, len(sel.Fetch))
	for _, name := range sel.Fetch {
		if seen[name] {
			v.addError("relation %q fetched twice", name)
			continue
		}
		seen[name] = true
		rel, ok := entity.Relation(name)
		if !ok {
			v.addError("entity %q has no relation %q to fetch", entity.Name, name)
			continue
		}
		if rel.Kind == ir.RelationMany {
			fetchesMany = true
		}
	}
	if fetchesMany && (sel.Limit > 0 || sel.Offset > 0) {
		v.addWarning("row window on %q applies to joined rows because a collection is fetched", entity.Name)
	}
	if sel.Distinct && sel.Lock != ir.LockNone {
		v.addWarning("distinct query on %q requests lock %q", entity.Name, sel.Lock)
	}
}

// validateFilter resolves the root entity and checks every predicate path.
// It returns nil when the entity is unknown.
func (v *validator) validateFilter(name string, filter Predicate) *ir.Entity {
	entity, ok := v.schema.Entity(name)
	if !ok {
		v.addError("unknown entity %q", name)
		return nil
	}
	walk(filter, func(c *Compare) {
		v.validateCompare(entity, c)
	})
	return entity
}

func (v *validator) validateCompare(entity *ir.Entity, c *Compare) {
	field, ok := v.validatePath(entity, c.Path)
	if !ok {
		return
	}
	if c.Param < 0 {
		v.addError("negative parameter position %d on %s", c.Param, c.Path)
	}
	if c.Op.Textual() && field.Type != ir.TypeString {
		v.addError("operator %s needs a string field, %s is %s", c.Op, c.Path, field.Type)
	}
	if (c.Op == OpTrue || c.Op == OpFalse) && field.Type != ir.TypeBool {
		v.addError("operator %s needs a bool field, %s is %s", c.Op, c.Path, field.Type)
	}
	if c.IgnoreCase && field.Type != ir.TypeString {
		v.addError("ignore-case comparison needs a string field, %s is %s", c.Path, field.Type)
	}
}

// validatePath resolves a path to its field. Paths through a relation must
// cross a single-valued relation.
func (v *validator) validatePath(entity *ir.Entity, p Path) (ir.Field, bool) {
	if p.Relation == "" {
		f, ok := entity.Field(p.Field)
		if !ok {
			v.addError("entity %q has no field %q", entity.Name, p.Field)
		}
		return f, ok
	}
	rel, ok := entity.Relation(p.Relation)
	if !ok {
		v.addError("entity %q has no relation %q", entity.Name, p.Relation)
		return ir.Field{}, false
	}
	if rel.Kind != ir.RelationOne {
		v.addError("path %s crosses collection relation %q", p, rel.Name)
		return ir.Field{}, false
	}
	target, ok := v.schema.Entity(rel.Target)
	if !ok {
		v.addError("relation %q targets unknown entity %q", rel.Name, rel.Target)
		return ir.Field{}, false
	}
	f, ok := target.Field(p.Field)
	if !ok {
		v.addError("entity %q has no field %q", target.Name, p.Field)
	}
	return f, ok
}
