package queryir

import (
	"strings"

	"github.com/roach88/repoql/internal/ir"
)

// Query represents an abstract query in the query IR.
//
// This is a sealed interface - only types in this package implement it.
//
// Query types:
//   - Select: rows of the root entity
//   - Count: number of rows of the root entity
//   - Delete: bulk removal of matching rows
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition in the query IR.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Compare: path <operator> parameter(s)
//   - And: all predicates must be true
//   - Or: any predicate must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Path addresses a field of the root entity, or a field of the record
// reached through one relation of the root entity.
type Path struct {
	Relation string `json:"relation,omitempty"` // "" addresses the root entity
	Field    string `json:"field"`
}

// String renders the path in dotted form.
func (p Path) String() string {
	if p.Relation == "" {
		return p.Field
	}
	return p.Relation + "." + p.Field
}

// ParsePath parses the dotted form produced by String.
func ParsePath(s string) Path {
	if rel, field, ok := strings.Cut(s, "."); ok {
		return Path{Relation: rel, Field: field}
	}
	return Path{Field: s}
}

// Order is one sort key.
type Order struct {
	Path Path `json:"path"`
	Desc bool `json:"desc,omitempty"`
}

// Select represents row retrieval from the root entity.
//
// Semantics:
//
//	SELECT <columns> FROM <entity> [JOIN <fetch>] WHERE <filter>
//	ORDER BY <sort>, <id> LIMIT <limit> OFFSET <offset>
//
// Example:
//
//	Select{
//	  Entity: "Member",
//	  Filter: &And{Predicates: []Predicate{
//	    &Compare{Path: Path{Field: "username"}, Op: OpEquals, Param: 0},
//	    &Compare{Path: Path{Field: "age"}, Op: OpGreaterThan, Param: 1},
//	  }},
//	}
//
// Translates to SQL:
//
//	SELECT ... FROM member t0
//	WHERE t0.username = ? AND t0.age > ?
//	ORDER BY t0.member_id ASC
//
// Columns, when non-empty, prunes the select list to the listed paths.
// Fetch lists relations of the root entity loaded in the same statement.
type Select struct {
	Entity   string      `json:"entity"`
	Distinct bool        `json:"distinct,omitempty"`
	Filter   Predicate   `json:"filter,omitempty"` // nil = no filter
	Sort     []Order     `json:"sort,omitempty"`
	Limit    int         `json:"limit,omitempty"` // 0 = unbounded
	Offset   int         `json:"offset,omitempty"`
	Fetch    []string    `json:"fetch,omitempty"`
	Columns  []Path      `json:"columns,omitempty"`
	Lock     ir.LockMode `json:"lock,omitempty"`
}

func (Select) queryNode() {}

// Count represents counting the rows a filter matches.
//
// Exists marks an existence check: the caller only needs to know whether
// the count is positive.
type Count struct {
	Entity   string    `json:"entity"`
	Distinct bool      `json:"distinct,omitempty"`
	Filter   Predicate `json:"filter,omitempty"`
	Exists   bool      `json:"exists,omitempty"`
}

func (Count) queryNode() {}

// Delete represents removal of every row a filter matches.
type Delete struct {
	Entity string    `json:"entity"`
	Filter Predicate `json:"filter,omitempty"`
}

func (Delete) queryNode() {}

// Compare compares the value at Path with one or more value parameters.
//
// Param is the position of the first value parameter consumed. Operators
// consuming no parameter (OpIsNull, OpTrue, ...) ignore it; OpBetween
// consumes Param and Param+1.
//
// IgnoreCase compares case-insensitively on both sides.
type Compare struct {
	Path       Path     `json:"path"`
	Op         Operator `json:"op"`
	Param      int      `json:"param"`
	IgnoreCase bool     `json:"ignore_case,omitempty"`
}

func (Compare) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Empty Predicates means "always true".
type And struct {
	Predicates []Predicate `json:"predicates"`
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates (any must be true).
// Empty Predicates means "always false".
type Or struct {
	Predicates []Predicate `json:"predicates"`
}

func (Or) predicateNode() {}

// Operator is the comparison of a Compare predicate.
type Operator string

const (
	OpEquals           Operator = "equals"
	OpNotEquals        Operator = "not_equals"
	OpGreaterThan      Operator = "greater_than"
	OpGreaterThanEqual Operator = "greater_than_equal"
	OpLessThan         Operator = "less_than"
	OpLessThanEqual    Operator = "less_than_equal"
	OpBetween          Operator = "between"
	OpLike             Operator = "like"
	OpNotLike          Operator = "not_like"
	OpStartingWith     Operator = "starting_with"
	OpEndingWith       Operator = "ending_with"
	OpContaining       Operator = "containing"
	OpNotContaining    Operator = "not_containing"
	OpIn               Operator = "in"
	OpNotIn            Operator = "not_in"
	OpIsNull           Operator = "is_null"
	OpIsNotNull        Operator = "is_not_null"
	OpTrue             Operator = "true"
	OpFalse            Operator = "false"
)

// Slots returns the number of value parameters the operator consumes.
func (o Operator) Slots() int {
	switch o {
	case OpBetween:
		return 2
	case OpIsNull, OpIsNotNull, OpTrue, OpFalse:
		return 0
	default:
		return 1
	}
}

// Textual reports whether the operator only applies to string fields.
func (o Operator) Textual() bool {
	switch o {
	case OpLike, OpNotLike, OpStartingWith, OpEndingWith, OpContaining, OpNotContaining:
		return true
	}
	return false
}

// Params returns the highest value-parameter position referenced by a
// predicate plus one, i.e. the number of value parameters it needs.
func Params(p Predicate) int {
	n := 0
	walk(p, func(c *Compare) {
		if s := c.Op.Slots(); s > 0 && c.Param+s > n {
			n = c.Param + s
		}
	})
	return n
}

// Paths returns every path a predicate references, in traversal order.
func Paths(p Predicate) []Path {
	var out []Path
	walk(p, func(c *Compare) { out = append(out, c.Path) })
	return out
}

func walk(p Predicate, fn func(*Compare)) {
	switch pred := p.(type) {
	case Compare:
		fn(&pred)
	case *Compare:
		fn(pred)
	case And:
		for _, sub := range pred.Predicates {
			walk(sub, fn)
		}
	case *And:
		for _, sub := range pred.Predicates {
			walk(sub, fn)
		}
	case Or:
		for _, sub := range pred.Predicates {
			walk(sub, fn)
		}
	case *Or:
		for _, sub := range pred.Predicates {
			walk(sub, fn)
		}
	}
}

// CountOf derives the count query of a select: the filter is kept, while
// sort, row window, fetches, column pruning and lock are stripped since
// none of them change how many records match.
func CountOf(sel Select) Count {
	return Count{
		Entity:   sel.Entity,
		Distinct: sel.Distinct,
		Filter:   sel.Filter,
	}
}
