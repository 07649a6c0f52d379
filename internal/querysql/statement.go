package querysql

import (
	"strconv"
	"strings"

	"github.com/roach88/repoql/internal/ir"
)

// labelSep joins a relation name and a field name in a column label.
const labelSep = "__"

// RelationLabel returns the column label of a field reached through a
// relation, e.g. team__name.
func RelationLabel(relation, field string) string {
	return relation + labelSep + field
}

// SplitLabel splits a relation label into relation and field names.
func SplitLabel(label string) (relation, field string, ok bool) {
	return strings.Cut(label, labelSep)
}

// Statement is a compiled, parameterized statement.
//
// Binds lists the placeholders of SQL in order. Each bind names the value
// parameter it takes its value from, so the same statement serves every
// call of an operation.
type Statement struct {
	SQL     string      `json:"sql"`
	Binds   []Bind      `json:"binds,omitempty"`
	Columns []Column    `json:"columns,omitempty"` // nil for statements returning no rows
	Entity  string      `json:"entity,omitempty"`
	Fetched []string    `json:"fetched,omitempty"` // relations loaded by the statement
	Native  bool        `json:"native,omitempty"`
	Lock    ir.LockMode `json:"lock,omitempty"`
}

// Column is one entry of a statement's select list.
type Column struct {
	Label string       `json:"label"`
	Type  ir.ParamType `json:"type,omitempty"` // "" when unknown (native statements)
}

// Labels returns the column labels in select-list order.
func (s *Statement) Labels() []string {
	labels := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		labels[i] = c.Label
	}
	return labels
}

// LikeWrap is the wildcard wrapping applied to a bound LIKE operand.
type LikeWrap string

const (
	LikeNone       LikeWrap = ""
	LikeStarting   LikeWrap = "starting"   // value%
	LikeEnding     LikeWrap = "ending"     // %value
	LikeContaining LikeWrap = "containing" // %value%
)

// Bind is one placeholder of a statement.
//
// Param is the zero-based position among the operation's value parameters.
// Name is set for placeholders written as :name in query text; the binder
// resolves it to Param at registration.
type Bind struct {
	Param int      `json:"param"`
	Name  string   `json:"name,omitempty"`
	Like  LikeWrap `json:"like,omitempty"`
}

// Apply transforms a bound value. Only string values are wrapped.
func (b Bind) Apply(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch b.Like {
	case LikeStarting:
		return s + "%"
	case LikeEnding:
		return "%" + s
	case LikeContaining:
		return "%" + s + "%"
	}
	return v
}

// NativeStatement wraps native query text. The text is passed to the store
// verbatim; value parameters bind positionally in declaration order.
func NativeStatement(sql, entity string, params int) *Statement {
	binds := make([]Bind, params)
	for i := range binds {
		binds[i] = Bind{Param: i}
	}
	return &Statement{SQL: sql, Binds: binds, Entity: entity, Native: true}
}

// WithWindow returns a copy of the statement restricted to a row window.
// Native text gets LIMIT and OFFSET appended; callers must not pass native
// text that already ends in a window.
func (s *Statement) WithWindow(dialect ir.Dialect, limit, offset int) *Statement {
	out := *s
	out.SQL = s.SQL + WindowClause(dialect, limit, offset)
	return &out
}

// WindowClause renders LIMIT/OFFSET. SQLite needs a LIMIT before OFFSET.
func WindowClause(dialect ir.Dialect, limit, offset int) string {
	var b strings.Builder
	switch {
	case limit > 0:
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	case offset > 0 && dialect == ir.DialectSQLite:
		b.WriteString(" LIMIT -1")
	}
	if offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(offset))
	}
	return b.String()
}
