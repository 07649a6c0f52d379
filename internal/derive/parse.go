package derive

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/iancoleman/strcase"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/queryir"
)

// Kind is the query kind selected by the method prefix.
type Kind string

const (
	KindFind   Kind = "find"
	KindCount  Kind = "count"
	KindExists Kind = "exists"
	KindDelete Kind = "delete"
)

var prefixes = []struct {
	text string
	kind Kind
}{
	{"find", KindFind},
	{"read", KindFind},
	{"get", KindFind},
	{"query", KindFind},
	{"search", KindFind},
	{"stream", KindFind},
	{"count", KindCount},
	{"exists", KindExists},
	{"delete", KindDelete},
	{"remove", KindDelete},
}

// limitPattern matches Top3 / First / First10 inside a subject.
var limitPattern = regexp.MustCompile(`(?:Top|First)(\d*)(?:\p{Lu}|$)`)

// Subject is the part between the prefix and "By".
type Subject struct {
	Kind     Kind `json:"kind"`
	Distinct bool `json:"distinct,omitempty"`
	Limit    int  `json:"limit,omitempty"` // 0 = unbounded
}

// Connector joins a clause to the clauses before it.
type Connector string

const (
	ConnAnd Connector = "and"
	ConnOr  Connector = "or"
)

// Clause is one property comparison of the predicate.
type Clause struct {
	Connector  Connector        `json:"connector,omitempty"` // "" for the first clause
	Path       queryir.Path     `json:"path"`
	Op         queryir.Operator `json:"op"`
	IgnoreCase bool             `json:"ignore_case,omitempty"`
	Param      int              `json:"param"` // first value parameter consumed
}

// Tree is the parsed form of a method name.
type Tree struct {
	Method  string          `json:"method"`
	Subject Subject         `json:"subject"`
	Clauses []Clause        `json:"clauses,omitempty"`
	OrderBy []queryir.Order `json:"order_by,omitempty"`
}

// Slots returns the number of value parameters the clauses consume.
func (t *Tree) Slots() int {
	n := 0
	for _, c := range t.Clauses {
		n += c.Op.Slots()
	}
	return n
}

// Parse derives the predicate tree of a method on an entity. params is the
// number of value parameters the operation declares; it must equal the
// number of values the clauses consume.
//
// Parse returns ErrNotDerivable when the name has no query prefix and a
// *Error when the name has a prefix but cannot be derived.
func Parse(schema *ir.Schema, entity, method string, params int) (*Tree, error) {
	method = norm.NFC.String(strings.TrimSpace(method))

	meta, ok := schema.Entity(entity)
	if !ok {
		return nil, &Error{Code: ErrUnknownField, Method: method, Token: entity, Message: "unknown entity"}
	}

	kind, rest, ok := splitPrefix(method)
	if !ok {
		return nil, ErrNotDerivable
	}

	p := &parser{schema: schema, entity: meta, method: method}
	tree := &Tree{Method: method, Subject: Subject{Kind: kind}}

	subject, predicate, hasBy := splitSubject(rest)
	if !hasBy && subject != "" && subject != "All" {
		return nil, ErrNotDerivable
	}
	if err := p.parseSubject(subject, &tree.Subject); err != nil {
		return nil, err
	}

	predicate, orders, hasOrder := cutOrderBy(predicate)

	allIgnoreCase := false
	for _, suffix := range []string{"AllIgnoringCase", "AllIgnoreCase"} {
		if trimmed, found := strings.CutSuffix(predicate, suffix); found {
			predicate = trimmed
			allIgnoreCase = true
			break
		}
	}

	param := 0
	for _, part := range splitConnectors(predicate) {
		c, err := p.parseClause(part.text)
		if err != nil {
			return nil, err
		}
		c.Connector = part.conn
		if allIgnoreCase && p.isString(c.Path) {
			c.IgnoreCase = true
		}
		c.Param = param
		param += c.Op.Slots()
		tree.Clauses = append(tree.Clauses, c)
	}

	if hasOrder {
		o, err := p.parseOrders(orders)
		if err != nil {
			return nil, err
		}
		tree.OrderBy = o
	}

	if slots := tree.Slots(); slots != params {
		return nil, &Error{Code: ErrParameterCountMismatch, Method: method, Expected: slots, Actual: params}
	}
	return tree, nil
}

type parser struct {
	schema *ir.Schema
	entity *ir.Entity
	method string
}

func (p *parser) fail(code ErrorCode, token, msg string) error {
	return &Error{Code: code, Method: p.method, Token: token, Message: msg}
}

func (p *parser) parseSubject(subject string, s *Subject) error {
	s.Distinct = strings.Contains(subject, "Distinct")

	m := limitPattern.FindStringSubmatch(subject)
	if m == nil {
		if s.Kind == KindExists {
			s.Limit = 1
		}
		return nil
	}
	limit := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return p.fail(ErrUnrecognizedOperator, subject, "result limit must be a positive number")
		}
		limit = n
	}
	switch s.Kind {
	case KindFind:
		s.Limit = limit
	case KindExists:
		s.Limit = 1
	default:
		return p.fail(ErrUnrecognizedOperator, subject, "result limit is only supported on find queries")
	}
	return nil
}

// parseClause resolves one clause: property, operator keyword and the
// IgnoreCase suffix.
func (p *parser) parseClause(text string) (Clause, error) {
	ignoreCase := false
	for _, suffix := range []string{"IgnoringCase", "IgnoreCase"} {
		if trimmed, found := strings.CutSuffix(text, suffix); found {
			text = trimmed
			ignoreCase = true
			break
		}
	}
	if text == "" {
		return Clause{}, p.fail(ErrUnknownField, text, "empty property")
	}

	c, ok := p.matchClause(text)
	if !ok {
		// Find the longest property prefix; whatever follows it is an
		// operator nobody recognizes.
		words := splitWords(text)
		for i := len(words) - 1; i >= 1; i-- {
			if _, ok := p.resolveProperty(strings.Join(words[:i], "")); ok {
				return Clause{}, p.fail(ErrUnrecognizedOperator, strings.Join(words[i:], ""), "")
			}
		}
		return Clause{}, p.fail(ErrUnknownField, text, "")
	}

	c.IgnoreCase = ignoreCase
	field := p.field(c.Path)
	if c.Op.Textual() && field.Type != ir.TypeString {
		return Clause{}, p.fail(ErrUnrecognizedOperator, text, "operator needs a string property")
	}
	if (c.Op == queryir.OpTrue || c.Op == queryir.OpFalse) && field.Type != ir.TypeBool {
		return Clause{}, p.fail(ErrUnrecognizedOperator, text, "operator needs a bool property")
	}
	if ignoreCase && field.Type != ir.TypeString {
		return Clause{}, p.fail(ErrUnrecognizedOperator, text, "IgnoreCase needs a string property")
	}
	return c, nil
}

// matchClause tries the whole text as a property first, so a property whose
// name ends in a keyword (loggedIn) is not split.
func (p *parser) matchClause(text string) (Clause, bool) {
	if path, ok := p.resolveProperty(text); ok {
		return Clause{Path: path, Op: queryir.OpEquals}, true
	}
	for _, k := range operatorKeywords {
		prop, found := strings.CutSuffix(text, k.keyword)
		if !found || prop == "" {
			continue
		}
		if path, ok := p.resolveProperty(prop); ok {
			return Clause{Path: path, Op: k.op}, true
		}
	}
	return Clause{}, false
}

// resolveProperty maps a capitalized property to a path. Besides a direct
// field it accepts a single-valued relation (compared by identifier), a
// relation followed by a target field (TeamName), and the explicit
// Relation_Field form.
func (p *parser) resolveProperty(prop string) (queryir.Path, bool) {
	if rel, field, ok := strings.Cut(prop, "_"); ok {
		return p.relationPath(strcase.ToLowerCamel(rel), strcase.ToLowerCamel(field))
	}

	name := strcase.ToLowerCamel(prop)
	if _, ok := p.entity.Field(name); ok {
		return queryir.Path{Field: name}, true
	}
	if rel, ok := p.entity.Relation(name); ok && rel.Kind == ir.RelationOne {
		if target, ok := p.schema.Entity(rel.Target); ok {
			return queryir.Path{Relation: name, Field: target.ID}, true
		}
	}

	words := splitWords(prop)
	for i := 1; i < len(words); i++ {
		relName := strcase.ToLowerCamel(strings.Join(words[:i], ""))
		fieldName := strcase.ToLowerCamel(strings.Join(words[i:], ""))
		if path, ok := p.relationPath(relName, fieldName); ok {
			return path, true
		}
	}
	return queryir.Path{}, false
}

func (p *parser) relationPath(relName, fieldName string) (queryir.Path, bool) {
	rel, ok := p.entity.Relation(relName)
	if !ok || rel.Kind != ir.RelationOne {
		return queryir.Path{}, false
	}
	target, ok := p.schema.Entity(rel.Target)
	if !ok {
		return queryir.Path{}, false
	}
	if _, ok := target.Field(fieldName); !ok {
		return queryir.Path{}, false
	}
	return queryir.Path{Relation: relName, Field: fieldName}, true
}

func (p *parser) field(path queryir.Path) ir.Field {
	if path.Relation == "" {
		f, _ := p.entity.Field(path.Field)
		return f
	}
	rel, _ := p.entity.Relation(path.Relation)
	target, ok := p.schema.Entity(rel.Target)
	if !ok {
		return ir.Field{}
	}
	f, _ := target.Field(path.Field)
	return f
}

func (p *parser) isString(path queryir.Path) bool {
	return p.field(path).Type == ir.TypeString
}

// parseOrders parses "UsernameDescAgeAsc" into sort keys. A property with
// no direction sorts ascending.
func (p *parser) parseOrders(s string) ([]queryir.Order, error) {
	if s == "" {
		return nil, p.fail(ErrUnknownField, "", "OrderBy names no property")
	}
	var orders []queryir.Order
	for s != "" {
		idx, width, desc := nextDirection(s)
		prop := s
		if idx >= 0 {
			prop = s[:idx]
			s = s[idx+width:]
		} else {
			s = ""
		}
		path, ok := p.resolveProperty(prop)
		if !ok {
			return nil, p.fail(ErrUnknownField, prop, "unknown sort property")
		}
		orders = append(orders, queryir.Order{Path: path, Desc: desc})
	}
	return orders, nil
}

var operatorKeywords = func() []struct {
	keyword string
	op      queryir.Operator
} {
	kws := []struct {
		keyword string
		op      queryir.Operator
	}{
		{"IsGreaterThanEqual", queryir.OpGreaterThanEqual},
		{"GreaterThanEqual", queryir.OpGreaterThanEqual},
		{"IsGreaterThan", queryir.OpGreaterThan},
		{"GreaterThan", queryir.OpGreaterThan},
		{"IsLessThanEqual", queryir.OpLessThanEqual},
		{"LessThanEqual", queryir.OpLessThanEqual},
		{"IsLessThan", queryir.OpLessThan},
		{"LessThan", queryir.OpLessThan},
		{"IsAfter", queryir.OpGreaterThan},
		{"After", queryir.OpGreaterThan},
		{"IsBefore", queryir.OpLessThan},
		{"Before", queryir.OpLessThan},
		{"IsBetween", queryir.OpBetween},
		{"Between", queryir.OpBetween},
		{"IsNotNull", queryir.OpIsNotNull},
		{"NotNull", queryir.OpIsNotNull},
		{"IsNull", queryir.OpIsNull},
		{"Null", queryir.OpIsNull},
		{"IsNotLike", queryir.OpNotLike},
		{"NotLike", queryir.OpNotLike},
		{"IsLike", queryir.OpLike},
		{"Like", queryir.OpLike},
		{"IsStartingWith", queryir.OpStartingWith},
		{"StartingWith", queryir.OpStartingWith},
		{"StartsWith", queryir.OpStartingWith},
		{"IsEndingWith", queryir.OpEndingWith},
		{"EndingWith", queryir.OpEndingWith},
		{"EndsWith", queryir.OpEndingWith},
		{"IsNotContaining", queryir.OpNotContaining},
		{"NotContaining", queryir.OpNotContaining},
		{"NotContains", queryir.OpNotContaining},
		{"IsContaining", queryir.OpContaining},
		{"Containing", queryir.OpContaining},
		{"Contains", queryir.OpContaining},
		{"IsNotIn", queryir.OpNotIn},
		{"NotIn", queryir.OpNotIn},
		{"IsIn", queryir.OpIn},
		{"In", queryir.OpIn},
		{"IsTrue", queryir.OpTrue},
		{"True", queryir.OpTrue},
		{"IsFalse", queryir.OpFalse},
		{"False", queryir.OpFalse},
		{"IsNot", queryir.OpNotEquals},
		{"Not", queryir.OpNotEquals},
		{"Equals", queryir.OpEquals},
		{"Is", queryir.OpEquals},
	}
	sort.SliceStable(kws, func(i, j int) bool { return len(kws[i].keyword) > len(kws[j].keyword) })
	return kws
}()

// splitPrefix matches the query prefix. The prefix must end the name or be
// followed by an upper-case letter.
func splitPrefix(method string) (Kind, string, bool) {
	for _, p := range prefixes {
		rest, found := strings.CutPrefix(method, p.text)
		if !found {
			continue
		}
		if rest == "" || isUpper(rest[0]) {
			return p.kind, rest, true
		}
	}
	return "", "", false
}

// splitSubject splits at the first "By" that ends the text or is followed
// by an upper-case letter. Without such a "By" the whole text is subject
// and the predicate is empty.
func splitSubject(rest string) (string, string, bool) {
	for i := 0; i+2 <= len(rest); i++ {
		if rest[i:i+2] != "By" {
			continue
		}
		if i+2 == len(rest) || isUpper(rest[i+2]) {
			return rest[:i], rest[i+2:], true
		}
	}
	return rest, "", false
}

// cutOrderBy splits off the last "OrderBy" followed by an upper-case letter
// or the end of the text.
func cutOrderBy(predicate string) (string, string, bool) {
	const kw = "OrderBy"
	for i := len(predicate) - len(kw); i >= 0; i-- {
		if predicate[i:i+len(kw)] != kw {
			continue
		}
		end := i + len(kw)
		if end == len(predicate) || isUpper(predicate[end]) {
			return predicate[:i], predicate[end:], true
		}
	}
	return predicate, "", false
}

type part struct {
	conn Connector
	text string
}

// splitConnectors splits a predicate at And/Or keywords that follow at
// least one character and precede an upper-case letter.
func splitConnectors(predicate string) []part {
	if predicate == "" {
		return nil
	}
	var parts []part
	conn := Connector("")
	start := 0
	for i := 1; i < len(predicate); i++ {
		var next Connector
		var width int
		switch {
		case strings.HasPrefix(predicate[i:], "And"):
			next, width = ConnAnd, 3
		case strings.HasPrefix(predicate[i:], "Or"):
			next, width = ConnOr, 2
		default:
			continue
		}
		if i+width >= len(predicate) || !isUpper(predicate[i+width]) || i == start {
			continue
		}
		parts = append(parts, part{conn: conn, text: predicate[start:i]})
		conn = next
		start = i + width
		i = start - 1
	}
	return append(parts, part{conn: conn, text: predicate[start:]})
}

// nextDirection finds the first Asc or Desc keyword after position 0 that
// ends the text or precedes an upper-case letter.
func nextDirection(s string) (idx, width int, desc bool) {
	for i := 1; i < len(s); i++ {
		for _, d := range []struct {
			kw   string
			desc bool
		}{{"Desc", true}, {"Asc", false}} {
			if !strings.HasPrefix(s[i:], d.kw) {
				continue
			}
			end := i + len(d.kw)
			if end == len(s) || isUpper(s[end]) {
				return i, len(d.kw), d.desc
			}
		}
	}
	return -1, 0, false
}

// splitWords splits a camel-case identifier into words, keeping runs of
// capitals together (UserIDName -> User, ID, Name).
func splitWords(s string) []string {
	runes := []rune(s)
	var words []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prev := runes[i-1]
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	if start < len(runes) {
		words = append(words, string(runes[start:]))
	}
	return words
}

func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}
