package pql

import (
	"strconv"
	"strings"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/querysql"
)

// Kind is the statement kind of a query.
type Kind string

const (
	KindSelect Kind = "select"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// ResultKind is the shape of a select's result rows.
type ResultKind string

const (
	ResultNone   ResultKind = ""       // update and delete
	ResultEntity ResultKind = "entity" // select m
	ResultScalar ResultKind = "scalar" // one path or aggregate
	ResultTuple  ResultKind = "tuple"  // several paths or aggregates
	ResultDTO    ResultKind = "dto"    // select new Name(...)
)

// Query is parsed and schema-checked query text. It is immutable; WithFetch
// returns a copy.
type Query struct {
	text     string
	schema   *ir.Schema
	kind     Kind
	root     *ir.Entity
	distinct bool
	result   ResultKind
	ctor     string
	items    []item
	joins    []join
	set      string
	where    string
	order    string
	binds    []querysql.Bind
	filter   []querysql.Bind // binds of the where clause
	named    bool
}

type item struct {
	sql string
	col querysql.Column
}

type join struct {
	rel       ir.Relation
	target    *ir.Entity
	name      string // alias in the query text, "" for implicit joins
	alias     string // alias in SQL
	inner     bool
	fetch     bool
	filtering bool // referenced by the where clause
}

// Text returns the query text as written.
func (q *Query) Text() string { return q.text }

// Kind returns the statement kind.
func (q *Query) Kind() Kind { return q.kind }

// Entity returns the root entity name.
func (q *Query) Entity() string { return q.root.Name }

// Result returns the result shape of a select.
func (q *Query) Result() ResultKind { return q.result }

// Constructor returns the constructor name of a DTO result, without any
// package qualifier.
func (q *Query) Constructor() string { return q.ctor }

// Named reports whether parameters are written :name.
func (q *Query) Named() bool { return q.named }

// Binds returns the parameter placeholders in text order.
func (q *Query) Binds() []querysql.Bind {
	return append([]querysql.Bind(nil), q.binds...)
}

// Fetched returns the relations loaded by fetch joins.
func (q *Query) Fetched() []string {
	var out []string
	for _, j := range q.joins {
		if j.fetch {
			out = append(out, j.rel.Name)
		}
	}
	return out
}

type section int

const (
	sectionSelect section = iota
	sectionSet
	sectionWhere
	sectionOrder
)

type parser struct {
	toks       []token
	i          int
	q          *Query
	rootAlias  string
	section    section
	bare       bool // update and delete reference columns without alias
	positional bool
}

// Parse parses query text against a schema.
func Parse(schema *ir.Schema, text string) (*Query, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, q: &Query{text: text, schema: schema}}
	first := p.peek()
	switch {
	case first.is("select"):
		err = p.parseSelect()
	case first.is("update"):
		err = p.parseUpdate()
	case first.is("delete"):
		err = p.parseDelete()
	default:
		err = errorf(first, "expected select, update or delete")
	}
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, errorf(tok, "unexpected token")
	}
	if p.q.named && p.positional {
		return nil, &Error{Pos: -1, Message: "query mixes :name and ?N parameters"}
	}
	return p.q, nil
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) peekAt(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() token {
	tok := p.toks[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

func (p *parser) accept(kw string) bool {
	if p.peek().is(kw) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(kw string) error {
	if !p.accept(kw) {
		return errorf(p.peek(), "expected %q", kw)
	}
	return nil
}

func (p *parser) ident(what string) (token, error) {
	tok := p.next()
	if tok.kind != tokIdent || reserved[strings.ToLower(tok.text)] {
		return tok, errorf(tok, "expected %s", what)
	}
	return tok, nil
}

// parseSelect reads the select list after the from clause, so that every
// alias it may use is known.
func (p *parser) parseSelect() error {
	q := p.q
	q.kind = KindSelect
	p.next()
	q.distinct = p.accept("distinct")

	selStart := p.i
	depth := 0
	for {
		tok := p.peek()
		if tok.kind == tokEOF {
			return errorf(tok, "expected \"from\"")
		}
		if depth == 0 && tok.is("from") {
			break
		}
		if tok.isPunct("(") {
			depth++
		} else if tok.isPunct(")") {
			depth--
		}
		p.next()
	}
	if p.i == selStart {
		return errorf(p.peek(), "empty select list")
	}
	selEnd := p.i
	p.next()
	if err := p.parseRoot(); err != nil {
		return err
	}
	if err := p.parseJoins(); err != nil {
		return err
	}
	afterJoins := p.i

	p.i = selStart
	p.section = sectionSelect
	if err := p.parseResult(selEnd); err != nil {
		return err
	}
	p.i = afterJoins

	if err := p.parseWhere(); err != nil {
		return err
	}
	if p.peek().is("order") {
		p.next()
		if err := p.expect("by"); err != nil {
			return err
		}
		p.section = sectionOrder
		order, err := p.expr()
		if err != nil {
			return err
		}
		if order == "" {
			return errorf(p.peek(), "empty order by")
		}
		q.order = order
	}
	return nil
}

func (p *parser) parseUpdate() error {
	q := p.q
	q.kind = KindUpdate
	p.bare = true
	p.next()
	if err := p.parseRoot(); err != nil {
		return err
	}
	if err := p.expect("set"); err != nil {
		return err
	}
	p.section = sectionSet
	set, err := p.expr("where")
	if err != nil {
		return err
	}
	if set == "" {
		return errorf(p.peek(), "empty set clause")
	}
	q.set = set
	return p.parseWhere()
}

func (p *parser) parseDelete() error {
	p.q.kind = KindDelete
	p.bare = true
	p.next()
	if err := p.expect("from"); err != nil {
		return err
	}
	if err := p.parseRoot(); err != nil {
		return err
	}
	return p.parseWhere()
}

// parseRoot reads "<Entity> [as] <alias>".
func (p *parser) parseRoot() error {
	tok, err := p.ident("entity name")
	if err != nil {
		return err
	}
	root, ok := p.q.schema.Entity(tok.text)
	if !ok {
		return errorf(tok, "unknown entity %q", tok.text)
	}
	p.q.root = root
	p.accept("as")
	alias, err := p.ident("alias")
	if err != nil {
		return err
	}
	if strings.Contains(alias.text, ".") {
		return errorf(alias, "invalid alias")
	}
	p.rootAlias = alias.text
	return nil
}

func (p *parser) parseJoins() error {
	for {
		inner := true
		switch {
		case p.peek().is("left"):
			p.next()
			p.accept("outer")
			inner = false
		case p.peek().is("inner"):
			p.next()
		case p.peek().is("join"):
		default:
			return nil
		}
		if err := p.expect("join"); err != nil {
			return err
		}
		fetch := p.accept("fetch")
		if p.bare {
			return errorf(p.peek(), "joins are not allowed in update or delete")
		}
		pathTok, err := p.ident("join path")
		if err != nil {
			return err
		}
		head, relName, ok := strings.Cut(pathTok.text, ".")
		if !ok || head != p.rootAlias || strings.Contains(relName, ".") {
			return errorf(pathTok, "join path must be <root alias>.<relation>")
		}
		rel, ok := p.q.root.Relation(relName)
		if !ok {
			return errorf(pathTok, "entity %s has no relation %q", p.q.root.Name, relName)
		}
		target, _ := p.q.schema.Entity(rel.Target)
		j := join{rel: rel, target: target, inner: inner, fetch: fetch}
		p.accept("as")
		if tok := p.peek(); tok.kind == tokIdent && !reserved[strings.ToLower(tok.text)] {
			p.next()
			if p.aliasIndex(tok.text) >= 0 || tok.text == p.rootAlias {
				return errorf(tok, "duplicate alias")
			}
			j.name = tok.text
		}
		p.addJoin(j)
	}
}

func (p *parser) addJoin(j join) int {
	j.alias = "t" + strconv.Itoa(len(p.q.joins)+1)
	p.q.joins = append(p.q.joins, j)
	return len(p.q.joins) - 1
}

func (p *parser) aliasIndex(name string) int {
	for i, j := range p.q.joins {
		if j.name != "" && j.name == name {
			return i
		}
	}
	return -1
}

// joinFor returns the join of a relation, adding an implicit inner join
// when the query has none.
func (p *parser) joinFor(rel ir.Relation, target *ir.Entity) int {
	for i, j := range p.q.joins {
		if j.rel.Name == rel.Name {
			return i
		}
	}
	return p.addJoin(join{rel: rel, target: target, inner: true})
}

func (p *parser) parseWhere() error {
	if !p.accept("where") {
		return nil
	}
	p.section = sectionWhere
	where, err := p.expr("order")
	if err != nil {
		return err
	}
	if where == "" {
		return errorf(p.peek(), "empty where clause")
	}
	p.q.where = where
	return nil
}

// parseResult reads the select list up to token index end.
func (p *parser) parseResult(end int) error {
	q := p.q
	if p.peek().is("new") {
		p.next()
		name, err := p.ident("constructor name")
		if err != nil {
			return err
		}
		q.ctor = name.text
		if i := strings.LastIndex(name.text, "."); i >= 0 {
			q.ctor = name.text[i+1:]
		}
		if !p.next().isPunct("(") {
			return errorf(name, "expected ( after constructor name")
		}
		for {
			it, err := p.selectItem()
			if err != nil {
				return err
			}
			q.items = append(q.items, it)
			tok := p.next()
			if tok.isPunct(")") {
				break
			}
			if !tok.isPunct(",") {
				return errorf(tok, "expected , or )")
			}
		}
		if p.i != end {
			return errorf(p.peek(), "unexpected token after constructor expression")
		}
		q.result = ResultDTO
		return nil
	}

	if tok := p.peek(); tok.kind == tokIdent && tok.text == p.rootAlias && p.i+1 == end {
		p.next()
		q.result = ResultEntity
		return nil
	}

	for {
		it, err := p.selectItem()
		if err != nil {
			return err
		}
		if p.accept("as") {
			label, err := p.ident("label")
			if err != nil {
				return err
			}
			it.col.Label = label.text
		}
		q.items = append(q.items, it)
		if p.i == end {
			break
		}
		if tok := p.next(); !tok.isPunct(",") {
			return errorf(tok, "expected ,")
		}
	}
	q.result = ResultScalar
	if len(q.items) > 1 {
		q.result = ResultTuple
	}
	return nil
}

var aggregates = map[string]bool{"count": true, "min": true, "max": true, "sum": true, "avg": true}

// selectItem reads a path or an aggregate over a path.
func (p *parser) selectItem() (item, error) {
	tok := p.next()
	if tok.kind != tokIdent {
		return item{}, errorf(tok, "expected path or aggregate")
	}
	fn := strings.ToLower(tok.text)
	if aggregates[fn] && p.peek().isPunct("(") {
		p.next()
		distinct := p.accept("distinct")
		argTok := p.next()
		if argTok.kind != tokIdent {
			return item{}, errorf(argTok, "expected path")
		}
		arg, err := p.path(argTok)
		if err != nil {
			return item{}, err
		}
		if !p.next().isPunct(")") {
			return item{}, errorf(argTok, "expected )")
		}
		inner := arg.sql
		if distinct {
			inner = "DISTINCT " + inner
		}
		typ := arg.typ
		switch fn {
		case "count":
			typ = ir.TypeInt
		case "avg":
			typ = ir.TypeFloat
		}
		return item{sql: strings.ToUpper(fn) + "(" + inner + ")", col: querysql.Column{Label: fn, Type: typ}}, nil
	}
	r, err := p.path(tok)
	if err != nil {
		return item{}, err
	}
	return item{sql: r.sql, col: querysql.Column{Label: r.label, Type: r.typ}}, nil
}

// resolved is a path translated to a column reference.
type resolved struct {
	sql   string
	typ   ir.ParamType
	label string
}

func (p *parser) column(alias, column string) string {
	if p.bare {
		return column
	}
	return alias + "." + column
}

// path resolves an alias-qualified path to a column.
func (p *parser) path(tok token) (resolved, error) {
	parts := strings.Split(tok.text, ".")
	root := p.q.root
	if parts[0] == p.rootAlias {
		switch len(parts) {
		case 1:
			id := root.IDField()
			return resolved{sql: p.column("t0", id.Column), typ: id.Type, label: id.Name}, nil
		case 2:
			if f, ok := root.Field(parts[1]); ok {
				return resolved{sql: p.column("t0", f.Column), typ: f.Type, label: f.Name}, nil
			}
			rel, ok := root.Relation(parts[1])
			if !ok {
				return resolved{}, errorf(tok, "entity %s has no field %q", root.Name, parts[1])
			}
			if rel.Kind != ir.RelationOne {
				return resolved{}, errorf(tok, "collection %q must be joined with an alias", rel.Name)
			}
			target, _ := p.q.schema.Entity(rel.Target)
			return resolved{
				sql:   p.column("t0", rel.Column),
				typ:   target.IDField().Type,
				label: querysql.RelationLabel(rel.Name, target.ID),
			}, nil
		case 3:
			rel, ok := root.Relation(parts[1])
			if !ok {
				return resolved{}, errorf(tok, "entity %s has no relation %q", root.Name, parts[1])
			}
			if rel.Kind != ir.RelationOne {
				return resolved{}, errorf(tok, "collection %q must be joined with an alias", rel.Name)
			}
			target, _ := p.q.schema.Entity(rel.Target)
			f, ok := target.Field(parts[2])
			if !ok {
				return resolved{}, errorf(tok, "entity %s has no field %q", target.Name, parts[2])
			}
			label := querysql.RelationLabel(rel.Name, f.Name)
			if f.Name == target.ID {
				return resolved{sql: p.column("t0", rel.Column), typ: f.Type, label: label}, nil
			}
			if p.bare {
				return resolved{}, errorf(tok, "relation paths are not allowed in update or delete")
			}
			j := p.touch(p.joinFor(rel, target))
			return resolved{sql: j.alias + "." + f.Column, typ: f.Type, label: label}, nil
		}
		return resolved{}, errorf(tok, "path is too deep")
	}

	idx := p.aliasIndex(parts[0])
	if idx < 0 {
		return resolved{}, errorf(tok, "unknown identifier %q", parts[0])
	}
	j := p.touch(idx)
	switch len(parts) {
	case 1:
		id := j.target.IDField()
		return resolved{sql: j.alias + "." + id.Column, typ: id.Type, label: querysql.RelationLabel(j.rel.Name, id.Name)}, nil
	case 2:
		f, ok := j.target.Field(parts[1])
		if !ok {
			return resolved{}, errorf(tok, "entity %s has no field %q", j.target.Name, parts[1])
		}
		return resolved{sql: j.alias + "." + f.Column, typ: f.Type, label: querysql.RelationLabel(j.rel.Name, f.Name)}, nil
	}
	return resolved{}, errorf(tok, "path is too deep")
}

// touch records a reference to a join and returns it.
func (p *parser) touch(idx int) *join {
	j := &p.q.joins[idx]
	if p.section == sectionWhere {
		j.filtering = true
	}
	return j
}
