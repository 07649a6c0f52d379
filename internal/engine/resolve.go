package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/repoql/internal/derive"
	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/pql"
	"github.com/roach88/repoql/internal/projection"
	"github.com/roach88/repoql/internal/queryir"
	"github.com/roach88/repoql/internal/querysql"
)

// Strategy names the query source an operation resolved to.
type Strategy string

const (
	StrategyExplicit Strategy = "explicit"
	StrategyNamed    Strategy = "named"
	StrategyCustom   Strategy = "custom"
	StrategyDerived  Strategy = "derived"
)

// plan is the registration-time form of an operation. Exactly one of
// delegate, tree, query and native is set.
type plan struct {
	op       ir.Operation
	key      string
	strategy Strategy
	meta     *ir.Entity // root entity of the statement
	values   []ir.Param
	names    map[string]int // value parameter name -> position

	delegate Delegate

	tree *derive.Tree

	query *pql.Query
	count *pql.Query // explicit count text

	native      string
	nativeCount string

	fetch    []string
	bulk     *ir.Modifying // non-nil for statements that write
	variants map[string]*variant
}

// variant is one projection of the content statement. Plain operations
// have one variant keyed ""; dynamic operations have one per shape.
type variant struct {
	name    string
	target  projection.Target
	columns []queryir.Path // pruned select list, derived selects only
	fetch   []string

	// Native statements can only be checked against the labels the store
	// reports, so the check runs on the first call.
	once     sync.Once
	checkErr error
}

func (p *plan) isNative() bool {
	return p.native != ""
}

// selects reports whether the plan runs a content select.
func (p *plan) selects() bool {
	if p.bulk != nil || p.delegate != nil {
		return false
	}
	return p.tree == nil || p.tree.Subject.Kind == derive.KindFind
}

// resolve picks the query source of op and builds its plan. Resolution
// order: explicit text, named query, custom delegate, derivation.
func (e *Engine) resolve(op ir.Operation, custom Delegate) (*plan, error) {
	key := op.ID.String()
	if err := op.Validate(); err != nil {
		return nil, invalidQuery(key, err, "invalid operation descriptor")
	}
	meta, ok := e.schema.Entity(op.Entity)
	if !ok {
		return nil, invalidQuery(key, nil, "unknown entity %q", op.Entity)
	}
	p := &plan{op: op, key: key, meta: meta, values: op.ValueParams(), names: make(map[string]int)}
	for i, v := range p.values {
		p.names[v.Name] = i
	}

	text, native, countText := op.Query, op.Native, op.CountQuery
	switch {
	case op.Query != "" && custom != nil:
		return nil, &ResolutionError{
			Code:    ErrAmbiguousStrategy,
			Op:      key,
			Message: "explicit query text and a custom delegate are both supplied",
		}
	case op.Query != "":
		p.strategy = StrategyExplicit
	default:
		nq, found := e.schema.NamedQuery(op.NamedQueryKey())
		switch {
		case found:
			p.strategy = StrategyNamed
			text, native = nq.Query, nq.Native
			if countText == "" {
				countText = nq.CountQuery
			}
		case op.NamedQuery != "":
			return nil, &ResolutionError{
				Code:    ErrNoStrategyApplicable,
				Op:      key,
				Message: fmt.Sprintf("named query %q is not registered", op.NamedQuery),
			}
		case custom != nil:
			p.strategy = StrategyCustom
			p.delegate = custom
			return p, nil
		default:
			p.strategy = StrategyDerived
		}
	}

	var err error
	switch {
	case p.strategy == StrategyDerived:
		err = e.planDerived(p)
	case native:
		err = e.planNative(p, text, countText)
	default:
		err = e.planQuery(p, text, countText)
	}
	if err != nil {
		return nil, err
	}

	if p.bulk != nil && !p.bulk.Clear {
		e.logger.Warn("bulk statement leaves the working set as is; tracked copies of affected records may be stale",
			"op", key,
		)
	}
	if p.selects() && p.windowed() && p.fetchesCollection(p.variant("")) {
		e.logger.Warn("collection fetch with a row window; root records are windowed in memory",
			"op", key,
		)
	}
	return p, nil
}

// windowed reports whether calls to p read a bounded row window.
func (p *plan) windowed() bool {
	switch p.op.Returns {
	case ir.ReturnPage, ir.ReturnSlice:
		return true
	}
	return p.rowWindow(window{}).limit > 0
}

// planDerived derives the statement from the method name.
func (e *Engine) planDerived(p *plan) error {
	op := p.op
	tree, err := derive.Parse(e.schema, op.Entity, op.ID.Method, len(p.values))
	if errors.Is(err, derive.ErrNotDerivable) {
		return &ResolutionError{
			Code:    ErrNoStrategyApplicable,
			Op:      p.key,
			Message: "no query text, named query or custom delegate, and the method name is not derivable",
			Cause:   err,
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", p.key, err)
	}
	p.tree = tree

	switch tree.Subject.Kind {
	case derive.KindFind:
		if op.Modifying != nil {
			return invalidQuery(p.key, nil, "a derived select cannot be modifying")
		}
		if p.fetch, err = e.fetchPaths(op, p.meta); err != nil {
			return invalidQuery(p.key, err, "invalid fetch")
		}
		if err := e.planVariants(p, projection.EntityTarget{}); err != nil {
			return err
		}
		return e.checkVariants(p)

	case derive.KindDelete:
		p.bulk = &ir.Modifying{}
		if op.Modifying != nil {
			p.bulk = op.Modifying
		}
	}

	if op.Returns.Paged() || op.Projection != "" || len(op.Shapes) > 0 || op.Fetch != nil {
		return invalidQuery(p.key, nil, "%s operations return a single value", tree.Subject.Kind)
	}
	if _, err := e.compiler.Compile(tree.Query(p.meta.Name)); err != nil {
		return invalidQuery(p.key, err, "derived statement does not compile")
	}
	return nil
}

// planQuery parses portable query text.
func (e *Engine) planQuery(p *plan, text, countText string) error {
	op := p.op
	q, err := pql.Parse(e.schema, text)
	if err != nil {
		return invalidQuery(p.key, err, "query does not parse")
	}
	meta, _ := e.schema.Entity(q.Entity())
	p.meta = meta
	if _, err := p.resolveBinds(q.Binds()); err != nil {
		return err
	}

	if q.Kind() != pql.KindSelect {
		if op.Modifying == nil {
			return invalidQuery(p.key, nil, "%s query needs a modifying operation", q.Kind())
		}
		if op.Returns.Paged() || op.Projection != "" || len(op.Shapes) > 0 || op.Fetch != nil {
			return invalidQuery(p.key, nil, "%s query returns an affected row count", q.Kind())
		}
		p.query = q
		p.bulk = op.Modifying
		return nil
	}
	if op.Modifying != nil {
		return invalidQuery(p.key, nil, "a select cannot be modifying")
	}

	if p.fetch, err = e.fetchPaths(op, p.meta); err != nil {
		return invalidQuery(p.key, err, "invalid fetch")
	}
	if q, err = q.WithFetch(p.fetch); err != nil {
		return invalidQuery(p.key, err, "invalid fetch")
	}
	p.query = q

	if op.Returns == ir.ReturnPage {
		if countText != "" {
			cq, err := pql.Parse(e.schema, countText)
			if err != nil {
				return invalidQuery(p.key, err, "count query does not parse")
			}
			if cq.Kind() != pql.KindSelect || cq.Result() != pql.ResultScalar {
				return invalidQuery(p.key, nil, "count query must select a single value")
			}
			p.count = cq
		}
		if _, err := e.countStatement(p); err != nil {
			return err
		}
	}

	fallback, err := e.resultTarget(p, q)
	if err != nil {
		return err
	}
	if err := e.planVariants(p, fallback); err != nil {
		return err
	}
	return e.checkVariants(p)
}

// planNative keeps native text as is. Its select list is unknown until the
// store reports it, so projection checks wait for the first call.
func (e *Engine) planNative(p *plan, text, countText string) error {
	op := p.op
	for _, v := range p.values {
		if v.Type == ir.TypeCollection {
			return invalidQuery(p.key, nil, "native statements take no collection parameter (%q)", v.Name)
		}
	}
	if op.Fetch != nil {
		return invalidQuery(p.key, nil, "fetch strategies do not apply to native statements")
	}
	p.native = text
	p.nativeCount = countText
	if op.Modifying != nil {
		if op.Returns.Paged() || op.Projection != "" || len(op.Shapes) > 0 {
			return invalidQuery(p.key, nil, "modifying native statement returns an affected row count")
		}
		p.bulk = op.Modifying
		return nil
	}
	if op.Returns == ir.ReturnPage && countText == "" {
		return invalidQuery(p.key, nil, "paged native query needs a count query")
	}
	return e.planVariants(p, projection.EntityTarget{})
}

// resultTarget maps the select list of a portable query to its default
// projection target.
func (e *Engine) resultTarget(p *plan, q *pql.Query) (projection.Target, error) {
	switch q.Result() {
	case pql.ResultScalar:
		return projection.ScalarTarget{}, nil
	case pql.ResultTuple:
		return projection.TupleTarget{}, nil
	case pql.ResultDTO:
		ctor, ok := e.ctors.Lookup(q.Constructor())
		if !ok {
			return nil, fmt.Errorf("%s: %w", p.key, &projection.Error{
				Code:    projection.ErrConstructorMismatch,
				Target:  q.Constructor(),
				Message: "constructor is not registered",
			})
		}
		return projection.DTOTarget{Ctor: ctor}, nil
	}
	return projection.EntityTarget{}, nil
}

// planVariants builds the projection variants. A dynamic operation gets
// one per declared shape plus the full entity under the entity name.
func (e *Engine) planVariants(p *plan, fallback projection.Target) error {
	p.variants = make(map[string]*variant)
	if len(p.op.Shapes) == 0 {
		v := &variant{target: fallback, fetch: p.fetch}
		if p.op.Projection != "" {
			var err error
			if v, err = e.shapeVariant(p, p.op.Projection); err != nil {
				return err
			}
			v.name = ""
		}
		p.variants[""] = v
		return nil
	}
	p.variants[p.meta.Name] = &variant{name: p.meta.Name, target: fallback, fetch: p.fetch}
	for _, name := range p.op.Shapes {
		v, err := e.shapeVariant(p, name)
		if err != nil {
			return err
		}
		p.variants[name] = v
	}
	return nil
}

// shapeVariant builds the variant of a named closed projection or
// constructor. Derived selects prune their select list to the shape's
// accessors; a nested accessor joins its relation only when the
// operation fetches it, and is otherwise resolved by secondary fetches.
func (e *Engine) shapeVariant(p *plan, name string) (*variant, error) {
	if ctor, ok := e.ctors.Lookup(name); ok {
		if p.tree != nil {
			return nil, invalidQuery(p.key, nil, "constructor projection %q needs a select new query", name)
		}
		return &variant{name: name, target: projection.DTOTarget{Ctor: ctor}, fetch: p.fetch}, nil
	}
	shape, ok := e.schema.Projection(name)
	if !ok {
		return nil, invalidQuery(p.key, nil, "unknown projection %q", name)
	}
	if err := e.projector.CheckShape(p.meta.Name, shape); err != nil {
		return nil, fmt.Errorf("%s: %w", p.key, err)
	}
	v := &variant{name: name, target: projection.ShapeTarget{Shape: shape}, fetch: p.fetch}
	if p.tree == nil {
		return v, nil
	}

	v.fetch = nil
	for _, a := range shape.Accessors {
		if len(a.Nested) == 0 {
			v.columns = append(v.columns, queryir.Path{Field: a.Name})
			continue
		}
		rel, _ := p.meta.Relation(a.Name)
		target, _ := e.schema.Entity(rel.Target)
		if contains(p.fetch, a.Name) {
			v.fetch = append(v.fetch, a.Name)
			for _, n := range a.Nested {
				v.columns = append(v.columns, queryir.Path{Relation: a.Name, Field: n})
			}
		}
		v.columns = append(v.columns, queryir.Path{Relation: a.Name, Field: target.ID})
	}
	return v, nil
}

// checkVariants renders every variant once and checks its target against
// the select list.
func (e *Engine) checkVariants(p *plan) error {
	for _, v := range p.variants {
		stmt, err := e.content(p, v, window{})
		if err != nil {
			return invalidQuery(p.key, err, "statement does not compile")
		}
		if err := e.projector.Check(stmt, v.target); err != nil {
			return fmt.Errorf("%s: %w", p.key, err)
		}
	}
	return nil
}

// resolveBinds turns :name placeholders into value parameter positions
// and checks positional ones.
func (p *plan) resolveBinds(binds []querysql.Bind) ([]querysql.Bind, error) {
	out := make([]querysql.Bind, len(binds))
	for i, b := range binds {
		if b.Name != "" {
			pos, ok := p.names[b.Name]
			if !ok {
				return nil, invalidQuery(p.key, nil, "query names undeclared parameter :%s", b.Name)
			}
			b.Param = pos
		}
		if b.Param < 0 || b.Param >= len(p.values) {
			return nil, invalidQuery(p.key, nil, "query binds parameter ?%d, operation declares %d", b.Param+1, len(p.values))
		}
		out[i] = b
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
