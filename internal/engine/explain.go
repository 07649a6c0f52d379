package engine

import (
	"fmt"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/querysql"
)

// Explanation describes the resolved plan of one operation without
// running it. Statements are rendered with '?' placeholders and no row
// window.
type Explanation struct {
	Op       string              `json:"op"`
	Strategy Strategy            `json:"strategy"`
	Returns  ir.ReturnKind       `json:"returns"`
	Fetch    []string            `json:"fetch,omitempty"`
	Bulk     *ir.Modifying       `json:"bulk,omitempty"`
	Shapes   map[string]string   `json:"shapes,omitempty"` // variant name -> target
	Content  *querysql.Statement `json:"content,omitempty"`
	Count    *querysql.Statement `json:"count,omitempty"`

	// Deferred lists the lookup run per distinct record when a deferred
	// relation of a result is accessed.
	Deferred map[string]string `json:"deferred,omitempty"`
}

// Explain describes the plan of a method.
func (r *Repository) Explain(method string) (*Explanation, error) {
	p, ok := r.plans[method]
	if !ok {
		return nil, fmt.Errorf("%s: no method %q", r.contract.Name, method)
	}
	e := r.engine
	x := &Explanation{
		Op:       p.key,
		Strategy: p.strategy,
		Returns:  p.op.Returns,
		Fetch:    p.fetch,
		Bulk:     p.bulk,
	}
	if p.delegate != nil {
		return x, nil
	}

	var err error
	switch {
	case p.bulk != nil:
		x.Content, err = e.bulkStatement(p)
	case !p.selects():
		x.Content, err = e.compiler.Compile(p.tree.Query(p.meta.Name))
	default:
		v := p.variant("")
		w, _ := p.splitWindow(v, window{})
		x.Content, err = e.content(p, v, w)
		if err == nil && p.op.Returns == ir.ReturnPage {
			x.Count, err = e.countStatement(p)
		}
	}
	if err != nil {
		return nil, err
	}

	if len(p.variants) > 0 {
		x.Shapes = make(map[string]string, len(p.variants))
		for name, v := range p.variants {
			x.Shapes[name] = v.target.String()
		}
	}
	if p.selects() {
		x.Deferred = e.deferred(p)
	}
	return x, nil
}

// deferred renders the lookups of the relations the plan leaves deferred.
func (e *Engine) deferred(p *plan) map[string]string {
	out := make(map[string]string)
	for _, rel := range p.meta.Relations {
		if contains(p.fetch, rel.Name) {
			continue
		}
		column := rel.Column
		if rel.Kind == ir.RelationOne {
			target, ok := e.schema.Entity(rel.Target)
			if !ok {
				continue
			}
			column = target.IDField().Column
		}
		stmt, err := e.lookupStatement(rel.Target, column)
		if err != nil {
			continue
		}
		out[rel.Name] = stmt.SQL
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
