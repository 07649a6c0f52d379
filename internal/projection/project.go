package projection

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/querysql"
	"github.com/roach88/repoql/internal/store"
)

// Projector builds targets from materialized rows.
type Projector struct {
	schema *ir.Schema
}

// NewProjector creates a projector over a schema.
func NewProjector(schema *ir.Schema) *Projector {
	return &Projector{schema: schema}
}

// Columns turns store labels into untyped statement columns, for
// statements whose select list is only known after execution.
func Columns(labels []string) []querysql.Column {
	cols := make([]querysql.Column, len(labels))
	for i, l := range labels {
		cols[i] = querysql.Column{Label: l}
	}
	return cols
}

// CheckShape verifies every accessor of a shape names a field of entity,
// or a single-valued relation whose nested accessors name target fields.
func (p *Projector) CheckShape(entity string, shape *ir.Projection) error {
	meta, ok := p.schema.Entity(entity)
	if !ok {
		return unmappable(shape.Name, "", "unknown entity %q", entity)
	}
	for _, a := range shape.Accessors {
		if len(a.Nested) == 0 {
			if _, ok := meta.Field(a.Name); !ok {
				return unmappable(shape.Name, a.Name, "entity %s has no field %q", meta.Name, a.Name)
			}
			continue
		}
		rel, ok := meta.Relation(a.Name)
		if !ok || rel.Kind != ir.RelationOne {
			return unmappable(shape.Name, a.Name, "entity %s has no single-valued relation %q", meta.Name, a.Name)
		}
		target, _ := p.schema.Entity(rel.Target)
		for _, n := range a.Nested {
			if _, ok := target.Field(n); !ok {
				return unmappable(shape.Name, a.Name+"."+n, "entity %s has no field %q", target.Name, n)
			}
		}
	}
	return nil
}

// Check verifies that t can be built from the columns of stmt.
func (p *Projector) Check(stmt *querysql.Statement, t Target) error {
	meta, _ := p.schema.Entity(stmt.Entity)
	cols := stmt.Columns
	switch t := t.(type) {
	case EntityTarget:
		if meta == nil {
			return unmappable(stmt.Entity, "", "unknown entity")
		}
		m := p.mapColumns(meta, cols)
		if _, ok := m.fields[meta.ID]; !ok {
			return unmappable(meta.Name, meta.ID, "select list has no identifier column")
		}
	case ScalarTarget:
		if len(cols) != 1 {
			return unmappable("scalar", "", "select list has %d columns, want 1", len(cols))
		}
	case ShapeTarget:
		_, err := p.shapePlan(meta, cols, t.Shape)
		return err
	case DTOTarget:
		return t.Ctor.Check(cols)
	}
	return nil
}

// Project builds one target value per result record. Entity records are
// de-duplicated by identifier, so rows widened by a collection fetch fold
// back into their root.
func (p *Projector) Project(ctx context.Context, stmt *querysql.Statement, rs *store.RowSet, t Target, loader Loader) ([]any, error) {
	cols := stmt.Columns
	if len(cols) == 0 {
		cols = Columns(rs.Columns)
	}
	if len(cols) != len(rs.Columns) {
		return nil, fmt.Errorf("statement selects %d columns, store returned %d", len(cols), len(rs.Columns))
	}
	meta, _ := p.schema.Entity(stmt.Entity)
	b := &builder{
		schema:  p.schema,
		loader:  loader,
		fetched: make(map[string]bool, len(stmt.Fetched)),
		refs:    make(map[string]*Ref),
		related: make(map[string]*Entity),
	}
	for _, f := range stmt.Fetched {
		b.fetched[f] = true
	}

	out := make([]any, 0, rs.Len())
	switch t := t.(type) {
	case EntityTarget:
		if meta == nil {
			return nil, unmappable(stmt.Entity, "", "unknown entity")
		}
		m := p.mapColumns(meta, cols)
		roots := make(map[string]*Entity)
		for _, row := range rs.Rows {
			e := b.entity(meta, m, row)
			if id := e.ID(); id != nil {
				if prev, ok := roots[idKey(id)]; ok {
					b.merge(prev, e)
					continue
				}
				roots[idKey(id)] = e
			}
			out = append(out, e)
		}
	case ScalarTarget:
		if len(cols) != 1 {
			return nil, unmappable("scalar", "", "select list has %d columns, want 1", len(cols))
		}
		for _, row := range rs.Rows {
			out = append(out, normalize(row[0], cols[0].Type))
		}
	case TupleTarget:
		for _, row := range rs.Rows {
			out = append(out, normalizeRow(cols, row))
		}
	case DTOTarget:
		for _, row := range rs.Rows {
			v, err := t.Ctor.Call(normalizeRow(cols, row))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	case ShapeTarget:
		plan, err := p.shapePlan(meta, cols, t.Shape)
		if err != nil {
			return nil, err
		}
		views, err := b.views(ctx, plan, rs.Rows)
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			out = append(out, v)
		}
	default:
		return nil, fmt.Errorf("unsupported target %v", t)
	}
	return out, nil
}

func normalizeRow(cols []querysql.Column, row []any) []any {
	vals := make([]any, len(row))
	for i, v := range row {
		vals[i] = normalize(v, cols[i].Type)
	}
	return vals
}

// columnMap locates entity data in a select list.
type columnMap struct {
	fields map[string]int            // root field -> column
	rel    map[string]map[string]int // relation -> target field -> column
	fk     map[string]int            // single-valued relation -> foreign key column
}

// mapColumns resolves labels against an entity. A label is, in order: a
// field name, a relation label (team__name), a field column, or the
// foreign key column of a single-valued relation.
func (p *Projector) mapColumns(meta *ir.Entity, cols []querysql.Column) columnMap {
	m := columnMap{
		fields: make(map[string]int),
		rel:    make(map[string]map[string]int),
		fk:     make(map[string]int),
	}
	for i, c := range cols {
		if _, ok := meta.Field(c.Label); ok {
			m.fields[c.Label] = i
			continue
		}
		if relName, field, ok := querysql.SplitLabel(c.Label); ok {
			if rel, ok := meta.Relation(relName); ok {
				if m.rel[relName] == nil {
					m.rel[relName] = make(map[string]int)
				}
				m.rel[relName][field] = i
				if target, ok := p.schema.Entity(rel.Target); ok && rel.Kind == ir.RelationOne && field == target.ID {
					m.fk[relName] = i
				}
				continue
			}
		}
		if f, ok := meta.FieldByColumn(c.Label); ok {
			if _, dup := m.fields[f.Name]; !dup {
				m.fields[f.Name] = i
			}
			continue
		}
		for _, rel := range meta.Relations {
			if rel.Kind == ir.RelationOne && strings.EqualFold(rel.Column, c.Label) {
				if _, dup := m.fk[rel.Name]; !dup {
					m.fk[rel.Name] = i
				}
				break
			}
		}
	}
	return m
}

type builder struct {
	schema  *ir.Schema
	loader  Loader
	fetched map[string]bool
	refs    map[string]*Ref    // target#id -> shared handle
	related map[string]*Entity // target#id -> fetched record
}

func relatedKey(target string, id any) string {
	return target + "#" + idKey(id)
}

func (b *builder) entity(meta *ir.Entity, m columnMap, row []any) *Entity {
	e := NewEntity(meta)
	for _, f := range meta.Fields {
		if i, ok := m.fields[f.Name]; ok {
			e.values[f.Name] = normalize(row[i], f.Type)
		}
	}
	for _, rel := range meta.Relations {
		target, ok := b.schema.Entity(rel.Target)
		if !ok {
			continue
		}
		switch rel.Kind {
		case ir.RelationOne:
			i, ok := m.fk[rel.Name]
			if !ok {
				continue
			}
			id := normalize(row[i], target.IDField().Type)
			if id == nil {
				e.refs[rel.Name] = nil
				continue
			}
			key := relatedKey(target.Name, id)
			if r, ok := b.refs[key]; ok {
				e.refs[rel.Name] = r
				continue
			}
			var r *Ref
			if b.fetched[rel.Name] {
				r = Resolved(b.fetchedRecord(target, m.rel[rel.Name], row))
			} else {
				r = NewRef(target.Name, id, b.loader)
			}
			b.refs[key] = r
			e.refs[rel.Name] = r
		case ir.RelationMany:
			if b.fetched[rel.Name] {
				c := &Collection{target: target.Name, column: rel.Column, owner: e.ID(), loaded: true, items: []*Entity{}}
				if i, ok := m.rel[rel.Name][target.ID]; ok && row[i] != nil {
					c.add(b.fetchedRecord(target, m.rel[rel.Name], row))
				}
				e.colls[rel.Name] = c
			} else if id := e.ID(); id != nil {
				e.colls[rel.Name] = NewCollection(target.Name, rel.Column, id, b.loader)
			}
		}
	}
	return e
}

// fetchedRecord builds a related record from joined columns, once per
// identifier. Its own relations are not selected and stay empty.
func (b *builder) fetchedRecord(meta *ir.Entity, cols map[string]int, row []any) *Entity {
	id := normalize(row[cols[meta.ID]], meta.IDField().Type)
	key := relatedKey(meta.Name, id)
	if e, ok := b.related[key]; ok {
		return e
	}
	e := NewEntity(meta)
	for _, f := range meta.Fields {
		if i, ok := cols[f.Name]; ok {
			e.values[f.Name] = normalize(row[i], f.Type)
		}
	}
	b.related[key] = e
	return e
}

// merge folds the fetched collections of a duplicate root into the first.
func (b *builder) merge(into, dup *Entity) {
	for name, c := range dup.colls {
		if !b.fetched[name] {
			continue
		}
		target := into.colls[name]
		for _, item := range c.items {
			target.add(item)
		}
	}
}

// shapePlan locates every accessor of a shape in a select list.
type shapePlan struct {
	shape  *ir.Projection
	flat   map[string]flatSource
	nested map[string]nestedSource
}

type flatSource struct {
	col int
	typ ir.ParamType
}

type nestedSource struct {
	target *ir.Entity
	cols   map[string]int // joined target columns; nil when only the key is selected
	fk     int
}

func (p *Projector) shapePlan(meta *ir.Entity, cols []querysql.Column, shape *ir.Projection) (*shapePlan, error) {
	plan := &shapePlan{shape: shape, flat: make(map[string]flatSource), nested: make(map[string]nestedSource)}
	var m columnMap
	if meta != nil {
		m = p.mapColumns(meta, cols)
	}
	for _, a := range shape.Accessors {
		if len(a.Nested) == 0 {
			src, ok := flatColumn(meta, m, cols, a.Name)
			if !ok {
				return nil, unmappable(shape.Name, a.Name, "no column in the select list")
			}
			plan.flat[a.Name] = src
			continue
		}
		if meta == nil {
			return nil, unmappable(shape.Name, a.Name, "nested accessor needs an entity query")
		}
		rel, ok := meta.Relation(a.Name)
		if !ok || rel.Kind != ir.RelationOne {
			return nil, unmappable(shape.Name, a.Name, "entity %s has no single-valued relation %q", meta.Name, a.Name)
		}
		target, _ := p.schema.Entity(rel.Target)
		fk, hasKey := m.fk[rel.Name]
		src := nestedSource{target: target, fk: fk}
		joined := true
		for _, n := range a.Nested {
			if _, ok := m.rel[rel.Name][n]; !ok {
				joined = false
				break
			}
		}
		switch {
		case joined && hasKey:
			src.cols = m.rel[rel.Name]
		case hasKey:
		default:
			return nil, unmappable(shape.Name, a.Name, "relation %q is neither fetched nor keyed in the select list", a.Name)
		}
		plan.nested[a.Name] = src
	}
	return plan, nil
}

func flatColumn(meta *ir.Entity, m columnMap, cols []querysql.Column, name string) (flatSource, bool) {
	if meta != nil {
		if i, ok := m.fields[name]; ok {
			f, _ := meta.Field(name)
			return flatSource{col: i, typ: f.Type}, true
		}
	}
	for i, c := range cols {
		if c.Label == name {
			return flatSource{col: i, typ: c.Type}, true
		}
	}
	for i, c := range cols {
		if strings.EqualFold(c.Label, name) {
			return flatSource{col: i, typ: c.Type}, true
		}
	}
	return flatSource{}, false
}

type pendingNested struct {
	view   *View
	key    string
	target *ir.Entity
	id     any
	fields []string
}

// views builds one view per row. Nested accessors whose relation was not
// joined are filled afterwards with one load per distinct key.
func (b *builder) views(ctx context.Context, plan *shapePlan, rows [][]any) ([]*View, error) {
	out := make([]*View, 0, len(rows))
	var pending []pendingNested
	for _, row := range rows {
		v := newView(plan.shape.Name, len(plan.shape.Accessors))
		for _, a := range plan.shape.Accessors {
			if len(a.Nested) == 0 {
				src := plan.flat[a.Name]
				v.put(a.Name, normalize(row[src.col], src.typ))
				continue
			}
			src := plan.nested[a.Name]
			id := normalize(row[src.fk], src.target.IDField().Type)
			if id == nil {
				v.put(a.Name, nil)
				continue
			}
			if src.cols == nil {
				v.put(a.Name, nil)
				pending = append(pending, pendingNested{view: v, key: a.Name, target: src.target, id: id, fields: a.Nested})
				continue
			}
			n := newView(a.Name, len(a.Nested))
			for _, f := range a.Nested {
				fld, _ := src.target.Field(f)
				n.put(f, normalize(row[src.cols[f]], fld.Type))
			}
			v.put(a.Name, n)
		}
		out = append(out, v)
	}

	loaded := make(map[string]*Entity)
	for _, pn := range pending {
		key := relatedKey(pn.target.Name, pn.id)
		e, ok := loaded[key]
		if !ok {
			if b.loader == nil {
				return nil, fmt.Errorf("load %s %v: no loader", pn.target.Name, pn.id)
			}
			var err error
			e, err = b.loader.Load(ctx, pn.target.Name, pn.id)
			if err != nil {
				return nil, err
			}
			loaded[key] = e
		}
		if e == nil {
			continue
		}
		n := newView(pn.key, len(pn.fields))
		for _, f := range pn.fields {
			n.put(f, e.Get(f))
		}
		pn.view.put(pn.key, n)
	}
	return out, nil
}
