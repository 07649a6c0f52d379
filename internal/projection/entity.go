package projection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/repoql/internal/ir"
)

// Entity is one record of a mapped entity. Field values are keyed by field
// name. Relations are reached through deferred handles.
type Entity struct {
	meta   *ir.Entity
	values map[string]any
	refs   map[string]*Ref
	colls  map[string]*Collection
}

// NewEntity creates an empty record of an entity.
func NewEntity(meta *ir.Entity) *Entity {
	return &Entity{
		meta:   meta,
		values: make(map[string]any, len(meta.Fields)),
		refs:   make(map[string]*Ref),
		colls:  make(map[string]*Collection),
	}
}

// Type returns the entity name.
func (e *Entity) Type() string {
	return e.meta.Name
}

// Meta returns the entity mapping.
func (e *Entity) Meta() *ir.Entity {
	return e.meta
}

// ID returns the identifier value, nil for a record not yet stored.
func (e *Entity) ID() any {
	return e.values[e.meta.ID]
}

// Get returns a field value. Unknown and unset fields read as nil.
func (e *Entity) Get(field string) any {
	return e.values[field]
}

// Has reports whether a field value was loaded or set.
func (e *Entity) Has(field string) bool {
	_, ok := e.values[field]
	return ok
}

// Set assigns a field value, converted to the field's canonical Go type
// where possible.
func (e *Entity) Set(field string, v any) error {
	f, ok := e.meta.Field(field)
	if !ok {
		return fmt.Errorf("entity %q has no field %q", e.meta.Name, field)
	}
	e.values[field] = normalize(v, f.Type)
	return nil
}

// String returns a string field, "" when unset or of another type.
func (e *Entity) String(field string) string {
	s, _ := e.values[field].(string)
	return s
}

// Int returns an integer field, 0 when unset or of another type.
func (e *Entity) Int(field string) int64 {
	n, _ := e.values[field].(int64)
	return n
}

// Values returns a copy of the field values.
func (e *Entity) Values() map[string]any {
	out := make(map[string]any, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Ref returns the handle of a single-valued relation, nil when the
// relation is empty or was not selected.
func (e *Entity) Ref(name string) *Ref {
	return e.refs[name]
}

// RefSet reports whether a single-valued relation was selected or set,
// including an empty one.
func (e *Entity) RefSet(name string) bool {
	_, ok := e.refs[name]
	return ok
}

// SetRef points a single-valued relation at another record. A nil ref
// empties the relation.
func (e *Entity) SetRef(name string, r *Ref) error {
	rel, ok := e.meta.Relation(name)
	if !ok || rel.Kind != ir.RelationOne {
		return fmt.Errorf("entity %q has no single-valued relation %q", e.meta.Name, name)
	}
	e.refs[name] = r
	return nil
}

// Collection returns the handle of a collection relation, nil when the
// record has no identifier yet.
func (e *Entity) Collection(name string) *Collection {
	return e.colls[name]
}

// Clone returns a copy of the record. Relation handles are shared.
func (e *Entity) Clone() *Entity {
	out := NewEntity(e.meta)
	for k, v := range e.values {
		out.values[k] = v
	}
	for k, r := range e.refs {
		out.refs[k] = r
	}
	for k, c := range e.colls {
		out.colls[k] = c
	}
	return out
}

// MarshalJSON renders fields in declaration order followed by relations.
// A loaded relation renders as the related record; a deferred one renders
// as its identifier only.
func (e *Entity) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	w := objectWriter{buf: &buf}
	buf.WriteByte('{')
	for _, f := range e.meta.Fields {
		v, ok := e.values[f.Name]
		if !ok {
			continue
		}
		if err := w.field(f.Name, v); err != nil {
			return nil, err
		}
	}
	for _, rel := range e.meta.Relations {
		switch rel.Kind {
		case ir.RelationOne:
			r, ok := e.refs[rel.Name]
			if !ok {
				continue
			}
			var v any
			switch {
			case r == nil:
				v = nil
			case r.Loaded():
				v = r.value
			default:
				v = map[string]any{"id": r.id}
			}
			if err := w.field(rel.Name, v); err != nil {
				return nil, err
			}
		case ir.RelationMany:
			c, ok := e.colls[rel.Name]
			if !ok || !c.Loaded() {
				continue
			}
			if err := w.field(rel.Name, c.items); err != nil {
				return nil, err
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// objectWriter writes the members of a JSON object in call order.
type objectWriter struct {
	buf *bytes.Buffer
	n   int
}

func (w *objectWriter) field(key string, v any) error {
	if w.n > 0 {
		w.buf.WriteByte(',')
	}
	w.n++
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	w.buf.Write(k)
	w.buf.WriteByte(':')
	w.buf.Write(val)
	return nil
}
