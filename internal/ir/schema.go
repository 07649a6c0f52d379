package ir

import (
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
)

// Field maps an entity attribute onto a column.
type Field struct {
	Name   string    `json:"name"`
	Column string    `json:"column"`
	Type   ParamType `json:"type"`
}

// RelationKind is the cardinality of a relation seen from its owner.
type RelationKind string

const (
	// RelationOne is a many-to-one reference held as a foreign-key column
	// on the owning table.
	RelationOne RelationKind = "one"

	// RelationMany is a one-to-many collection whose foreign-key column
	// lives on the target table.
	RelationMany RelationKind = "many"
)

// Relation links an entity to another entity.
type Relation struct {
	Name   string       `json:"name"`
	Target string       `json:"target"`
	Kind   RelationKind `json:"kind"`
	Column string       `json:"column"` // owner FK for RelationOne, target FK for RelationMany
}

// AuditColumns names the fields carrying audit metadata. The core never
// populates them; the working set owning mutation does.
type AuditColumns struct {
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// Entity is the relational mapping of one domain type, supplied by the
// mapping collaborator.
type Entity struct {
	Name      string              `json:"name"`
	Table     string              `json:"table"`
	ID        string              `json:"id"` // name of the identifier field
	Fields    []Field             `json:"fields"`
	Relations []Relation          `json:"relations,omitempty"`
	Graphs    map[string][]string `json:"graphs,omitempty"`
	Audit     *AuditColumns       `json:"audit,omitempty"`
}

// Field looks up a field by name.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByColumn looks up a field by column name, case-insensitively.
func (e *Entity) FieldByColumn(column string) (Field, bool) {
	for _, f := range e.Fields {
		if strings.EqualFold(f.Column, column) {
			return f, true
		}
	}
	return Field{}, false
}

// IDField returns the identifier field.
func (e *Entity) IDField() Field {
	f, _ := e.Field(e.ID)
	return f
}

// Relation looks up a relation by name.
func (e *Entity) Relation(name string) (Relation, bool) {
	for _, r := range e.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Schema is the registry of entities, named queries and projection shapes.
// It is populated at startup and read-only afterwards.
type Schema struct {
	entities     map[string]*Entity
	order        []string
	namedQueries map[string]NamedQuery
	projections  map[string]*Projection
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{
		entities:     make(map[string]*Entity),
		namedQueries: make(map[string]NamedQuery),
		projections:  make(map[string]*Projection),
	}
}

// AddEntity registers an entity. Missing column names default to the
// snake_case form of the field name and a missing table to the snake_case
// entity name.
func (s *Schema) AddEntity(e Entity) error {
	if e.Name == "" {
		return fmt.Errorf("entity has no name")
	}
	if _, exists := s.entities[e.Name]; exists {
		return fmt.Errorf("entity %q already registered", e.Name)
	}
	if e.Table == "" {
		e.Table = strcase.ToSnake(e.Name)
	}

	fields := make([]Field, len(e.Fields))
	seen := make(map[string]bool, len(e.Fields))
	for i, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("entity %q: field %d has no name", e.Name, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("entity %q: duplicate field %q", e.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Column == "" {
			f.Column = strcase.ToSnake(f.Name)
		}
		if f.Type == "" {
			f.Type = TypeString
		}
		if !f.Type.IsScalar() {
			return fmt.Errorf("entity %q: field %q has non-scalar type %q", e.Name, f.Name, f.Type)
		}
		fields[i] = f
	}
	e.Fields = fields

	if _, ok := e.Field(e.ID); !ok {
		return fmt.Errorf("entity %q: id field %q is not declared", e.Name, e.ID)
	}

	relations := make([]Relation, len(e.Relations))
	for i, r := range e.Relations {
		if r.Name == "" || r.Target == "" {
			return fmt.Errorf("entity %q: relation %d needs a name and a target", e.Name, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("entity %q: relation %q collides with a field", e.Name, r.Name)
		}
		seen[r.Name] = true
		if r.Kind == "" {
			r.Kind = RelationOne
		}
		if r.Kind != RelationOne && r.Kind != RelationMany {
			return fmt.Errorf("entity %q: relation %q has invalid kind %q", e.Name, r.Name, r.Kind)
		}
		if r.Column == "" {
			return fmt.Errorf("entity %q: relation %q has no join column", e.Name, r.Name)
		}
		relations[i] = r
	}
	e.Relations = relations

	s.entities[e.Name] = &e
	s.order = append(s.order, e.Name)
	return nil
}

// Entity looks up an entity by name.
func (s *Schema) Entity(name string) (*Entity, bool) {
	e, ok := s.entities[name]
	return e, ok
}

// Entities returns all entities in registration order.
func (s *Schema) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entities[name])
	}
	return out
}

// AddNamedQuery registers query text under its "Entity.method" name.
func (s *Schema) AddNamedQuery(nq NamedQuery) error {
	if nq.Name == "" || nq.Query == "" {
		return fmt.Errorf("named query needs a name and query text")
	}
	if _, exists := s.namedQueries[nq.Name]; exists {
		return fmt.Errorf("named query %q already registered", nq.Name)
	}
	s.namedQueries[nq.Name] = nq
	return nil
}

// NamedQuery looks up a named query.
func (s *Schema) NamedQuery(name string) (NamedQuery, bool) {
	nq, ok := s.namedQueries[name]
	return nq, ok
}

// AddProjection registers a closed or nested projection shape.
func (s *Schema) AddProjection(p Projection) error {
	if p.Name == "" {
		return fmt.Errorf("projection has no name")
	}
	if len(p.Accessors) == 0 {
		return fmt.Errorf("projection %q declares no accessors", p.Name)
	}
	if _, exists := s.projections[p.Name]; exists {
		return fmt.Errorf("projection %q already registered", p.Name)
	}
	s.projections[p.Name] = &p
	return nil
}

// Projection looks up a projection shape by name.
func (s *Schema) Projection(name string) (*Projection, bool) {
	p, ok := s.projections[name]
	return p, ok
}

// Validate checks cross-entity references: relation targets and entity
// graph paths.
func (s *Schema) Validate() error {
	for _, e := range s.Entities() {
		for _, r := range e.Relations {
			if _, ok := s.entities[r.Target]; !ok {
				return fmt.Errorf("entity %q: relation %q targets unknown entity %q", e.Name, r.Name, r.Target)
			}
		}
		for graph, paths := range e.Graphs {
			for _, path := range paths {
				if _, ok := e.Relation(path); !ok {
					return fmt.Errorf("entity %q: graph %q references unknown relation %q", e.Name, graph, path)
				}
			}
		}
	}
	return nil
}

// Accessor is one accessor of a projection shape. Nested lists the
// accessors of the closed projection reached through the relation of the
// same name; it is empty for a flat accessor.
type Accessor struct {
	Name   string   `json:"name"`
	Nested []string `json:"nested,omitempty"`
}

// Projection is a closed (flat) or nested result shape.
type Projection struct {
	Name      string     `json:"name"`
	Accessors []Accessor `json:"accessors"`
}

// IsNested reports whether any accessor resolves through a relation.
func (p *Projection) IsNested() bool {
	for _, a := range p.Accessors {
		if len(a.Nested) > 0 {
			return true
		}
	}
	return false
}
