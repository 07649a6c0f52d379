package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/repoql/internal/ir"
)

// CompileEntity parses a CUE value into an entity mapping.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Team: { id: "id", fields: { ... } }`)
//	e, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Team")))
//
// A field is either a type name or a struct with type and column. Missing
// columns and the table name are filled in when the entity is added to a
// schema.
func CompileEntity(v cue.Value) (*ir.Entity, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	e := &ir.Entity{Name: label(v)}

	if tv := v.LookupPath(cue.ParsePath("table")); tv.Exists() {
		table, err := tv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		e.Table = table
	}

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return nil, &CompileError{Field: "id", Message: "id is required", Pos: v.Pos()}
	}
	id, err := idVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	e.ID = id

	e.Fields, err = parseFields(v)
	if err != nil {
		return nil, err
	}
	if len(e.Fields) == 0 {
		return nil, &CompileError{Field: "fields", Message: "at least one field is required", Pos: v.Pos()}
	}

	e.Relations, err = parseRelations(v)
	if err != nil {
		return nil, err
	}

	if gv := v.LookupPath(cue.ParsePath("graphs")); gv.Exists() {
		e.Graphs = make(map[string][]string)
		iter, err := gv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			paths, err := stringList(iter.Value())
			if err != nil {
				return nil, err
			}
			e.Graphs[name(iter.Label())] = paths
		}
	}

	if av := v.LookupPath(cue.ParsePath("audit")); av.Exists() {
		var audit ir.AuditColumns
		if err := av.Decode(&audit); err != nil {
			return nil, formatCUEError(err)
		}
		e.Audit = &audit
	}

	return e, nil
}

// parseFields extracts fields in declaration order.
func parseFields(v cue.Value) ([]ir.Field, error) {
	fv := v.LookupPath(cue.ParsePath("fields"))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []ir.Field
	for iter.Next() {
		f := ir.Field{Name: name(iter.Label())}
		val := iter.Value()

		if s, err := val.String(); err == nil {
			f.Type, err = parseType(val, s)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			continue
		}

		typeVal := val.LookupPath(cue.ParsePath("type"))
		if !typeVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("fields.%s", f.Name),
				Message: "field must be a type name or a struct with a type",
				Pos:     val.Pos(),
			}
		}
		s, err := typeVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if f.Type, err = parseType(typeVal, s); err != nil {
			return nil, err
		}
		if cv := val.LookupPath(cue.ParsePath("column")); cv.Exists() {
			if f.Column, err = cv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// parseRelations extracts relations in declaration order.
func parseRelations(v cue.Value) ([]ir.Relation, error) {
	rv := v.LookupPath(cue.ParsePath("relations"))
	if !rv.Exists() {
		return nil, nil
	}
	iter, err := rv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var relations []ir.Relation
	for iter.Next() {
		rel := name(iter.Label())
		val := iter.Value()
		r := ir.Relation{Name: rel, Kind: ir.RelationOne}

		targetVal := val.LookupPath(cue.ParsePath("target"))
		if !targetVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relations.%s.target", rel),
				Message: "relation target is required",
				Pos:     val.Pos(),
			}
		}
		if r.Target, err = targetVal.String(); err != nil {
			return nil, formatCUEError(err)
		}

		columnVal := val.LookupPath(cue.ParsePath("column"))
		if !columnVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relations.%s.column", rel),
				Message: "relation join column is required",
				Pos:     val.Pos(),
			}
		}
		if r.Column, err = columnVal.String(); err != nil {
			return nil, formatCUEError(err)
		}

		if kv := val.LookupPath(cue.ParsePath("kind")); kv.Exists() {
			kind, err := kv.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			r.Kind = ir.RelationKind(kind)
			if r.Kind != ir.RelationOne && r.Kind != ir.RelationMany {
				return nil, &CompileError{
					Field:   fmt.Sprintf("relations.%s.kind", rel),
					Message: fmt.Sprintf("kind must be %q or %q, got %q", ir.RelationOne, ir.RelationMany, kind),
					Pos:     kv.Pos(),
				}
			}
		}
		relations = append(relations, r)
	}
	return relations, nil
}

// CompileProjection parses a projection shape. The value is a list whose
// elements are accessor names or single-field structs naming a relation
// and the accessors of its nested shape:
//
//	projection: NestedClosedProjections: ["username", {team: ["name"]}]
func CompileProjection(v cue.Value) (*ir.Projection, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	p := &ir.Projection{Name: label(v)}

	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: "projection", Message: "projection must be a list of accessors", Pos: v.Pos()}
	}
	for iter.Next() {
		el := iter.Value()
		if s, err := el.String(); err == nil {
			p.Accessors = append(p.Accessors, ir.Accessor{Name: name(s)})
			continue
		}
		fields, err := el.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		n := 0
		for fields.Next() {
			nested, err := stringList(fields.Value())
			if err != nil {
				return nil, err
			}
			if len(nested) == 0 {
				return nil, &CompileError{
					Field:   "projection." + p.Name,
					Message: fmt.Sprintf("nested accessor %q lists no accessors", fields.Label()),
					Pos:     el.Pos(),
				}
			}
			p.Accessors = append(p.Accessors, ir.Accessor{Name: name(fields.Label()), Nested: nested})
			n++
		}
		if n != 1 {
			return nil, &CompileError{
				Field:   "projection." + p.Name,
				Message: "nested accessor must name exactly one relation",
				Pos:     el.Pos(),
			}
		}
	}
	if len(p.Accessors) == 0 {
		return nil, &CompileError{Field: "projection." + p.Name, Message: "at least one accessor is required", Pos: v.Pos()}
	}
	return p, nil
}

// CompileNamedQuery parses a named query. The value is either the query
// text or a struct with query, native and count_query.
func CompileNamedQuery(v cue.Value) (*ir.NamedQuery, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	nq := &ir.NamedQuery{Name: label(v)}

	if s, err := v.String(); err == nil {
		nq.Query = s
		return nq, nil
	}

	qv := v.LookupPath(cue.ParsePath("query"))
	if !qv.Exists() {
		return nil, &CompileError{Field: "query", Message: "named query text is required", Pos: v.Pos()}
	}
	var err error
	if nq.Query, err = qv.String(); err != nil {
		return nil, formatCUEError(err)
	}
	if nv := v.LookupPath(cue.ParsePath("native")); nv.Exists() {
		if nq.Native, err = nv.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	if cv := v.LookupPath(cue.ParsePath("count_query")); cv.Exists() {
		if nq.CountQuery, err = cv.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	return nq, nil
}

// parseType converts a type name to a parameter type.
func parseType(v cue.Value, s string) (ir.ParamType, error) {
	t := ir.ParamType(strings.TrimSpace(s))
	if !ir.ValidParamTypes[t] {
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type %q", s),
			Pos:     v.Pos(),
		}
	}
	return t, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, name(s))
	}
	return out, nil
}

// label returns the last path selector of v.
func label(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return name(sels[len(sels)-1].String())
}

// name unquotes and NFC-normalises a label so that visually equal
// identifiers compare equal.
func name(s string) string {
	return norm.NFC.String(strings.Trim(strings.TrimSpace(s), `"`))
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
