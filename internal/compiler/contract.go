package compiler

import (
	"fmt"
	"sort"

	"cuelang.org/go/cue"

	"github.com/roach88/repoql/internal/ir"
)

// methodKeys are the keys a method declaration may carry.
var methodKeys = map[string]bool{
	"params":      true,
	"returns":     true,
	"query":       true,
	"native":      true,
	"count_query": true,
	"named_query": true,
	"fetch":       true,
	"lock":        true,
	"hints":       true,
	"limit":       true,
	"projection":  true,
	"shapes":      true,
	"modifying":   true,
}

// CompileContract parses a CUE value into a repository contract.
//
// The CUE value should be the repository struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`repository: MemberRepository: { entity: "Member", methods: { ... } }`)
//	c, err := CompileContract(v.LookupPath(cue.ParsePath("repository.MemberRepository")))
//
// Methods keep their declaration order. A method without returns is a
// list method.
func CompileContract(v cue.Value) (*ir.Contract, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	c := &ir.Contract{Name: label(v)}

	entityVal := v.LookupPath(cue.ParsePath("entity"))
	if !entityVal.Exists() {
		return nil, &CompileError{Field: "entity", Message: "entity is required", Pos: v.Pos()}
	}
	entity, err := entityVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	c.Entity = name(entity)

	methodsVal := v.LookupPath(cue.ParsePath("methods"))
	if !methodsVal.Exists() {
		return nil, &CompileError{Field: "methods", Message: "at least one method is required", Pos: v.Pos()}
	}
	iter, err := methodsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		op, err := compileMethod(c, name(iter.Label()), iter.Value())
		if err != nil {
			return nil, err
		}
		c.Operations = append(c.Operations, op)
	}
	if len(c.Operations) == 0 {
		return nil, &CompileError{Field: "methods", Message: "at least one method is required", Pos: methodsVal.Pos()}
	}
	return c, nil
}

func compileMethod(c *ir.Contract, method string, v cue.Value) (ir.Operation, error) {
	op := ir.Operation{
		ID:      ir.OperationID{Contract: c.Name, Method: method},
		Entity:  c.Entity,
		Returns: ir.ReturnList,
	}
	field := func(key string) string { return fmt.Sprintf("methods.%s.%s", method, key) }

	iter, err := v.Fields()
	if err != nil {
		return op, formatCUEError(err)
	}
	var unknown []string
	for iter.Next() {
		if !methodKeys[iter.Label()] {
			unknown = append(unknown, iter.Label())
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return op, &CompileError{
			Field:   field(unknown[0]),
			Message: fmt.Sprintf("unknown method key %q", unknown[0]),
			Pos:     v.Pos(),
		}
	}

	if op.Params, err = parseParams(v, field("params")); err != nil {
		return op, err
	}

	if rv := v.LookupPath(cue.ParsePath("returns")); rv.Exists() {
		s, err := rv.String()
		if err != nil {
			return op, formatCUEError(err)
		}
		op.Returns = ir.ReturnKind(s)
		if !ir.ValidReturnKinds[op.Returns] {
			return op, &CompileError{Field: field("returns"), Message: fmt.Sprintf("unsupported return kind %q", s), Pos: rv.Pos()}
		}
	}

	texts := []struct {
		key string
		dst *string
	}{
		{"query", &op.Query},
		{"count_query", &op.CountQuery},
		{"named_query", &op.NamedQuery},
		{"projection", &op.Projection},
	}
	for _, s := range texts {
		sv := v.LookupPath(cue.ParsePath(s.key))
		if !sv.Exists() {
			continue
		}
		if *s.dst, err = sv.String(); err != nil {
			return op, formatCUEError(err)
		}
	}

	if nv := v.LookupPath(cue.ParsePath("native")); nv.Exists() {
		if op.Native, err = nv.Bool(); err != nil {
			return op, formatCUEError(err)
		}
	}

	if lv := v.LookupPath(cue.ParsePath("lock")); lv.Exists() {
		s, err := lv.String()
		if err != nil {
			return op, formatCUEError(err)
		}
		op.Lock = ir.LockMode(s)
		if !ir.ValidLockModes[op.Lock] {
			return op, &CompileError{Field: field("lock"), Message: fmt.Sprintf("unsupported lock mode %q", s), Pos: lv.Pos()}
		}
	}

	if lv := v.LookupPath(cue.ParsePath("limit")); lv.Exists() {
		n, err := lv.Int64()
		if err != nil {
			return op, formatCUEError(err)
		}
		if n < 0 {
			return op, &CompileError{Field: field("limit"), Message: "limit must not be negative", Pos: lv.Pos()}
		}
		op.Limit = int(n)
	}

	if sv := v.LookupPath(cue.ParsePath("shapes")); sv.Exists() {
		if op.Shapes, err = stringList(sv); err != nil {
			return op, err
		}
	}

	if fv := v.LookupPath(cue.ParsePath("fetch")); fv.Exists() {
		var fetch ir.FetchSpec
		if err := fv.Decode(&fetch); err != nil {
			return op, formatCUEError(err)
		}
		if fetch.Strategy == "" {
			fetch.Strategy = ir.FetchGraph
		}
		if fetch.Strategy != ir.FetchJoin && fetch.Strategy != ir.FetchGraph {
			return op, &CompileError{Field: field("fetch"), Message: fmt.Sprintf("unsupported fetch strategy %q", fetch.Strategy), Pos: fv.Pos()}
		}
		if len(fetch.Paths) == 0 && fetch.Graph == "" {
			return op, &CompileError{Field: field("fetch"), Message: "fetch needs paths or a graph", Pos: fv.Pos()}
		}
		op.Fetch = &fetch
	}

	if hv := v.LookupPath(cue.ParsePath("hints")); hv.Exists() {
		if err := hv.Decode(&op.Hints); err != nil {
			return op, formatCUEError(err)
		}
	}

	if mv := v.LookupPath(cue.ParsePath("modifying")); mv.Exists() {
		if b, err := mv.Bool(); err == nil {
			if b {
				op.Modifying = &ir.Modifying{}
			}
		} else {
			var mod ir.Modifying
			if err := mv.Decode(&mod); err != nil {
				return op, formatCUEError(err)
			}
			op.Modifying = &mod
		}
	}

	return op, nil
}

// parseParams extracts the ordered parameter list. Each element is a
// single-field struct mapping the parameter name to its type:
//
//	params: [{username: "string"}, {page: "pageable"}]
func parseParams(v cue.Value, field string) ([]ir.Param, error) {
	pv := v.LookupPath(cue.ParsePath("params"))
	if !pv.Exists() {
		return nil, nil
	}
	iter, err := pv.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "params must be a list", Pos: pv.Pos()}
	}

	var params []ir.Param
	for iter.Next() {
		el := iter.Value()
		fields, err := el.Fields()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "param must be a {name: type} struct", Pos: el.Pos()}
		}
		n := 0
		for fields.Next() {
			s, err := fields.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			t, err := parseType(fields.Value(), s)
			if err != nil {
				return nil, err
			}
			params = append(params, ir.Param{Name: name(fields.Label()), Position: len(params), Type: t})
			n++
		}
		if n != 1 {
			return nil, &CompileError{Field: field, Message: "param must name exactly one parameter", Pos: el.Pos()}
		}
	}
	return params, nil
}
