package engine

import (
	"reflect"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/page"
	"github.com/roach88/repoql/internal/querysql"
	"github.com/roach88/repoql/internal/store"
)

// NamedArg is a call argument bound by parameter name.
type NamedArg struct {
	Name  string
	Value any
}

// Named binds v to the declared parameter called name. A call passes
// either only named or only positional arguments.
func Named(name string, v any) NamedArg {
	return NamedArg{Name: name, Value: v}
}

// Shape selects the projection of a dynamic operation. A plain string is
// accepted too.
type Shape string

// call is the bound state of one operation call.
type call struct {
	op     string
	id     string
	values []any // value parameters in declaration order
	page   *page.Request
	shape  string
}

// bind matches call arguments to the declared parameters.
func (e *Engine) bind(p *plan, args []any) (*call, error) {
	c := &call{op: p.key, id: e.ids.Generate()}
	params := p.op.Params
	vals := make([]any, len(params))

	if len(args) > 0 {
		if _, named := args[0].(NamedArg); named {
			set := make([]bool, len(params))
			for _, a := range args {
				na, ok := a.(NamedArg)
				if !ok {
					return nil, invalidArgument(c, "cannot mix named and positional arguments")
				}
				i := paramIndex(params, na.Name)
				if i < 0 {
					return nil, invalidArgument(c, "no parameter named %q", na.Name)
				}
				if set[i] {
					return nil, invalidArgument(c, "parameter %q bound twice", na.Name)
				}
				vals[i], set[i] = na.Value, true
			}
			for i, ok := range set {
				if !ok {
					return nil, invalidArgument(c, "missing argument for parameter %q", params[i].Name)
				}
			}
			args = vals
		}
	}
	if len(args) != len(params) {
		return nil, invalidArgument(c, "expected %d argument(s), got %d", len(params), len(args))
	}

	for i, prm := range params {
		v := args[i]
		switch prm.Type {
		case ir.TypePageable:
			req, ok := pageRequest(v)
			if !ok {
				return nil, invalidArgument(c, "parameter %q wants a page request, got %T", prm.Name, v)
			}
			if err := req.Validate(); err != nil {
				return nil, invalidArgument(c, "parameter %q: %v", prm.Name, err)
			}
			c.page = &req
		case ir.TypeShape:
			name, ok := shapeName(v)
			if !ok {
				return nil, invalidArgument(c, "parameter %q wants a shape name, got %T", prm.Name, v)
			}
			if _, ok := p.variants[name]; !ok {
				return nil, invalidArgument(c, "shape %q is not declared", name)
			}
			c.shape = name
		default:
			if !prm.Type.Accepts(v) {
				return nil, invalidArgument(c, "parameter %q wants %s, got %T", prm.Name, prm.Type, v)
			}
			c.values = append(c.values, v)
		}
	}
	return c, nil
}

func paramIndex(params []ir.Param, name string) int {
	for i, p := range params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func pageRequest(v any) (page.Request, bool) {
	switch r := v.(type) {
	case page.Request:
		return r, true
	case *page.Request:
		if r != nil {
			return *r, true
		}
	}
	return page.Request{}, false
}

func shapeName(v any) (string, bool) {
	switch s := v.(type) {
	case Shape:
		return string(s), true
	case string:
		return s, true
	}
	return "", false
}

// request binds the call's values into a statement.
//
// CRITICAL: Values only ever travel as arguments. Collections are
// expanded to one placeholder per element (sqlx.In), then placeholders are
// rebound to the store's dialect. Native text is passed as is.
func (e *Engine) request(p *plan, c *call, stmt *querysql.Statement) (store.Request, error) {
	args := make([]any, len(stmt.Binds))
	expand := false
	for i, b := range stmt.Binds {
		if b.Param < 0 || b.Param >= len(c.values) {
			return store.Request{}, invalidQuery(p.key, nil, "statement binds parameter %d, call has %d", b.Param, len(c.values))
		}
		args[i] = b.Apply(c.values[b.Param])
		expand = expand || isList(args[i])
	}

	req := store.Request{
		SQL:    stmt.SQL,
		Args:   args,
		Native: stmt.Native,
		Op:     p.key,
	}
	if stmt.Native {
		return req, nil
	}
	if expand {
		sql, expanded, err := sqlx.In(req.SQL, args...)
		if err != nil {
			return store.Request{}, invalidArgument(c, "expand collection: %v", err)
		}
		req.SQL, req.Args = sql, expanded
	}
	req.SQL = e.store.Rebind(req.SQL)
	return req, nil
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() != reflect.Uint8
}
