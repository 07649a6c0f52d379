package projection

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/repoql/internal/querysql"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Constructor is a Go func building a DTO from selected columns, in
// select-list order. It returns the DTO, optionally followed by an error.
type Constructor struct {
	name   string
	fn     reflect.Value
	in     []reflect.Type
	hasErr bool
}

// NewConstructor wraps fn as a DTO constructor.
func NewConstructor(name string, fn any) (*Constructor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor %q: not a func: %T", name, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("constructor %q: variadic funcs are not supported", name)
	}
	switch {
	case t.NumOut() == 1 && t.Out(0) != errorType:
	case t.NumOut() == 2 && t.Out(1) == errorType:
	default:
		return nil, fmt.Errorf("constructor %q: must return (T) or (T, error), got %s", name, t)
	}
	c := &Constructor{name: name, fn: v, hasErr: t.NumOut() == 2}
	for i := 0; i < t.NumIn(); i++ {
		c.in = append(c.in, t.In(i))
	}
	return c, nil
}

// Name returns the constructor name used in query text.
func (c *Constructor) Name() string {
	return c.name
}

// Arity returns the number of arguments.
func (c *Constructor) Arity() int {
	return len(c.in)
}

// Check verifies the constructor accepts the columns in order. Columns of
// unknown type only count toward arity.
func (c *Constructor) Check(cols []querysql.Column) error {
	if len(cols) != len(c.in) {
		return mismatch(c.name, "takes %d arguments, query selects %d", len(c.in), len(cols))
	}
	for i, col := range cols {
		gt := col.Type.GoType()
		if gt == nil {
			continue
		}
		if !compatible(gt, c.in[i]) {
			return mismatch(c.name, "argument %d is %s, column %q is %s", i+1, c.in[i], col.Label, col.Type)
		}
	}
	return nil
}

// Call invokes the constructor with one row of values.
func (c *Constructor) Call(args []any) (any, error) {
	if len(args) != len(c.in) {
		return nil, mismatch(c.name, "takes %d arguments, got %d", len(c.in), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v, err := convert(a, c.in[i])
		if err != nil {
			return nil, mismatch(c.name, "argument %d: %v", i+1, err)
		}
		in[i] = v
	}
	out := c.fn.Call(in)
	if c.hasErr && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// Constructors is the registry of DTO constructors. Register before the
// registry is shared; lookups are read-only.
type Constructors struct {
	m map[string]*Constructor
}

// NewConstructors creates an empty registry.
func NewConstructors() *Constructors {
	return &Constructors{m: make(map[string]*Constructor)}
}

// Register adds a constructor under name.
func (r *Constructors) Register(name string, fn any) error {
	if _, ok := r.m[name]; ok {
		return fmt.Errorf("constructor %q already registered", name)
	}
	c, err := NewConstructor(name, fn)
	if err != nil {
		return err
	}
	r.m[name] = c
	return nil
}

// Lookup returns the constructor registered under name.
func (r *Constructors) Lookup(name string) (*Constructor, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.m[name]
	return c, ok
}

// Names returns the registered names, sorted.
func (r *Constructors) Names() []string {
	names := make([]string, 0, len(r.m))
	for n := range r.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// compatible reports whether a value of type from can be passed as want.
// Pointers accept their element type (nil for NULL).
func compatible(from, want reflect.Type) bool {
	switch {
	case want.Kind() == reflect.Interface:
		return from.Implements(want)
	case want.Kind() == reflect.Ptr:
		return compatible(from, want.Elem())
	case from == want:
		return true
	case isNumeric(from.Kind()) && isNumeric(want.Kind()):
		return true
	}
	return from.Kind() == want.Kind() && from.Kind() != reflect.Struct && from.ConvertibleTo(want)
}

func convert(v any, want reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(v)
	if want.Kind() == reflect.Ptr && rv.Type() != want {
		inner, err := convert(v, want.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(want.Elem())
		p.Elem().Set(inner)
		return p, nil
	}
	if rv.Type().AssignableTo(want) {
		return rv, nil
	}
	if compatible(rv.Type(), want) && rv.Type().ConvertibleTo(want) {
		return rv.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, want)
}
