package projection

import (
	"bytes"
)

// View is one record of a closed or nested projection. Keys keep the
// accessor order of the projection.
type View struct {
	name   string
	keys   []string
	values map[string]any
}

func newView(name string, size int) *View {
	return &View{name: name, keys: make([]string, 0, size), values: make(map[string]any, size)}
}

func (v *View) put(key string, val any) {
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = val
}

// Name returns the projection name.
func (v *View) Name() string {
	return v.name
}

// Keys returns the accessor names in order.
func (v *View) Keys() []string {
	return append([]string(nil), v.keys...)
}

// Get returns an accessor value. A nested accessor returns a *View, or
// nil when the relation is empty.
func (v *View) Get(key string) any {
	return v.values[key]
}

// Nested returns the view of a nested accessor.
func (v *View) Nested(key string) *View {
	n, _ := v.values[key].(*View)
	return n
}

// String returns a string accessor, "" when empty or of another type.
func (v *View) String(key string) string {
	s, _ := v.values[key].(string)
	return s
}

// MarshalJSON renders accessors in order.
func (v *View) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	w := objectWriter{buf: &buf}
	buf.WriteByte('{')
	for _, k := range v.keys {
		val := v.values[k]
		if n, ok := val.(*View); ok && n == nil {
			val = nil
		}
		if err := w.field(k, val); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
