package ir

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ParamType is the semantic type of a parameter or field.
type ParamType string

const (
	TypeString     ParamType = "string"
	TypeInt        ParamType = "int"
	TypeFloat      ParamType = "float"
	TypeBool       ParamType = "bool"
	TypeTime       ParamType = "time"
	TypeCollection ParamType = "collection"

	// TypePageable is the page request of a page or slice operation.
	TypePageable ParamType = "pageable"

	// TypeShape selects the projection shape of a dynamic projection.
	TypeShape ParamType = "shape"
)

// ValidParamTypes defines allowed parameter types.
var ValidParamTypes = map[ParamType]bool{
	TypeString:     true,
	TypeInt:        true,
	TypeFloat:      true,
	TypeBool:       true,
	TypeTime:       true,
	TypeCollection: true,
	TypePageable:   true,
	TypeShape:      true,
}

// IsValue reports whether parameters of this type are bound into the query.
func (t ParamType) IsValue() bool {
	return t != TypePageable && t != TypeShape
}

// IsScalar reports whether the type can be stored in a single column.
func (t ParamType) IsScalar() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeTime:
		return true
	}
	return false
}

// Accepts reports whether a Go value is assignable to the type.
// nil is accepted for every scalar type.
func (t ParamType) Accepts(v any) bool {
	if v == nil {
		return t.IsScalar()
	}
	rv := reflect.ValueOf(v)
	switch t {
	case TypeString:
		return rv.Kind() == reflect.String
	case TypeInt:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		}
	case TypeFloat:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
			return true
		}
	case TypeBool:
		return rv.Kind() == reflect.Bool
	case TypeTime:
		_, ok := v.(time.Time)
		return ok
	case TypeCollection:
		return (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8
	}
	return false
}

// GoType returns the canonical Go type a store value of this type is
// converted to, or nil for non-scalar types.
func (t ParamType) GoType() reflect.Type {
	switch t {
	case TypeString:
		return reflect.TypeOf("")
	case TypeInt:
		return reflect.TypeOf(int64(0))
	case TypeFloat:
		return reflect.TypeOf(float64(0))
	case TypeBool:
		return reflect.TypeOf(false)
	case TypeTime:
		return reflect.TypeOf(time.Time{})
	}
	return nil
}

// ParseLiteral converts command-line text into a value of the type.
// Collections are comma separated strings.
func (t ParamType) ParseLiteral(s string) (any, error) {
	switch t {
	case TypeString:
		return s, nil
	case TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int %q: %w", s, err)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", s, err)
		}
		return f, nil
	case TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("parse bool %q: %w", s, err)
		}
		return b, nil
	case TypeTime:
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", s, err)
		}
		return ts, nil
	case TypeCollection:
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("type %q has no literal form", t)
}
