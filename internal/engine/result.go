package engine

import (
	"fmt"

	"github.com/roach88/repoql/internal/page"
)

// Result is the outcome of one call.
//
//   - list, single, optional: Items (at most one item for single and
//     optional; none means no match)
//   - page, slice: Items and Page over the same content
//   - bulk statements: Affected, also the only item
//   - derived count and exists: the count (int64) or bool as the only item
//   - custom delegates: Value
type Result struct {
	Items    []any
	Page     *page.Page[any]
	Affected int64
	Value    any
}

// First returns the first item.
func (r *Result) First() (any, bool) {
	if r == nil || len(r.Items) == 0 {
		return nil, false
	}
	return r.Items[0], true
}

// List converts the items to T. A custom delegate result of type []T is
// returned as is.
func List[T any](r *Result) ([]T, error) {
	if r == nil {
		return nil, nil
	}
	if v, ok := r.Value.([]T); ok {
		return v, nil
	}
	out := make([]T, 0, len(r.Items))
	for i, it := range r.Items {
		v, ok := it.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("item %d has type %T, want %T", i, it, zero)
		}
		out = append(out, v)
	}
	return out, nil
}

// One returns the single item converted to T, reporting false when the
// result is empty.
func One[T any](r *Result) (T, bool, error) {
	var zero T
	if r == nil {
		return zero, false, nil
	}
	if v, ok := r.Value.(T); ok {
		return v, true, nil
	}
	switch len(r.Items) {
	case 0:
		return zero, false, nil
	case 1:
		v, ok := r.Items[0].(T)
		if !ok {
			return zero, false, fmt.Errorf("result has type %T, want %T", r.Items[0], zero)
		}
		return v, true, nil
	default:
		return zero, false, fmt.Errorf("expected at most one result, got %d", len(r.Items))
	}
}

// PageOf converts the page content to T.
func PageOf[T any](r *Result) (*page.Page[T], error) {
	if r == nil || r.Page == nil {
		return nil, fmt.Errorf("result carries no page")
	}
	if _, err := List[T](&Result{Items: r.Page.Content}); err != nil {
		return nil, err
	}
	return page.Map(r.Page, func(v any) T { return v.(T) }), nil
}
