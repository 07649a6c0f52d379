// Package page holds page requests and page results.
package page

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/guregu/null.v4"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Order is one sort key of a page request. Property names an entity field,
// or "relation.field" for a field of a directly related record.
type Order struct {
	Property  string    `json:"property"`
	Direction Direction `json:"direction"`
}

// Request asks for one page of a result.
//
// Total, when valid, is a total the caller already knows; the count query
// is skipped and the value is reported as is.
type Request struct {
	Index int      `json:"page"`
	Size  int      `json:"size"`
	Sort  []Order  `json:"sort,omitempty"`
	Total null.Int `json:"total"`
}

// Of builds a request for page index with the given size and sort keys.
func Of(index, size int, sort ...Order) Request {
	return Request{Index: index, Size: size, Sort: sort}
}

// By builds a sort key. Direction defaults to ascending.
func By(property string, dir Direction) Order {
	if dir == "" {
		dir = Asc
	}
	return Order{Property: property, Direction: dir}
}

// WithTotal returns a copy of the request carrying a known total.
func (r Request) WithTotal(total int64) Request {
	r.Total = null.IntFrom(total)
	return r
}

// Validate checks index >= 0, size >= 1 and the sort keys.
func (r Request) Validate() error {
	if r.Index < 0 {
		return fmt.Errorf("page index must be >= 0, got %d", r.Index)
	}
	if r.Size < 1 {
		return fmt.Errorf("page size must be >= 1, got %d", r.Size)
	}
	for _, o := range r.Sort {
		if o.Property == "" {
			return fmt.Errorf("sort key has no property")
		}
		if o.Direction != Asc && o.Direction != Desc {
			return fmt.Errorf("sort key %q has invalid direction %q", o.Property, o.Direction)
		}
	}
	if r.Total.Valid && r.Total.Int64 < 0 {
		return fmt.Errorf("known total must be >= 0, got %d", r.Total.Int64)
	}
	return nil
}

// Offset returns the number of rows before the page. It saturates at
// math.MaxInt, which addresses an empty page.
func (r Request) Offset() int {
	if r.Size > 0 && r.Index > math.MaxInt/r.Size {
		return math.MaxInt
	}
	return r.Index * r.Size
}

// String renders the request for logs.
func (r Request) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "page=%d size=%d", r.Index, r.Size)
	for _, o := range r.Sort {
		fmt.Fprintf(&b, " sort=%s,%s", o.Property, o.Direction)
	}
	return b.String()
}

// Page is one page of a result.
//
// In page mode Total is valid. In slice mode Total is invalid (no count
// query ran) and HasNext is known from fetching one row past the page.
type Page[T any] struct {
	Content []T      `json:"content"`
	Total   null.Int `json:"total"`
	Index   int      `json:"page"`
	Size    int      `json:"size"`

	hasNext bool
}

// New builds a page-mode page.
func New[T any](content []T, req Request, total int64) *Page[T] {
	if content == nil {
		content = []T{}
	}
	return &Page[T]{Content: content, Total: null.IntFrom(total), Index: req.Index, Size: req.Size}
}

// NewSlice builds a slice-mode page.
func NewSlice[T any](content []T, req Request, hasNext bool) *Page[T] {
	if content == nil {
		content = []T{}
	}
	return &Page[T]{Content: content, Index: req.Index, Size: req.Size, hasNext: hasNext}
}

// IsSlice reports whether the page carries no total.
func (p *Page[T]) IsSlice() bool {
	return !p.Total.Valid
}

// TotalPages returns ceil(total / size), or -1 in slice mode.
func (p *Page[T]) TotalPages() int {
	if !p.Total.Valid {
		return -1
	}
	if p.Size < 1 {
		return 0
	}
	if p.Total.Int64 < 1 {
		return 0
	}
	return int((p.Total.Int64-1)/int64(p.Size) + 1)
}

// HasNext reports whether a page follows this one.
func (p *Page[T]) HasNext() bool {
	if !p.Total.Valid {
		return p.hasNext
	}
	return p.Index < p.TotalPages()-1
}

// HasPrevious reports whether a page precedes this one.
func (p *Page[T]) HasPrevious() bool {
	return p.Index > 0
}

// IsFirst reports whether this is the first page.
func (p *Page[T]) IsFirst() bool {
	return p.Index == 0
}

// IsLast reports whether no page follows this one.
func (p *Page[T]) IsLast() bool {
	return !p.HasNext()
}

// Len returns the number of records on the page.
func (p *Page[T]) Len() int {
	return len(p.Content)
}

// Map converts the content of a page, keeping its position and total.
func Map[T, U any](p *Page[T], fn func(T) U) *Page[U] {
	out := make([]U, len(p.Content))
	for i, v := range p.Content {
		out[i] = fn(v)
	}
	return &Page[U]{Content: out, Total: p.Total, Index: p.Index, Size: p.Size, hasNext: p.hasNext}
}
