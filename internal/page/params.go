package page

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultSize is the page size used when a request names none.
	DefaultSize = 20

	// MaxSize caps the page size a caller can ask for.
	MaxSize = 2000
)

// ParseSort parses "property[,direction]". A missing direction sorts
// ascending.
func ParseSort(s string) (Order, error) {
	prop, dir, _ := strings.Cut(strings.TrimSpace(s), ",")
	prop = strings.TrimSpace(prop)
	if prop == "" {
		return Order{}, fmt.Errorf("sort %q has no property", s)
	}
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "asc":
		return Order{Property: prop, Direction: Asc}, nil
	case "desc":
		return Order{Property: prop, Direction: Desc}, nil
	default:
		return Order{}, fmt.Errorf("sort %q has invalid direction %q", s, dir)
	}
}

// FromValues builds a request from query parameters: page (default 0),
// size (default DefaultSize, capped at MaxSize) and repeated sort values.
func FromValues(v url.Values) (Request, error) {
	req := Request{Size: DefaultSize}

	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return Request{}, fmt.Errorf("invalid page %q", s)
		}
		req.Index = n
	}
	if s := v.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return Request{}, fmt.Errorf("invalid size %q", s)
		}
		req.Size = min(n, MaxSize)
	}
	for _, s := range v["sort"] {
		o, err := ParseSort(s)
		if err != nil {
			return Request{}, err
		}
		req.Sort = append(req.Sort, o)
	}
	return req, nil
}
