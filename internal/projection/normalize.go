package projection

import (
	"fmt"
	"time"

	"github.com/roach88/repoql/internal/ir"
)

// timeLayouts are the textual timestamp layouts drivers hand back for
// columns without a declared timestamp type.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalize converts a driver value to the canonical Go type of t.
// Values that do not convert are returned unchanged.
func normalize(v any, t ir.ParamType) any {
	if v == nil {
		return nil
	}
	switch t {
	case ir.TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n)
		case int16:
			return int64(n)
		case int32:
			return int64(n)
		case uint32:
			return int64(n)
		case float64:
			if n == float64(int64(n)) {
				return int64(n)
			}
		}
	case ir.TypeFloat:
		switch n := v.(type) {
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		case int32:
			return float64(n)
		}
	case ir.TypeBool:
		switch n := v.(type) {
		case int64:
			return n != 0
		case int32:
			return n != 0
		}
	case ir.TypeTime:
		if s, ok := v.(string); ok {
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts
				}
			}
		}
	}
	return v
}

// idKey is the map key of an identifier value. Integer ids of different
// widths compare equal.
func idKey(v any) string {
	switch n := v.(type) {
	case int:
		return fmt.Sprint(int64(n))
	case int32:
		return fmt.Sprint(int64(n))
	}
	return fmt.Sprint(v)
}

func sameID(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return idKey(a) == idKey(b)
}
