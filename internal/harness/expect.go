package harness

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/roach88/repoql/internal/engine"
)

// checkExpect validates a call outcome against the step's expect clause and
// returns one message per mismatch.
func checkExpect(exp *Expect, res *engine.Result, err error) []string {
	if exp == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}
	if exp.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %s, call succeeded", exp.Error)}
		}
		if code := engine.ErrorCode(err); code != exp.Error {
			return []string{fmt.Sprintf("expected error %s, got %s: %v", exp.Error, code, err)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var msgs []string
	if exp.Count != nil && len(res.Items) != *exp.Count {
		msgs = append(msgs, fmt.Sprintf("expected %d item(s), got %d", *exp.Count, len(res.Items)))
	}
	if exp.Affected != nil && res.Affected != *exp.Affected {
		msgs = append(msgs, fmt.Sprintf("expected %d affected row(s), got %d", *exp.Affected, res.Affected))
	}
	if exp.Items != nil {
		if msg := matchItems(exp.Items, res.Items); msg != "" {
			msgs = append(msgs, msg)
		}
	}

	if exp.Total != nil || exp.TotalPages != nil || exp.HasNext != nil {
		p := res.Page
		if p == nil {
			return append(msgs, "expected a page, result carries none")
		}
		if exp.Total != nil && (!p.Total.Valid || p.Total.Int64 != *exp.Total) {
			got, _ := p.Total.MarshalJSON()
			msgs = append(msgs, fmt.Sprintf("expected total %d, got %s", *exp.Total, got))
		}
		if exp.TotalPages != nil && p.TotalPages() != *exp.TotalPages {
			msgs = append(msgs, fmt.Sprintf("expected %d page(s), got %d", *exp.TotalPages, p.TotalPages()))
		}
		if exp.HasNext != nil && p.HasNext() != *exp.HasNext {
			msgs = append(msgs, fmt.Sprintf("expected has_next %t, got %t", *exp.HasNext, p.HasNext()))
		}
	}
	return msgs
}

// matchItems compares the JSON form of the returned items with the expected
// ones, position by position.
func matchItems(expected, actual []any) string {
	if len(expected) != len(actual) {
		return fmt.Sprintf("expected %d item(s), got %d", len(expected), len(actual))
	}
	for i := range expected {
		want, err := normalize(expected[i])
		if err != nil {
			return fmt.Sprintf("item %d: expected value: %v", i, err)
		}
		got, err := normalize(actual[i])
		if err != nil {
			return fmt.Sprintf("item %d: %v", i, err)
		}
		if !subset(want, got) {
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(want)
			return fmt.Sprintf("item %d: expected %s, got %s", i, wantJSON, gotJSON)
		}
	}
	return ""
}

// normalize converts a value to its generic JSON form so YAML integers and
// store integers compare equal.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// subset reports whether actual matches expected. Objects match when every
// expected key matches; extra keys in actual are ignored.
func subset(expected, actual any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := act[k]
			if !ok || !subset(v, av) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !subset(exp[i], act[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(expected, actual)
}
