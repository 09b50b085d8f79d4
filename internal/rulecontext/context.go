// Package rulecontext holds the per-invocation facts rules are evaluated against.
//
// A Context is built once by the caller that announces a trigger and is never
// mutated afterwards. Every accessor reports presence explicitly; a missing
// key, a missing path segment or a value of the wrong shape all resolve to
// "absent" rather than an error or a panic.
package rulecontext

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// Context is an immutable map of named values (ids, strings, numbers, nested maps)
type Context struct {
	values map[string]interface{}
}

// New copies values into a new Context. Nested maps and slices are copied too,
// so later changes to the caller's map do not leak into a running evaluation.
func New(values map[string]interface{}) Context {
	copied := make(map[string]interface{}, len(values))
	for k, v := range values {
		copied[k] = copyValue(v)
	}
	return Context{values: copied}
}

// FromJSON decodes a JSON object into a Context
func FromJSON(data []byte) (Context, error) {
	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return Context{}, fmt.Errorf("context must be a JSON object: %w", err)
	}
	return New(values), nil
}

// GetPath resolves a dotted path ("lead.insurance_type") segment by segment.
// It returns false when any segment is absent or an intermediate value is not a map.
func (c Context) GetPath(path string) (interface{}, bool) {
	if path == "" || c.values == nil {
		return nil, false
	}

	var current interface{} = c.values
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, false
		}
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	return current, true
}

// Has reports whether path resolves
func (c Context) Has(path string) bool {
	_, ok := c.GetPath(path)
	return ok
}

// GetString resolves path and renders scalar values as a string.
// Maps, slices and nil are reported as absent.
func (c Context) GetString(path string) (string, bool) {
	v, ok := c.GetPath(path)
	if !ok || v == nil {
		return "", false
	}
	return ScalarString(v)
}

// GetInt resolves path as a whole number. Numeric strings are accepted,
// fractional numbers and booleans are not.
func (c Context) GetInt(path string) (int64, bool) {
	v, ok := c.GetPath(path)
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case bool:
		return 0, false
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, false
		}
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false
		}
		v = strings.TrimSpace(n)
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

// Snapshot returns a deep copy of the values, suitable for audit records and webhook payloads
func (c Context) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = copyValue(v)
	}
	return out
}

// ScalarString renders a scalar the way rule authors type values: integral
// floats drop their decimals so a JSON 42 compares equal to "42".
func ScalarString(v interface{}) (string, bool) {
	switch n := v.(type) {
	case nil:
		return "", true
	case string:
		return n, true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return cast.ToString(int64(n)), true
		}
	case float32:
		f := float64(n)
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return cast.ToString(int64(f)), true
		}
	case map[string]interface{}, map[string]string, []interface{}:
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return s, true
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, inner := range t {
			m[k] = copyValue(inner)
		}
		return m
	case map[string]string:
		m := make(map[string]string, len(t))
		for k, inner := range t {
			m[k] = inner
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, inner := range t {
			s[i] = copyValue(inner)
		}
		return s
	default:
		return v
	}
}
