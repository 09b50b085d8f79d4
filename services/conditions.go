package services

import (
	"reflect"
	"strings"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
)

// CONDITION EVALUATION

// MatchConditions reports whether every condition holds for rc.
// An empty list always matches; evaluation stops at the first false clause.
func MatchConditions(rc rulecontext.Context, conditions []db.Condition) bool {
	for _, cond := range conditions {
		if !EvaluateCondition(rc, cond) {
			return false
		}
	}
	return true
}

// EvaluateCondition applies a single condition. A field that does not resolve,
// a type mismatch or an unknown operator all evaluate to false.
func EvaluateCondition(rc rulecontext.Context, cond db.Condition) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("field", cond.Field).
				Str("operator", string(cond.Operator)).
				Msg("Condition evaluation panicked")
			matched = false
		}
	}()

	fieldValue, ok := rc.GetPath(cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case db.OperatorEquals:
		return looseEquals(fieldValue, cond.Value)
	case db.OperatorNotEquals:
		return isScalar(fieldValue) && isScalar(cond.Value) && !looseEquals(fieldValue, cond.Value)
	case db.OperatorContains:
		found, applicable := containsValue(fieldValue, cond.Value)
		return applicable && found
	case db.OperatorNotContains:
		found, applicable := containsValue(fieldValue, cond.Value)
		return applicable && !found
	case db.OperatorGreaterThan:
		a, okA := toNumber(fieldValue)
		b, okB := toNumber(cond.Value)
		return okA && okB && a > b
	case db.OperatorLessThan:
		a, okA := toNumber(fieldValue)
		b, okB := toNumber(cond.Value)
		return okA && okB && a < b
	case db.OperatorIn:
		list, ok := valueList(cond.Value)
		return ok && memberOf(fieldValue, list)
	case db.OperatorNotIn:
		list, ok := valueList(cond.Value)
		return ok && isScalar(fieldValue) && !memberOf(fieldValue, list)
	case db.OperatorIsEmpty:
		return isEmptyValue(fieldValue)
	case db.OperatorIsNotEmpty:
		return !isEmptyValue(fieldValue)
	default:
		log.Debug().Str("operator", string(cond.Operator)).Msg("Unknown condition operator")
		return false
	}
}

// looseEquals compares two values by their string rendering
func looseEquals(a, b interface{}) bool {
	sa, okA := rulecontext.ScalarString(a)
	sb, okB := rulecontext.ScalarString(b)
	if !okA || !okB {
		return false
	}
	return sa == sb
}

// isScalar reports whether v can take part in a loose comparison at all
func isScalar(v interface{}) bool {
	_, ok := rulecontext.ScalarString(v)
	return ok
}

// containsValue is substring search for strings and membership for lists.
// applicable is false when the field has any other shape.
func containsValue(field, needle interface{}) (found bool, applicable bool) {
	switch f := field.(type) {
	case string:
		n, ok := rulecontext.ScalarString(needle)
		if !ok {
			return false, false
		}
		return strings.Contains(f, n), true
	case []interface{}:
		return memberOf(needle, f), true
	case []string:
		return memberOf(needle, stringsToList(f)), true
	}
	return false, false
}

// toNumber coerces v to float64. Booleans, empty strings and unparsable values are non-numeric.
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		v = s
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// valueList reads the list side of in/not_in. User-entered values often arrive
// as "auto, home" so a comma separated string is split into a list.
func valueList(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case []interface{}:
		return l, true
	case []string:
		return stringsToList(l), true
	case string:
		parts := strings.Split(l, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, true
	}
	return nil, false
}

func memberOf(v interface{}, list []interface{}) bool {
	for _, item := range list {
		if looseEquals(v, item) {
			return true
		}
	}
	return false
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func stringsToList(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
