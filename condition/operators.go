package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

var knownOperators = map[Operator]bool{
	OP_EQUALS: true, OP_NOT_EQUALS: true, OP_CONTAINS: true, OP_NOT_CONTAINS: true,
	OP_STARTS_WITH: true, OP_ENDS_WITH: true, OP_IN: true, OP_NOT_IN: true,
	OP_GREATER_THAN: true, OP_LESS_THAN: true, OP_GREATER_OR_EQUAL: true, OP_LESS_OR_EQUAL: true,
	OP_IS_NULL: true, OP_IS_NOT_NULL: true, OP_IS_EMPTY: true, OP_IS_NOT_EMPTY: true,
}

func IsKnownOperator(op Operator) bool {
	return knownOperators[op]
}

func apply(op Operator, actual, expected any) bool {
	switch op {
	case OP_EQUALS:
		return equals(actual, expected)
	case OP_NOT_EQUALS:
		return !equals(actual, expected)
	case OP_CONTAINS:
		return contains(actual, expected)
	case OP_NOT_CONTAINS:
		return !contains(actual, expected)
	case OP_STARTS_WITH:
		a, ok1 := actual.(string)
		e, ok2 := expected.(string)
		return ok1 && ok2 && strings.HasPrefix(a, e)
	case OP_ENDS_WITH:
		a, ok1 := actual.(string)
		e, ok2 := expected.(string)
		return ok1 && ok2 && strings.HasSuffix(a, e)
	case OP_IN:
		in, ok := member(actual, expected)
		return ok && in
	case OP_NOT_IN:
		in, ok := member(actual, expected)
		return ok && !in
	case OP_GREATER_THAN:
		c, ok := compare(actual, expected)
		return ok && c > 0
	case OP_LESS_THAN:
		c, ok := compare(actual, expected)
		return ok && c < 0
	case OP_GREATER_OR_EQUAL:
		c, ok := compare(actual, expected)
		return ok && c >= 0
	case OP_LESS_OR_EQUAL:
		c, ok := compare(actual, expected)
		return ok && c <= 0
	case OP_IS_NULL:
		return actual == nil
	case OP_IS_NOT_NULL:
		return actual != nil
	case OP_IS_EMPTY:
		return isEmpty(actual)
	case OP_IS_NOT_EMPTY:
		return !isEmpty(actual)
	default:
		return false
	}
}

func equals(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	a, ok1 := toFloat(actual)
	e, ok2 := toFloat(expected)
	if ok1 && ok2 {
		return a == e
	}
	return reflect.DeepEqual(actual, expected)
}

func contains(actual, expected any) bool {
	if actual == nil {
		return false
	}
	if s, ok := actual.(string); ok {
		return strings.Contains(s, fmt.Sprintf("%v", expected))
	}
	in, ok := member(expected, actual)
	return ok && in
}

// member reports whether value is an element of list; ok is false when list is not a slice.
func member(value, list any) (in bool, ok bool) {
	if list == nil {
		return false, false
	}
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false, false
	}
	for i := 0; i < rv.Len(); i++ {
		if equals(value, rv.Index(i).Interface()) {
			return true, true
		}
	}
	return false, true
}

func compare(actual, expected any) (int, bool) {
	a, ok1 := toFloat(actual)
	e, ok2 := toFloat(expected)
	if ok1 && ok2 {
		switch {
		case a < e:
			return -1, true
		case a > e:
			return 1, true
		}
		return 0, true
	}
	as, ok1 := actual.(string)
	es, ok2 := expected.(string)
	if ok1 && ok2 {
		return strings.Compare(as, es), true
	}
	return 0, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
