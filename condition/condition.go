// Package condition evaluates boolean condition trees against entity attribute maps.
//
// A condition is either a leaf {field, operator, value} or a combinator
// {and: [...]}, {or: [...]}, {not: {...}}. Fields are dot separated paths into
// nested maps. An absent or empty condition always matches, and an unknown
// operator never matches: a misconfigured rule fails closed instead of
// silently granting a match.
package condition

import (
	"sync"

	"github.com/mohitkumar/grcflow/model"
	"github.com/oliveagle/jsonpath"
)

type Operator string

const OP_EQUALS Operator = "equals"
const OP_NOT_EQUALS Operator = "not_equals"
const OP_CONTAINS Operator = "contains"
const OP_NOT_CONTAINS Operator = "not_contains"
const OP_STARTS_WITH Operator = "starts_with"
const OP_ENDS_WITH Operator = "ends_with"
const OP_IN Operator = "in"
const OP_NOT_IN Operator = "not_in"
const OP_GREATER_THAN Operator = "greater_than"
const OP_LESS_THAN Operator = "less_than"
const OP_GREATER_OR_EQUAL Operator = "greater_or_equal"
const OP_LESS_OR_EQUAL Operator = "less_or_equal"
const OP_IS_NULL Operator = "is_null"
const OP_IS_NOT_NULL Operator = "is_not_null"
const OP_IS_EMPTY Operator = "is_empty"
const OP_IS_NOT_EMPTY Operator = "is_not_empty"

const KEY_AND = "and"
const KEY_OR = "or"
const KEY_NOT = "not"
const KEY_FIELD = "field"
const KEY_OPERATOR = "operator"
const KEY_VALUE = "value"

var compiledPaths sync.Map

// Evaluate reports whether cond matches attrs. It performs no I/O and never
// mutates its inputs.
func Evaluate(cond model.Condition, attrs map[string]any) bool {
	if len(cond) == 0 {
		return true
	}
	if children, ok := cond[KEY_AND]; ok {
		list, ok := toList(children)
		if !ok {
			return false
		}
		for _, child := range list {
			c, ok := toCondition(child)
			if !ok || !Evaluate(c, attrs) {
				return false
			}
		}
		return true
	}
	if children, ok := cond[KEY_OR]; ok {
		list, ok := toList(children)
		if !ok {
			return false
		}
		for _, child := range list {
			c, ok := toCondition(child)
			if ok && Evaluate(c, attrs) {
				return true
			}
		}
		return false
	}
	if child, ok := cond[KEY_NOT]; ok {
		c, ok := toCondition(child)
		if !ok {
			return false
		}
		return !Evaluate(c, attrs)
	}
	field, ok := cond[KEY_FIELD].(string)
	if !ok {
		return false
	}
	op, _ := cond[KEY_OPERATOR].(string)
	return apply(Operator(op), Resolve(attrs, field), cond[KEY_VALUE])
}

// Resolve walks a dot separated path through nested maps. Any missing
// intermediate key resolves to nil.
func Resolve(attrs map[string]any, field string) any {
	if len(field) == 0 || attrs == nil {
		return nil
	}
	path := "$." + field
	var compiled *jsonpath.Compiled
	if c, ok := compiledPaths.Load(path); ok {
		compiled = c.(*jsonpath.Compiled)
	} else {
		c, err := jsonpath.Compile(path)
		if err != nil {
			return nil
		}
		compiledPaths.Store(path, c)
		compiled = c
	}
	value, err := compiled.Lookup(attrs)
	if err != nil {
		return nil
	}
	return value
}

func toList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []model.Condition:
		out := make([]any, 0, len(list))
		for _, c := range list {
			out = append(out, c)
		}
		return out, true
	case []map[string]any:
		out := make([]any, 0, len(list))
		for _, c := range list {
			out = append(out, c)
		}
		return out, true
	}
	return nil, false
}

func toCondition(v any) (model.Condition, bool) {
	switch c := v.(type) {
	case nil:
		return nil, true
	case model.Condition:
		return c, true
	case map[string]any:
		return model.Condition(c), true
	case map[any]any:
		out := make(model.Condition, len(c))
		for k, val := range c {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	}
	return nil, false
}
