package condition

import (
	"fmt"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
)

// Validate rejects condition trees that Evaluate could only fail closed on.
// It runs when templates are registered, never during evaluation.
func Validate(cond model.Condition) error {
	return validate(cond, "condition")
}

func validate(cond model.Condition, path string) error {
	if len(cond) == 0 {
		return nil
	}
	for _, key := range []string{KEY_AND, KEY_OR} {
		children, ok := cond[key]
		if !ok {
			continue
		}
		if len(cond) != 1 {
			return api.Invalidf(path, "combinator %q can not be mixed with other keys", key)
		}
		list, ok := toList(children)
		if !ok {
			return api.Invalidf(path, "%q expects a list of conditions", key)
		}
		for i, child := range list {
			c, ok := toCondition(child)
			if !ok {
				return api.Invalidf(fmt.Sprintf("%s.%s[%d]", path, key, i), "not a condition")
			}
			if err := validate(c, fmt.Sprintf("%s.%s[%d]", path, key, i)); err != nil {
				return err
			}
		}
		return nil
	}
	if child, ok := cond[KEY_NOT]; ok {
		if len(cond) != 1 {
			return api.Invalidf(path, "combinator \"not\" can not be mixed with other keys")
		}
		c, ok := toCondition(child)
		if !ok {
			return api.Invalidf(path+".not", "not a condition")
		}
		return validate(c, path+".not")
	}
	field, ok := cond[KEY_FIELD].(string)
	if !ok || len(field) == 0 {
		return api.Invalidf(path, "leaf condition requires a field")
	}
	opStr, _ := cond[KEY_OPERATOR].(string)
	op := Operator(opStr)
	if !IsKnownOperator(op) {
		return api.Invalidf(path, "unknown operator %q", opStr)
	}
	switch op {
	case OP_IS_NULL, OP_IS_NOT_NULL, OP_IS_EMPTY, OP_IS_NOT_EMPTY:
	case OP_IN, OP_NOT_IN:
		if _, ok := member(nil, cond[KEY_VALUE]); !ok {
			return api.Invalidf(path, "operator %q requires a list value", op)
		}
	default:
		if _, ok := cond[KEY_VALUE]; !ok {
			return api.Invalidf(path, "operator %q requires a value", op)
		}
	}
	return nil
}
