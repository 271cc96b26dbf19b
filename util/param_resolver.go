package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRegex = regexp.MustCompile("{(.*?)}")

// ResolveParams replaces {$.path} tokens in string values with values looked up
// in data. A string made of a single token keeps the looked up value's type.
func ResolveParams(data map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any, len(params))
	for k, v := range params {
		output[k] = resolveValue(data, v)
	}
	return output
}

func resolveValue(data map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return ResolveParams(data, val)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, resolveValue(data, item))
		}
		return out
	case string:
		return resolveString(data, val)
	default:
		return v
	}
}

func resolveString(data map[string]any, s string) any {
	tokens := tokenRegex.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	if len(tokens) == 1 && tokens[0] == s {
		if value, ok := lookup(data, s); ok {
			return value
		}
		return s
	}
	newStr := s
	for _, token := range tokens {
		if value, ok := lookup(data, token); ok {
			newStr = strings.ReplaceAll(newStr, token, fmt.Sprintf("%v", value))
		}
	}
	return newStr
}

func lookup(data map[string]any, token string) (any, bool) {
	path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
	if !strings.HasPrefix(path, "$") {
		return nil, false
	}
	value, err := jsonpath.JsonPathLookup(data, path)
	if err != nil {
		return nil, false
	}
	return value, true
}
