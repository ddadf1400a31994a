package runtime

import (
	"fmt"
	"regexp"
)

var varPattern = regexp.MustCompile(`\{\{\s*vars\.([A-Za-z0-9_]+)\s*\}\}`)

// interpolateArgs resolves {{vars.X}} placeholders in string leaves of args.
// Nested maps and slices are walked recursively; non-string leaves pass
// through unchanged. Unknown vars leave the placeholder intact.
func interpolateArgs(args map[string]any, vars map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = interpolateValue(v, vars)
	}
	return out
}

func interpolateValue(v any, vars map[string]any) any {
	switch val := v.(type) {
	case string:
		return interpolateString(val, vars)
	case map[string]any:
		return interpolateArgs(val, vars)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = interpolateValue(item, vars)
		}
		return out
	default:
		return v
	}
}

func interpolateString(s string, vars map[string]any) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			return match
		}
		if str, ok := value.(string); ok {
			return str
		}
		return fmt.Sprint(value)
	})
}
