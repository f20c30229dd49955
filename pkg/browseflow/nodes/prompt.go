package nodes

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var varPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// expand replaces ${name} with vars[name]. Unknown names are left in place.
// Maps and slices are rendered as indented JSON.
func expand(s string, vars map[string]any) string {
	if s == "" {
		return ""
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		val, ok := vars[match[2:len(match)-1]]
		if !ok {
			return match
		}
		switch v := val.(type) {
		case string:
			return v
		case nil:
			return "null"
		case map[string]any, []any, []string:
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(data)
		default:
			return fmt.Sprintf("%v", v)
		}
	})
}
