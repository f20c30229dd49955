package browseflow

import (
	"encoding/json"
	"time"
)

// Scratch is the free-form key/value state a workflow carries between nodes.
//
// Executors receive a copy and return a partial update; the engine merges
// the update at node boundaries. Values should be JSON-friendly so that
// checkpoints round-trip. Accessors return the default when a key is missing
// or holds a value of another type, so code reading restored state (where
// numbers come back as float64) works unchanged.
type Scratch map[string]any

// Merge writes every key of update into s and returns s. A nil s is allocated.
func (s Scratch) Merge(update Scratch) Scratch {
	if s == nil {
		s = make(Scratch, len(update))
	}
	for k, v := range update {
		s[k] = v
	}
	return s
}

// Clone returns a copy of s. Nested maps and []any slices are copied too;
// other values are shared.
func (s Scratch) Clone() Scratch {
	if s == nil {
		return Scratch{}
	}
	out := make(Scratch, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Scratch:
		return t.Clone()
	case map[string]any:
		return map[string]any(Scratch(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// Has returns true if the key exists.
func (s Scratch) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// String returns the string value for key, or defaultVal.
func (s Scratch) String(key, defaultVal string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal.
func (s Scratch) Bool(key string, defaultVal bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal.
// Float values are accepted only when they have no fractional part.
func (s Scratch) Int(key string, defaultVal int) int {
	switch val := s[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal.
// Strings are parsed with time.ParseDuration; numbers are seconds.
func (s Scratch) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := s[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// StringSlice returns the string slice for key, or defaultVal.
func (s Scratch) StringSlice(key string, defaultVal []string) []string {
	switch val := s[key].(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, str)
		}
		return result
	}
	return defaultVal
}

// Map returns the nested object for key, or nil.
func (s Scratch) Map(key string) map[string]any {
	switch val := s[key].(type) {
	case map[string]any:
		return val
	case Scratch:
		return val
	}
	return nil
}

// Decode converts the value at key into out through its JSON form. It is
// the way to read typed values that may have come back from a checkpoint as
// generic maps and slices. It returns false when the key is missing.
func (s Scratch) Decode(key string, out any) (bool, error) {
	v, ok := s[key]
	if !ok || v == nil {
		return false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return true, err
	}
	return true, json.Unmarshal(data, out)
}
