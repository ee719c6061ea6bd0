package funnel

import "strings"

// String returns a trimmed string field or "".
func (d Data) String(key string) string {
	s, _ := d[key].(string)
	return strings.TrimSpace(s)
}

// Bool returns a boolean field or false.
func (d Data) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// Float returns a numeric field. JSON numbers decode as float64, Go callers
// may pass ints.
func (d Data) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Strings returns a list of strings from []interface{} or []string values.
// Non-string items are dropped.
func (d Data) Strings(key string) []string {
	switch v := d[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Objects returns a list of objects from []interface{} or []map values.
func (d Data) Objects(key string) []Data {
	switch v := d[key].(type) {
	case []map[string]interface{}:
		out := make([]Data, len(v))
		for i, m := range v {
			out[i] = Data(m)
		}
		return out
	case []interface{}:
		out := make([]Data, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, Data(m))
			}
		}
		return out
	}
	return nil
}

// Object returns a nested object or nil.
func (d Data) Object(key string) Data {
	switch v := d[key].(type) {
	case map[string]interface{}:
		return Data(v)
	case Data:
		return v
	}
	return nil
}

// Filled reports whether every key holds a non-blank string.
func (d Data) Filled(keys ...string) bool {
	for _, k := range keys {
		if d.String(k) == "" {
			return false
		}
	}
	return true
}
