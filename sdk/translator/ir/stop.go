package ir

import "fmt"

// NormalizeStop flattens every vendor spelling of stop sequences into
// a list of strings: a scalar becomes a single-element list, list
// elements that are not strings are stringified, absent or null yields
// nil so the field is omitted entirely. Applied identically regardless
// of source format.
func NormalizeStop(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	case []string:
		if len(s) == 0 {
			return nil
		}
		out := make([]string, len(s))
		copy(out, s)
		return out
	case []any:
		if len(s) == 0 {
			return nil
		}
		out := make([]string, 0, len(s))
		for _, el := range s {
			if el == nil {
				continue
			}
			out = append(out, stringifyStop(el))
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return []string{stringifyStop(v)}
	}
}

func stringifyStop(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
