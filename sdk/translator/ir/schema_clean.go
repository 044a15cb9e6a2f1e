package ir

// JSON-schema sanitation for vendors that accept only a subset of the
// draft keywords. Both cleaners return deep copies; the input schema is
// never mutated.

// geminiUnsupportedKeys are schema keywords the Gemini API rejects in
// responseSchema / functionDeclarations.parameters.
var geminiUnsupportedKeys = map[string]struct{}{
	"$schema":              {},
	"$id":                  {},
	"$defs":                {},
	"$ref":                 {},
	"additionalProperties": {},
	"default":              {},
	"examples":             {},
	"title":                {},
	"strict":               {},
}

// CleanSchemaForGemini strips keywords Gemini rejects and flattens
// nullable type arrays (["string","null"] becomes type "string" with
// nullable true).
func CleanSchemaForGemini(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	cleaned := cleanValue(schema, geminiUnsupportedKeys)
	m, _ := cleaned.(map[string]any)
	return m
}

// CleanSchemaForClaude normalizes a schema for Claude tool input:
// object type and a properties key are guaranteed so empty-parameter
// tools validate.
func CleanSchemaForClaude(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	cleaned := cleanValue(schema, map[string]struct{}{"strict": {}})
	m, ok := cleaned.(map[string]any)
	if !ok {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	if m["type"] == "object" {
		if _, ok := m["properties"]; !ok {
			m["properties"] = map[string]any{}
		}
	}
	return m
}

func cleanValue(v any, drop map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, skip := drop[k]; skip {
				continue
			}
			out[k] = cleanValue(val, drop)
		}
		flattenNullableType(out)
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cleanValue(el, drop)
		}
		return out
	default:
		return v
	}
}

// flattenNullableType rewrites type:["X","null"] into type:"X" plus
// nullable:true, which is the only null spelling Gemini accepts.
func flattenNullableType(m map[string]any) {
	arr, ok := m["type"].([]any)
	if !ok || len(arr) == 0 {
		return
	}
	var base string
	nullable := false
	for _, el := range arr {
		s, _ := el.(string)
		if s == "null" {
			nullable = true
			continue
		}
		if base == "" {
			base = s
		}
	}
	if base == "" {
		base = "string"
	}
	m["type"] = base
	if nullable {
		m["nullable"] = true
	}
}
