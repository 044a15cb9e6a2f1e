package schema

import (
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/llmbridge-dev/llmbridge/internal/json"
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
)

// Repair applies one bounded pass of mechanical fixes to a document
// that failed validation: syntax repair for malformed JSON, wrapping a
// bare scalar into the expected single-property object, and coercing
// stringified numbers for properties the schema declares numeric. The
// caller re-validates; Repair never loops.
func Repair(doc []byte, schemaDef map[string]any) ([]byte, bool) {
	out := doc
	changed := false
	if !json.Valid(out) {
		fixed, err := jsonrepair.JSONRepair(string(out))
		if err != nil || !json.Valid([]byte(fixed)) {
			return doc, false
		}
		log.Debugf("repaired structured output syntax (%d bytes)", len(out))
		out = []byte(fixed)
		changed = true
	}
	if wrapped, ok := wrapBareScalar(out, schemaDef); ok {
		out = wrapped
		changed = true
	}
	if coerced, ok := coerceStringNumbers(out, schemaDef); ok {
		out = coerced
		changed = true
	}
	return out, changed
}

// wrapBareScalar turns a bare scalar into {"<prop>": scalar} when the
// schema wants an object with exactly one property.
func wrapBareScalar(doc []byte, schemaDef map[string]any) ([]byte, bool) {
	if schemaType(schemaDef) != "object" {
		return doc, false
	}
	props, _ := schemaDef["properties"].(map[string]any)
	if len(props) != 1 {
		return doc, false
	}
	parsed := gjson.ParseBytes(doc)
	switch parsed.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
	default:
		return doc, false
	}
	var name string
	for k := range props {
		name = k
	}
	wrapped, err := json.Marshal(map[string]any{name: parsed.Value()})
	if err != nil {
		return doc, false
	}
	log.Debugf("wrapped bare %s into object property %q", jsonTypeName(parsed), name)
	return wrapped, true
}

// coerceStringNumbers rewrites "42" into 42 for properties the schema
// declares number or integer.
func coerceStringNumbers(doc []byte, schemaDef map[string]any) ([]byte, bool) {
	props, _ := schemaDef["properties"].(map[string]any)
	if len(props) == 0 || !gjson.ParseBytes(doc).IsObject() {
		return doc, false
	}
	out := doc
	changed := false
	for _, name := range sortedKeys(props) {
		propSchema, _ := props[name].(map[string]any)
		if propSchema == nil {
			continue
		}
		want := schemaType(propSchema)
		if want != "number" && want != "integer" {
			continue
		}
		field := gjson.GetBytes(out, name)
		if field.Type != gjson.String {
			continue
		}
		num, err := strconv.ParseFloat(strings.TrimSpace(field.Str), 64)
		if err != nil {
			continue
		}
		var rewritten []byte
		if want == "integer" && num == math.Trunc(num) {
			rewritten, err = sjson.SetBytes(out, name, int64(num))
		} else {
			rewritten, err = sjson.SetBytes(out, name, num)
		}
		if err != nil {
			continue
		}
		out = rewritten
		changed = true
	}
	if changed {
		log.Debugf("coerced stringified numbers to schema types")
	}
	return out, changed
}
