// Package schema validates structured model output against the JSON
// schema the request declared. The full checker runs draft-07 through
// santhosh-tekuri/jsonschema; a reduced checker covers top-level type,
// required-property presence and per-property primitive types for
// schemas the compiler rejects. A failing document gets one repair
// pass before the violation is surfaced.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/llmbridge-dev/llmbridge/internal/json"
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
)

// Checker modes reported in Result.Mode.
const (
	ModeFull    = "full"
	ModeReduced = "reduced"
)

// Result reports one validation outcome. Doc carries the bytes the
// checker saw last: the repaired document when the repair pass ran,
// otherwise the input unchanged.
type Result struct {
	Valid    bool
	Mode     string
	Repaired bool
	Detail   string
	Doc      []byte
}

// Validate checks doc against schemaDef with the full draft-07
// checker, falling back to the reduced checker when the schema does
// not compile. A document that fails gets one repair pass and one
// re-check before the violation is surfaced.
func Validate(doc []byte, schemaDef map[string]any) Result {
	return ValidateMode(doc, schemaDef, ModeFull)
}

// ValidateMode is Validate with an explicit checker mode. Modes other
// than ModeReduced run the full checker.
func ValidateMode(doc []byte, schemaDef map[string]any, mode string) Result {
	c := newChecker(schemaDef, mode)
	detail := c.check(doc)
	if detail == "" {
		return Result{Valid: true, Mode: c.mode, Doc: doc}
	}
	repaired, changed := Repair(doc, schemaDef)
	if changed {
		detail = c.check(repaired)
		if detail == "" {
			return Result{Valid: true, Mode: c.mode, Repaired: true, Doc: repaired}
		}
		doc = repaired
	}
	return Result{Mode: c.mode, Repaired: changed, Detail: detail, Doc: doc}
}

type checker struct {
	mode     string
	compiled *jsonschema.Schema
	def      map[string]any
}

func newChecker(schemaDef map[string]any, mode string) *checker {
	if mode != ModeReduced {
		compiled, err := compile(schemaDef)
		if err == nil {
			return &checker{mode: ModeFull, compiled: compiled}
		}
		log.Debugf("response schema did not compile, using reduced checker: %v", err)
	}
	return &checker{mode: ModeReduced, def: schemaDef}
}

// check returns the first violation, or "" for a conforming document.
func (c *checker) check(doc []byte) string {
	if c.compiled != nil {
		return fullCheck(c.compiled, doc)
	}
	return reducedCheck(doc, c.def)
}

func compile(schemaDef map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaDef)
	if err != nil {
		return nil, err
	}
	// Round-trip through the validator's own decoder so numbers take
	// the representation it expects.
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft7)
	if err := c.AddResource("schema.json", decoded); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

func fullCheck(compiled *jsonschema.Schema, doc []byte) string {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return "document is not valid JSON: " + err.Error()
	}
	if err := compiled.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return violationDetail(ve)
		}
		return err.Error()
	}
	return ""
}

var detailPrinter = message.NewPrinter(language.English)

// violationDetail flattens the error tree to its first leaf so Detail
// stays a single line.
func violationDetail(ve *jsonschema.ValidationError) string {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	detail := leaf.ErrorKind.LocalizedString(detailPrinter)
	if len(leaf.InstanceLocation) > 0 {
		return "at /" + strings.Join(leaf.InstanceLocation, "/") + ": " + detail
	}
	return detail
}

func reducedCheck(doc []byte, schemaDef map[string]any) string {
	if !json.Valid(bytes.TrimSpace(doc)) {
		return "document is not valid JSON"
	}
	parsed := gjson.ParseBytes(doc)
	if want := schemaType(schemaDef); want != "" && !typeMatches(parsed, want) {
		return fmt.Sprintf("document is %s, schema wants %s", jsonTypeName(parsed), want)
	}
	if !parsed.IsObject() {
		return ""
	}
	required, _ := schemaDef["required"].([]any)
	for _, r := range required {
		if name, ok := r.(string); ok && name != "" && !parsed.Get(name).Exists() {
			return fmt.Sprintf("missing required property %q", name)
		}
	}
	props, _ := schemaDef["properties"].(map[string]any)
	for _, name := range sortedKeys(props) {
		propSchema, _ := props[name].(map[string]any)
		if propSchema == nil {
			continue
		}
		field := parsed.Get(name)
		if !field.Exists() {
			continue
		}
		if want := schemaType(propSchema); want != "" && !typeMatches(field, want) {
			return fmt.Sprintf("property %q is %s, schema wants %s", name, jsonTypeName(field), want)
		}
	}
	return ""
}

// schemaType reads the schema's type keyword; for a type list the
// first non-null entry wins.
func schemaType(def map[string]any) string {
	switch t := def["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

func typeMatches(v gjson.Result, want string) bool {
	switch want {
	case "object":
		return v.IsObject()
	case "array":
		return v.IsArray()
	case "string":
		return v.Type == gjson.String
	case "boolean":
		return v.Type == gjson.True || v.Type == gjson.False
	case "null":
		return v.Type == gjson.Null
	case "number":
		return v.Type == gjson.Number
	case "integer":
		return v.Type == gjson.Number && v.Num == math.Trunc(v.Num)
	}
	return true
}

func jsonTypeName(v gjson.Result) string {
	switch {
	case v.IsObject():
		return "object"
	case v.IsArray():
		return "array"
	}
	switch v.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Null:
		return "null"
	}
	return "unknown"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
