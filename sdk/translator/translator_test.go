package translator

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/llmbridge-dev/llmbridge/internal/config"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func TestToDomainRequestNormalizesStop(t *testing.T) {
	svc := New(nil)
	raw := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stop":"END","max_tokens":64}`)

	req, err := svc.ToDomainRequest(raw, FormatOpenAI)
	if err != nil {
		t.Fatalf("ToDomainRequest: %v", err)
	}
	if req.Model != "gpt-4o" {
		t.Errorf("Model = %q", req.Model)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "END" {
		t.Errorf("Stop = %v, want [END]", req.Stop)
	}
	if req.MaxTokens == nil || *req.MaxTokens != 64 {
		t.Errorf("MaxTokens = %v, want 64", req.MaxTokens)
	}
}

func TestRequestRoundTripOpenAI(t *testing.T) {
	svc := New(nil)
	raw := []byte(`{"model":"gpt-4o","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}],"temperature":0.5}`)

	req, err := svc.ToDomainRequest(raw, FormatOpenAI)
	if err != nil {
		t.Fatalf("ToDomainRequest: %v", err)
	}
	out, err := svc.FromDomainRequest(req, FormatOpenAI)
	if err != nil {
		t.Fatalf("FromDomainRequest: %v", err)
	}

	root := gjson.ParseBytes(out)
	if root.Get("model").String() != "gpt-4o" {
		t.Errorf("model = %q", root.Get("model").String())
	}
	if n := root.Get("messages.#").Int(); n != 2 {
		t.Errorf("messages count = %d, want 2", n)
	}
	if root.Get("messages.0.role").String() != "system" {
		t.Errorf("first role = %q", root.Get("messages.0.role").String())
	}
	if root.Get("messages.1.content").String() != "hi" {
		t.Errorf("user content = %q", root.Get("messages.1.content").String())
	}
	if root.Get("temperature").Float() != 0.5 {
		t.Errorf("temperature = %v", root.Get("temperature").Float())
	}
}

func TestTranslateRequestOpenAIToClaude(t *testing.T) {
	svc := New(nil)
	raw := []byte(`{"model":"claude-sonnet-4","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}`)

	out, err := svc.TranslateRequest(raw, FormatOpenAI, FormatClaude)
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}

	root := gjson.ParseBytes(out)
	if root.Get("system").String() != "be brief" {
		t.Errorf("system = %q", root.Get("system").String())
	}
	if n := root.Get("messages.#").Int(); n != 1 {
		t.Errorf("messages count = %d, want 1", n)
	}
	if root.Get("messages.0.role").String() != "user" {
		t.Errorf("role = %q", root.Get("messages.0.role").String())
	}
	if root.Get("max_tokens").Int() == 0 {
		t.Error("claude requests need a max_tokens default")
	}
}

func TestResponseTranslationClaudeToOpenAI(t *testing.T) {
	svc := New(nil)
	raw := []byte(`{"id":"msg_01","model":"claude-sonnet-4","content":[{"type":"text","text":"Hello"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)

	resp, err := svc.ToDomainResponse(raw, FormatClaude)
	if err != nil {
		t.Fatalf("ToDomainResponse: %v", err)
	}
	out, err := svc.FromDomainResponse(resp, FormatOpenAI)
	if err != nil {
		t.Fatalf("FromDomainResponse: %v", err)
	}

	root := gjson.ParseBytes(out)
	if root.Get("object").String() != "chat.completion" {
		t.Errorf("object = %q", root.Get("object").String())
	}
	if root.Get("choices.0.message.content").String() != "Hello" {
		t.Errorf("content = %q", root.Get("choices.0.message.content").String())
	}
	if root.Get("choices.0.finish_reason").String() != "stop" {
		t.Errorf("finish_reason = %q", root.Get("choices.0.finish_reason").String())
	}
	if root.Get("usage.prompt_tokens").Int() != 10 ||
		root.Get("usage.completion_tokens").Int() != 5 ||
		root.Get("usage.total_tokens").Int() != 15 {
		t.Errorf("usage = %s", root.Get("usage").Raw)
	}
}

func TestUnknownFormatYieldsInvalidFormat(t *testing.T) {
	svc := New(nil)
	if _, err := svc.ToDomainRequest([]byte(`{}`), Format("grok")); !ir.IsKind(err, ir.ErrInvalidFormat) {
		t.Fatalf("expected invalid_format, got %v", err)
	}
	if _, err := svc.FromDomainRequest(&ir.ChatRequest{}, Format("grok")); !ir.IsKind(err, ir.ErrInvalidFormat) {
		t.Fatalf("expected invalid_format, got %v", err)
	}
}

func TestValidateStructuredOutputRepairs(t *testing.T) {
	svc := New(nil)
	schemaDef := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "integer"},
		},
		"required": []any{"a"},
	}

	res := svc.ValidateStructuredOutput([]byte(`{'a': 1}`), schemaDef)
	if !res.Valid {
		t.Fatalf("expected repair to salvage the document, got %q", res.Detail)
	}
	if !res.Repaired {
		t.Error("expected Repaired to be set")
	}
	if gjson.GetBytes(res.Doc, "a").Int() != 1 {
		t.Errorf("repaired doc = %s", res.Doc)
	}
	if err := StructuredOutputError(res); err != nil {
		t.Errorf("valid result should map to nil error, got %v", err)
	}

	bad := svc.ValidateStructuredOutput([]byte(`{"a":"x"}`), schemaDef)
	if bad.Valid {
		t.Fatal("non-numeric value cannot satisfy the schema")
	}
	if err := StructuredOutputError(bad); !ir.IsKind(err, ir.ErrSchemaViolation) {
		t.Errorf("expected schema_violation, got %v", err)
	}
}

func TestValidateStructuredOutputReducedMode(t *testing.T) {
	svc := New(&config.Options{SchemaValidation: "reduced"})
	schemaDef := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "integer"},
		},
	}
	res := svc.ValidateStructuredOutput([]byte(`{"a":1}`), schemaDef)
	if !res.Valid {
		t.Fatalf("expected valid, got %q", res.Detail)
	}
	if res.Mode != "reduced" {
		t.Errorf("Mode = %q, want reduced", res.Mode)
	}
}

func TestFromDomainTokenCount(t *testing.T) {
	svc := New(nil)

	out, err := svc.FromDomainTokenCount(42, FormatGemini)
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	if gjson.GetBytes(out, "totalTokens").Int() != 42 {
		t.Errorf("gemini body = %s", out)
	}

	out, err = svc.FromDomainTokenCount(42, FormatClaude)
	if err != nil {
		t.Fatalf("claude: %v", err)
	}
	if gjson.GetBytes(out, "input_tokens").Int() != 42 {
		t.Errorf("claude body = %s", out)
	}

	for _, f := range []Format{FormatOpenAI, FormatOllama} {
		if _, err := svc.FromDomainTokenCount(42, f); !ir.IsKind(err, ir.ErrUnsupportedFeature) {
			t.Errorf("%s: expected unsupported_feature, got %v", f, err)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	svc := New(nil)
	req := &ir.ChatRequest{
		Model: "gpt-4o",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("Hello world")}},
		},
	}
	if n := svc.EstimateTokens(req); n <= 0 {
		t.Errorf("EstimateTokens = %d, want > 0", n)
	}
	if n := svc.EstimateTokens(nil); n != 0 {
		t.Errorf("EstimateTokens(nil) = %d, want 0", n)
	}
}

func TestSupportedFormats(t *testing.T) {
	svc := New(nil)
	got := make(map[Format]bool)
	for _, f := range svc.SupportedFormats() {
		got[f] = true
	}
	for _, want := range []Format{FormatOpenAI, FormatClaude, FormatGemini, FormatOllama} {
		if !got[want] {
			t.Errorf("missing format %s", want)
		}
	}
	if len(got) != 4 {
		t.Errorf("formats = %v, want exactly 4", got)
	}
}

func TestRequestRoundTripClaude(t *testing.T) {
	svc := New(nil)
	raw := []byte(`{"model":"claude-sonnet-4","max_tokens":512,"system":"be brief","messages":[` +
		`{"role":"user","content":"weather in Oslo?"},` +
		`{"role":"assistant","content":[{"type":"text","text":"checking"},{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Oslo"}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"5C"}]}],` +
		`"tools":[{"name":"get_weather","description":"city weather","input_schema":{"type":"object"}}]}`)

	req, err := svc.ToDomainRequest(raw, FormatClaude)
	if err != nil {
		t.Fatalf("ToDomainRequest: %v", err)
	}
	out, err := svc.FromDomainRequest(req, FormatClaude)
	if err != nil {
		t.Fatalf("FromDomainRequest: %v", err)
	}

	root := gjson.ParseBytes(out)
	if root.Get("model").String() != "claude-sonnet-4" {
		t.Errorf("model = %q", root.Get("model").String())
	}
	if root.Get("max_tokens").Int() != 512 {
		t.Errorf("max_tokens = %d", root.Get("max_tokens").Int())
	}
	if root.Get("system").String() != "be brief" {
		t.Errorf("system = %q", root.Get("system").String())
	}
	if n := root.Get("messages.#").Int(); n != 3 {
		t.Fatalf("messages count = %d, want 3", n)
	}
	if got := root.Get("messages.0.content.0.text").String(); got != "weather in Oslo?" {
		t.Errorf("user text = %q", got)
	}
	if got := root.Get("messages.1.content.0.text").String(); got != "checking" {
		t.Errorf("assistant text = %q", got)
	}
	call := root.Get("messages.1.content.1")
	if call.Get("type").String() != "tool_use" || call.Get("name").String() != "get_weather" {
		t.Errorf("tool_use block = %s", call.Raw)
	}
	if call.Get("id").String() != "toolu_1" {
		t.Errorf("tool_use id = %q", call.Get("id").String())
	}
	result := root.Get("messages.2.content.0")
	if result.Get("type").String() != "tool_result" || result.Get("tool_use_id").String() != "toolu_1" {
		t.Errorf("tool_result block = %s", result.Raw)
	}
	if result.Get("content").String() != "5C" {
		t.Errorf("tool_result content = %q", result.Get("content").String())
	}
}

func TestRequestRoundTripGemini(t *testing.T) {
	svc := New(nil)
	raw := []byte(`{"model":"gemini-2.0-flash",` +
		`"systemInstruction":{"parts":[{"text":"be brief"}]},` +
		`"contents":[` +
		`{"role":"user","parts":[{"text":"weather in Oslo?"}]},` +
		`{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Oslo"}}}]},` +
		`{"role":"user","parts":[{"functionResponse":{"name":"get_weather","response":{"temp":5}}}]}],` +
		`"tools":[{"functionDeclarations":[{"name":"get_weather","description":"city weather","parameters":{"type":"object"}}]}]}`)

	req, err := svc.ToDomainRequest(raw, FormatGemini)
	if err != nil {
		t.Fatalf("ToDomainRequest: %v", err)
	}
	out, err := svc.FromDomainRequest(req, FormatGemini)
	if err != nil {
		t.Fatalf("FromDomainRequest: %v", err)
	}

	root := gjson.ParseBytes(out)
	if root.Get("model").String() != "gemini-2.0-flash" {
		t.Errorf("model = %q", root.Get("model").String())
	}
	if got := root.Get("systemInstruction.parts.0.text").String(); got != "be brief" {
		t.Errorf("systemInstruction = %q", got)
	}
	if n := root.Get("contents.#").Int(); n != 3 {
		t.Fatalf("contents count = %d, want 3", n)
	}
	if root.Get("contents.0.role").String() != "user" ||
		root.Get("contents.0.parts.0.text").String() != "weather in Oslo?" {
		t.Errorf("first content = %s", root.Get("contents.0").Raw)
	}
	if root.Get("contents.1.role").String() != "model" {
		t.Errorf("second role = %q", root.Get("contents.1.role").String())
	}
	if got := root.Get("contents.1.parts.0.functionCall.name").String(); got != "get_weather" {
		t.Errorf("functionCall name = %q", got)
	}
	if got := root.Get("contents.2.parts.0.functionResponse.name").String(); got != "get_weather" {
		t.Errorf("functionResponse name = %q", got)
	}
	if got := root.Get("tools.0.functionDeclarations.0.name").String(); got != "get_weather" {
		t.Errorf("tool declaration = %q", got)
	}
}

func TestRequestRoundTripOllama(t *testing.T) {
	svc := New(nil)
	raw := []byte(`{"model":"llama3","stream":false,"messages":[` +
		`{"role":"system","content":"be brief"},` +
		`{"role":"user","content":"weather in Oslo?"},` +
		`{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Oslo"}}}]},` +
		`{"role":"tool","tool_name":"get_weather","content":"5C"}]}`)

	req, err := svc.ToDomainRequest(raw, FormatOllama)
	if err != nil {
		t.Fatalf("ToDomainRequest: %v", err)
	}
	out, err := svc.FromDomainRequest(req, FormatOllama)
	if err != nil {
		t.Fatalf("FromDomainRequest: %v", err)
	}

	root := gjson.ParseBytes(out)
	if root.Get("model").String() != "llama3" {
		t.Errorf("model = %q", root.Get("model").String())
	}
	if root.Get("stream").Bool() {
		t.Error("stream should stay false")
	}
	if n := root.Get("messages.#").Int(); n != 4 {
		t.Fatalf("messages count = %d, want 4", n)
	}
	for i, want := range []string{"system", "user", "assistant", "tool"} {
		if got := root.Get("messages." + string(rune('0'+i)) + ".role").String(); got != want {
			t.Errorf("messages[%d].role = %q, want %q", i, got, want)
		}
	}
	if got := root.Get("messages.1.content").String(); got != "weather in Oslo?" {
		t.Errorf("user content = %q", got)
	}
	if got := root.Get("messages.2.tool_calls.0.function.name").String(); got != "get_weather" {
		t.Errorf("tool call name = %q", got)
	}
	if got := root.Get("messages.2.tool_calls.0.function.arguments.city").String(); got != "Oslo" {
		t.Errorf("tool call args = %q", got)
	}
	if root.Get("messages.3.tool_name").String() != "get_weather" ||
		root.Get("messages.3.content").String() != "5C" {
		t.Errorf("tool result = %s", root.Get("messages.3").Raw)
	}
}
