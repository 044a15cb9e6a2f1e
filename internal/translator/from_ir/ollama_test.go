package from_ir

import (
	"bytes"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func buildOllamaRequest(t *testing.T, req *ir.ChatRequest) gjson.Result {
	t.Helper()
	payload, err := ollamaBuilder{}.BuildRequest(req)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	return gjson.ParseBytes(payload)
}

func ndjsonRecord(t *testing.T, frame []byte) gjson.Result {
	t.Helper()
	line := bytes.TrimSpace(frame)
	if !gjson.ValidBytes(line) {
		t.Fatalf("not a JSON record: %q", frame)
	}
	return gjson.ParseBytes(line)
}

func TestOllamaChatRequest(t *testing.T) {
	temp := 0.8
	maxTokens := 64
	root := buildOllamaRequest(t, &ir.ChatRequest{
		Model: "llama3.2",
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: []ir.ContentPart{ir.TextPart("be brief")}},
			{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("hi")}},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
		Stream:      true,
		Reasoning:   &ir.ReasoningConfig{Passthrough: map[string]any{"think": true}},
		Metadata: map[string]any{
			"ollama_keep_alive": "5m",
			"ollama_options":    map[string]any{"num_ctx": float64(4096)},
		},
	})

	if !root.Get("stream").Bool() {
		t.Error("stream flag missing")
	}
	if got := root.Get("options.temperature").Float(); got != 0.8 {
		t.Errorf("temperature = %v", got)
	}
	if got := root.Get("options.num_predict").Int(); got != 64 {
		t.Errorf("num_predict = %d", got)
	}
	if got := root.Get("options.num_ctx").Int(); got != 4096 {
		t.Errorf("metadata option num_ctx = %d", got)
	}
	if got := root.Get("options.stop.0").String(); got != "END" {
		t.Errorf("stop = %s", root.Get("options.stop").Raw)
	}
	if got := root.Get("keep_alive").String(); got != "5m" {
		t.Errorf("keep_alive = %q", got)
	}
	if !root.Get("think").Bool() {
		t.Error("think flag missing")
	}
	if got := root.Get("messages.0.role").String(); got != "system" {
		t.Errorf("first role = %q", got)
	}
}

func TestOllamaGenerateRequest(t *testing.T) {
	root := buildOllamaRequest(t, &ir.ChatRequest{
		Model: "llama3.2",
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: []ir.ContentPart{ir.TextPart("you are terse")}},
			{Role: ir.RoleUser, Content: []ir.ContentPart{
				ir.TextPart("caption this"),
				ir.ImageContentPart(&ir.ImagePart{MimeType: "image/png", Data: "AAAA"}),
			}},
		},
		Stream:   false,
		Metadata: map[string]any{"ollama_endpoint": "generate"},
	})

	if got := root.Get("prompt").String(); got != "caption this" {
		t.Errorf("prompt = %q", got)
	}
	if got := root.Get("system").String(); got != "you are terse" {
		t.Errorf("system = %q", got)
	}
	if got := root.Get("images.0").String(); got != "AAAA" {
		t.Errorf("images = %s", root.Get("images").Raw)
	}
	if root.Get("stream").Bool() {
		t.Error("stream should be false")
	}
	if root.Get("messages").Exists() {
		t.Error("generate shape should not carry messages")
	}
}

func TestOllamaForcedToolChoiceUnsupported(t *testing.T) {
	_, err := ollamaBuilder{}.BuildRequest(&ir.ChatRequest{
		Model: "llama3.2",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("hi")}},
		},
		Tools:      []ir.Tool{{Name: "f"}},
		ToolChoice: &ir.ToolChoice{Mode: ir.ToolChoiceRequired},
	})
	if !ir.IsKind(err, ir.ErrUnsupportedFeature) {
		t.Fatalf("err = %v, want unsupported_feature", err)
	}
}

func TestOllamaToolChoiceNoneStripsTools(t *testing.T) {
	root := buildOllamaRequest(t, &ir.ChatRequest{
		Model: "llama3.2",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("hi")}},
		},
		Tools:      []ir.Tool{{Name: "f"}},
		ToolChoice: &ir.ToolChoice{Mode: ir.ToolChoiceNone},
	})
	if root.Get("tools").Exists() {
		t.Error("tools should be stripped under tool_choice none")
	}
}

func TestOllamaToolMessages(t *testing.T) {
	root := buildOllamaRequest(t, &ir.ChatRequest{
		Model: "llama3.2",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("weather?")}},
			{Role: ir.RoleAssistant, ToolCalls: []ir.ToolCall{
				{ID: "call_1", Type: "function", Name: "get_weather", Arguments: `{"city":"Hanoi"}`},
			}},
			{Role: ir.RoleTool, ToolCallID: "call_1", Content: []ir.ContentPart{ir.TextPart("sunny")}},
		},
	})

	call := root.Get("messages.1.tool_calls.0.function")
	if got := call.Get("name").String(); got != "get_weather" {
		t.Errorf("call name = %q", got)
	}
	if got := call.Get("arguments.city").String(); got != "Hanoi" {
		t.Errorf("arguments should be an object, got %s", call.Get("arguments").Raw)
	}
	toolMsg := root.Get("messages.2")
	if got := toolMsg.Get("role").String(); got != "tool" {
		t.Errorf("role = %q", got)
	}
	if got := toolMsg.Get("tool_name").String(); got != "get_weather" {
		t.Errorf("tool_name = %q, want resolution via call id", got)
	}
}

func TestOllamaURLImageUnsupported(t *testing.T) {
	_, err := ollamaBuilder{}.BuildRequest(&ir.ChatRequest{
		Model: "llama3.2",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentPart{
				ir.ImageContentPart(&ir.ImagePart{MimeType: "image/png", FileURI: "https://example.com/a.png"}),
			}},
		},
	})
	if !ir.IsKind(err, ir.ErrUnsupportedFeature) {
		t.Fatalf("err = %v, want unsupported_feature", err)
	}
}

func TestOllamaResponseBuild(t *testing.T) {
	payload, err := ollamaBuilder{}.BuildResponse(&ir.ChatResponse{
		Model: "llama3.2",
		Choices: []ir.Choice{{
			Message: ir.Message{
				Role:    ir.RoleAssistant,
				Content: []ir.ContentPart{ir.TextPart("hello")},
			},
			FinishReason: ir.FinishReasonLength,
		}},
		Usage: ir.Usage{PromptTokens: 9, CompletionTokens: 4, TotalTokens: 13},
	})
	if err != nil {
		t.Fatalf("BuildResponse failed: %v", err)
	}
	root := gjson.ParseBytes(payload)

	if !root.Get("done").Bool() {
		t.Error("done should be true")
	}
	if got := root.Get("done_reason").String(); got != "length" {
		t.Errorf("done_reason = %q", got)
	}
	if got := root.Get("message.content").String(); got != "hello" {
		t.Errorf("content = %q", got)
	}
	if got := root.Get("prompt_eval_count").Int(); got != 9 {
		t.Errorf("prompt_eval_count = %d", got)
	}
	if got := root.Get("eval_count").Int(); got != 4 {
		t.Errorf("eval_count = %d", got)
	}
}

func TestOllamaStreamEncoder(t *testing.T) {
	enc := ollamaBuilder{}.NewStreamEncoder("llama3.2")

	frames, err := enc.Encode(&ir.StreamChunk{
		Choices: []ir.StreamChoice{{Delta: ir.Delta{Role: ir.RoleAssistant, Content: "He"}}},
	})
	if err != nil || len(frames) != 1 {
		t.Fatalf("Encode = %d frames, err %v", len(frames), err)
	}
	rec := ndjsonRecord(t, frames[0])
	if got := rec.Get("message.content").String(); got != "He" {
		t.Errorf("content = %q", got)
	}
	if rec.Get("done").Bool() {
		t.Error("done should be false mid-stream")
	}

	frames, err = enc.Encode(&ir.StreamChunk{
		Choices: []ir.StreamChoice{{FinishReason: ir.FinishReasonStop}},
		Usage:   &ir.Usage{PromptTokens: 2, CompletionTokens: 5, TotalTokens: 7},
	})
	if err != nil || len(frames) != 1 {
		t.Fatalf("Encode = %d frames, err %v", len(frames), err)
	}
	rec = ndjsonRecord(t, frames[0])
	if !rec.Get("done").Bool() {
		t.Error("done should be true")
	}
	if got := rec.Get("done_reason").String(); got != "stop" {
		t.Errorf("done_reason = %q", got)
	}
	if got := rec.Get("eval_count").Int(); got != 5 {
		t.Errorf("eval_count = %d", got)
	}

	frames, err = enc.Finish()
	if err != nil || len(frames) != 0 {
		t.Fatalf("Finish after done = %d frames, err %v", len(frames), err)
	}
}

func TestOllamaStreamEncoderSynthesizesDone(t *testing.T) {
	enc := ollamaBuilder{}.NewStreamEncoder("llama3.2")

	if _, err := enc.Encode(&ir.StreamChunk{
		Choices: []ir.StreamChoice{{Delta: ir.Delta{Role: ir.RoleAssistant, Content: "partial"}}},
	}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frames, err := enc.Finish()
	if err != nil || len(frames) != 1 {
		t.Fatalf("Finish = %d frames, err %v", len(frames), err)
	}
	rec := ndjsonRecord(t, frames[0])
	if !rec.Get("done").Bool() || rec.Get("done_reason").String() != "stop" {
		t.Errorf("synthesized done record = %s", rec.Raw)
	}
}
