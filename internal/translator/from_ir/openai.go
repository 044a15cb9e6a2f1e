package from_ir

import (
	"time"

	"github.com/llmbridge-dev/llmbridge/internal/json"
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
	"github.com/llmbridge-dev/llmbridge/internal/sseutil"
	"github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func init() {
	translator.RegisterBuilder(openaiBuilder{})
}

// openaiFinishStrings renders the canonical finish set on the openai
// wire. Absent entries render as JSON null.
var openaiFinishStrings = map[ir.FinishReason]string{
	ir.FinishReasonStop:          "stop",
	ir.FinishReasonLength:        "length",
	ir.FinishReasonContentFilter: "content_filter",
	ir.FinishReasonToolCalls:     "tool_calls",
}

func openaiFinishValue(fr ir.FinishReason) any {
	if s, ok := openaiFinishStrings[fr]; ok {
		return s
	}
	return nil
}

type openaiBuilder struct{}

func (openaiBuilder) Format() ir.Format { return ir.FormatOpenAI }

func (openaiBuilder) BuildRequest(req *ir.ChatRequest) ([]byte, error) {
	if err := ir.ValidateRequest(req, ir.FormatOpenAI); err != nil {
		return nil, err
	}

	messages := make([]any, 0, len(req.Messages))
	for i := range req.Messages {
		messages = append(messages, buildOpenAIMessage(&req.Messages[i]))
	}
	root := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}

	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			params := t.Parameters
			if params == nil {
				params = ir.EmptyObjectSchema
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  params,
				},
			})
		}
		root["tools"] = tools
	}
	if tc := req.ToolChoice; tc != nil {
		if tc.Mode == ir.ToolChoiceFunction {
			root["tool_choice"] = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": tc.FunctionName},
			}
		} else {
			root["tool_choice"] = string(tc.Mode)
		}
	}

	if req.Temperature != nil {
		root["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		root["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		log.Debugf("openai request has no top_k field, dropping value %d", *req.TopK)
	}
	if req.MaxTokens != nil {
		root["max_tokens"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		root["stop"] = req.Stop
	}
	if req.ResponseFormat != nil {
		root["response_format"] = buildOpenAIResponseFormat(req.ResponseFormat)
	}
	if r := req.Reasoning; r != nil {
		if r.Effort != "" {
			root["reasoning_effort"] = r.Effort
		} else if r.BudgetTokens != nil {
			log.Debugf("openai request has no thinking budget field, dropping %d tokens", *r.BudgetTokens)
		}
	}
	if req.Stream {
		root["stream"] = true
	}

	return json.Marshal(root)
}

func buildOpenAIMessage(m *ir.Message) map[string]any {
	entry := map[string]any{"role": string(m.Role)}
	if m.Name != "" {
		entry["name"] = m.Name
	}
	if m.Role == ir.RoleTool {
		entry["tool_call_id"] = m.ToolCallID
		entry["content"] = ir.MessageText(*m)
		return entry
	}

	multimodal := false
	for i := range m.Content {
		if m.Content[i].Type == ir.ContentTypeImage {
			multimodal = true
			break
		}
	}
	if multimodal {
		parts := make([]any, 0, len(m.Content))
		for i := range m.Content {
			p := &m.Content[i]
			switch p.Type {
			case ir.ContentTypeText:
				parts = append(parts, map[string]any{"type": "text", "text": p.Text})
			case ir.ContentTypeImage:
				if p.Image == nil {
					continue
				}
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": p.Image.SourceURL()},
				})
			}
		}
		entry["content"] = parts
	} else if text := ir.MessageText(*m); text != "" || len(m.ToolCalls) == 0 {
		entry["content"] = text
	}

	if len(m.ToolCalls) > 0 {
		entry["tool_calls"] = buildOpenAIToolCalls(m.ToolCalls)
	}
	return entry
}

func buildOpenAIToolCalls(calls []ir.ToolCall) []any {
	out := make([]any, 0, len(calls))
	for _, tc := range calls {
		out = append(out, map[string]any{
			"id":   tc.ID,
			"type": "function",
			"function": map[string]any{
				"name":      tc.Name,
				"arguments": tc.Arguments,
			},
		})
	}
	return out
}

func buildOpenAIResponseFormat(rf *ir.ResponseFormat) map[string]any {
	if rf.Type == "json_schema" && rf.Schema != nil {
		name := rf.Name
		if name == "" {
			name = "response"
		}
		schema := map[string]any{"name": name, "schema": rf.Schema}
		if rf.Strict {
			schema["strict"] = true
		}
		return map[string]any{"type": "json_schema", "json_schema": schema}
	}
	return map[string]any{"type": "json_object"}
}

func (openaiBuilder) BuildResponse(resp *ir.ChatResponse) ([]byte, error) {
	id := resp.ID
	if id == "" {
		id = ir.GenID("chatcmpl-")
	}
	created := resp.Created
	if created == 0 {
		created = time.Now().Unix()
	}

	choices := make([]any, 0, len(resp.Choices))
	for i := range resp.Choices {
		c := &resp.Choices[i]
		text := ir.MessageText(c.Message)
		message := map[string]any{
			"role":    string(ir.RoleAssistant),
			"content": text,
		}
		if len(c.Message.ToolCalls) > 0 {
			message["tool_calls"] = buildOpenAIToolCalls(c.Message.ToolCalls)
			if text == "" {
				message["content"] = nil
			}
		}
		choices = append(choices, map[string]any{
			"index":         c.Index,
			"message":       message,
			"finish_reason": openaiFinishValue(c.FinishReason),
		})
	}

	return json.Marshal(map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": created,
		"model":   resp.Model,
		"choices": choices,
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	})
}

func (openaiBuilder) NewStreamEncoder(model string) translator.StreamEncoder {
	return &openaiStreamEncoder{
		model:     model,
		id:        ir.GenID("chatcmpl-"),
		created:   time.Now().Unix(),
		roleSent:  make(map[int]bool),
		toolSlots: make(map[int]int),
	}
}

// openaiStreamEncoder renders canonical chunks as chat.completion.chunk
// SSE frames. The first frame of every choice carries the role, tool
// calls get sequential per-choice indexes, and the stream terminates
// with the [DONE] marker.
type openaiStreamEncoder struct {
	model     string
	id        string
	created   int64
	roleSent  map[int]bool
	toolSlots map[int]int
	done      bool
}

func (e *openaiStreamEncoder) Encode(chunk *ir.StreamChunk) ([][]byte, error) {
	if chunk == nil || e.done {
		return nil, nil
	}
	if chunk.Err != nil {
		payload, err := json.Marshal(map[string]any{
			"error": map[string]any{
				"type":    string(chunk.Err.Kind),
				"message": chunk.Err.Detail,
			},
		})
		if err != nil {
			return nil, err
		}
		return [][]byte{sseutil.DataFrame(payload)}, nil
	}

	if chunk.ID != "" {
		e.id = chunk.ID
	}
	if chunk.Created != 0 {
		e.created = chunk.Created
	}
	model := e.model
	if model == "" {
		model = chunk.Model
	}

	choices := make([]any, 0, len(chunk.Choices))
	for i := range chunk.Choices {
		choices = append(choices, e.buildChoice(&chunk.Choices[i]))
	}
	if len(choices) == 0 && chunk.Usage == nil {
		return nil, nil
	}

	frame := map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   model,
		"choices": choices,
	}
	if chunk.Usage != nil {
		frame["usage"] = map[string]any{
			"prompt_tokens":     chunk.Usage.PromptTokens,
			"completion_tokens": chunk.Usage.CompletionTokens,
			"total_tokens":      chunk.Usage.TotalTokens,
		}
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return [][]byte{sseutil.DataFrame(payload)}, nil
}

func (e *openaiStreamEncoder) buildChoice(sc *ir.StreamChoice) map[string]any {
	delta := map[string]any{}
	if !e.roleSent[sc.Index] {
		e.roleSent[sc.Index] = true
		role := sc.Delta.Role
		if role == "" {
			role = ir.RoleAssistant
		}
		delta["role"] = string(role)
	}
	if sc.Delta.Content != "" {
		delta["content"] = sc.Delta.Content
	}
	if sc.Delta.ReasoningContent != "" {
		delta["reasoning_content"] = sc.Delta.ReasoningContent
	}
	if len(sc.Delta.ToolCalls) > 0 {
		calls := make([]any, 0, len(sc.Delta.ToolCalls))
		for _, tc := range sc.Delta.ToolCalls {
			slot := e.toolSlots[sc.Index]
			e.toolSlots[sc.Index]++
			calls = append(calls, map[string]any{
				"index": slot,
				"id":    tc.ID,
				"type":  "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			})
		}
		delta["tool_calls"] = calls
	}
	return map[string]any{
		"index":         sc.Index,
		"delta":         delta,
		"finish_reason": openaiFinishValue(sc.FinishReason),
	}
}

func (e *openaiStreamEncoder) Finish() ([][]byte, error) {
	if e.done {
		return nil, nil
	}
	e.done = true
	return [][]byte{sseutil.DoneFrame()}, nil
}
