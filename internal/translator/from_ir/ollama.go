package from_ir

import (
	"sync"
	"time"

	"github.com/llmbridge-dev/llmbridge/internal/json"
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
	"github.com/llmbridge-dev/llmbridge/internal/sseutil"
	"github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func init() {
	translator.RegisterBuilder(ollamaBuilder{})
}

// ollamaChatChunk is the NDJSON record for /api/chat streaming. Chunks
// are pooled: streams emit one record per frame and the shape is flat
// enough that typed marshalling beats rebuilding maps.
type ollamaChatChunk struct {
	Model              string            `json:"model"`
	CreatedAt          string            `json:"created_at"`
	Message            ollamaChatMessage `json:"message"`
	Done               bool              `json:"done"`
	DoneReason         string            `json:"done_reason,omitempty"`
	PromptEvalCount    int64             `json:"prompt_eval_count,omitempty"`
	EvalCount          int64             `json:"eval_count,omitempty"`
	TotalDuration      int64             `json:"total_duration,omitempty"`
	LoadDuration       int64             `json:"load_duration,omitempty"`
	PromptEvalDuration int64             `json:"prompt_eval_duration,omitempty"`
	EvalDuration       int64             `json:"eval_duration,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaToolFunction `json:"function"`
}

// ollamaToolFunction carries arguments as a JSON object, not a string.
type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

var ollamaChatChunkPool = sync.Pool{
	New: func() any {
		return &ollamaChatChunk{Message: ollamaChatMessage{Role: "assistant"}}
	},
}

func getOllamaChatChunk() *ollamaChatChunk {
	return ollamaChatChunkPool.Get().(*ollamaChatChunk)
}

func putOllamaChatChunk(c *ollamaChatChunk) {
	c.Model, c.CreatedAt, c.Done, c.DoneReason = "", "", false, ""
	c.Message.Role = "assistant"
	c.Message.Content, c.Message.Thinking, c.Message.ToolCalls = "", "", nil
	c.PromptEvalCount, c.EvalCount = 0, 0
	c.TotalDuration, c.LoadDuration, c.PromptEvalDuration, c.EvalDuration = 0, 0, 0, 0
	ollamaChatChunkPool.Put(c)
}

// ollamaDoneString renders canonical finish reasons as done_reason.
// The wire has no content-filter vocabulary; filtered stops degrade to
// plain stop.
func ollamaDoneString(fr ir.FinishReason) string {
	switch fr {
	case ir.FinishReasonLength:
		return "length"
	case ir.FinishReasonToolCalls:
		return "tool_calls"
	default:
		return "stop"
	}
}

func ollamaTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

type ollamaBuilder struct{}

func (ollamaBuilder) Format() ir.Format { return ir.FormatOllama }

func (ollamaBuilder) BuildRequest(req *ir.ChatRequest) ([]byte, error) {
	if err := ir.ValidateRequest(req, ir.FormatOllama); err != nil {
		return nil, err
	}
	if tc := req.ToolChoice; tc != nil {
		if tc.Mode == ir.ToolChoiceRequired || tc.Mode == ir.ToolChoiceFunction {
			return nil, ir.NewUnsupportedFeature(ir.FormatOllama, "tool_choice",
				"ollama cannot force tool use")
		}
	}

	if ep, ok := req.Metadata["ollama_endpoint"].(string); ok && ep == "generate" {
		return buildOllamaGenerateRequest(req)
	}
	return buildOllamaChatRequest(req)
}

func buildOllamaChatRequest(req *ir.ChatRequest) ([]byte, error) {
	names := toolCallNames(req.Messages)
	messages := make([]any, 0, len(req.Messages))
	for i := range req.Messages {
		m := &req.Messages[i]
		entry, err := buildOllamaMessage(m, names)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			messages = append(messages, entry)
		}
	}

	root := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   req.Stream,
	}

	// tool_choice none strips the tool list instead of failing; the
	// wire has no way to say "tools present, do not call them".
	toolsAllowed := req.ToolChoice == nil || req.ToolChoice.Mode != ir.ToolChoiceNone
	if len(req.Tools) > 0 && toolsAllowed {
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

	applyOllamaCommon(root, req)
	return json.Marshal(root)
}

func buildOllamaGenerateRequest(req *ir.ChatRequest) ([]byte, error) {
	root := map[string]any{
		"model":  req.Model,
		"prompt": "",
		"stream": req.Stream,
	}
	var images []any
	for i := range req.Messages {
		m := &req.Messages[i]
		switch m.Role {
		case ir.RoleSystem:
			if text := ir.MessageText(*m); text != "" {
				root["system"] = text
			}
		case ir.RoleUser:
			if text := ir.MessageText(*m); text != "" {
				root["prompt"] = text
			}
			for j := range m.Content {
				p := &m.Content[j]
				if p.Type != ir.ContentTypeImage || p.Image == nil {
					continue
				}
				if p.Image.FileURI != "" {
					return nil, ir.NewUnsupportedFeature(ir.FormatOllama, "images",
						"ollama accepts only inline base64 images")
				}
				images = append(images, p.Image.Data)
			}
		}
	}
	if len(images) > 0 {
		root["images"] = images
	}

	applyOllamaCommon(root, req)
	return json.Marshal(root)
}

// applyOllamaCommon fills the fields shared by the chat and generate
// endpoints: options, format, keep_alive and the think flag.
func applyOllamaCommon(root map[string]any, req *ir.ChatRequest) {
	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		options["top_k"] = *req.TopK
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}
	if extra, ok := req.Metadata["ollama_options"].(map[string]any); ok {
		for k, v := range extra {
			options[k] = v
		}
	}
	if len(options) > 0 {
		root["options"] = options
	}

	if rf := req.ResponseFormat; rf != nil {
		if rf.Type == "json_schema" && rf.Schema != nil {
			root["format"] = rf.Schema
		} else {
			root["format"] = "json"
		}
	}
	if ka, ok := req.Metadata["ollama_keep_alive"]; ok {
		root["keep_alive"] = ka
	}
	if req.Reasoning != nil {
		root["think"] = true
	}
}

func buildOllamaMessage(m *ir.Message, names map[string]string) (map[string]any, error) {
	switch m.Role {
	case ir.RoleTool:
		name := m.Name
		if name == "" {
			name = names[m.ToolCallID]
		}
		return map[string]any{
			"role":      "tool",
			"tool_name": name,
			"content":   ir.MessageText(*m),
		}, nil
	case ir.RoleAssistant:
		entry := map[string]any{
			"role":    "assistant",
			"content": ir.MessageText(*m),
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]ollamaToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, ollamaToolCall{Function: ollamaToolFunction{
					Name:      tc.Name,
					Arguments: json.RawMessage(ir.RepairToolArgs(tc.Arguments)),
				}})
			}
			entry["tool_calls"] = calls
		}
		return entry, nil
	default:
		entry := map[string]any{"role": string(m.Role)}
		text := ""
		var images []any
		for i := range m.Content {
			p := &m.Content[i]
			switch p.Type {
			case ir.ContentTypeText:
				text += p.Text
			case ir.ContentTypeImage:
				if p.Image == nil {
					continue
				}
				if p.Image.FileURI != "" {
					return nil, ir.NewUnsupportedFeature(ir.FormatOllama, "images",
						"ollama accepts only inline base64 images")
				}
				images = append(images, p.Image.Data)
			}
		}
		entry["content"] = text
		if len(images) > 0 {
			entry["images"] = images
		}
		if text == "" && len(images) == 0 {
			return nil, nil
		}
		return entry, nil
	}
}

func (ollamaBuilder) BuildResponse(resp *ir.ChatResponse) ([]byte, error) {
	if len(resp.Choices) > 1 {
		return nil, ir.NewUnsupportedFeature(ir.FormatOllama, "choices",
			"ollama responses carry a single message")
	}

	message := map[string]any{"role": "assistant", "content": ""}
	doneReason := "stop"
	if len(resp.Choices) == 1 {
		c := &resp.Choices[0]
		message["content"] = ir.MessageText(c.Message)
		if len(c.Message.ToolCalls) > 0 {
			calls := make([]ollamaToolCall, 0, len(c.Message.ToolCalls))
			for _, tc := range c.Message.ToolCalls {
				calls = append(calls, ollamaToolCall{Function: ollamaToolFunction{
					Name:      tc.Name,
					Arguments: json.RawMessage(ir.RepairToolArgs(tc.Arguments)),
				}})
			}
			message["tool_calls"] = calls
		}
		if c.FinishReason != ir.FinishReasonNone {
			doneReason = ollamaDoneString(c.FinishReason)
		}
	}

	return json.Marshal(map[string]any{
		"model":                resp.Model,
		"created_at":           ollamaTimestamp(),
		"message":              message,
		"done":                 true,
		"done_reason":          doneReason,
		"prompt_eval_count":    resp.Usage.PromptTokens,
		"eval_count":           resp.Usage.CompletionTokens,
		"total_duration":       0,
		"load_duration":        0,
		"prompt_eval_duration": 0,
		"eval_duration":        0,
	})
}

func (ollamaBuilder) NewStreamEncoder(model string) translator.StreamEncoder {
	return &ollamaStreamEncoder{model: model}
}

// ollamaStreamEncoder renders canonical chunks as /api/chat NDJSON
// records. The wire is single-response; extra choice indexes are
// dropped. A done record always terminates the stream even when the
// source never delivered a finish.
type ollamaStreamEncoder struct {
	model       string
	finished    bool
	warnedExtra bool
}

func (e *ollamaStreamEncoder) Encode(chunk *ir.StreamChunk) ([][]byte, error) {
	if chunk == nil || e.finished {
		return nil, nil
	}
	if chunk.Err != nil {
		payload, err := json.Marshal(map[string]any{"error": chunk.Err.Detail})
		if err != nil {
			return nil, err
		}
		return [][]byte{sseutil.NDJSONFrame(payload)}, nil
	}

	model := e.model
	if model == "" {
		model = chunk.Model
	}

	var frames [][]byte
	for i := range chunk.Choices {
		sc := &chunk.Choices[i]
		if sc.Index != 0 {
			if !e.warnedExtra {
				e.warnedExtra = true
				log.WithFields(log.Fields{"format": "ollama"}).
					Warn("ollama streams carry a single message, dropping extra choice indexes")
			}
			continue
		}

		c := getOllamaChatChunk()
		c.Model = model
		c.CreatedAt = ollamaTimestamp()
		c.Message.Content = sc.Delta.Content
		c.Message.Thinking = sc.Delta.ReasoningContent
		for _, tc := range sc.Delta.ToolCalls {
			c.Message.ToolCalls = append(c.Message.ToolCalls, ollamaToolCall{
				Function: ollamaToolFunction{
					Name:      tc.Name,
					Arguments: json.RawMessage(ir.RepairToolArgs(tc.Arguments)),
				},
			})
		}
		if sc.FinishReason != ir.FinishReasonNone {
			e.finished = true
			c.Done = true
			c.DoneReason = ollamaDoneString(sc.FinishReason)
			if chunk.Usage != nil {
				c.PromptEvalCount = chunk.Usage.PromptTokens
				c.EvalCount = chunk.Usage.CompletionTokens
			}
		}

		payload, err := json.Marshal(c)
		putOllamaChatChunk(c)
		if err != nil {
			return nil, err
		}
		frames = append(frames, sseutil.NDJSONFrame(payload))
	}
	return frames, nil
}

// Finish synthesizes the terminal done record when the source stream
// ended without one; ollama clients block until they observe it.
func (e *ollamaStreamEncoder) Finish() ([][]byte, error) {
	if e.finished {
		return nil, nil
	}
	e.finished = true
	c := getOllamaChatChunk()
	c.Model = e.model
	c.CreatedAt = ollamaTimestamp()
	c.Done = true
	c.DoneReason = ollamaDoneString(ir.FinishReasonStop)
	payload, err := json.Marshal(c)
	putOllamaChatChunk(c)
	if err != nil {
		return nil, err
	}
	return [][]byte{sseutil.NDJSONFrame(payload)}, nil
}
