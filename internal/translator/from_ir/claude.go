package from_ir

import (
	"github.com/llmbridge-dev/llmbridge/internal/json"
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
	"github.com/llmbridge-dev/llmbridge/internal/sseutil"
	"github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func init() {
	translator.RegisterBuilder(claudeBuilder{})
}

// claudeDefaultMaxTokens is sent when the canonical request leaves the
// limit unset; the claude wire requires max_tokens on every request.
const claudeDefaultMaxTokens = 4096

// claudeStopStrings renders canonical finish reasons as stop_reason.
var claudeStopStrings = map[ir.FinishReason]string{
	ir.FinishReasonStop:          "end_turn",
	ir.FinishReasonLength:        "max_tokens",
	ir.FinishReasonToolCalls:     "tool_use",
	ir.FinishReasonContentFilter: "refusal",
}

func claudeStopValue(fr ir.FinishReason) any {
	if s, ok := claudeStopStrings[fr]; ok {
		return s
	}
	return nil
}

type claudeBuilder struct{}

func (claudeBuilder) Format() ir.Format { return ir.FormatClaude }

func (claudeBuilder) BuildRequest(req *ir.ChatRequest) ([]byte, error) {
	if err := ir.ValidateRequest(req, ir.FormatClaude); err != nil {
		return nil, err
	}
	if req.ResponseFormat != nil {
		return nil, ir.NewUnsupportedFeature(ir.FormatClaude, "response_format",
			"claude has no structured output mode")
	}

	root := map[string]any{
		"model":      req.Model,
		"max_tokens": claudeDefaultMaxTokens,
	}
	if req.MaxTokens != nil {
		root["max_tokens"] = *req.MaxTokens
	}

	system := ir.GetStringBuilder()
	defer ir.PutStringBuilder(system)
	var messages []any
	for i := range req.Messages {
		m := &req.Messages[i]
		switch m.Role {
		case ir.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(ir.MessageText(*m))
		case ir.RoleTool:
			// Tool results ride user turns on this wire.
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     ir.MessageText(*m),
				}},
			})
		default:
			blocks := buildClaudeBlocks(m)
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, map[string]any{
				"role":    string(m.Role),
				"content": blocks,
			})
		}
	}
	root["messages"] = messages
	if system.Len() > 0 {
		root["system"] = system.String()
	}

	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": ir.CleanSchemaForClaude(t.Parameters),
			})
		}
		root["tools"] = tools
	}
	if tc := req.ToolChoice; tc != nil {
		switch tc.Mode {
		case ir.ToolChoiceAuto:
			root["tool_choice"] = map[string]any{"type": "auto"}
		case ir.ToolChoiceNone:
			root["tool_choice"] = map[string]any{"type": "none"}
		case ir.ToolChoiceRequired:
			root["tool_choice"] = map[string]any{"type": "any"}
		case ir.ToolChoiceFunction:
			root["tool_choice"] = map[string]any{"type": "tool", "name": tc.FunctionName}
		}
	}

	if req.Temperature != nil {
		root["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		root["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		root["top_k"] = *req.TopK
	}
	if len(req.Stop) > 0 {
		root["stop_sequences"] = req.Stop
	}
	if r := req.Reasoning; r != nil {
		if r.BudgetTokens != nil {
			root["thinking"] = map[string]any{
				"type":          "enabled",
				"budget_tokens": *r.BudgetTokens,
			}
		} else if r.Effort != "" {
			log.Debugf("claude thinking takes a token budget, dropping effort %q", r.Effort)
		}
	}
	if req.Stream {
		root["stream"] = true
	}

	return json.Marshal(root)
}

// buildClaudeBlocks renders a user or assistant message as content
// blocks. Tool calls become tool_use blocks after the text.
func buildClaudeBlocks(m *ir.Message) []any {
	blocks := make([]any, 0, len(m.Content)+len(m.ToolCalls))
	for i := range m.Content {
		p := &m.Content[i]
		switch p.Type {
		case ir.ContentTypeText:
			if p.Text == "" {
				continue
			}
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		case ir.ContentTypeImage:
			if p.Image == nil {
				continue
			}
			blocks = append(blocks, claudeImageBlock(p.Image))
		}
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": argsObject(tc.Arguments),
		})
	}
	return blocks
}

func claudeImageBlock(img *ir.ImagePart) map[string]any {
	if img.FileURI != "" {
		return map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "url", "url": img.FileURI},
		}
	}
	mime := img.MimeType
	if mime == "" {
		mime = ir.DefaultMime
	}
	return map[string]any{
		"type": "image",
		"source": map[string]any{
			"type":       "base64",
			"media_type": mime,
			"data":       img.Data,
		},
	}
}

func (claudeBuilder) BuildResponse(resp *ir.ChatResponse) ([]byte, error) {
	if len(resp.Choices) > 1 {
		return nil, ir.NewUnsupportedFeature(ir.FormatClaude, "choices",
			"claude responses carry a single message")
	}

	id := resp.ID
	if id == "" {
		id = ir.GenID("msg_")
	}
	root := map[string]any{
		"id":    id,
		"type":  "message",
		"role":  "assistant",
		"model": resp.Model,
	}

	content := []any{}
	stopReason := any(nil)
	if len(resp.Choices) == 1 {
		c := &resp.Choices[0]
		for i := range c.Message.Content {
			p := &c.Message.Content[i]
			if p.Type == ir.ContentTypeText && p.Text != "" {
				content = append(content, map[string]any{"type": "text", "text": p.Text})
			}
		}
		for _, tc := range c.Message.ToolCalls {
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    tc.ID,
				"name":  tc.Name,
				"input": argsObject(tc.Arguments),
			})
		}
		stopReason = claudeStopValue(c.FinishReason)
	}
	root["content"] = content
	root["stop_reason"] = stopReason
	root["usage"] = map[string]any{
		"input_tokens":  resp.Usage.PromptTokens,
		"output_tokens": resp.Usage.CompletionTokens,
	}

	return json.Marshal(root)
}

func (claudeBuilder) NewStreamEncoder(model string) translator.StreamEncoder {
	return &claudeStreamEncoder{model: model}
}

// claudeStreamEncoder replays canonical chunks as the claude event
// handshake: message_start, content_block_start/delta/stop per block,
// then message_delta with the stop reason and message_stop. Text and
// reasoning share block zero; each assembled tool call occupies its own
// block emitted start-to-stop in one step. The wire carries a single
// message, so choice indexes other than zero are dropped.
type claudeStreamEncoder struct {
	model        string
	messageID    string
	started      bool
	blockOpen    bool
	blockThought bool
	blockCount   int
	sawToolCalls bool
	finished     bool
	warnedExtra  bool
}

// claudeFrame marshals the payload and wraps it as a named SSE event.
// Map marshalling cannot fail here so the error is discarded.
func claudeFrame(event string, payload map[string]any) []byte {
	data, _ := json.Marshal(payload)
	return sseutil.EventFrame(event, data)
}

func (e *claudeStreamEncoder) Encode(chunk *ir.StreamChunk) ([][]byte, error) {
	if chunk == nil || e.finished {
		return nil, nil
	}
	if chunk.Err != nil {
		frame := claudeFrame("error", map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "api_error",
				"message": chunk.Err.Detail,
			},
		})
		return [][]byte{frame}, nil
	}

	var frames [][]byte
	if !e.started {
		frames = append(frames, e.start(chunk))
	}

	for i := range chunk.Choices {
		sc := &chunk.Choices[i]
		if sc.Index != 0 {
			if !e.warnedExtra {
				e.warnedExtra = true
				log.WithFields(log.Fields{"format": "claude"}).
					Warn("claude streams carry a single choice, dropping extra choice indexes")
			}
			continue
		}
		if sc.Delta.ReasoningContent != "" {
			frames = e.appendDelta(frames, sc.Delta.ReasoningContent, true)
		}
		if sc.Delta.Content != "" {
			frames = e.appendDelta(frames, sc.Delta.Content, false)
		}
		for _, tc := range sc.Delta.ToolCalls {
			frames = e.appendToolUse(frames, tc)
		}
		if sc.FinishReason != ir.FinishReasonNone {
			frames = e.appendFinish(frames, sc.FinishReason, chunk.Usage)
		}
	}
	return frames, nil
}

func (e *claudeStreamEncoder) start(chunk *ir.StreamChunk) []byte {
	e.started = true
	e.messageID = chunk.ID
	if e.messageID == "" {
		e.messageID = ir.GenID("msg_")
	}
	model := e.model
	if model == "" {
		model = chunk.Model
	}
	var inputTokens int64
	if chunk.Usage != nil {
		inputTokens = chunk.Usage.PromptTokens
	}
	return claudeFrame("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            e.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": inputTokens, "output_tokens": 0},
		},
	})
}

// appendDelta writes text or thinking into block zero, opening it on
// first use with the type of whichever delta arrives first.
func (e *claudeStreamEncoder) appendDelta(frames [][]byte, text string, thought bool) [][]byte {
	if !e.blockOpen {
		e.blockOpen = true
		e.blockThought = thought
		blockType := "text"
		if thought {
			blockType = "thinking"
		}
		block := map[string]any{"type": blockType}
		if thought {
			block["thinking"] = ""
		} else {
			block["text"] = ""
		}
		frames = append(frames, claudeFrame("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": block,
		}))
		e.blockCount = 1
	}
	delta := map[string]any{"type": "text_delta", "text": text}
	if thought {
		delta = map[string]any{"type": "thinking_delta", "thinking": text}
	}
	return append(frames, claudeFrame("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": delta,
	}))
}

// appendToolUse emits one assembled call as a complete block: start,
// a single input_json_delta carrying the whole argument string, stop.
func (e *claudeStreamEncoder) appendToolUse(frames [][]byte, tc ir.ToolCall) [][]byte {
	frames = e.closeBlockZero(frames)
	e.sawToolCalls = true
	idx := e.blockCount
	e.blockCount++
	frames = append(frames, claudeFrame("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": idx,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": map[string]any{},
		},
	}))
	frames = append(frames, claudeFrame("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": idx,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.Arguments},
	}))
	return append(frames, claudeFrame("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	}))
}

func (e *claudeStreamEncoder) closeBlockZero(frames [][]byte) [][]byte {
	if !e.blockOpen {
		return frames
	}
	e.blockOpen = false
	return append(frames, claudeFrame("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": 0,
	}))
}

func (e *claudeStreamEncoder) appendFinish(frames [][]byte, fr ir.FinishReason, usage *ir.Usage) [][]byte {
	frames = e.closeBlockZero(frames)
	e.finished = true
	if e.sawToolCalls && fr == ir.FinishReasonStop {
		fr = ir.FinishReasonToolCalls
	}
	delta := map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": claudeStopValue(fr), "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": int64(0)},
	}
	if usage != nil {
		delta["usage"] = map[string]any{
			"input_tokens":  usage.PromptTokens,
			"output_tokens": usage.CompletionTokens,
		}
	}
	frames = append(frames, claudeFrame("message_delta", delta))
	return append(frames, claudeFrame("message_stop", map[string]any{"type": "message_stop"}))
}

// Finish terminates a stream whose source never delivered a finish
// chunk so clients always observe a complete handshake.
func (e *claudeStreamEncoder) Finish() ([][]byte, error) {
	if !e.started || e.finished {
		return nil, nil
	}
	return e.appendFinish(nil, ir.FinishReasonStop, nil), nil
}
