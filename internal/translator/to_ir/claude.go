package to_ir

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"

	log "github.com/llmbridge-dev/llmbridge/internal/logging"
	"github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func init() {
	translator.RegisterParser(claudeParser{})
}

// claudeStopReasons maps stop_reason values to the canonical set.
var claudeStopReasons = map[string]ir.FinishReason{
	"end_turn":      ir.FinishReasonStop,
	"stop_sequence": ir.FinishReasonStop,
	"pause_turn":    ir.FinishReasonStop,
	"max_tokens":    ir.FinishReasonLength,
	"tool_use":      ir.FinishReasonToolCalls,
	"refusal":       ir.FinishReasonContentFilter,
}

type claudeParser struct{}

func (claudeParser) Format() ir.Format   { return ir.FormatClaude }
func (claudeParser) Framing() ir.Framing { return ir.FramingSSE }

func (claudeParser) ParseRequest(payload []byte) (*ir.ChatRequest, error) {
	root, err := parseObject(ir.FormatClaude, payload)
	if err != nil {
		return nil, err
	}

	req := &ir.ChatRequest{
		Model:  root.Get("model").String(),
		Stream: root.Get("stream").Bool(),
	}

	if text := claudeSystemText(root.Get("system")); text != "" {
		req.Messages = append(req.Messages, ir.Message{
			Role:    ir.RoleSystem,
			Content: []ir.ContentPart{ir.TextPart(text)},
		})
	}

	for i, m := range root.Get("messages").Array() {
		parsed, err := parseClaudeMessage(m, i)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, parsed...)
	}

	for _, t := range root.Get("tools").Array() {
		req.Tools = append(req.Tools, ir.Tool{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Parameters:  asSchemaMap(t.Get("input_schema")),
		})
	}

	tc, err := parseClaudeToolChoice(root.Get("tool_choice"))
	if err != nil {
		return nil, err
	}
	req.ToolChoice = tc

	req.Temperature = floatPtr(root.Get("temperature"))
	req.TopP = floatPtr(root.Get("top_p"))
	req.TopK = intPtr(root.Get("top_k"))
	req.MaxTokens = intPtr(root.Get("max_tokens"))
	req.Stop = ir.NormalizeStop(root.Get("stop_sequences").Value())

	if thinking := root.Get("thinking"); thinking.IsObject() && thinking.Get("type").String() == "enabled" {
		req.Reasoning = &ir.ReasoningConfig{BudgetTokens: intPtr(thinking.Get("budget_tokens"))}
	}

	if err := ir.ValidateRequest(req, ir.FormatClaude); err != nil {
		return nil, err
	}
	return req, nil
}

func (claudeParser) ParseResponse(payload []byte) (*ir.ChatResponse, error) {
	root, err := parseObject(ir.FormatClaude, payload)
	if err != nil {
		return nil, err
	}

	msg := ir.Message{Role: ir.RoleAssistant}
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			msg.Content = append(msg.Content, ir.TextPart(block.Get("text").String()))
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, claudeToolUseCall(block))
		}
	}

	resp := &ir.ChatResponse{
		ID:    root.Get("id").String(),
		Model: root.Get("model").String(),
		Choices: []ir.Choice{{
			Message:      msg,
			FinishReason: ir.MapFinishReason(ir.FormatClaude, claudeStopReasons, root.Get("stop_reason").String()),
		}},
	}
	if u := root.Get("usage"); u.IsObject() {
		resp.Usage = ir.UsageFromCounts(u.Get("input_tokens").Int(), u.Get("output_tokens").Int(), 0)
	}
	return resp, nil
}

func (claudeParser) NewStreamDecoder(limits translator.DecoderLimits) translator.StreamDecoder {
	return &claudeStreamDecoder{
		limits: limits.Normalize(),
		blocks: make(map[int]*toolArgAccum),
	}
}

// claudeSystemText flattens the system prompt, which arrives either as a
// plain string or as an array of text blocks.
func claudeSystemText(sys gjson.Result) string {
	switch {
	case sys.Type == gjson.String:
		return sys.String()
	case sys.IsArray():
		sb := ir.GetStringBuilder()
		defer ir.PutStringBuilder(sb)
		for _, block := range sys.Array() {
			if block.Get("type").String() != "text" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(block.Get("text").String())
		}
		return sb.String()
	}
	return ""
}

// parseClaudeMessage expands one wire message into canonical messages.
// tool_result blocks become standalone tool-role messages; surrounding
// text and image blocks keep their original order and role.
func parseClaudeMessage(m gjson.Result, index int) ([]ir.Message, error) {
	role := ir.Role(m.Get("role").String())
	content := m.Get("content")

	if content.Type == gjson.String {
		return []ir.Message{{Role: role, Content: []ir.ContentPart{ir.TextPart(content.String())}}}, nil
	}

	var out []ir.Message
	var parts []ir.ContentPart
	var toolCalls []ir.ToolCall
	flush := func() {
		if len(parts) > 0 || len(toolCalls) > 0 {
			out = append(out, ir.Message{Role: role, Content: parts, ToolCalls: toolCalls})
			parts, toolCalls = nil, nil
		}
	}

	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, ir.TextPart(block.Get("text").String()))
		case "image":
			img, err := parseClaudeImage(block.Get("source"), index)
			if err != nil {
				return nil, err
			}
			parts = append(parts, ir.ImageContentPart(img))
		case "tool_use":
			toolCalls = append(toolCalls, claudeToolUseCall(block))
		case "tool_result":
			flush()
			out = append(out, ir.Message{
				Role:       ir.RoleTool,
				ToolCallID: block.Get("tool_use_id").String(),
				Content:    claudeToolResultContent(block.Get("content")),
			})
		case "thinking", "redacted_thinking":
			// prior-turn reasoning has no canonical message field
		}
	}
	flush()

	if len(out) == 0 {
		out = append(out, ir.Message{Role: role})
	}
	return out, nil
}

func claudeToolUseCall(block gjson.Result) ir.ToolCall {
	id := block.Get("id").String()
	if id == "" {
		id = ir.GenToolCallID()
	}
	args := "{}"
	if input := block.Get("input"); input.Exists() {
		args = ir.RepairToolArgs(input.Raw)
	}
	return ir.ToolCall{
		ID:        id,
		Type:      "function",
		Name:      block.Get("name").String(),
		Arguments: args,
	}
}

func parseClaudeImage(src gjson.Result, msgIndex int) (*ir.ImagePart, error) {
	switch src.Get("type").String() {
	case "base64":
		mime := src.Get("media_type").String()
		if mime == "" {
			log.WithFields(log.Fields{"format": "claude", "field": "source.media_type", "mime": ir.DefaultMime}).
				Warn("image media type missing, using generic default")
			mime = ir.DefaultMime
		}
		return &ir.ImagePart{MimeType: mime, Data: src.Get("data").String()}, nil
	case "url":
		return ir.ImagePartFromURI(src.Get("url").String()), nil
	default:
		return nil, ir.NewInvalidFormat(ir.FormatClaude,
			fmt.Sprintf("messages[%d].content.source.type", msgIndex),
			fmt.Sprintf("unsupported image source %q", src.Get("type").String()))
	}
}

func claudeToolResultContent(content gjson.Result) []ir.ContentPart {
	switch {
	case content.Type == gjson.String:
		if content.String() == "" {
			return nil
		}
		return []ir.ContentPart{ir.TextPart(content.String())}
	case content.IsArray():
		var parts []ir.ContentPart
		for _, block := range content.Array() {
			switch block.Get("type").String() {
			case "text":
				parts = append(parts, ir.TextPart(block.Get("text").String()))
			case "image":
				if img, err := parseClaudeImage(block.Get("source"), 0); err == nil {
					parts = append(parts, ir.ImageContentPart(img))
				}
			}
		}
		return parts
	}
	return nil
}

func parseClaudeToolChoice(v gjson.Result) (*ir.ToolChoice, error) {
	if !v.IsObject() {
		return nil, nil
	}
	switch v.Get("type").String() {
	case "auto":
		return &ir.ToolChoice{Mode: ir.ToolChoiceAuto}, nil
	case "none":
		return &ir.ToolChoice{Mode: ir.ToolChoiceNone}, nil
	case "any":
		return &ir.ToolChoice{Mode: ir.ToolChoiceRequired}, nil
	case "tool":
		name := v.Get("name").String()
		if name == "" {
			return nil, ir.NewInvalidFormat(ir.FormatClaude, "tool_choice.name", "tool name is required")
		}
		return &ir.ToolChoice{Mode: ir.ToolChoiceFunction, FunctionName: name}, nil
	default:
		return nil, ir.NewInvalidFormat(ir.FormatClaude, "tool_choice.type",
			fmt.Sprintf("unknown tool_choice type %q", v.Get("type").String()))
	}
}

// claudeStreamDecoder normalizes the event stream. The event name rides
// inside each data payload as "type", so framing metadata is not needed.
// Tool input fragments (input_json_delta) accumulate per content block and
// surface as one complete call on content_block_stop.
type claudeStreamDecoder struct {
	limits      translator.DecoderLimits
	id          string
	model       string
	inputTokens int64
	blocks      map[int]*toolArgAccum
}

func (d *claudeStreamDecoder) Decode(payload []byte) ([]*ir.StreamChunk, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(payload) {
		return []*ir.StreamChunk{ir.ErrorChunk(
			ir.NewInvalidFormat(ir.FormatClaude, "", "malformed stream frame"))}, nil
	}
	root := gjson.ParseBytes(payload)

	switch root.Get("type").String() {
	case "message_start":
		msg := root.Get("message")
		d.id = msg.Get("id").String()
		d.model = msg.Get("model").String()
		d.inputTokens = msg.Get("usage.input_tokens").Int()
		return d.chunk(ir.Delta{Role: ir.RoleAssistant}), nil

	case "content_block_start":
		cb := root.Get("content_block")
		if cb.Get("type").String() == "tool_use" {
			acc := newToolArgAccum(d.limits.MaxToolArgBytes)
			acc.id = cb.Get("id").String()
			acc.name = cb.Get("name").String()
			d.blocks[int(root.Get("index").Int())] = acc
		}
		return nil, nil

	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return d.chunk(ir.Delta{Content: delta.Get("text").String()}), nil
		case "thinking_delta":
			return d.chunk(ir.Delta{ReasoningContent: delta.Get("thinking").String()}), nil
		case "input_json_delta":
			if acc := d.blocks[int(root.Get("index").Int())]; acc != nil {
				acc.write(delta.Get("partial_json").String())
			}
			return nil, nil
		}
		return nil, nil

	case "content_block_stop":
		idx := int(root.Get("index").Int())
		acc := d.blocks[idx]
		if acc == nil {
			return nil, nil
		}
		delete(d.blocks, idx)
		return d.chunk(ir.Delta{ToolCalls: []ir.ToolCall{acc.toolCall()}}), nil

	case "message_delta":
		chunk := &ir.StreamChunk{ID: d.id, Model: d.model}
		fr := ir.MapFinishReason(ir.FormatClaude, claudeStopReasons, root.Get("delta.stop_reason").String())
		if calls := drainAccums(d.blocks); len(calls) > 0 {
			chunk.Choices = append(chunk.Choices, ir.StreamChoice{
				Delta:        ir.Delta{ToolCalls: calls},
				FinishReason: fr,
			})
		} else if fr != ir.FinishReasonNone {
			chunk.Choices = append(chunk.Choices, ir.StreamChoice{FinishReason: fr})
		}
		if u := root.Get("usage"); u.IsObject() {
			usage := ir.UsageFromCounts(d.inputTokens, u.Get("output_tokens").Int(), 0)
			chunk.Usage = &usage
		}
		if len(chunk.Choices) == 0 && chunk.Usage == nil {
			return nil, nil
		}
		return []*ir.StreamChunk{chunk}, nil

	case "message_stop", "ping":
		return nil, nil

	case "error":
		return []*ir.StreamChunk{ir.ErrorChunk(
			ir.NewInvalidFormat(ir.FormatClaude, "", root.Get("error.message").String()))}, nil
	}
	return nil, nil
}

func (d *claudeStreamDecoder) Flush() []*ir.StreamChunk {
	calls := drainAccums(d.blocks)
	if len(calls) == 0 {
		return nil
	}
	return d.chunk(ir.Delta{ToolCalls: calls})
}

func (d *claudeStreamDecoder) chunk(delta ir.Delta) []*ir.StreamChunk {
	return []*ir.StreamChunk{{
		ID:      d.id,
		Model:   d.model,
		Choices: []ir.StreamChoice{{Delta: delta}},
	}}
}
