package to_ir

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func init() {
	translator.RegisterParser(openaiParser{})
}

// openaiFinishReasons maps finish_reason values to the canonical set.
var openaiFinishReasons = map[string]ir.FinishReason{
	"stop":           ir.FinishReasonStop,
	"length":         ir.FinishReasonLength,
	"content_filter": ir.FinishReasonContentFilter,
	"tool_calls":     ir.FinishReasonToolCalls,
	"function_call":  ir.FinishReasonToolCalls,
}

type openaiParser struct{}

func (openaiParser) Format() ir.Format   { return ir.FormatOpenAI }
func (openaiParser) Framing() ir.Framing { return ir.FramingSSE }

func (openaiParser) ParseRequest(payload []byte) (*ir.ChatRequest, error) {
	root, err := parseObject(ir.FormatOpenAI, payload)
	if err != nil {
		return nil, err
	}

	req := &ir.ChatRequest{
		Model:  root.Get("model").String(),
		Stream: root.Get("stream").Bool(),
	}

	for _, m := range root.Get("messages").Array() {
		msg := ir.Message{
			Role: normalizeOpenAIRole(m.Get("role").String()),
			Name: m.Get("name").String(),
		}
		msg.Content = parseOpenAIContent(m.Get("content"))
		if tcs := m.Get("tool_calls"); tcs.IsArray() {
			msg.ToolCalls = parseOpenAIToolCalls(tcs.Array())
		}
		msg.ToolCallID = m.Get("tool_call_id").String()
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range root.Get("tools").Array() {
		fn := t.Get("function")
		if !fn.Exists() {
			continue
		}
		req.Tools = append(req.Tools, ir.Tool{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
			Parameters:  asSchemaMap(fn.Get("parameters")),
		})
	}

	tc, err := parseOpenAIToolChoice(root.Get("tool_choice"))
	if err != nil {
		return nil, err
	}
	req.ToolChoice = tc

	req.Temperature = floatPtr(root.Get("temperature"))
	req.TopP = floatPtr(root.Get("top_p"))
	if v := root.Get("max_completion_tokens"); v.Exists() {
		req.MaxTokens = intPtr(v)
	} else {
		req.MaxTokens = intPtr(root.Get("max_tokens"))
	}
	req.Stop = ir.NormalizeStop(root.Get("stop").Value())
	req.ResponseFormat = parseOpenAIResponseFormat(root.Get("response_format"))
	if v := root.Get("reasoning_effort"); v.Exists() {
		req.Reasoning = &ir.ReasoningConfig{Effort: v.String()}
	}

	if err := ir.ValidateRequest(req, ir.FormatOpenAI); err != nil {
		return nil, err
	}
	return req, nil
}

func (openaiParser) ParseResponse(payload []byte) (*ir.ChatResponse, error) {
	root, err := parseObject(ir.FormatOpenAI, payload)
	if err != nil {
		return nil, err
	}
	choices := root.Get("choices")
	if !choices.IsArray() {
		return nil, ir.NewInvalidFormat(ir.FormatOpenAI, "choices", "choices must be an array")
	}

	resp := &ir.ChatResponse{
		ID:      root.Get("id").String(),
		Model:   root.Get("model").String(),
		Created: root.Get("created").Int(),
	}
	for _, c := range choices.Array() {
		m := c.Get("message")
		msg := ir.Message{Role: ir.RoleAssistant}
		if role := m.Get("role").String(); role != "" {
			msg.Role = normalizeOpenAIRole(role)
		}
		if text := m.Get("content").String(); text != "" {
			msg.Content = []ir.ContentPart{ir.TextPart(text)}
		}
		if tcs := m.Get("tool_calls"); tcs.IsArray() {
			msg.ToolCalls = parseOpenAIToolCalls(tcs.Array())
		}
		resp.Choices = append(resp.Choices, ir.Choice{
			Index:        int(c.Get("index").Int()),
			Message:      msg,
			FinishReason: ir.MapFinishReason(ir.FormatOpenAI, openaiFinishReasons, c.Get("finish_reason").String()),
		})
	}
	resp.Usage = parseOpenAIUsage(root.Get("usage"))
	return resp, nil
}

func (openaiParser) NewStreamDecoder(limits translator.DecoderLimits) translator.StreamDecoder {
	return &openaiStreamDecoder{
		limits: limits.Normalize(),
		calls:  make(map[int]map[int]*toolArgAccum),
	}
}

func normalizeOpenAIRole(role string) ir.Role {
	switch role {
	case "developer":
		return ir.RoleSystem
	case "function":
		return ir.RoleTool
	default:
		return ir.Role(role)
	}
}

// parseOpenAIContent handles both the legacy string form and the
// multimodal part-array form of the content field.
func parseOpenAIContent(content gjson.Result) []ir.ContentPart {
	switch {
	case content.Type == gjson.String:
		if content.String() == "" {
			return nil
		}
		return []ir.ContentPart{ir.TextPart(content.String())}
	case content.IsArray():
		var parts []ir.ContentPart
		for _, p := range content.Array() {
			switch p.Get("type").String() {
			case "text":
				parts = append(parts, ir.TextPart(p.Get("text").String()))
			case "image_url":
				parts = append(parts, ir.ImageContentPart(ir.ImagePartFromURI(p.Get("image_url.url").String())))
			}
		}
		return parts
	}
	return nil
}

func parseOpenAIToolCalls(calls []gjson.Result) []ir.ToolCall {
	out := make([]ir.ToolCall, 0, len(calls))
	for _, tc := range calls {
		if typ := tc.Get("type").String(); typ != "" && typ != "function" {
			continue
		}
		id := tc.Get("id").String()
		if id == "" {
			id = ir.GenToolCallID()
		}
		out = append(out, ir.ToolCall{
			ID:        id,
			Type:      "function",
			Name:      tc.Get("function.name").String(),
			Arguments: ir.RepairToolArgs(tc.Get("function.arguments").String()),
		})
	}
	return out
}

func parseOpenAIToolChoice(v gjson.Result) (*ir.ToolChoice, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if v.Type == gjson.String {
		switch v.String() {
		case "auto":
			return &ir.ToolChoice{Mode: ir.ToolChoiceAuto}, nil
		case "none":
			return &ir.ToolChoice{Mode: ir.ToolChoiceNone}, nil
		case "required":
			return &ir.ToolChoice{Mode: ir.ToolChoiceRequired}, nil
		default:
			return nil, ir.NewInvalidFormat(ir.FormatOpenAI, "tool_choice",
				fmt.Sprintf("unknown tool_choice %q", v.String()))
		}
	}
	if v.IsObject() {
		name := v.Get("function.name").String()
		if name == "" {
			return nil, ir.NewInvalidFormat(ir.FormatOpenAI, "tool_choice.function.name", "function name is required")
		}
		return &ir.ToolChoice{Mode: ir.ToolChoiceFunction, FunctionName: name}, nil
	}
	return nil, ir.NewInvalidFormat(ir.FormatOpenAI, "tool_choice", "tool_choice must be a string or object")
}

func parseOpenAIResponseFormat(v gjson.Result) *ir.ResponseFormat {
	if !v.IsObject() {
		return nil
	}
	switch v.Get("type").String() {
	case "json_object":
		return &ir.ResponseFormat{Type: "json_object"}
	case "json_schema":
		js := v.Get("json_schema")
		return &ir.ResponseFormat{
			Type:   "json_schema",
			Name:   js.Get("name").String(),
			Schema: asSchemaMap(js.Get("schema")),
			Strict: js.Get("strict").Bool(),
		}
	}
	return nil
}

func parseOpenAIUsage(u gjson.Result) ir.Usage {
	if !u.IsObject() {
		return ir.Usage{}
	}
	return ir.UsageFromCounts(
		u.Get("prompt_tokens").Int(),
		u.Get("completion_tokens").Int(),
		u.Get("total_tokens").Int(),
	)
}

// openaiStreamDecoder normalizes chat completion chunks. Text deltas pass
// through immediately; fragmented tool calls accumulate per choice and per
// tool slot until the choice finishes or a higher slot starts.
type openaiStreamDecoder struct {
	limits translator.DecoderLimits
	calls  map[int]map[int]*toolArgAccum
}

func (d *openaiStreamDecoder) Decode(payload []byte) ([]*ir.StreamChunk, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(payload) {
		return []*ir.StreamChunk{ir.ErrorChunk(
			ir.NewInvalidFormat(ir.FormatOpenAI, "", "malformed stream frame"))}, nil
	}
	root := gjson.ParseBytes(payload)

	chunk := &ir.StreamChunk{
		ID:      root.Get("id").String(),
		Created: root.Get("created").Int(),
		Model:   root.Get("model").String(),
	}
	if u := root.Get("usage"); u.IsObject() {
		usage := parseOpenAIUsage(u)
		chunk.Usage = &usage
	}

	for _, c := range root.Get("choices").Array() {
		idx := int(c.Get("index").Int())
		sc := ir.StreamChoice{Index: idx}

		delta := c.Get("delta")
		if role := delta.Get("role").String(); role != "" {
			sc.Delta.Role = normalizeOpenAIRole(role)
		}
		sc.Delta.Content = delta.Get("content").String()
		sc.Delta.ReasoningContent = delta.Get("reasoning_content").String()

		for _, tc := range delta.Get("tool_calls").Array() {
			sc.Delta.ToolCalls = append(sc.Delta.ToolCalls, d.accumulate(idx, tc)...)
		}

		if fr := c.Get("finish_reason").String(); fr != "" {
			sc.Delta.ToolCalls = append(sc.Delta.ToolCalls, drainAccums(d.calls[idx])...)
			sc.FinishReason = ir.MapFinishReason(ir.FormatOpenAI, openaiFinishReasons, fr)
		}
		chunk.Choices = append(chunk.Choices, sc)
	}

	if len(chunk.Choices) == 0 && chunk.Usage == nil {
		return nil, nil
	}
	return []*ir.StreamChunk{chunk}, nil
}

// accumulate folds one tool_calls delta entry into the per-choice state.
// Starting a new slot means every lower slot is complete; those calls are
// returned for immediate emission.
func (d *openaiStreamDecoder) accumulate(choice int, tc gjson.Result) []ir.ToolCall {
	slot := int(tc.Get("index").Int())
	byIdx := d.calls[choice]
	if byIdx == nil {
		byIdx = make(map[int]*toolArgAccum)
		d.calls[choice] = byIdx
	}

	var completed []ir.ToolCall
	acc := byIdx[slot]
	if acc == nil {
		completed = drainBelow(byIdx, slot)
		acc = newToolArgAccum(d.limits.MaxToolArgBytes)
		byIdx[slot] = acc
	}
	if id := tc.Get("id").String(); id != "" {
		acc.id = id
	}
	if name := tc.Get("function.name").String(); name != "" {
		acc.name = name
	}
	acc.write(tc.Get("function.arguments").String())
	return completed
}

func drainBelow(byIdx map[int]*toolArgAccum, slot int) []ir.ToolCall {
	var pending []int
	for i := range byIdx {
		if i < slot {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	below := make(map[int]*toolArgAccum, len(pending))
	for _, i := range pending {
		below[i] = byIdx[i]
		delete(byIdx, i)
	}
	return drainAccums(below)
}

func (d *openaiStreamDecoder) Flush() []*ir.StreamChunk {
	if len(d.calls) == 0 {
		return nil
	}
	choices := make([]int, 0, len(d.calls))
	for i := range d.calls {
		choices = append(choices, i)
	}
	sort.Ints(choices)

	chunk := &ir.StreamChunk{}
	for _, ci := range choices {
		calls := drainAccums(d.calls[ci])
		delete(d.calls, ci)
		if len(calls) == 0 {
			continue
		}
		chunk.Choices = append(chunk.Choices, ir.StreamChoice{
			Index: ci,
			Delta: ir.Delta{ToolCalls: calls},
		})
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	return []*ir.StreamChunk{chunk}
}
