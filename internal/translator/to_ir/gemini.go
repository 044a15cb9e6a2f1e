package to_ir

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func init() {
	translator.RegisterParser(geminiParser{})
}

// geminiFinishReasons maps finishReason values to the canonical set.
// Safety blocks of every flavor collapse to content_filter.
var geminiFinishReasons = map[string]ir.FinishReason{
	"STOP":               ir.FinishReasonStop,
	"MAX_TOKENS":         ir.FinishReasonLength,
	"SAFETY":             ir.FinishReasonContentFilter,
	"RECITATION":         ir.FinishReasonContentFilter,
	"PROHIBITED_CONTENT": ir.FinishReasonContentFilter,
	"BLOCKLIST":          ir.FinishReasonContentFilter,
	"SPII":               ir.FinishReasonContentFilter,
	"IMAGE_SAFETY":       ir.FinishReasonContentFilter,
	"LANGUAGE":           ir.FinishReasonStop,
	"OTHER":              ir.FinishReasonStop,
}

type geminiParser struct{}

func (geminiParser) Format() ir.Format   { return ir.FormatGemini }
func (geminiParser) Framing() ir.Framing { return ir.FramingSSE }

// pick returns the first existing field among aliases. Gemini payloads
// arrive in camelCase from the REST API and snake_case from some proxies.
func pick(v gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func (geminiParser) ParseRequest(payload []byte) (*ir.ChatRequest, error) {
	root, err := parseObject(ir.FormatGemini, payload)
	if err != nil {
		return nil, err
	}

	// CLI-style envelope: {"model": ..., "request": {...}}.
	model := root.Get("model").String()
	if wrapped := root.Get("request"); wrapped.IsObject() {
		root = wrapped
	}
	if m := root.Get("model").String(); m != "" {
		model = m
	}
	model = strings.TrimPrefix(model, "models/")

	req := &ir.ChatRequest{Model: model}

	if si := pick(root, "systemInstruction", "system_instruction"); si.Exists() {
		if text := geminiPartsText(si.Get("parts")); text != "" {
			req.Messages = append(req.Messages, ir.Message{
				Role:    ir.RoleSystem,
				Content: []ir.ContentPart{ir.TextPart(text)},
			})
		}
	}

	// functionCall parts carry no id on this wire; mint ids and match
	// functionResponse parts back by name in arrival order.
	pendingIDs := make(map[string][]string)
	for _, c := range root.Get("contents").Array() {
		req.Messages = append(req.Messages, parseGeminiContent(c, pendingIDs)...)
	}

	for _, t := range root.Get("tools").Array() {
		decls := pick(t, "functionDeclarations", "function_declarations")
		for _, fd := range decls.Array() {
			req.Tools = append(req.Tools, ir.Tool{
				Name:        fd.Get("name").String(),
				Description: fd.Get("description").String(),
				Parameters:  asSchemaMap(fd.Get("parameters")),
			})
		}
	}

	if fcc := pick(pick(root, "toolConfig", "tool_config"), "functionCallingConfig", "function_calling_config"); fcc.Exists() {
		req.ToolChoice = parseGeminiToolChoice(fcc)
	}

	gc := pick(root, "generationConfig", "generation_config")
	if gc.IsObject() {
		req.Temperature = floatPtr(gc.Get("temperature"))
		req.TopP = floatPtr(pick(gc, "topP", "top_p"))
		req.TopK = intPtr(pick(gc, "topK", "top_k"))
		req.MaxTokens = intPtr(pick(gc, "maxOutputTokens", "max_output_tokens"))
		req.Stop = ir.NormalizeStop(pick(gc, "stopSequences", "stop_sequences").Value())
		req.ResponseFormat = parseGeminiResponseFormat(gc)

		if think := pick(gc, "thinkingConfig", "thinking_config"); think.IsObject() {
			rc := &ir.ReasoningConfig{
				BudgetTokens: intPtr(pick(think, "thinkingBudget", "thinking_budget")),
			}
			if inc := pick(think, "includeThoughts", "include_thoughts"); inc.Exists() {
				rc.Passthrough = map[string]any{"includeThoughts": inc.Bool()}
			}
			req.Reasoning = rc
		}
	}

	if err := ir.ValidateRequest(req, ir.FormatGemini); err != nil {
		return nil, err
	}
	return req, nil
}

func (geminiParser) ParseResponse(payload []byte) (*ir.ChatResponse, error) {
	root, err := parseObject(ir.FormatGemini, payload)
	if err != nil {
		return nil, err
	}
	root = unwrapGeminiEnvelope(root)

	resp := &ir.ChatResponse{
		ID:    pick(root, "responseId", "response_id").String(),
		Model: pick(root, "modelVersion", "model_version").String(),
	}
	for _, cand := range root.Get("candidates").Array() {
		msg := ir.Message{Role: ir.RoleAssistant}
		for _, p := range cand.Get("content.parts").Array() {
			parseGeminiResponsePart(p, &msg)
		}
		fr := ir.MapFinishReason(ir.FormatGemini, geminiFinishReasons, pick(cand, "finishReason", "finish_reason").String())
		if fr == ir.FinishReasonStop && len(msg.ToolCalls) > 0 {
			fr = ir.FinishReasonToolCalls
		}
		resp.Choices = append(resp.Choices, ir.Choice{
			Index:        int(cand.Get("index").Int()),
			Message:      msg,
			FinishReason: fr,
		})
	}
	resp.Usage = parseGeminiUsage(pick(root, "usageMetadata", "usage_metadata"))
	return resp, nil
}

func (geminiParser) NewStreamDecoder(limits translator.DecoderLimits) translator.StreamDecoder {
	return &geminiStreamDecoder{seenCalls: make(map[int]bool)}
}

func unwrapGeminiEnvelope(root gjson.Result) gjson.Result {
	if wrapped := root.Get("response"); wrapped.IsObject() {
		return wrapped
	}
	return root
}

func geminiPartsText(parts gjson.Result) string {
	sb := ir.GetStringBuilder()
	defer ir.PutStringBuilder(sb)
	for _, p := range parts.Array() {
		if t := p.Get("text"); t.Exists() {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(t.String())
		}
	}
	return sb.String()
}

// parseGeminiContent expands one contents entry. functionResponse parts
// become tool-role messages; everything else keeps the entry's role.
func parseGeminiContent(c gjson.Result, pendingIDs map[string][]string) []ir.Message {
	role := ir.RoleUser
	if c.Get("role").String() == "model" {
		role = ir.RoleAssistant
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

	for _, p := range c.Get("parts").Array() {
		switch {
		case p.Get("text").Exists():
			if p.Get("thought").Bool() {
				continue
			}
			parts = append(parts, ir.TextPart(p.Get("text").String()))

		case pick(p, "inlineData", "inline_data").Exists():
			inline := pick(p, "inlineData", "inline_data")
			mime := pick(inline, "mimeType", "mime_type").String()
			if mime == "" {
				mime = ir.DefaultMime
			}
			parts = append(parts, ir.ImageContentPart(&ir.ImagePart{
				MimeType: mime,
				Data:     inline.Get("data").String(),
			}))

		case pick(p, "fileData", "file_data").Exists():
			fd := pick(p, "fileData", "file_data")
			uri := pick(fd, "fileUri", "file_uri").String()
			mime := pick(fd, "mimeType", "mime_type").String()
			if mime == "" {
				mime = ir.ResolveMime(uri)
			}
			parts = append(parts, ir.ImageContentPart(&ir.ImagePart{MimeType: mime, FileURI: uri}))

		case pick(p, "functionCall", "function_call").Exists():
			fc := pick(p, "functionCall", "function_call")
			call := geminiFunctionCall(fc)
			pendingIDs[call.Name] = append(pendingIDs[call.Name], call.ID)
			toolCalls = append(toolCalls, call)

		case pick(p, "functionResponse", "function_response").Exists():
			fr := pick(p, "functionResponse", "function_response")
			flush()
			name := fr.Get("name").String()
			id := ""
			if queue := pendingIDs[name]; len(queue) > 0 {
				id = queue[0]
				pendingIDs[name] = queue[1:]
			} else {
				id = ir.GenToolCallID()
			}
			out = append(out, ir.Message{
				Role:       ir.RoleTool,
				Name:       name,
				ToolCallID: id,
				Content:    []ir.ContentPart{ir.TextPart(fr.Get("response").Raw)},
			})
		}
	}
	flush()
	return out
}

func geminiFunctionCall(fc gjson.Result) ir.ToolCall {
	args := "{}"
	if a := fc.Get("args"); a.Exists() {
		args = ir.RepairToolArgs(a.Raw)
	}
	return ir.ToolCall{
		ID:        ir.GenToolCallID(),
		Type:      "function",
		Name:      fc.Get("name").String(),
		Arguments: args,
	}
}

func parseGeminiToolChoice(fcc gjson.Result) *ir.ToolChoice {
	allowed := pick(fcc, "allowedFunctionNames", "allowed_function_names").Array()
	switch fcc.Get("mode").String() {
	case "NONE":
		return &ir.ToolChoice{Mode: ir.ToolChoiceNone}
	case "ANY":
		if len(allowed) == 1 {
			return &ir.ToolChoice{Mode: ir.ToolChoiceFunction, FunctionName: allowed[0].String()}
		}
		return &ir.ToolChoice{Mode: ir.ToolChoiceRequired}
	case "AUTO", "":
		return &ir.ToolChoice{Mode: ir.ToolChoiceAuto}
	}
	return &ir.ToolChoice{Mode: ir.ToolChoiceAuto}
}

func parseGeminiResponseFormat(gc gjson.Result) *ir.ResponseFormat {
	mime := pick(gc, "responseMimeType", "response_mime_type").String()
	schema := asSchemaMap(pick(gc, "responseSchema", "response_schema"))
	if schema != nil {
		return &ir.ResponseFormat{Type: "json_schema", Schema: schema}
	}
	if mime == "application/json" {
		return &ir.ResponseFormat{Type: "json_object"}
	}
	return nil
}

func parseGeminiResponsePart(p gjson.Result, msg *ir.Message) {
	switch {
	case p.Get("text").Exists():
		if p.Get("thought").Bool() {
			return
		}
		msg.Content = append(msg.Content, ir.TextPart(p.Get("text").String()))
	case pick(p, "functionCall", "function_call").Exists():
		msg.ToolCalls = append(msg.ToolCalls, geminiFunctionCall(pick(p, "functionCall", "function_call")))
	}
}

func parseGeminiUsage(u gjson.Result) ir.Usage {
	if !u.IsObject() {
		return ir.Usage{}
	}
	return ir.UsageFromCounts(
		pick(u, "promptTokenCount", "prompt_token_count").Int(),
		pick(u, "candidatesTokenCount", "candidates_token_count").Int(),
		pick(u, "totalTokenCount", "total_token_count").Int(),
	)
}

// geminiStreamDecoder normalizes streamGenerateContent chunks. Function
// calls arrive as whole parts, so no fragment assembly is needed; usage
// metadata is cached and attached to the finishing chunk.
type geminiStreamDecoder struct {
	seenCalls map[int]bool
	lastUsage *ir.Usage
}

func (d *geminiStreamDecoder) Decode(payload []byte) ([]*ir.StreamChunk, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(payload) {
		return []*ir.StreamChunk{ir.ErrorChunk(
			ir.NewInvalidFormat(ir.FormatGemini, "", "malformed stream frame"))}, nil
	}
	root := unwrapGeminiEnvelope(gjson.ParseBytes(payload))

	if u := pick(root, "usageMetadata", "usage_metadata"); u.IsObject() {
		usage := parseGeminiUsage(u)
		d.lastUsage = &usage
	}

	chunk := &ir.StreamChunk{
		ID:    pick(root, "responseId", "response_id").String(),
		Model: pick(root, "modelVersion", "model_version").String(),
	}

	finished := false
	for _, cand := range root.Get("candidates").Array() {
		idx := int(cand.Get("index").Int())
		sc := ir.StreamChoice{Index: idx}

		for _, p := range cand.Get("content.parts").Array() {
			switch {
			case p.Get("text").Exists():
				if p.Get("thought").Bool() {
					sc.Delta.ReasoningContent += p.Get("text").String()
				} else {
					sc.Delta.Content += p.Get("text").String()
				}
			case pick(p, "functionCall", "function_call").Exists():
				sc.Delta.ToolCalls = append(sc.Delta.ToolCalls,
					geminiFunctionCall(pick(p, "functionCall", "function_call")))
				d.seenCalls[idx] = true
			}
		}

		if raw := pick(cand, "finishReason", "finish_reason").String(); raw != "" {
			fr := ir.MapFinishReason(ir.FormatGemini, geminiFinishReasons, raw)
			if fr == ir.FinishReasonStop && (d.seenCalls[idx] || len(sc.Delta.ToolCalls) > 0) {
				fr = ir.FinishReasonToolCalls
			}
			sc.FinishReason = fr
			finished = true
		}
		chunk.Choices = append(chunk.Choices, sc)
	}

	if finished && d.lastUsage != nil {
		chunk.Usage = d.lastUsage
	}
	if len(chunk.Choices) == 0 && chunk.Usage == nil {
		return nil, nil
	}
	return []*ir.StreamChunk{chunk}, nil
}

func (d *geminiStreamDecoder) Flush() []*ir.StreamChunk {
	return nil
}
