package to_ir

import (
	"bytes"
	"time"

	"github.com/tidwall/gjson"

	log "github.com/llmbridge-dev/llmbridge/internal/logging"
	"github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func init() {
	translator.RegisterParser(ollamaParser{})
}

// ollamaDoneReasons maps done_reason values to the canonical set. load
// and unload terminate generation without output; stop is the closest
// canonical meaning.
var ollamaDoneReasons = map[string]ir.FinishReason{
	"stop":   ir.FinishReasonStop,
	"length": ir.FinishReasonLength,
	"load":   ir.FinishReasonStop,
	"unload": ir.FinishReasonStop,
}

// sampling options lifted into canonical fields; the rest pass through
// in metadata untouched.
var ollamaKnownOptions = map[string]bool{
	"temperature": true,
	"top_p":       true,
	"top_k":       true,
	"num_predict": true,
	"stop":        true,
}

type ollamaParser struct{}

func (ollamaParser) Format() ir.Format   { return ir.FormatOllama }
func (ollamaParser) Framing() ir.Framing { return ir.FramingNDJSON }

func (ollamaParser) ParseRequest(payload []byte) (*ir.ChatRequest, error) {
	root, err := parseObject(ir.FormatOllama, payload)
	if err != nil {
		return nil, err
	}

	req := &ir.ChatRequest{
		Model: root.Get("model").String(),
		// ollama streams unless told otherwise
		Stream: true,
	}
	if s := root.Get("stream"); s.Exists() {
		req.Stream = s.Bool()
	}

	meta := make(map[string]any)
	if ka := root.Get("keep_alive"); ka.Exists() {
		meta["ollama_keep_alive"] = ka.Value()
	}
	if think := root.Get("think"); think.Exists() && think.Bool() {
		req.Reasoning = &ir.ReasoningConfig{Passthrough: map[string]any{"think": true}}
	}

	if prompt := root.Get("prompt"); prompt.Exists() {
		// /api/generate shape
		meta["ollama_endpoint"] = "generate"
		if sys := root.Get("system").String(); sys != "" {
			req.Messages = append(req.Messages, ir.Message{
				Role:    ir.RoleSystem,
				Content: []ir.ContentPart{ir.TextPart(sys)},
			})
		}
		user := ir.Message{Role: ir.RoleUser}
		if text := prompt.String(); text != "" {
			user.Content = append(user.Content, ir.TextPart(text))
		}
		user.Content = append(user.Content, ollamaImages(root.Get("images"))...)
		req.Messages = append(req.Messages, user)
	} else {
		pendingIDs := make(map[string][]string)
		for _, m := range root.Get("messages").Array() {
			req.Messages = append(req.Messages, parseOllamaMessage(m, pendingIDs))
		}
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

	if format := root.Get("format"); format.Exists() {
		switch {
		case format.Type == gjson.String && format.String() == "json":
			req.ResponseFormat = &ir.ResponseFormat{Type: "json_object"}
		case format.IsObject():
			req.ResponseFormat = &ir.ResponseFormat{Type: "json_schema", Schema: asSchemaMap(format)}
		}
	}

	if opts := root.Get("options"); opts.IsObject() {
		req.Temperature = floatPtr(opts.Get("temperature"))
		req.TopP = floatPtr(opts.Get("top_p"))
		req.TopK = intPtr(opts.Get("top_k"))
		req.MaxTokens = intPtr(opts.Get("num_predict"))
		req.Stop = ir.NormalizeStop(opts.Get("stop").Value())

		extra := make(map[string]any)
		opts.ForEach(func(key, value gjson.Result) bool {
			if !ollamaKnownOptions[key.String()] {
				extra[key.String()] = value.Value()
			}
			return true
		})
		if len(extra) > 0 {
			meta["ollama_options"] = extra
		}
	}

	if len(meta) > 0 {
		req.Metadata = meta
	}

	if err := ir.ValidateRequest(req, ir.FormatOllama); err != nil {
		return nil, err
	}
	return req, nil
}

func (ollamaParser) ParseResponse(payload []byte) (*ir.ChatResponse, error) {
	root, err := parseObject(ir.FormatOllama, payload)
	if err != nil {
		return nil, err
	}

	msg := ir.Message{Role: ir.RoleAssistant}
	if m := root.Get("message"); m.IsObject() {
		if text := m.Get("content").String(); text != "" {
			msg.Content = []ir.ContentPart{ir.TextPart(text)}
		}
		msg.ToolCalls = parseOllamaToolCalls(m.Get("tool_calls"))
	} else if text := root.Get("response").String(); text != "" {
		// /api/generate shape
		msg.Content = []ir.ContentPart{ir.TextPart(text)}
	}

	fr := ir.FinishReasonNone
	if root.Get("done").Bool() {
		fr = ir.FinishReasonStop
		if raw := root.Get("done_reason").String(); raw != "" {
			fr = ir.MapFinishReason(ir.FormatOllama, ollamaDoneReasons, raw)
		}
		if len(msg.ToolCalls) > 0 && fr == ir.FinishReasonStop {
			fr = ir.FinishReasonToolCalls
		}
	}

	return &ir.ChatResponse{
		Model:   root.Get("model").String(),
		Created: ollamaCreated(root.Get("created_at").String()),
		Choices: []ir.Choice{{Message: msg, FinishReason: fr}},
		Usage: ir.UsageFromCounts(
			root.Get("prompt_eval_count").Int(),
			root.Get("eval_count").Int(),
			0,
		),
	}, nil
}

func (ollamaParser) NewStreamDecoder(limits translator.DecoderLimits) translator.StreamDecoder {
	return &ollamaStreamDecoder{}
}

func ollamaCreated(createdAt string) int64 {
	if createdAt == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// ollamaImages converts the bare base64 images array. The wire carries
// no MIME information at all, so the generic default applies.
func ollamaImages(images gjson.Result) []ir.ContentPart {
	arr := images.Array()
	if len(arr) == 0 {
		return nil
	}
	log.Debugf("ollama images carry no mime type, defaulting %d image(s) to %s", len(arr), ir.DefaultMime)
	parts := make([]ir.ContentPart, 0, len(arr))
	for _, img := range arr {
		parts = append(parts, ir.ImageContentPart(&ir.ImagePart{
			MimeType: ir.DefaultMime,
			Data:     img.String(),
		}))
	}
	return parts
}

func parseOllamaMessage(m gjson.Result, pendingIDs map[string][]string) ir.Message {
	msg := ir.Message{Role: ir.Role(m.Get("role").String())}
	if text := m.Get("content").String(); text != "" {
		msg.Content = append(msg.Content, ir.TextPart(text))
	}
	msg.Content = append(msg.Content, ollamaImages(m.Get("images"))...)

	if msg.Role == ir.RoleAssistant {
		msg.ToolCalls = parseOllamaToolCalls(m.Get("tool_calls"))
		for _, tc := range msg.ToolCalls {
			pendingIDs[tc.Name] = append(pendingIDs[tc.Name], tc.ID)
		}
	}
	if msg.Role == ir.RoleTool {
		// the wire matches results to calls by tool name, not id
		name := m.Get("tool_name").String()
		msg.Name = name
		if queue := pendingIDs[name]; len(queue) > 0 {
			msg.ToolCallID = queue[0]
			pendingIDs[name] = queue[1:]
		} else {
			msg.ToolCallID = ir.GenToolCallID()
		}
	}
	return msg
}

func parseOllamaToolCalls(calls gjson.Result) []ir.ToolCall {
	arr := calls.Array()
	if len(arr) == 0 {
		return nil
	}
	out := make([]ir.ToolCall, 0, len(arr))
	for _, tc := range arr {
		fn := tc.Get("function")
		args := "{}"
		if a := fn.Get("arguments"); a.Exists() {
			args = ir.RepairToolArgs(a.Raw)
		}
		out = append(out, ir.ToolCall{
			ID:        ir.GenToolCallID(),
			Type:      "function",
			Name:      fn.Get("name").String(),
			Arguments: args,
		})
	}
	return out
}

// ollamaStreamDecoder normalizes NDJSON chat/generate chunks. Tool calls
// arrive whole, so frames translate one to one; the done frame carries
// the finish reason and token counts.
type ollamaStreamDecoder struct {
	started  bool
	sawCalls bool
}

func (d *ollamaStreamDecoder) Decode(payload []byte) ([]*ir.StreamChunk, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(payload) {
		return []*ir.StreamChunk{ir.ErrorChunk(
			ir.NewInvalidFormat(ir.FormatOllama, "", "malformed stream frame"))}, nil
	}
	root := gjson.ParseBytes(payload)

	sc := ir.StreamChoice{}
	if !d.started {
		d.started = true
		sc.Delta.Role = ir.RoleAssistant
	}

	if m := root.Get("message"); m.IsObject() {
		sc.Delta.Content = m.Get("content").String()
		sc.Delta.ReasoningContent = m.Get("thinking").String()
		sc.Delta.ToolCalls = parseOllamaToolCalls(m.Get("tool_calls"))
	} else {
		sc.Delta.Content = root.Get("response").String()
		sc.Delta.ReasoningContent = root.Get("thinking").String()
	}
	if len(sc.Delta.ToolCalls) > 0 {
		d.sawCalls = true
	}

	chunk := &ir.StreamChunk{
		Model:   root.Get("model").String(),
		Created: ollamaCreated(root.Get("created_at").String()),
	}

	if root.Get("done").Bool() {
		fr := ir.FinishReasonStop
		if raw := root.Get("done_reason").String(); raw != "" {
			fr = ir.MapFinishReason(ir.FormatOllama, ollamaDoneReasons, raw)
		}
		if d.sawCalls && fr == ir.FinishReasonStop {
			fr = ir.FinishReasonToolCalls
		}
		sc.FinishReason = fr
		usage := ir.UsageFromCounts(
			root.Get("prompt_eval_count").Int(),
			root.Get("eval_count").Int(),
			0,
		)
		chunk.Usage = &usage
	}

	chunk.Choices = []ir.StreamChoice{sc}
	return []*ir.StreamChunk{chunk}, nil
}

func (d *ollamaStreamDecoder) Flush() []*ir.StreamChunk {
	return nil
}
