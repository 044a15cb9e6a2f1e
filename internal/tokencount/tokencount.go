// Package tokencount approximates prompt tokens for a canonical
// request. Estimates feed routing and budget decisions, not billing:
// tiktoken BPE when the model maps to a known vocabulary, a bytes/4
// heuristic when it does not.
package tokencount

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/llmbridge-dev/llmbridge/internal/json"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

// ImageTokenCost is the flat charge per image part; vision inputs do
// not tokenize as text.
const ImageTokenCost = 258

const heuristicBytesPerToken = 4

// codecs caches loaded codecs per vocabulary family; building one
// parses its embedded BPE ranks, far too slow to repeat per request.
var codecs sync.Map

// EstimateRequest approximates the prompt tokens req will consume. A
// nil request or one with no content costs zero.
func EstimateRequest(req *ir.ChatRequest) int {
	if req == nil {
		return 0
	}
	sb := ir.GetStringBuilder()
	defer ir.PutStringBuilder(sb)

	images := 0
	for i := range req.Messages {
		collectMessage(sb, &req.Messages[i], &images)
	}
	for i := range req.Tools {
		tool := &req.Tools[i]
		writeSegment(sb, tool.Name)
		writeSegment(sb, tool.Description)
		if len(tool.Parameters) > 0 {
			if raw, err := json.MarshalString(tool.Parameters); err == nil {
				writeSegment(sb, raw)
			}
		}
	}
	if rf := req.ResponseFormat; rf != nil {
		writeSegment(sb, rf.Type)
		writeSegment(sb, rf.Name)
		if len(rf.Schema) > 0 {
			if raw, err := json.MarshalString(rf.Schema); err == nil {
				writeSegment(sb, raw)
			}
		}
	}

	count := images * ImageTokenCost
	if text := sb.String(); text != "" {
		count += countText(req.Model, text)
	}
	return count
}

func collectMessage(sb *strings.Builder, m *ir.Message, images *int) {
	writeSegment(sb, string(m.Role))
	writeSegment(sb, m.Name)
	for _, part := range m.Content {
		switch part.Type {
		case ir.ContentTypeText:
			writeSegment(sb, part.Text)
		case ir.ContentTypeImage:
			*images++
		}
	}
	for _, tc := range m.ToolCalls {
		writeSegment(sb, tc.Name)
		writeSegment(sb, tc.Arguments)
	}
	writeSegment(sb, m.ToolCallID)
}

func writeSegment(sb *strings.Builder, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteByte('\n')
	}
	sb.WriteString(s)
}

// countText runs the BPE count, falling back to the byte heuristic
// when no codec loads or the codec rejects the text.
func countText(model, text string) int {
	if codec, ok := codecFor(model); ok {
		if n, err := codec.Count(text); err == nil {
			return n
		}
	}
	return (len(text) + heuristicBytesPerToken - 1) / heuristicBytesPerToken
}

func codecFor(model string) (tokenizer.Codec, bool) {
	key := modelKey(model)
	if c, ok := codecs.Load(key); ok {
		return c.(tokenizer.Codec), true
	}
	c, err := loadCodec(key)
	if err != nil {
		return nil, false
	}
	codecs.Store(key, c)
	return c, true
}

// modelKey collapses model ids into one cache slot per vocabulary
// family. Longer prefixes come first so gpt-4o does not land on gpt-4.
func modelKey(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return ""
	}
	for _, prefix := range []string{"gpt-5", "gpt-4.1", "gpt-4o", "gpt-4", "gpt-3", "o1", "o3", "o4"} {
		if strings.HasPrefix(m, prefix) {
			return prefix
		}
	}
	return "o200k"
}

func loadCodec(key string) (tokenizer.Codec, error) {
	switch key {
	case "":
		return tokenizer.Get(tokenizer.Cl100kBase)
	case "gpt-5":
		return tokenizer.ForModel(tokenizer.GPT5)
	case "gpt-4.1":
		return tokenizer.ForModel(tokenizer.GPT41)
	case "gpt-4o":
		return tokenizer.ForModel(tokenizer.GPT4o)
	case "gpt-4":
		return tokenizer.ForModel(tokenizer.GPT4)
	case "gpt-3":
		return tokenizer.ForModel(tokenizer.GPT35Turbo)
	case "o1":
		return tokenizer.ForModel(tokenizer.O1)
	case "o3":
		return tokenizer.ForModel(tokenizer.O3)
	case "o4":
		return tokenizer.ForModel(tokenizer.O4Mini)
	default:
		// claude, gemini and local models publish no tokenizer; the
		// o200k vocabulary is the closest stand-in.
		return tokenizer.Get(tokenizer.O200kBase)
	}
}
