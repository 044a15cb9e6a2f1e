package from_ir

import (
	"strings"

	"github.com/llmbridge-dev/llmbridge/internal/json"
	"github.com/llmbridge-dev/llmbridge/internal/sseutil"
	"github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func init() {
	translator.RegisterBuilder(geminiBuilder{})
}

// geminiFinishStrings renders canonical finish reasons as candidate
// finishReason values. Tool-call terminations render as STOP; the wire
// signals tool use through functionCall parts, not the finish reason.
var geminiFinishStrings = map[ir.FinishReason]string{
	ir.FinishReasonStop:          "STOP",
	ir.FinishReasonLength:        "MAX_TOKENS",
	ir.FinishReasonContentFilter: "SAFETY",
	ir.FinishReasonToolCalls:     "STOP",
}

type geminiBuilder struct{}

func (geminiBuilder) Format() ir.Format { return ir.FormatGemini }

func (geminiBuilder) BuildRequest(req *ir.ChatRequest) ([]byte, error) {
	if err := ir.ValidateRequest(req, ir.FormatGemini); err != nil {
		return nil, err
	}

	root := map[string]any{}
	if req.Model != "" {
		root["model"] = req.Model
	}

	names := toolCallNames(req.Messages)
	system := ir.GetStringBuilder()
	defer ir.PutStringBuilder(system)
	var contents []any
	for i := range req.Messages {
		m := &req.Messages[i]
		switch m.Role {
		case ir.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(ir.MessageText(*m))
		case ir.RoleTool:
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": []any{geminiFunctionResponsePart(m, names)},
			})
		default:
			parts := buildGeminiParts(m)
			if len(parts) == 0 {
				continue
			}
			role := "user"
			if m.Role == ir.RoleAssistant {
				role = "model"
			}
			contents = append(contents, map[string]any{"role": role, "parts": parts})
		}
	}
	root["contents"] = contents
	if system.Len() > 0 {
		root["systemInstruction"] = map[string]any{
			"parts": []any{map[string]any{"text": system.String()}},
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			decl := map[string]any{
				"name":        t.Name,
				"description": t.Description,
			}
			if t.Parameters != nil {
				decl["parameters"] = ir.CleanSchemaForGemini(t.Parameters)
			}
			decls = append(decls, decl)
		}
		root["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}
	if tc := req.ToolChoice; tc != nil {
		root["toolConfig"] = map[string]any{
			"functionCallingConfig": geminiCallingConfig(tc),
		}
	}

	if gc := buildGeminiGenerationConfig(req); len(gc) > 0 {
		root["generationConfig"] = gc
	}

	return json.Marshal(root)
}

// geminiFunctionResponsePart renders a tool result. The wire matches
// results back to calls by function name and requires the response
// value to be an object, so bare text is wrapped.
func geminiFunctionResponsePart(m *ir.Message, names map[string]string) map[string]any {
	name := m.Name
	if name == "" {
		name = names[m.ToolCallID]
	}
	text := strings.TrimSpace(ir.MessageText(*m))
	var response any
	var decoded map[string]any
	if err := json.UnmarshalString(text, &decoded); err == nil && decoded != nil {
		response = decoded
	} else {
		response = map[string]any{"result": text}
	}
	return map[string]any{
		"functionResponse": map[string]any{
			"name":     name,
			"response": response,
		},
	}
}

func buildGeminiParts(m *ir.Message) []any {
	parts := make([]any, 0, len(m.Content)+len(m.ToolCalls))
	for i := range m.Content {
		p := &m.Content[i]
		switch p.Type {
		case ir.ContentTypeText:
			if p.Text == "" {
				continue
			}
			parts = append(parts, map[string]any{"text": p.Text})
		case ir.ContentTypeImage:
			if p.Image == nil {
				continue
			}
			parts = append(parts, geminiImagePart(p.Image))
		}
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{
				"name": tc.Name,
				"args": argsObject(tc.Arguments),
			},
		})
	}
	return parts
}

func geminiImagePart(img *ir.ImagePart) map[string]any {
	mime := img.MimeType
	if mime == "" {
		mime = ir.DefaultMime
	}
	if img.FileURI != "" {
		return map[string]any{
			"fileData": map[string]any{"mimeType": mime, "fileUri": img.FileURI},
		}
	}
	return map[string]any{
		"inlineData": map[string]any{"mimeType": mime, "data": img.Data},
	}
}

func geminiCallingConfig(tc *ir.ToolChoice) map[string]any {
	switch tc.Mode {
	case ir.ToolChoiceNone:
		return map[string]any{"mode": "NONE"}
	case ir.ToolChoiceRequired:
		return map[string]any{"mode": "ANY"}
	case ir.ToolChoiceFunction:
		return map[string]any{
			"mode":                 "ANY",
			"allowedFunctionNames": []any{tc.FunctionName},
		}
	default:
		return map[string]any{"mode": "AUTO"}
	}
}

func buildGeminiGenerationConfig(req *ir.ChatRequest) map[string]any {
	gc := map[string]any{}
	if req.Temperature != nil {
		gc["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		gc["topP"] = *req.TopP
	}
	if req.TopK != nil {
		gc["topK"] = *req.TopK
	}
	if req.MaxTokens != nil {
		gc["maxOutputTokens"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		gc["stopSequences"] = req.Stop
	}
	if rf := req.ResponseFormat; rf != nil {
		gc["responseMimeType"] = "application/json"
		if rf.Type == "json_schema" && rf.Schema != nil {
			gc["responseSchema"] = ir.CleanSchemaForGemini(rf.Schema)
		}
	}
	if r := req.Reasoning; r != nil {
		think := map[string]any{}
		if r.BudgetTokens != nil {
			think["thinkingBudget"] = *r.BudgetTokens
		}
		if inc, ok := r.Passthrough["includeThoughts"]; ok {
			think["includeThoughts"] = inc
		}
		if len(think) > 0 {
			gc["thinkingConfig"] = think
		}
	}
	return gc
}

func (geminiBuilder) BuildResponse(resp *ir.ChatResponse) ([]byte, error) {
	candidates := make([]any, 0, len(resp.Choices))
	for i := range resp.Choices {
		c := &resp.Choices[i]
		cand := map[string]any{
			"index": c.Index,
			"content": map[string]any{
				"role":  "model",
				"parts": buildGeminiParts(&c.Message),
			},
		}
		if s, ok := geminiFinishStrings[c.FinishReason]; ok {
			cand["finishReason"] = s
		}
		candidates = append(candidates, cand)
	}

	root := map[string]any{
		"candidates": candidates,
		"usageMetadata": map[string]any{
			"promptTokenCount":     resp.Usage.PromptTokens,
			"candidatesTokenCount": resp.Usage.CompletionTokens,
			"totalTokenCount":      resp.Usage.TotalTokens,
		},
	}
	if resp.ID != "" {
		root["responseId"] = resp.ID
	}
	if resp.Model != "" {
		root["modelVersion"] = resp.Model
	}
	return json.Marshal(root)
}

func (geminiBuilder) NewStreamEncoder(model string) translator.StreamEncoder {
	return &geminiStreamEncoder{model: model}
}

// geminiStreamEncoder renders canonical chunks as streamGenerateContent
// SSE frames. The wire has no terminator event; the stream simply ends.
type geminiStreamEncoder struct {
	model string
	id    string
}

func (e *geminiStreamEncoder) Encode(chunk *ir.StreamChunk) ([][]byte, error) {
	if chunk == nil {
		return nil, nil
	}
	if chunk.Err != nil {
		payload, err := json.Marshal(map[string]any{
			"error": map[string]any{
				"status":  string(chunk.Err.Kind),
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

	candidates := make([]any, 0, len(chunk.Choices))
	for i := range chunk.Choices {
		sc := &chunk.Choices[i]
		parts := make([]any, 0, 2)
		if sc.Delta.ReasoningContent != "" {
			parts = append(parts, map[string]any{
				"text":    sc.Delta.ReasoningContent,
				"thought": true,
			})
		}
		if sc.Delta.Content != "" {
			parts = append(parts, map[string]any{"text": sc.Delta.Content})
		}
		for _, tc := range sc.Delta.ToolCalls {
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{
					"name": tc.Name,
					"args": argsObject(tc.Arguments),
				},
			})
		}
		if len(parts) == 0 && sc.FinishReason == ir.FinishReasonNone {
			continue
		}
		cand := map[string]any{
			"index":   sc.Index,
			"content": map[string]any{"role": "model", "parts": parts},
		}
		if s, ok := geminiFinishStrings[sc.FinishReason]; ok {
			cand["finishReason"] = s
		}
		candidates = append(candidates, cand)
	}
	if len(candidates) == 0 && chunk.Usage == nil {
		return nil, nil
	}

	frame := map[string]any{"candidates": candidates}
	if chunk.Usage != nil {
		frame["usageMetadata"] = map[string]any{
			"promptTokenCount":     chunk.Usage.PromptTokens,
			"candidatesTokenCount": chunk.Usage.CompletionTokens,
			"totalTokenCount":      chunk.Usage.TotalTokens,
		}
	}
	if e.id != "" {
		frame["responseId"] = e.id
	}
	model := e.model
	if model == "" {
		model = chunk.Model
	}
	if model != "" {
		frame["modelVersion"] = model
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return [][]byte{sseutil.DataFrame(payload)}, nil
}

func (e *geminiStreamEncoder) Finish() ([][]byte, error) {
	return nil, nil
}
