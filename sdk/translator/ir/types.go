// Package ir defines the canonical, vendor-neutral chat representation
// that every wire format is translated through: requests, completed
// responses, and incremental stream chunks, plus the shared mapping
// helpers the per-vendor codecs build on.
package ir

// Format identifies one supported wire dialect. The set is closed;
// codecs are registered per format and dispatch is exhaustive.
type Format string

const (
	FormatOpenAI Format = "openai"
	FormatClaude Format = "claude"
	FormatGemini Format = "gemini"
	FormatOllama Format = "ollama"
)

// Framing describes how a format delimits stream chunks on the wire.
type Framing string

const (
	FramingSSE    Framing = "sse"    // data:/event: lines, blank-line terminated
	FramingNDJSON Framing = "ndjson" // one JSON object per line
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentType defines the type of content part.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// ContentPart is a discrete part of a message: a block of text or an
// image. Exactly one variant field is populated, selected by Type.
type ContentPart struct {
	Type  ContentType `json:"type"`
	Text  string      `json:"text,omitempty"`
	Image *ImagePart  `json:"image,omitempty"`
}

// ImagePart carries image content either inline (base64 Data plus the
// resolved MimeType) or by reference (FileURI pointing at an external
// http(s) resource fetched by the backend, never by this engine).
// MimeType is always resolved; see ResolveMime.
type ImagePart struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data,omitempty"`
	FileURI  string `json:"file_uri,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: text}
}

// ImageContentPart builds an image content part.
func ImageContentPart(img *ImagePart) ContentPart {
	return ContentPart{Type: ContentTypeImage, Image: img}
}

// ToolCall represents a request from the model to execute a tool. By
// the time a ToolCall leaves this package's codecs, Arguments is always
// a syntactically valid JSON document (see RepairToolArgs).
type ToolCall struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // currently always "function"
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a callable function schema exposed to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolChoiceMode enumerates the vendor-neutral tool selection modes.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice selects how the model may use the supplied tools.
// FunctionName is set only when Mode is ToolChoiceFunction.
type ToolChoice struct {
	Mode         ToolChoiceMode `json:"mode"`
	FunctionName string         `json:"function_name,omitempty"`
}

// ResponseFormat constrains the model output shape. Type is
// "json_object" for bare JSON mode or "json_schema" when Schema is set.
type ResponseFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

// ReasoningConfig controls the thinking/reasoning behavior of models
// that support it. Effort uses the openai vocabulary (low, medium,
// high); BudgetTokens the claude/gemini token budget. Passthrough
// carries vendor-specific fields verbatim.
type ReasoningConfig struct {
	Effort       string         `json:"effort,omitempty"`
	BudgetTokens *int           `json:"budget_tokens,omitempty"`
	Passthrough  map[string]any `json:"passthrough,omitempty"`
}

// Message is one turn of a conversation. Non-system messages carry
// non-empty Content unless they carry ToolCalls; tool-role messages
// reference the call they answer through ToolCallID.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ChatRequest is the canonical chat request every wire format maps
// through. Sampling fields are pointers so "unset" survives the round
// trip; Stop is always a normalized list (see NormalizeStop) or nil.
type ChatRequest struct {
	Model          string           `json:"model"`
	Messages       []Message        `json:"messages"`
	Tools          []Tool           `json:"tools,omitempty"`
	ToolChoice     *ToolChoice      `json:"tool_choice,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	TopP           *float64         `json:"top_p,omitempty"`
	TopK           *int             `json:"top_k,omitempty"`
	MaxTokens      *int             `json:"max_tokens,omitempty"`
	Stop           []string         `json:"stop,omitempty"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
	Reasoning      *ReasoningConfig `json:"reasoning,omitempty"`
	Stream         bool             `json:"stream,omitempty"`

	// Metadata carries provider-specific passthrough values that have
	// no canonical field (e.g. "ollama_keep_alive").
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FinishReason is the closed vendor-neutral termination set. The zero
// value means "not finished" and renders as null on wire formats that
// expect an explicit null.
type FinishReason string

const (
	FinishReasonNone          FinishReason = ""
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonToolCalls     FinishReason = "tool_calls"
)

// Usage is normalized token accounting. The three counters are always
// populated together; a vendor payload without usage yields {0,0,0},
// never a partially filled value.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Choice is one completed alternative of a response.
type Choice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// ChatResponse is the canonical completed (non-streaming) response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta carries the incremental fields of one stream chunk for one
// choice. Fields are delta-only: content already emitted for the same
// choice index is never repeated. ToolCalls holds fully assembled
// calls only; fragmented arguments are accumulated by the stream
// decoders and surface here exactly once, complete.
type Delta struct {
	Role             Role       `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChoice is one choice slot of a stream chunk.
type StreamChoice struct {
	Index        int          `json:"index"`
	Delta        Delta        `json:"delta"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// StreamChunk is one incremental unit of a streamed response. Err is
// an in-band recoverable error (a malformed vendor frame): consumers
// may observe and skip it without losing subsequent chunks.
type StreamChunk struct {
	ID      string            `json:"id,omitempty"`
	Created int64             `json:"created,omitempty"`
	Model   string            `json:"model,omitempty"`
	Choices []StreamChoice    `json:"choices,omitempty"`
	Usage   *Usage            `json:"usage,omitempty"`
	Err     *TranslationError `json:"error,omitempty"`
}

// ErrorChunk wraps a recoverable translation error as an in-band chunk.
func ErrorChunk(err *TranslationError) *StreamChunk {
	return &StreamChunk{Err: err}
}
