package ir

import "fmt"

// ValidateRequest enforces the canonical request invariants shared by
// every inbound format: non-empty model and messages, a role on every
// message, and content on non-system messages unless they carry tool
// calls. The first violated field is reported and nothing is partially
// converted.
func ValidateRequest(req *ChatRequest, format Format) error {
	if req == nil {
		return NewInvalidFormat(format, "", "request is nil")
	}
	if req.Model == "" {
		return NewInvalidFormat(format, "model", "model is required")
	}
	if len(req.Messages) == 0 {
		return NewInvalidFormat(format, "messages", "messages must not be empty")
	}
	for i := range req.Messages {
		m := &req.Messages[i]
		if m.Role == "" {
			return NewInvalidFormat(format, fmt.Sprintf("messages[%d].role", i), "role is required")
		}
		if m.Role == RoleSystem || len(m.ToolCalls) > 0 {
			continue
		}
		// Tool results may legitimately be empty.
		if m.Role == RoleTool && m.ToolCallID != "" {
			continue
		}
		if !HasContent(m) {
			return NewInvalidFormat(format, fmt.Sprintf("messages[%d].content", i),
				"content is required unless the message carries tool calls")
		}
	}
	return nil
}

// HasContent reports whether the message carries any non-empty content
// part.
func HasContent(m *Message) bool {
	for i := range m.Content {
		p := &m.Content[i]
		switch p.Type {
		case ContentTypeText:
			if p.Text != "" {
				return true
			}
		case ContentTypeImage:
			if p.Image != nil {
				return true
			}
		}
	}
	return false
}

// MessageText concatenates the text parts of a message. Single-part
// messages take the fast path without allocation.
func MessageText(m Message) string {
	var first string
	n := 0
	for i := range m.Content {
		if m.Content[i].Type == ContentTypeText && m.Content[i].Text != "" {
			if n == 0 {
				first = m.Content[i].Text
			}
			n++
		}
	}
	if n <= 1 {
		return first
	}
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	for i := range m.Content {
		if m.Content[i].Type == ContentTypeText {
			sb.WriteString(m.Content[i].Text)
		}
	}
	return sb.String()
}

// UsageFromCounts builds a Usage value, computing the total when the
// vendor reports only the two component counters.
func UsageFromCounts(prompt, completion, total int64) Usage {
	if total == 0 {
		total = prompt + completion
	}
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}
