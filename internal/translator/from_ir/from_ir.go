// Package from_ir renders the canonical model back into vendor wire
// formats. Each vendor file contributes a translator.Builder that
// constructs request and response bodies as generic maps marshalled
// through the shared json facade, plus a stream encoder that frames
// canonical chunks for the vendor's transport. Builders register
// themselves from init().
package from_ir

import (
	"strings"

	"github.com/llmbridge-dev/llmbridge/internal/json"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

// argsObject decodes tool-call arguments into a generic value for wires
// that carry arguments as a JSON object rather than a string. Canonical
// arguments are guaranteed valid JSON, but a defect upstream should not
// drop the call, so undecodable text is wrapped instead.
func argsObject(args string) any {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return map[string]any{}
	}
	var v any
	if err := json.UnmarshalString(trimmed, &v); err != nil {
		return map[string]any{"_raw": args}
	}
	return v
}

// toolCallNames maps tool-call ids to function names across the prior
// assistant turns of a conversation. Wires that reference results by
// name instead of id (gemini, ollama) need the reverse lookup when a
// tool message carries only the canonical id.
func toolCallNames(messages []ir.Message) map[string]string {
	names := make(map[string]string)
	for i := range messages {
		if messages[i].Role != ir.RoleAssistant {
			continue
		}
		for _, tc := range messages[i].ToolCalls {
			names[tc.ID] = tc.Name
		}
	}
	return names
}
