package ir

import (
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/llmbridge-dev/llmbridge/internal/json"
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
)

// RepairToolArgs guarantees syntactically valid JSON tool arguments.
// Three steps: accept valid input unchanged, attempt a conservative
// syntax repair (quote normalization, trailing commas, bare keys), and
// as a last resort wrap the raw text as {"_raw": <text>} so the caller
// always receives parseable JSON instead of an error. Empty input
// becomes "{}". The tool call itself is never dropped.
func RepairToolArgs(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "{}"
	}
	if json.Valid([]byte(trimmed)) {
		return trimmed
	}
	if fixed, err := jsonrepair.JSONRepair(trimmed); err == nil && json.Valid([]byte(fixed)) {
		log.Debugf("repaired malformed tool arguments (%d bytes)", len(trimmed))
		return fixed
	}
	wrapped, err := json.Marshal(map[string]string{"_raw": raw})
	if err != nil {
		// Marshal of map[string]string cannot fail on valid UTF-8;
		// guard against invalid bytes anyway.
		return "{}"
	}
	log.Debugf("wrapped unrepairable tool arguments (%d bytes)", len(trimmed))
	return string(wrapped)
}

// GenID mints a random identifier with the given prefix.
func GenID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenToolCallID mints an opaque tool-call ID for vendors that omit one.
func GenToolCallID() string {
	return GenID("call_")
}
