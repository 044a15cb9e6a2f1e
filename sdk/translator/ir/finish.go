package ir

import (
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
)

// MapFinishReason resolves a vendor finish/stop string through the
// per-vendor table. Empty input means the stream or choice has not
// finished. Unknown values map to FinishReasonStop as the generic
// terminal reason and are logged with the raw value, never silently
// coerced.
func MapFinishReason(format Format, table map[string]FinishReason, raw string) FinishReason {
	if raw == "" {
		return FinishReasonNone
	}
	if fr, ok := table[raw]; ok {
		return fr
	}
	log.WithFields(log.Fields{"format": string(format), "reason": raw}).
		Warn("unknown finish reason, mapping to generic terminal")
	return FinishReasonStop
}
