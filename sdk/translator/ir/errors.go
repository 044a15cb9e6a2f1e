package ir

import (
	"errors"
	"fmt"
)

// ErrKind classifies translation failures so callers can pattern-match
// on recoverability instead of parsing message text.
type ErrKind string

const (
	// ErrInvalidFormat marks malformed or missing required wire fields.
	// Not retryable by this engine.
	ErrInvalidFormat ErrKind = "invalid_format"

	// ErrUnsupportedFeature marks a semantically valid construct the
	// target format cannot express. Surfaced, never silently dropped.
	ErrUnsupportedFeature ErrKind = "unsupported_feature"

	// ErrSchemaViolation marks structured output that still breaks its
	// schema after the bounded repair pass.
	ErrSchemaViolation ErrKind = "schema_violation"

	// ErrMalformedToolArguments is reserved for tool arguments that
	// cannot be repaired at all (non-string, non-JSON payloads).
	ErrMalformedToolArguments ErrKind = "malformed_tool_arguments"
)

// TranslationError is the typed error every converter returns. Kind
// drives caller policy, Format names the wire dialect being parsed or
// built, Field the offending wire field when one can be named.
type TranslationError struct {
	Kind   ErrKind `json:"kind"`
	Format Format  `json:"format,omitempty"`
	Field  string  `json:"field,omitempty"`
	Detail string  `json:"detail"`
}

func (e *TranslationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s: %s", e.Kind, e.Format, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Format, e.Detail)
}

// NewInvalidFormat builds an ErrInvalidFormat error.
func NewInvalidFormat(format Format, field, detail string) *TranslationError {
	return &TranslationError{Kind: ErrInvalidFormat, Format: format, Field: field, Detail: detail}
}

// NewUnsupportedFeature builds an ErrUnsupportedFeature error.
func NewUnsupportedFeature(format Format, field, detail string) *TranslationError {
	return &TranslationError{Kind: ErrUnsupportedFeature, Format: format, Field: field, Detail: detail}
}

// NewSchemaViolation builds an ErrSchemaViolation error.
func NewSchemaViolation(detail string) *TranslationError {
	return &TranslationError{Kind: ErrSchemaViolation, Detail: detail}
}

// NewMalformedToolArguments builds an ErrMalformedToolArguments error.
func NewMalformedToolArguments(format Format, detail string) *TranslationError {
	return &TranslationError{Kind: ErrMalformedToolArguments, Format: format, Detail: detail}
}

// AsTranslationError unwraps err into a *TranslationError if one is in
// its chain.
func AsTranslationError(err error) (*TranslationError, bool) {
	var te *TranslationError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsKind reports whether err carries a *TranslationError of the given
// kind anywhere in its chain.
func IsKind(err error, kind ErrKind) bool {
	te, ok := AsTranslationError(err)
	return ok && te.Kind == kind
}
