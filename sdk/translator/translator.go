// Package translator is the public facade of the translation engine:
// one Service converts chat requests, responses and streams between
// the supported vendor wire formats through the canonical model in
// sdk/translator/ir. Importing this package registers every vendor
// codec.
package translator

import (
	"fmt"

	"github.com/llmbridge-dev/llmbridge/internal/config"
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
	"github.com/llmbridge-dev/llmbridge/internal/schema"
	"github.com/llmbridge-dev/llmbridge/internal/tokencount"
	conv "github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"

	// Vendor codecs register themselves from init().
	_ "github.com/llmbridge-dev/llmbridge/internal/translator/from_ir"
	_ "github.com/llmbridge-dev/llmbridge/internal/translator/to_ir"
)

// Format identifies a vendor wire dialect. The set is closed; passing
// an unregistered format to any Service method yields an
// ir.ErrInvalidFormat error.
type Format = ir.Format

// Supported wire formats.
const (
	FormatOpenAI = ir.FormatOpenAI
	FormatClaude = ir.FormatClaude
	FormatGemini = ir.FormatGemini
	FormatOllama = ir.FormatOllama
)

// FromString converts an arbitrary identifier to a Format. The value
// is not checked here; unregistered formats fail at dispatch.
func FromString(v string) Format {
	return Format(v)
}

// Service is the translation engine facade. It is stateless apart from
// its options snapshot and safe for concurrent use; per-stream state
// lives in the Stream, StreamNormalizer and StreamEncoder values it
// hands out.
type Service struct {
	opts *config.Store
}

// New builds a Service. nil opts means defaults; see config.Options.
func New(opts *config.Options) *Service {
	log.Setup()
	if opts != nil {
		opts.Normalize()
		log.SetLevel(opts.LogLevel)
		if opts.LogFile != "" {
			log.EnableFileOutput(opts.LogFile)
		}
	}
	return &Service{opts: config.NewStore(opts)}
}

// Options returns the current options snapshot.
func (s *Service) Options() *config.Options {
	return s.opts.Get()
}

// ApplyOptions swaps in a new options snapshot and applies the logging
// knobs. Suitable as a config.Watch onChange callback; streams already
// open keep the limits they started with.
func (s *Service) ApplyOptions(opts *config.Options) {
	if opts == nil {
		return
	}
	opts.Normalize()
	s.opts.Set(opts)
	log.SetLevel(opts.LogLevel)
	if opts.LogFile != "" {
		log.EnableFileOutput(opts.LogFile)
	}
}

// ToDomainRequest parses a vendor chat request into the canonical form.
func (s *Service) ToDomainRequest(raw []byte, format Format) (*ir.ChatRequest, error) {
	return conv.ParseRequest(format, raw)
}

// FromDomainRequest renders a canonical request as a vendor request body.
func (s *Service) FromDomainRequest(req *ir.ChatRequest, format Format) ([]byte, error) {
	return conv.BuildRequest(format, req)
}

// ToDomainResponse parses a complete vendor response into the canonical form.
func (s *Service) ToDomainResponse(raw []byte, format Format) (*ir.ChatResponse, error) {
	return conv.ParseResponse(format, raw)
}

// FromDomainResponse renders a canonical response as a vendor response body.
func (s *Service) FromDomainResponse(resp *ir.ChatResponse, format Format) ([]byte, error) {
	return conv.BuildResponse(format, resp)
}

// TranslateRequest converts a vendor request body straight into
// another vendor's, pivoting through the canonical form.
func (s *Service) TranslateRequest(raw []byte, source, target Format) ([]byte, error) {
	req, err := s.ToDomainRequest(raw, source)
	if err != nil {
		return nil, err
	}
	return s.FromDomainRequest(req, target)
}

// ValidateStructuredOutput checks a model document against the JSON
// schema its request declared, using the checker mode from the
// options. The document gets one repair pass before a violation is
// surfaced; see schema.Result.
func (s *Service) ValidateStructuredOutput(doc []byte, schemaDef map[string]any) schema.Result {
	return schema.ValidateMode(doc, schemaDef, s.opts.Get().SchemaValidation)
}

// StructuredOutputError converts a failed validation into the typed
// error callers pattern-match on. Returns nil for a valid result.
func StructuredOutputError(res schema.Result) error {
	if res.Valid {
		return nil
	}
	return ir.NewSchemaViolation(res.Detail)
}

// EstimateTokens approximates the prompt tokens a canonical request
// will consume. Estimates feed routing decisions, not billing.
func (s *Service) EstimateTokens(req *ir.ChatRequest) int {
	return tokencount.EstimateRequest(req)
}

// FromDomainTokenCount renders a vendor-native count-tokens response.
// Only gemini and claude expose a count endpoint; the other formats
// yield ErrUnsupportedFeature.
func (s *Service) FromDomainTokenCount(count int, format Format) ([]byte, error) {
	switch format {
	case FormatGemini:
		return []byte(fmt.Sprintf(`{"totalTokens":%d}`, count)), nil
	case FormatClaude:
		return []byte(fmt.Sprintf(`{"input_tokens":%d}`, count)), nil
	default:
		return nil, ir.NewUnsupportedFeature(format, "count_tokens",
			fmt.Sprintf("%s has no count-tokens endpoint", format))
	}
}

// SupportedFormats lists the formats with both a parser and a builder
// registered.
func (s *Service) SupportedFormats() []Format {
	reg := conv.GetRegistry()
	builders := make(map[Format]bool)
	for _, f := range reg.ListBuilderFormats() {
		builders[f] = true
	}
	var formats []Format
	for _, f := range reg.ListParserFormats() {
		if builders[f] {
			formats = append(formats, f)
		}
	}
	return formats
}
