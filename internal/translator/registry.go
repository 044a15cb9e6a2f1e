// Package translator hosts the codec registry for format conversion.
// Parsers normalize vendor payloads into the canonical model and builders
// render the canonical model back out; both register themselves from init()
// in their format packages and are looked up by ir.Format.
package translator

import (
	"fmt"
	"sync"

	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

// DecoderLimits bounds the resources a stream decoder may hold while
// assembling fragmented vendor events.
type DecoderLimits struct {
	// MaxToolArgBytes caps the accumulated argument text of a single
	// streamed tool call. Zero means the default cap.
	MaxToolArgBytes int
}

// DefaultMaxToolArgBytes caps tool-call argument accumulation when the
// caller does not supply a limit.
const DefaultMaxToolArgBytes = 1 << 20

// Normalize fills zero fields with defaults.
func (l DecoderLimits) Normalize() DecoderLimits {
	if l.MaxToolArgBytes <= 0 {
		l.MaxToolArgBytes = DefaultMaxToolArgBytes
	}
	return l
}

// StreamDecoder consumes one vendor frame payload at a time and emits zero
// or more canonical chunks. Implementations are stateful and single-stream:
// they buffer fragmented tool calls until the vendor marks them complete.
type StreamDecoder interface {
	// Decode ingests the JSON payload of one frame. The returned error is
	// reserved for unrecoverable decoder failures; malformed frames are
	// reported in-band as chunks carrying Err so the stream can continue.
	Decode(payload []byte) ([]*ir.StreamChunk, error)

	// Flush releases whatever the decoder still buffers, such as a tool
	// call whose end marker never arrived. Called once at end of stream.
	Flush() []*ir.StreamChunk
}

// StreamEncoder renders canonical chunks into vendor wire frames, framing
// included. One encoder serves one stream.
type StreamEncoder interface {
	// Encode renders a chunk into zero or more complete wire frames.
	Encode(chunk *ir.StreamChunk) ([][]byte, error)

	// Finish emits the vendor's stream terminator, if the format has one.
	Finish() ([][]byte, error)
}

// Parser normalizes one vendor format into the canonical model.
type Parser interface {
	// Format identifies the vendor format this parser handles.
	Format() ir.Format

	// Framing reports how this format delimits stream frames.
	Framing() ir.Framing

	// ParseRequest converts a vendor chat request into the canonical form.
	ParseRequest(payload []byte) (*ir.ChatRequest, error)

	// ParseResponse converts a complete vendor response into the canonical form.
	ParseResponse(payload []byte) (*ir.ChatResponse, error)

	// NewStreamDecoder returns a fresh decoder for one streaming response.
	NewStreamDecoder(limits DecoderLimits) StreamDecoder
}

// Builder renders the canonical model into one vendor format.
type Builder interface {
	// Format identifies the vendor format this builder emits.
	Format() ir.Format

	// BuildRequest renders a canonical request as a vendor request body.
	BuildRequest(req *ir.ChatRequest) ([]byte, error)

	// BuildResponse renders a canonical response as a vendor response body.
	BuildResponse(resp *ir.ChatResponse) ([]byte, error)

	// NewStreamEncoder returns a fresh encoder for one streaming response.
	// The model name seeds frames for formats that echo it per chunk.
	NewStreamEncoder(model string) StreamEncoder
}

// Registry manages parser and builder registration and lookup.
type Registry struct {
	mu       sync.RWMutex
	parsers  map[ir.Format]Parser
	builders map[ir.Format]Builder
}

var getGlobalRegistry = sync.OnceValue(func() *Registry {
	return &Registry{
		parsers:  make(map[ir.Format]Parser),
		builders: make(map[ir.Format]Builder),
	}
})

func GetRegistry() *Registry {
	return getGlobalRegistry()
}

// RegisterParser registers a parser for its format.
// Typically called from init() functions in to_ir/*.go files.
func (r *Registry) RegisterParser(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Format()] = p
}

// RegisterBuilder registers a builder for its format.
// Typically called from init() functions in from_ir/*.go files.
func (r *Registry) RegisterBuilder(b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[b.Format()] = b
}

// GetParser returns the parser for the given format.
func (r *Registry) GetParser(format ir.Format) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[format]
	return p, ok
}

// GetBuilder returns the builder for the given format.
func (r *Registry) GetBuilder(format ir.Format) (Builder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[format]
	return b, ok
}

// ListParserFormats returns all registered parser formats.
func (r *Registry) ListParserFormats() []ir.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]ir.Format, 0, len(r.parsers))
	for f := range r.parsers {
		formats = append(formats, f)
	}
	return formats
}

// ListBuilderFormats returns all registered builder formats.
func (r *Registry) ListBuilderFormats() []ir.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]ir.Format, 0, len(r.builders))
	for f := range r.builders {
		formats = append(formats, f)
	}
	return formats
}

// Package-level convenience functions

// RegisterParser registers a parser in the global registry.
func RegisterParser(p Parser) {
	GetRegistry().RegisterParser(p)
}

// RegisterBuilder registers a builder in the global registry.
func RegisterBuilder(b Builder) {
	GetRegistry().RegisterBuilder(b)
}

// ParseRequest parses a vendor request payload into the canonical form.
func ParseRequest(format ir.Format, payload []byte) (*ir.ChatRequest, error) {
	p, ok := GetRegistry().GetParser(format)
	if !ok {
		return nil, ir.NewInvalidFormat(format, "", fmt.Sprintf("unsupported source format: %s", format))
	}
	return p.ParseRequest(payload)
}

// BuildRequest renders a canonical request for the given vendor format.
func BuildRequest(format ir.Format, req *ir.ChatRequest) ([]byte, error) {
	b, ok := GetRegistry().GetBuilder(format)
	if !ok {
		return nil, ir.NewInvalidFormat(format, "", fmt.Sprintf("unsupported target format: %s", format))
	}
	return b.BuildRequest(req)
}

// ParseResponse parses a complete vendor response into the canonical form.
func ParseResponse(format ir.Format, payload []byte) (*ir.ChatResponse, error) {
	p, ok := GetRegistry().GetParser(format)
	if !ok {
		return nil, ir.NewInvalidFormat(format, "", fmt.Sprintf("unsupported source format: %s", format))
	}
	return p.ParseResponse(payload)
}

// BuildResponse renders a canonical response for the given vendor format.
func BuildResponse(format ir.Format, resp *ir.ChatResponse) ([]byte, error) {
	b, ok := GetRegistry().GetBuilder(format)
	if !ok {
		return nil, ir.NewInvalidFormat(format, "", fmt.Sprintf("unsupported target format: %s", format))
	}
	return b.BuildResponse(resp)
}
