package translator

import (
	log "github.com/llmbridge-dev/llmbridge/internal/logging"
	conv "github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

// StreamEncoder renders canonical chunks as ready-to-write vendor
// frames, framing bytes included. One encoder serves one stream; not
// safe for concurrent use.
type StreamEncoder struct {
	enc      conv.StreamEncoder
	finished bool
}

// NewStreamEncoder returns an encoder producing format frames. model
// seeds frames for formats that echo the model name per chunk.
func (s *Service) NewStreamEncoder(format Format, model string) (*StreamEncoder, error) {
	builder, ok := conv.GetRegistry().GetBuilder(format)
	if !ok {
		return nil, ir.NewInvalidFormat(format, "", "unsupported target format: "+string(format))
	}
	return &StreamEncoder{enc: builder.NewStreamEncoder(model)}, nil
}

// Encode renders one chunk into zero or more complete wire frames.
func (e *StreamEncoder) Encode(chunk *ir.StreamChunk) ([][]byte, error) {
	if e.finished {
		return nil, nil
	}
	return e.enc.Encode(chunk)
}

// Finish emits the vendor's terminator frames, synthesizing a clean
// termination for wires that require one. Idempotent.
func (e *StreamEncoder) Finish() [][]byte {
	if e.finished {
		return nil
	}
	e.finished = true
	frames, err := e.enc.Finish()
	if err != nil {
		log.WithError(err).Warn("stream encoder finish failed")
	}
	return frames
}
