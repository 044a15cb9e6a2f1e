package translator

import (
	"bytes"

	"github.com/llmbridge-dev/llmbridge/internal/sseutil"
	conv "github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

// StreamNormalizer is the push-style counterpart of Stream for
// transports that deliver frames by callback instead of an io.Reader.
// One normalizer serves one stream; not safe for concurrent use.
type StreamNormalizer struct {
	dec    conv.StreamDecoder
	closed bool
}

// NewStreamNormalizer returns a push normalizer for one vendor stream.
func (s *Service) NewStreamNormalizer(format Format) (*StreamNormalizer, error) {
	parser, ok := conv.GetRegistry().GetParser(format)
	if !ok {
		return nil, ir.NewInvalidFormat(format, "", "unsupported source format: "+string(format))
	}
	limits := conv.DecoderLimits{MaxToolArgBytes: s.opts.Get().MaxToolArgBytes}
	return &StreamNormalizer{dec: parser.NewStreamDecoder(limits)}, nil
}

// Feed ingests one raw frame: a complete SSE frame (event and data
// lines included), a bare data line, or an NDJSON record. Comment and
// event-name lines are skipped; the [DONE] marker finishes the stream
// in place. Frames fed after the stream finished are ignored.
func (n *StreamNormalizer) Feed(frame []byte) ([]*ir.StreamChunk, error) {
	if n.closed {
		return nil, nil
	}
	var out []*ir.StreamChunk
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		payload, done := sseutil.JSONPayload(line)
		if done {
			out = append(out, n.Finish()...)
			return out, nil
		}
		if payload == nil {
			continue
		}
		chunks, err := n.dec.Decode(bytes.Clone(payload))
		if err != nil {
			return out, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// Finish flushes whatever the decoder still buffers, such as a tool
// call whose end marker never arrived. Idempotent.
func (n *StreamNormalizer) Finish() []*ir.StreamChunk {
	if n.closed {
		return nil
	}
	n.closed = true
	return n.dec.Flush()
}
