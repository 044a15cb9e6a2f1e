package translator

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/llmbridge-dev/llmbridge/internal/sseutil"
	"github.com/llmbridge-dev/llmbridge/internal/streamutil"
	conv "github.com/llmbridge-dev/llmbridge/internal/translator"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

// Stream pulls canonical chunks out of one vendor byte stream. Not
// safe for concurrent use; one goroutine owns a Stream.
type Stream struct {
	dec    conv.StreamDecoder
	events *sseutil.Scanner // SSE framing
	lines  *bufio.Scanner   // NDJSON framing
	closer io.Closer

	queue    []*ir.StreamChunk
	terminal bool
	flushed  bool
	err      error
}

// OpenStream wraps a raw vendor stream with the decoder for format.
// The reader is closed when ctx is cancelled so a blocked read never
// leaks; Close releases it early. r may be an io.ReadCloser; anything
// else is closed by discarding.
func (s *Service) OpenStream(ctx context.Context, r io.Reader, format Format) (*Stream, error) {
	return s.OpenStreamEncoding(ctx, r, format, "")
}

// OpenStreamEncoding is OpenStream for a body still carrying its
// transport Content-Encoding. The body is decompressed before framing
// so the decoder only ever sees plain bytes; empty and identity
// encodings pass through.
func (s *Service) OpenStreamEncoding(ctx context.Context, r io.Reader, format Format, contentEncoding string) (*Stream, error) {
	parser, ok := conv.GetRegistry().GetParser(format)
	if !ok {
		return nil, ir.NewInvalidFormat(format, "", "unsupported source format: "+string(format))
	}
	opts := s.opts.Get()
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	body, err := streamutil.DecodeReader(rc, contentEncoding)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	cr := streamutil.NewCancelReader(ctx, body,
		time.Duration(opts.IdleTimeoutSeconds)*time.Second, string(format)+" stream")

	st := &Stream{
		dec:    parser.NewStreamDecoder(conv.DecoderLimits{MaxToolArgBytes: opts.MaxToolArgBytes}),
		closer: cr,
	}
	switch parser.Framing() {
	case ir.FramingNDJSON:
		st.lines = sseutil.NewLineScanner(cr, opts.MaxFrameBytes)
	default:
		st.events = sseutil.NewScanner(cr, opts.MaxFrameBytes)
	}
	return st, nil
}

// Next returns the next canonical chunk. In-band recoverable errors
// arrive as chunks carrying Err; the returned error is io.EOF once the
// stream is exhausted, or the transport failure that ended it.
func (st *Stream) Next() (*ir.StreamChunk, error) {
	for {
		if len(st.queue) > 0 {
			chunk := st.queue[0]
			st.queue = st.queue[1:]
			return chunk, nil
		}
		if st.err != nil {
			return nil, st.err
		}
		if st.flushed {
			return nil, io.EOF
		}
		payload, err := st.nextPayload()
		if err == io.EOF {
			st.flushed = true
			st.queue = append(st.queue, st.dec.Flush()...)
			continue
		}
		if err != nil {
			st.err = err
			return nil, err
		}
		if len(payload) == 0 {
			continue
		}
		chunks, err := st.dec.Decode(payload)
		if err != nil {
			st.err = err
			return nil, err
		}
		st.queue = append(st.queue, chunks...)
	}
}

// nextPayload returns the next frame payload, io.EOF at end of stream.
// The [DONE] marker counts as end; a payload sharing its frame is
// still delivered first.
func (st *Stream) nextPayload() ([]byte, error) {
	if st.terminal {
		return nil, io.EOF
	}
	if st.events != nil {
		ev, err := st.events.Next()
		if err != nil {
			return nil, err
		}
		if ev.Done {
			st.terminal = true
			if len(ev.Data) > 0 {
				return ev.Data, nil
			}
			return nil, io.EOF
		}
		return ev.Data, nil
	}
	for st.lines.Scan() {
		line := bytes.TrimSpace(st.lines.Bytes())
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer and decoded chunks may alias
		// the payload, so hand the decoder its own copy.
		return bytes.Clone(line), nil
	}
	if err := st.lines.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close releases the underlying reader. Pending accumulator state is
// discarded; a Stream is not resumable. Safe to call more than once.
func (st *Stream) Close() error {
	st.queue = nil
	st.flushed = true
	return st.closer.Close()
}
