package translator

import (
	"context"
	"io"

	"github.com/llmbridge-dev/llmbridge/internal/streamutil"
)

// Relay pumps a backend stream through the source decoder and the
// target encoder, handing each ready-to-write frame to write in order.
// It blocks until the backend stream ends, ctx is cancelled, or write
// fails, and returns the first error. The terminator frames the target
// wire requires are written before a nil return.
func (s *Service) Relay(ctx context.Context, backend io.Reader, source, target Format, model string, write func([]byte) error) error {
	stream, err := s.OpenStream(ctx, backend, source)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	enc, err := s.NewStreamEncoder(target, model)
	if err != nil {
		return err
	}

	p := streamutil.NewPipeline(ctx, s.opts.Get().StreamBuffer)
	p.Go(func(ctx context.Context) error {
		for {
			chunk, err := stream.Next()
			if err == io.EOF {
				for _, frame := range enc.Finish() {
					if !p.SendData(frame) {
						return ctx.Err()
					}
				}
				return nil
			}
			if err != nil {
				return err
			}
			frames, err := enc.Encode(chunk)
			if err != nil {
				return err
			}
			for _, frame := range frames {
				if !p.SendData(frame) {
					return ctx.Err()
				}
			}
		}
	})
	p.Start()

	for frame := range p.Output() {
		if err := write(frame.Data); err != nil {
			p.Cancel()
			for range p.Output() {
				// Drain so the producer can exit.
			}
			return err
		}
	}
	return p.Err()
}
