// Package streamutil provides the stream plumbing shared by the
// translation facade: a context-aware frame pipeline for proxy-style
// relays, a reader that unblocks on cancellation, and content-encoding
// decoders.
package streamutil

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Frame is one unit of encoded stream data moving through a Pipeline.
// Err marks an in-band recoverable error.
type Frame struct {
	Data []byte
	Err  error
}

// Pipeline connects producer goroutines (decoding a backend stream) to
// one consumer (writing client frames) with bounded buffering.
// The first producer error cancels the remaining producers; the
// consumer detects completion via the closed Output channel.
type Pipeline struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	output chan Frame

	mu  sync.Mutex
	err error
}

// NewPipeline creates a pipeline whose lifetime is bounded by parent.
// buffer <= 0 applies a default of 64 frames.
func NewPipeline(parent context.Context, buffer int) *Pipeline {
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Pipeline{
		ctx:    gctx,
		cancel: cancel,
		group:  g,
		output: make(chan Frame, buffer),
	}
}

// Context returns the pipeline's context for producer use.
func (p *Pipeline) Context() context.Context {
	return p.ctx
}

// Output returns the read-only frame channel. Closed after all
// producers have finished (requires Start).
func (p *Pipeline) Output() <-chan Frame {
	return p.output
}

// Go starts a producer goroutine. A returned error cancels the group.
func (p *Pipeline) Go(f func(ctx context.Context) error) {
	p.group.Go(func() error {
		return f(p.ctx)
	})
}

// Send delivers a frame to the consumer. Returns false once the
// pipeline is cancelled.
func (p *Pipeline) Send(f Frame) bool {
	select {
	case p.output <- f:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// SendData delivers data bytes.
func (p *Pipeline) SendData(data []byte) bool {
	return p.Send(Frame{Data: data})
}

// SendError delivers an in-band error frame.
func (p *Pipeline) SendError(err error) bool {
	return p.Send(Frame{Err: err})
}

// Start launches the completion watcher: when every producer started
// with Go has returned, the first error is recorded, Output is closed
// and the context released. Call exactly once after starting producers.
func (p *Pipeline) Start() {
	go func() {
		err := p.group.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.output)
		p.cancel()
	}()
}

// Err returns the first producer error. Stable once Output is closed.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Cancel aborts the pipeline immediately.
func (p *Pipeline) Cancel() {
	p.cancel()
}
