package streamutil

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/llmbridge-dev/llmbridge/internal/logging"
)

// CancelReader wraps an io.ReadCloser so a blocked Read is released
// promptly when the context is cancelled, with an optional idle
// watchdog against upstreams that stall without closing.
//
// Data is never dropped by an arbitrary per-read deadline: activity is
// tracked on every successful read and only a truly stalled connection
// trips the watchdog.
type CancelReader struct {
	body         io.ReadCloser
	ctx          context.Context
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
	lastActivity atomic.Int64
	idleTimeout  time.Duration
	stop         chan struct{}
	name         string
}

// NewCancelReader wraps body. When ctx is cancelled, body is closed to
// unblock any pending Read. idleTimeout <= 0 disables idle detection;
// name is used for logging only.
func NewCancelReader(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, name string) *CancelReader {
	cr := &CancelReader{
		body:        body,
		ctx:         ctx,
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
		name:        name,
	}
	cr.touch()
	go cr.watch()
	return cr
}

func (cr *CancelReader) touch() {
	cr.lastActivity.Store(time.Now().UnixNano())
}

// watch closes the body on context cancellation and, when enabled,
// polls for idle timeouts. One goroutine covers both concerns.
func (cr *CancelReader) watch() {
	var tick <-chan time.Time
	if cr.idleTimeout > 0 {
		interval := cr.idleTimeout / 4
		if interval < time.Second {
			interval = time.Second
		}
		if interval > 30*time.Second {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-cr.ctx.Done():
			cr.closeWithReason("context cancelled")
			return
		case <-cr.stop:
			return
		case <-tick:
			if cr.closed.Load() {
				return
			}
			idle := time.Since(time.Unix(0, cr.lastActivity.Load()))
			if idle > cr.idleTimeout {
				log.Warnf("%s: stream stalled for %v (limit %v), closing",
					cr.name, idle.Round(time.Second), cr.idleTimeout)
				cr.closeWithReason("idle timeout")
				return
			}
		}
	}
}

// Read implements io.Reader, refreshing the idle timer on activity.
func (cr *CancelReader) Read(p []byte) (int, error) {
	if cr.closed.Load() {
		return 0, io.EOF
	}
	n, err := cr.body.Read(p)
	if n > 0 {
		cr.touch()
	}
	return n, err
}

func (cr *CancelReader) closeWithReason(reason string) {
	cr.closeOnce.Do(func() {
		cr.closed.Store(true)
		cr.closeErr = cr.body.Close()
		log.Debugf("%s: stream closed: %s", cr.name, reason)
	})
}

// Close implements io.Closer. Safe to call multiple times.
func (cr *CancelReader) Close() error {
	cr.closeWithReason("explicit close")
	select {
	case <-cr.stop:
	default:
		close(cr.stop)
	}
	return cr.closeErr
}
