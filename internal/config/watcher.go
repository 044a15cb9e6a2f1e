package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	log "github.com/llmbridge-dev/llmbridge/internal/logging"
)

// Store is an RWMutex-guarded snapshot holder for hot-reloaded options.
// Readers pay one RLock per Get; the engine's per-vendor mapping tables
// stay immutable regardless of reloads.
type Store struct {
	mu   sync.RWMutex
	opts *Options
}

// NewStore wraps opts; nil becomes the defaults.
func NewStore(opts *Options) *Store {
	if opts == nil {
		opts = Default()
	}
	return &Store{opts: opts}
}

// Get returns the current snapshot.
func (s *Store) Get() *Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Set swaps in a new snapshot.
func (s *Store) Set(opts *Options) {
	if opts == nil {
		return
	}
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

// Watch reloads path on modification and hands each successfully
// loaded snapshot to onChange. Blocks until ctx is cancelled. The
// parent directory is watched because editors and config writers
// typically replace the file instead of writing in place.
func Watch(ctx context.Context, path string, onChange func(*Options)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	// Debounce bursts: editors fire several events per save.
	var timer *time.Timer
	reload := func() {
		opts, err := Load(target)
		if err != nil {
			log.WithError(err).Warnf("config reload failed, keeping previous options")
			return
		}
		log.Infof("config reloaded from %s", target)
		onChange(opts)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}
