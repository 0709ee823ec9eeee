// Package watcher observes a workflows directory and reports new or changed
// JSON documents, debounced so an editor's write burst yields one event.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher emits workflow file paths on Events after the debounce window.
type Watcher struct {
	fw       *fsnotify.Watcher
	events   chan string
	debounce time.Duration
}

// Option adjusts watcher behavior.
type Option func(*Watcher)

// WithDebounce overrides the settle window before a path is emitted.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New starts watching dir for workflow documents.
func New(dir string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		fw:       fw,
		events:   make(chan string, 16),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Events yields absolute paths of workflow files that settled after a
// create or write.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Run pumps filesystem events until ctx is done, then closes Events. A
// debounce callback that has already fired holds the mutex while sending,
// so the closed flag set on the same mutex guarantees no send can race the
// channel close.
func (w *Watcher) Run(ctx context.Context) error {
	var mu sync.Mutex
	closed := false
	timers := make(map[string]*time.Timer)
	quit := make(chan struct{})

	defer func() {
		// Release any callback parked on a full channel before taking
		// the mutex, or the lock below could wait on it forever.
		close(quit)
		mu.Lock()
		closed = true
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".json") {
				continue
			}
			path := ev.Name
			mu.Lock()
			if t, ok := timers[path]; ok {
				t.Reset(w.debounce)
			} else {
				timers[path] = time.AfterFunc(w.debounce, func() {
					mu.Lock()
					defer mu.Unlock()
					delete(timers, path)
					if closed {
						return
					}
					select {
					case w.events <- path:
					case <-ctx.Done():
					case <-quit:
					}
				})
			}
			mu.Unlock()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching workflows: %w", err)
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
