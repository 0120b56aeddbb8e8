// Package watcher reloads configuration when the settings file changes.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const debounceDelay = 250 * time.Millisecond

// Watcher watches a single settings file and invokes a callback after
// writes settle. Editors often emit rename+create+write bursts, so events
// are debounced before the callback fires.
type Watcher struct {
	fw       *fsnotify.Watcher
	path     string
	onChange func()
	mu       sync.Mutex
	timer    *time.Timer
}

// New creates a watcher over the given file. The callback runs on the
// watcher goroutine; keep it short.
func New(path string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the parent directory: watching the file directly breaks when
	// editors replace it via rename.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{fw: fw, path: path, onChange: onChange}, nil
}

// Run processes events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Settings watcher error")
		}
	}
}

func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, func() {
		log.Info().Str("path", w.path).Msg("Settings file changed")
		w.onChange()
	})
}
