package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads a Store when its policy file changes on disk.
type Watcher struct {
	store    *Store
	logger   *zap.Logger
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	pending *time.Timer
}

// NewWatcher watches the directory holding the store's file so that
// rename-based editor saves are seen.
func NewWatcher(store *Store, logger *zap.Logger, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(store.Path())); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch policy dir: %w", err)
	}
	return &Watcher{store: store, logger: logger, debounce: debounce, fs: fsw}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	target := filepath.Clean(w.store.Path())
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		// Reload logs and counts its own failures.
		_, _ = w.store.Reload(context.WithoutCancel(ctx))
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	if err := w.fs.Close(); err != nil {
		w.logger.Warn("close policy watcher", zap.Error(err))
	}
}
