// Package reload hot-swaps the moderation table when its policy file changes.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

// DefaultDebounce is the quiet period after the last write before reloading.
const DefaultDebounce = 500 * time.Millisecond

// ReloadObserver is notified of every reload attempt. Nil means none.
type ReloadObserver interface {
	ObserveReload(err error)
}

// Reloader watches a policy file and atomically swaps a fresh snapshot into
// the holder. A failed load keeps the previous snapshot live.
type Reloader struct {
	path     string
	holder   *engine.SnapshotHolder
	watcher  *fsnotify.Watcher
	debounce time.Duration
	observer ReloadObserver
	logger   *zap.Logger

	mu sync.Mutex // serializes reloads
}

// NewReloader watches the directory containing path so that editors which
// replace the file by rename are still seen.
func NewReloader(path string, holder *engine.SnapshotHolder, observer ReloadObserver, logger *zap.Logger) (*Reloader, error) {
	if path == "" {
		return nil, fmt.Errorf("NewReloader: empty policy path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("NewReloader: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("NewReloader: watch %q: %w", filepath.Dir(path), err)
	}

	return &Reloader{
		path:     filepath.Clean(path),
		holder:   holder,
		watcher:  watcher,
		debounce: DefaultDebounce,
		observer: observer,
		logger:   logger,
	}, nil
}

// SetDebounce overrides the quiet period. Call before Run.
func (r *Reloader) SetDebounce(d time.Duration) {
	r.debounce = d
}

// Reload loads the policy file and swaps it in if valid. A missing file is a
// failed reload, never a fallback to the built-in table.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, hash, err := engine.ReadConfigFile(r.path)
	if r.observer != nil {
		r.observer.ObserveReload(err)
	}
	if err != nil {
		r.logger.Error("policy reload failed, keeping previous table",
			zap.String("path", r.path),
			zap.Error(err),
		)
		return err
	}

	prev := r.holder.Swap(engine.NewSnapshot(cfg))
	prevHash := ""
	if prev != nil {
		prevHash = prev.Hash
	}
	r.logger.Info("policy reloaded",
		zap.String("path", r.path),
		zap.String("version", cfg.Version),
		zap.String("hash", hash),
		zap.String("previous_hash", prevHash),
	)
	return nil
}

// Run watches for changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.debounce, r.reloadIfPresent)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}

// reloadIfPresent skips events that leave the path empty, such as a rename
// away or the first half of an editor's replace-by-rename.
func (r *Reloader) reloadIfPresent() {
	if _, err := os.Stat(r.path); errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("policy file missing, keeping current table", zap.String("path", r.path))
		return
	}
	_ = r.Reload()
}
