package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const keyReloadDebounce = 250 * time.Millisecond

// keyWatcher reloads the signing key when its file changes. Editors and
// secret mounts replace files rather than writing in place, so the parent
// directory is watched and events are filtered by name.
type keyWatcher struct {
	path     string
	reload   func() error
	onReload func()
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

func newKeyWatcher(path string, reload func() error, onReload func(), logger *slog.Logger) (*keyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &keyWatcher{
		path:     abs,
		reload:   reload,
		onReload: onReload,
		logger:   logger,
		watcher:  w,
	}, nil
}

// Run blocks until ctx is done or the watcher is closed.
func (kw *keyWatcher) Run(ctx context.Context) {
	defer kw.watcher.Close()

	ticker := time.NewTicker(keyReloadDebounce)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-kw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != kw.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = true
			}
		case err, ok := <-kw.watcher.Errors:
			if !ok {
				return
			}
			kw.logger.Warn("key watcher error", slog.Any("err", err))
		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false
			if err := kw.reload(); err != nil {
				kw.logger.Error("signing key reload failed, keeping previous key",
					slog.String("path", kw.path),
					slog.Any("err", err),
				)
				continue
			}
			kw.logger.Info("signing key reloaded", slog.String("path", kw.path))
			if kw.onReload != nil {
				kw.onReload()
			}
		}
	}
}
