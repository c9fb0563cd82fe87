package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/txwatch/internal/logging"
)

// ReloadDebounce is how long the watcher waits after the last change.
const ReloadDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes and hands the result to
// apply. Invalid files are logged and the previous config stays in effect.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(*Config)
	log     *slog.Logger
}

// NewWatcher watches path. The parent directory is watched so editors that
// replace the file are still seen.
func NewWatcher(path string, apply func(*Config), logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		path = DefaultPath()
	}
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	return &Watcher{
		watcher: watcher,
		path:    path,
		apply:   apply,
		log:     logging.OrDiscard(logger),
	}, nil
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(ReloadDebounce, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error("hot-reload failed", "path", w.path, "error", err)
		return
	}
	w.apply(cfg)
	w.log.Info("hot-reload: config reloaded", "path", w.path)
}
