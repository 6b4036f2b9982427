package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the routing config when the admin layer rewrites the
// file. Reloads are debounced because editors and atomic-rename writers
// emit bursts of events for a single save.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*RoutingConfig)
	debounce time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher for the given routing config file.
// onReload is called with each successfully loaded config; a file that
// fails to parse or validate keeps the previous config in effect.
func NewWatcher(path string, onReload func(*RoutingConfig), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		watcher:  fsw,
		onReload: onReload,
		debounce: 250 * time.Millisecond,
		logger:   logger,
	}, nil
}

// Watch starts watching. It returns after registering the watch; events
// are handled on a background goroutine until Close.
func (w *Watcher) Watch() error {
	// Watch the directory: atomic renames replace the file inode.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.loop(ctx)
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadRoutingConfig(w.path)
	if err != nil {
		w.logger.Warn("routing config reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("routing config reloaded", "path", w.path, "providers", len(cfg.Providers))
	w.onReload(cfg)
}
