package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 300 * time.Millisecond

// Watcher calls OnChange after the config file has been written, created,
// renamed over or removed. Bursts of events (editors, atomic saves) within
// the debounce delay collapse into one call.
type Watcher struct {
	path     string
	delay    time.Duration
	onChange func()
	fs       *fsnotify.Watcher
}

// NewWatcher watches the directory containing path. The directory must exist.
func NewWatcher(path string, delay time.Duration, onChange func()) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config watcher: onChange is required")
	}
	if delay <= 0 {
		delay = defaultWatchDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolve path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: create: %w", err)
	}
	// The directory is watched rather than the file: atomic saves replace the
	// file, which would silently end a watch on the old inode.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config watcher: add %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, delay: delay, onChange: onChange, fs: fsw}, nil
}

// Run delivers change notifications until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		if err := w.fs.Close(); err != nil {
			slog.Debug("[DEBUG-CONFIG] watcher close failed", "error", err)
		}
	}()

	// The debouncer fires on its own timer goroutine; fire hands the call
	// back so onChange only runs here and never after Run returns.
	fire := make(chan struct{}, 1)
	debounced := debounce.New(w.delay)
	signal := func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			slog.Debug("[DEBUG-CONFIG] config file event", "op", event.Op.String(), "path", event.Name)
			debounced(signal)
		case <-fire:
			w.onChange()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("[WARN-CONFIG] config watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}
