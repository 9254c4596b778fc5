package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of filesystem events a single
// file write produces into one registry operation.
const DefaultDebounce = 250 * time.Millisecond

// componentExt is the file extension the watcher reacts to.
const componentExt = ".wasm"

// LoadDir loads every component binary in a directory. Individual load
// failures are reported per component and do not abort the scan.
func (r *Registry) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scanning component directory: %w", err)
	}

	var failed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), componentExt) {
			continue
		}
		if _, err := r.Load(ctx, filepath.Join(dir, entry.Name())); err != nil {
			failed++
		}
	}
	if failed > 0 {
		slog.Warn("component directory scan finished with failures", "dir", dir, "failed", failed)
	}
	return nil
}

// Watcher reacts to component directory changes: new binaries load,
// modified binaries reload, removed binaries unload. Events are
// debounced per path so one file write turns into one operation.
type Watcher struct {
	registry *Registry
	dir      string
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a watcher over one component directory. Zero
// debounce means DefaultDebounce.
func NewWatcher(reg *Registry, dir string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		registry: reg,
		dir:      dir,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}
}

// Run watches until the context is cancelled. Cancellation returns nil;
// a watch infrastructure failure returns the error.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	slog.Info("watching component directory", "dir", w.dir)

	settled := make(chan string)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), componentExt) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx, ev.Name, settled)

		case path := <-settled:
			w.apply(ctx, path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("filesystem watcher error", "error", err)
		}
	}
}

// schedule arms or resets the per-path debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string, settled chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case settled <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// apply resolves a settled path into the matching registry operation.
func (w *Watcher) apply(ctx context.Context, path string) {
	id := IDForPath(path)
	if id == "" {
		return
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("stat of changed component failed", "path", path, "error", err)
			return
		}
		if err := w.registry.Unload(ctx, id); err != nil {
			var notFound *NotFoundError
			if !errors.As(err, &notFound) {
				slog.Warn("unload after removal failed", "component", id, "error", err)
			}
		}
		return
	}

	var already *AlreadyLoadedError
	_, err := w.registry.Load(ctx, path)
	if err == nil {
		return
	}
	if errors.As(err, &already) {
		if err := w.registry.Reload(ctx, id); err != nil {
			slog.Warn("reload after change failed", "component", id, "error", err)
		}
		return
	}
	slog.Warn("load after change failed", "component", id, "error", err)
}
