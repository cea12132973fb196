package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher publishes a catalog file each time it changes on disk. A file whose
// effective date is not after the latest published version is ignored, so
// rewriting the current file is harmless.
type Watcher struct {
	catalog  *Catalog
	path     string
	watcher  *fsnotify.Watcher
	debounce *debouncer
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the catalog file at path. The file's
// directory is watched so that editors replacing the file by rename are seen.
func NewWatcher(c *Catalog, path string, debounceInterval time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default().With("component", "catalog.watcher")
	}
	if debounceInterval <= 0 {
		debounceInterval = 100 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		catalog:  c,
		path:     filepath.Clean(path),
		watcher:  fw,
		debounce: newDebouncer(debounceInterval),
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks until ctx is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer close(w.doneCh)

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	w.logger.Info("Catalog file watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Catalog file watcher stopped (context cancelled)")
			return nil

		case <-w.stopCh:
			w.logger.Info("Catalog file watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("Catalog file event", "op", event.Op.String())
			w.debounce.trigger(func() {
				if _, err := w.Reload(ctx); err != nil {
					w.logger.Error("Catalog reload failed", "path", w.path, "error", err)
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Catalog file watcher error", "error", err)
		}
	}
}

// Reload loads the file and publishes it if it is newer than the latest
// version. It reports whether a version was published.
func (w *Watcher) Reload(ctx context.Context) (bool, error) {
	draft, err := LoadFile(w.path)
	if err != nil {
		return false, err
	}
	if latest := w.catalog.Latest(); latest != nil && !draft.EffectiveDate.After(latest.EffectiveDate) {
		w.logger.Debug("Catalog file not newer than latest version, skipping",
			"effective_date", draft.EffectiveDate,
			"latest_version", latest.Version,
		)
		return false, nil
	}
	if _, err := w.catalog.Publish(ctx, draft); err != nil {
		return false, err
	}
	return true, nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	w.debounce.stop()
	return w.watcher.Close()
}

// debouncer collapses bursts of file events into one callback after a quiet
// period.
type debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval}
}

func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
