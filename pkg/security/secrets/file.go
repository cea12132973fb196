package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider reads secrets from a directory holding one file per secret,
// the layout of a mounted Kubernetes secret. Files must be mode 0600 or
// 0400. Values are trimmed of surrounding whitespace and kept until the
// directory changes or Refresh is called.
type FileProvider struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	values  map[string]string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileProvider opens dir. With watch set, any write, create, remove or
// rename in dir drops the values read so far.
func NewFileProvider(dir string, watch bool, logger *slog.Logger) (*FileProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets path is not a directory: %s", dir)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &FileProvider{
		dir:    dir,
		logger: logger.With("component", "secrets", "provider", "file"),
		values: make(map[string]string),
		done:   make(chan struct{}),
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch secrets directory: %w", err)
		}
		p.watcher = watcher
		go p.watchLoop()
	}

	p.logger.Info("File secret provider started", "path", dir, "watch", watch)
	return p, nil
}

// Get returns the trimmed contents of dir/name.
func (p *FileProvider) Get(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	value, ok := p.values[name]
	p.mu.RUnlock()
	if ok {
		return value, nil
	}

	path, err := p.path(name)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret %s is not a regular file", name)
	}
	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return "", fmt.Errorf("insecure permissions on secret %s: %o (expected 0600 or 0400)", name, mode)
	}

	// #nosec G304 - path is confined to dir by p.path
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	value = strings.TrimSpace(string(data))

	p.mu.Lock()
	p.values[name] = value
	p.mu.Unlock()
	return value, nil
}

// List returns the names of the regular files in dir.
func (p *FileProvider) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Name returns "file".
func (p *FileProvider) Name() string { return "file" }

// Supports reports whether dir holds a regular file called name.
func (p *FileProvider) Supports(name string) bool {
	path, err := p.path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Refresh drops the values read so far.
func (p *FileProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	p.values = make(map[string]string)
	p.mu.Unlock()
	return nil
}

// Close stops watching dir.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	return p.watcher.Close()
}

// path joins name onto dir, rejecting names that escape it.
func (p *FileProvider) path(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	return filepath.Join(p.dir, name), nil
}

func (p *FileProvider) watchLoop() {
	const changed = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&changed != 0 {
				p.logger.Debug("Secret directory changed", "file", filepath.Base(event.Name), "op", event.Op.String())
				_ = p.Refresh(context.Background())
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("Secret directory watcher error", "error", err)
		case <-p.done:
			return
		}
	}
}
