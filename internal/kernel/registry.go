package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/avorein/quire/internal/apperr"
)

// Registry holds the configured kernel servers, loaded from a YAML file
// and hot-reloaded when the file changes.
type Registry struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	servers map[string]Server
}

type serversFile struct {
	Servers []Server `yaml:"servers"`
}

// NewRegistry loads the servers file at path. A missing file yields an
// empty registry, not an error: servers are optional until a cell runs.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{path: path, logger: logger, servers: map[string]Server{}}
	if err := r.reload(); err != nil {
		if os.IsNotExist(err) {
			logger.Info("kernel: no servers file", slog.String("path", path))
			return r, nil
		}
		return nil, err
	}
	return r, nil
}

// reload re-reads and validates the servers file, replacing the set
// wholesale. Invalid entries are skipped with a warning.
func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	var f serversFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("kernel: parse servers file: %w", err)
	}

	next := make(map[string]Server, len(f.Servers))
	for _, s := range f.Servers {
		if err := s.Validate(); err != nil {
			r.logger.Warn("kernel: skipping invalid server",
				slog.String("name", s.Name),
				slog.String("error", err.Error()))
			continue
		}
		next[s.Name] = s
	}

	r.mu.Lock()
	r.servers = next
	r.mu.Unlock()
	return nil
}

// Get returns the named server, or apperr.ErrNotFound.
func (r *Registry) Get(name string) (Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[name]
	if !ok {
		return Server{}, apperr.ErrNotFound
	}
	return s, nil
}

// List returns all configured servers.
func (r *Registry) List() []Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Server, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	return out
}

// Watch reloads the registry when the servers file changes, debounced so
// editor write-then-rename sequences trigger a single reload. Blocks
// until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors replace files by rename, which drops
	// a watch set on the file itself.
	dir := filepath.Dir(r.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("kernel: watch %s: %w", dir, err)
	}

	r.logger.Info("kernel: watching servers file", slog.String("path", r.path))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(200 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			r.logger.Info("kernel: servers watcher stopped")
			return nil

		case <-reloadCh:
			if err := r.reload(); err != nil {
				r.logger.Warn("kernel: reload failed", slog.String("error", err.Error()))
			} else {
				r.logger.Debug("kernel: servers reloaded", slog.Int("count", len(r.List())))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("kernel: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
