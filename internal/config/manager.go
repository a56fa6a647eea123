package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the live Config behind an atomic pointer, supports
// fsnotify-backed hot reload from disk, and exposes the admin-surface
// endpoint-table / fallback mutations described in spec §4.4. Admin
// mutations and file-reload both publish a whole new Config through the
// atomic pointer, so readers never observe a partially updated Config.
type Manager struct {
	config  atomic.Pointer[Config]
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	// mutateMu serializes admin read-modify-write mutations; storing into
	// the atomic pointer is safe for concurrent callers by itself, but
	// two concurrent "add endpoint" calls must not race on the read half.
	mutateMu sync.Mutex
}

// NewManager loads path and returns a ready Manager.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{path: path, logger: logger}
	m.config.Store(cfg)
	return m, nil
}

// Get returns the current configuration. Safe for concurrent callers.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Watch starts watching the configuration file for changes, debouncing
// rapid writes and reloading atomically on settle.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher
	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("failed to reload config, keeping current", "error", err)
					}
				})
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Reload forces a reload from disk, discarding any in-memory admin
// mutations made since the last load or reload: admin mutations are
// never persisted back to disk (see DESIGN.md).
func (m *Manager) Reload() error {
	cfg, err := LoadFromFile(m.path)
	if err != nil {
		return err
	}
	m.config.Store(cfg)
	m.logger.Info("configuration reloaded")
	return nil
}

// Close stops the file watcher, if any.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// ErrEndpointNotFound is returned by RemoveEndpoint when host is unknown.
var ErrEndpointNotFound = fmt.Errorf("endpoint not found")

// PutEndpoint adds host/baseURL to the endpoint table, replacing any
// existing entry for host. Implements PUT /api/1/config/endpoint/{host}.
func (m *Manager) PutEndpoint(host, baseURL string) {
	m.mutateMu.Lock()
	defer m.mutateMu.Unlock()

	cur := m.config.Load().Clone()
	replaced := false
	for i, e := range cur.Endpoints {
		if e.Host == host {
			cur.Endpoints[i].BaseURL = baseURL
			replaced = true
			break
		}
	}
	if !replaced {
		cur.Endpoints = append(cur.Endpoints, EndpointEntry{Host: host, BaseURL: baseURL})
	}
	m.config.Store(cur)
}

// RemoveEndpoint deletes host from the endpoint table. Implements
// DELETE /api/1/config/endpoint/{host}.
func (m *Manager) RemoveEndpoint(host string) error {
	m.mutateMu.Lock()
	defer m.mutateMu.Unlock()

	cur := m.config.Load().Clone()
	idx := -1
	for i, e := range cur.Endpoints {
		if e.Host == host {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrEndpointNotFound
	}
	cur.Endpoints = append(cur.Endpoints[:idx], cur.Endpoints[idx+1:]...)
	m.config.Store(cur)
	return nil
}

// Fallback returns the current fallback backend URL. Implements
// GET /api/1/config/fallback.
func (m *Manager) Fallback() string {
	return m.config.Load().FallBackEndpoint
}

// SetFallback replaces the fallback backend URL. Implements
// POST /api/1/config/fallback.
func (m *Manager) SetFallback(url string) {
	m.mutateMu.Lock()
	defer m.mutateMu.Unlock()

	cur := m.config.Load().Clone()
	cur.FallBackEndpoint = url
	m.config.Store(cur)
}
