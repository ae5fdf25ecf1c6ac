package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/liekzejaws/clawd-throttle/internal/observability"
)

// Manager owns the live Config and, once Watch is called, reloads it on
// file changes via an atomic pointer swap — grounded directly on the
// teacher's internal/config/manager.go. Hot-reload is additive: nothing in
// the request path requires it, and a Manager that never calls Watch
// behaves like a plain immutable config load.
type Manager struct {
	config   atomic.Pointer[Config]
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	log      *observability.Logger
}

// NewManager loads path once and wraps it in a Manager.
func NewManager(path string, log *observability.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, log: log}
	m.config.Store(cfg)
	return m, nil
}

// Get returns the current configuration. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// OnChange registers a callback invoked (synchronously, on the watch
// goroutine) after each successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Watch starts watching the config file for changes, debouncing rapid
// writes before reloading. The provided context stops the watch loop.
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
				debounceTimer = time.AfterFunc(debounceDelay, m.reload)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			if m.log != nil {
				m.log.Error("config watcher error", "error", err)
			}
		}
	}
}

func (m *Manager) reload() {
	newCfg, err := LoadFromFile(m.path)
	if err != nil {
		if m.log != nil {
			m.log.Error("config reload failed, keeping current", "error", err)
		}
		return
	}
	m.config.Store(newCfg)
	if m.log != nil {
		m.log.Info("configuration reloaded")
	}
	for _, fn := range m.onChange {
		fn(newCfg)
	}
}

// Close stops the file watcher, if one was started.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
