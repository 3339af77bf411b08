package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Manager owns the live configuration and hot-reloads it when the backing
// file changes. Readers get a snapshot pointer; a reload swaps the pointer.
type Manager struct {
	mu         sync.RWMutex
	cfg        *FileConfig
	configPath string
	lastMod    time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
	onChange   []func(*FileConfig)
}

// Load reads the configuration file (if present), overlays environment
// variables and applies defaults. A missing file is not an error; the service
// can run entirely from environment configuration.
func Load(path string) (*Manager, error) {
	m := &Manager{configPath: path, stopCh: make(chan struct{})}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	cfg := &FileConfig{}
	if m.configPath != "" {
		data, err := os.ReadFile(m.configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("parse config %s: %w", m.configPath, err)
			}
			if info, err := os.Stat(m.configPath); err == nil {
				m.lastMod = info.ModTime()
			}
		case os.IsNotExist(err):
			log.WithField("path", m.configPath).Info("config file not found, using env/defaults")
		default:
			return fmt.Errorf("read config %s: %w", m.configPath, err)
		}
	}
	mergeEnvVars(cfg)
	applyDefaults(cfg)

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// NewStatic wraps a fixed configuration with no backing file. Defaults are
// still applied. Intended for tests and embedding.
func NewStatic(cfg *FileConfig) *Manager {
	if cfg == nil {
		cfg = &FileConfig{}
	}
	applyDefaults(cfg)
	return &Manager{cfg: cfg, stopCh: make(chan struct{})}
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *FileConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange registers a callback invoked after each successful reload.
func (m *Manager) OnChange(fn func(*FileConfig)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Stop terminates the file watcher.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) checkAndReload() {
	if m.configPath == "" {
		return
	}
	info, err := os.Stat(m.configPath)
	if err != nil {
		return
	}
	if !info.ModTime().After(m.lastMod) {
		return
	}
	old := m.Get()
	if err := m.load(); err != nil {
		log.WithError(err).WithField("path", m.configPath).Warn("failed to reload config")
		return
	}
	cur := m.Get()
	m.logConfigChanges(old, cur)

	m.mu.RLock()
	callbacks := append([]func(*FileConfig){}, m.onChange...)
	m.mu.RUnlock()
	for _, fn := range callbacks {
		fn(cur)
	}
}

func (m *Manager) logConfigChanges(old, cur *FileConfig) {
	if old.Debug != cur.Debug {
		log.WithFields(log.Fields{"field": "debug", "old": old.Debug, "new": cur.Debug}).Info("config changed")
	}
	if old.FilteredTags != cur.FilteredTags {
		log.WithFields(log.Fields{"field": "filtered_tags", "old": old.FilteredTags, "new": cur.FilteredTags}).Info("config changed")
	}
	if old.ShowThinking != cur.ShowThinking {
		log.WithFields(log.Fields{"field": "show_thinking", "old": old.ShowThinking, "new": cur.ShowThinking}).Info("config changed")
	}
	if len(old.Cookies) != len(cur.Cookies) {
		log.WithFields(log.Fields{"field": "cookies", "old": len(old.Cookies), "new": len(cur.Cookies)}).Info("config changed")
	}
}
