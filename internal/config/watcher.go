package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// StartWatcher begins watching the config file for changes. It prefers
// fsnotify and falls back to polling when the watcher cannot be created.
func (m *Manager) StartWatcher() {
	if m.configPath == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create file watcher, falling back to polling")
		m.startPollingWatcher()
		return
	}

	if err := watcher.Add(m.configPath); err != nil {
		log.WithError(err).WithField("path", m.configPath).Warn("failed to watch config file, falling back to polling")
		watcher.Close()
		m.startPollingWatcher()
		return
	}

	// Also watch the directory to catch atomic writes (rename operations).
	configDir := filepath.Dir(m.configPath)
	if err := watcher.Add(configDir); err != nil {
		log.WithError(err).WithField("dir", configDir).Warn("failed to watch config directory")
	}

	log.WithField("path", m.configPath).Info("file watcher started using fsnotify")

	go func() {
		defer watcher.Close()

		// Debounce to avoid multiple reloads on rapid successive writes.
		var debounceTimer *time.Timer
		debounceDuration := 100 * time.Millisecond

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == m.configPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.AfterFunc(debounceDuration, func() {
						m.checkAndReload()
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("file watcher error")
			case <-m.stopCh:
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				return
			}
		}
	}()
}

func (m *Manager) startPollingWatcher() {
	ticker := time.NewTicker(5 * time.Second)
	log.WithField("interval", "5s").Info("file watcher started using polling")

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkAndReload()
			case <-m.stopCh:
				return
			}
		}
	}()
}
