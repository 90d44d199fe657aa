package config

import (
	"context"
	"os"
	"sync"
	"time"

	"herald/internal/models"

	"github.com/sirupsen/logrus"
)

const watchPollInterval = 5 * time.Second

// ConfigWatcher polls the config file's mtime and reloads it when it
// changes. Reloads go through the same LoadConfig path as startup, so a
// file edit that fails validation keeps the previous config in place.
type ConfigWatcher struct {
	path   string
	logger *logrus.Logger

	mu        sync.RWMutex
	current   *models.Config
	callbacks []func(*models.Config)
}

func NewConfigWatcher(path string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{path: path, logger: logger}
}

// OnConfigChange registers a callback invoked after every successful reload.
func (w *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start loads the config and blocks polling for changes until the context
// is cancelled.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	stat, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	lastMod := stat.ModTime()

	w.logger.WithField("path", w.path).Info("Configuration watcher started")

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopping")
			return nil
		case <-ticker.C:
			lastMod = w.poll(lastMod)
		}
	}
}

// poll checks the file's mtime and triggers a reload when it advanced.
// Returns the mtime to compare against next tick.
func (w *ConfigWatcher) poll(lastMod time.Time) time.Time {
	stat, err := os.Stat(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Failed to stat configuration file")
		return lastMod
	}
	if !stat.ModTime().After(lastMod) {
		return lastMod
	}

	// Give the writer a moment to finish before reading.
	time.Sleep(100 * time.Millisecond)
	w.reload()
	return stat.ModTime()
}

func (w *ConfigWatcher) reload() {
	next, err := LoadConfig(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload configuration, keeping previous")
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	callbacks := append([](func(*models.Config))(nil), w.callbacks...)
	w.mu.Unlock()

	w.logNotableChanges(prev, next)

	for _, callback := range callbacks {
		go w.invoke(callback, next)
	}
}

func (w *ConfigWatcher) invoke(callback func(*models.Config), cfg *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	callback(cfg)
}

func (w *ConfigWatcher) logNotableChanges(prev, next *models.Config) {
	if prev == nil {
		w.logger.Info("Configuration reloaded")
		return
	}

	fields := logrus.Fields{}
	if prev.RetentionDays != next.RetentionDays {
		fields["retentionDays"] = next.RetentionDays
	}
	if prev.Dispatch.MaxAttempts != next.Dispatch.MaxAttempts {
		fields["maxAttempts"] = next.Dispatch.MaxAttempts
	}
	if prev.Dispatch.Workers != next.Dispatch.Workers {
		// The pool is sized at startup.
		fields["workers"] = next.Dispatch.Workers
		w.logger.Warn("Worker count changed, restart required to take effect")
	}
	w.logger.WithFields(fields).Info("Configuration reloaded")
}
