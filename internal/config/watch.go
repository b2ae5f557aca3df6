package config

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LiveConfig wraps a Config with an fsnotify watcher that reloads
// permission_policy and adapter_boss_id_* entries without a daemon restart
// (SPEC_FULL §2.3). Every other field is fixed at daemon startup.
type LiveConfig struct {
	mu     sync.RWMutex
	cfg    *Config
	logger *slog.Logger
}

// NewLive wraps an already-loaded Config for hot-reload.
func NewLive(cfg *Config, logger *slog.Logger) *LiveConfig {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LiveConfig{cfg: cfg, logger: logger}
}

// Snapshot returns the current Config. Callers must not mutate it.
func (l *LiveConfig) Snapshot() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Watch blocks, reloading PermissionPolicy and AdapterBossID from the
// config file whenever it changes, until ctx is cancelled. Any other field
// change in the file is ignored — those require a restart.
func (l *LiveConfig) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path := ConfigFilePath(l.Snapshot().DataDir)
	if err := watcher.Add(path); err != nil {
		// No config file to watch yet (setup not run) — nothing to do.
		l.logger.Debug("config: not watching, file absent", "path", path, "error", err)
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("config: watch error", "error", err)
		}
	}
}

func (l *LiveConfig) reload() {
	current := l.Snapshot()
	fresh, err := Load(current.DataDir)
	if err != nil {
		l.logger.Error("config: reload failed, keeping previous policy", "error", err)
		return
	}
	l.mu.Lock()
	updated := *current
	updated.PermissionPolicy = fresh.PermissionPolicy
	updated.AdapterBossID = fresh.AdapterBossID
	l.cfg = &updated
	l.mu.Unlock()
	l.logger.Info("config: reloaded permission_policy and adapter_boss_id")
}
