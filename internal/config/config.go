// Package config loads the daemon's single Config struct once at process
// start (spec §9 design note: no package-level singletons) and threads it
// down through the composition root in internal/daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"

	"github.com/hiboss/hiboss/internal/model"
)

// PolicyEntry is one permission_policy table entry (spec §4.2). Expr, when
// set, is a CEL expression internal/auth evaluates instead of the plain
// level comparison (SPEC §2.8) — additive, never weakening the default.
type PolicyEntry struct {
	Level model.PermissionLevel `json:"level"`
	Expr  string                `json:"expr,omitempty"`
}

// Config is the fully-resolved daemon configuration.
type Config struct {
	// DataDir is the daemon's root directory; the socket, sqlite file, and
	// config.json5 all live under it.
	DataDir string
	// SocketPath is <DataDir>/.daemon/daemon.sock.
	SocketPath string
	// BossToken authenticates the boss principal over RPC (HIBOSS_TOKEN).
	BossToken string

	BossName        string
	BossTimezone    string
	DefaultProvider model.Provider

	// MetricsAddr, when non-empty, serves Prometheus + pprof on
	// 127.0.0.1:<port> (spec SPEC_FULL §2.6). Empty disables it.
	MetricsAddr string

	PermissionPolicy map[string]PolicyEntry
	AdapterBossID    map[string]string // adapter-type -> boss username, spec §4.3 isBoss
}

// defaultPermissionPolicy is the baseline table from spec §4.2.
func defaultPermissionPolicy() map[string]PolicyEntry {
	lvl := func(l model.PermissionLevel) PolicyEntry { return PolicyEntry{Level: l} }
	return map[string]PolicyEntry{
		"envelope.send":            lvl(model.LevelRestricted),
		"envelope.list":            lvl(model.LevelRestricted),
		"agent.list":               lvl(model.LevelRestricted),
		"agent.status":             lvl(model.LevelRestricted),
		"daemon.ping":              lvl(model.LevelStandard),
		"agent.bind":               lvl(model.LevelPrivileged),
		"agent.unbind":             lvl(model.LevelPrivileged),
		"agent.set":                lvl(model.LevelPrivileged),
		"agent.session-policy.set": lvl(model.LevelPrivileged),
		"daemon.start":             lvl(model.LevelBoss),
		"daemon.stop":              lvl(model.LevelBoss),
		"daemon.status":            lvl(model.LevelBoss),
		"agent.register":           lvl(model.LevelBoss),
		"agent.refresh":            lvl(model.LevelBoss),
		"agent.abort":              lvl(model.LevelBoss),
	}
}

// defaults returns the built-in Config before any file/env overrides.
func defaults(dataDir string) *Config {
	return &Config{
		DataDir:          dataDir,
		SocketPath:       filepath.Join(dataDir, ".daemon", "daemon.sock"),
		BossTimezone:     "local",
		DefaultProvider:  model.ProviderClaude,
		PermissionPolicy: defaultPermissionPolicy(),
		AdapterBossID:    map[string]string{},
	}
}

// fileConfig is the subset of Config fields the JSON5 file may set;
// PermissionPolicy/AdapterBossID merge over (not replace) the defaults.
type fileConfig struct {
	BossName         string                 `json:"bossName,omitempty"`
	BossTimezone     string                 `json:"bossTimezone,omitempty"`
	DefaultProvider  string                 `json:"defaultProvider,omitempty"`
	MetricsAddr      string                 `json:"metricsAddr,omitempty"`
	PermissionPolicy map[string]PolicyEntry `json:"permissionPolicy,omitempty"`
	AdapterBossID    map[string]string      `json:"adapterBossId,omitempty"`
}

// ConfigFilePath returns the JSON5 config file path under root.
func ConfigFilePath(dataDir string) string {
	return filepath.Join(dataDir, ".daemon", "config.json5")
}

// Load builds a Config for dataDir: built-in defaults, then the JSON5 file
// at ConfigFilePath(dataDir) if present, then environment overrides
// (HIBOSS_DIR is resolved by the caller before calling Load; HIBOSS_TOKEN
// sets BossToken here).
func Load(dataDir string) (*Config, error) {
	cfg := defaults(dataDir)

	path := ConfigFilePath(dataDir)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		var fc fileConfig
		if err := json5.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		applyFileConfig(cfg, fc)
	}

	if tok := os.Getenv("HIBOSS_TOKEN"); tok != "" {
		cfg.BossToken = tok
	}

	return cfg, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.BossName != "" {
		cfg.BossName = fc.BossName
	}
	if fc.BossTimezone != "" {
		cfg.BossTimezone = fc.BossTimezone
	}
	if fc.DefaultProvider != "" {
		cfg.DefaultProvider = model.Provider(fc.DefaultProvider)
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	for k, v := range fc.PermissionPolicy {
		cfg.PermissionPolicy[k] = v
	}
	for k, v := range fc.AdapterBossID {
		cfg.AdapterBossID[k] = v
	}
}

// ResolveDataDir applies the HIBOSS_DIR override, defaulting to
// "~/hiboss" when unset (spec §6 data dir layout).
func ResolveDataDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if dir := os.Getenv("HIBOSS_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, "hiboss"), nil
}
