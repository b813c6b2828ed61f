package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/uprootiny/manicctl/internal/watcher"
)

// ReloadDebounce coalesces the burst of events a single save produces.
const ReloadDebounce = 500 * time.Millisecond

// Watch starts watching the config file at path (DefaultPath when empty)
// and the project config above cwd. onChange receives the reloaded,
// merged config. Reload errors are logged and the previous config stays
// in effect. The returned function stops watching.
func Watch(path, cwd string, logger *slog.Logger, onChange func(*Config)) (func(), error) {
	if path == "" {
		path = DefaultPath()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config")

	w, err := watcher.New(func(events []watcher.Event) {
		cfg, err := LoadMerged(cwd, absPath)
		if err != nil {
			logger.Warn("config reload failed", "path", absPath, "error", err)
			return
		}
		logger.Info("config reloaded", "changes", len(events))
		if onChange != nil {
			onChange(cfg)
		}
	},
		watcher.WithDebounceDuration(ReloadDebounce),
		watcher.WithErrorHandler(func(err error) {
			logger.Warn("config watch error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	if err := w.Add(absPath); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config path %s: %w", absPath, err)
	}

	if projectDir, _, err := FindProjectConfig(cwd); err == nil && projectDir != "" {
		projectPath := filepath.Join(projectDir, ProjectDirName, "config.toml")
		if err := w.Add(projectPath); err != nil {
			logger.Warn("failed to watch project config", "path", projectPath, "error", err)
		}
	}

	return func() {
		w.Close()
	}, nil
}
