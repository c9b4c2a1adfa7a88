package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/danielpatrickdp/nonwoven-sim/internal/config"
	"github.com/danielpatrickdp/nonwoven-sim/internal/store"
)

// #region config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Tracking.SQLitePath = dbPath
	}
	if logLevel != "" {
		cfg.Tracking.LogLevel = logLevel
	}
	return cfg, nil
}

// openStore opens the run database named by --db, falling back to the
// configuration and then NONWOVEN_DB.
func openStore() (*store.Store, error) {
	path := dbPath
	if path == "" {
		if cfg, err := config.Load(configPath); err == nil {
			path = cfg.Tracking.SQLitePath
		}
	}
	if path == "" {
		path = os.Getenv("NONWOVEN_DB")
	}
	if path == "" {
		return nil, fmt.Errorf("no run database: pass --db or set tracking_setup.sqlite_path")
	}
	return store.NewStore(path)
}

// #endregion config

// #region logging
// newLogger builds the stderr logger. Without an explicit log_format it
// writes text to a terminal and JSON otherwise.
func newLogger(t config.TrackingSetup) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(t.LogLevel)}
	if jsonLogs(t.LogFormat, os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func jsonLogs(format string, fd uintptr) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "text":
		return false
	}
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// #endregion logging

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
