// Package app provides the top-level application lifecycle management for the
// manipulation detection service. It wires together all dependencies (stores,
// caches, blob storage, the engine, feeds and the API) and starts the
// goroutines for the selected operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketguard/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg        *config.Config
	configPath string
	level      *slog.LevelVar
	logger     *slog.Logger
	closers    []func()
}

// New creates a new App. configPath is watched for detection changes when
// hot reload is enabled; level, if set, follows log_level on reload.
func New(cfg *config.Config, configPath string, level *slog.LevelVar, logger *slog.Logger) *App {
	return &App{
		cfg:        cfg,
		configPath: configPath,
		level:      level,
		logger:     logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point for the long-running modes. It wires all
// dependencies, selects the operating mode and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	switch strings.ToLower(a.cfg.Mode) {
	case "serve":
		deps, err := a.wire(ctx)
		if err != nil {
			return err
		}
		return a.Serve(ctx, deps)
	case "replay":
		return fmt.Errorf("app: replay mode needs a source, use the replay command")
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
