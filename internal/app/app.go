// Package app owns the process lifecycle for the polymon service: it wires
// the stores, caches, blob storage, remote clients, and notification
// channels, then runs the goroutine set for the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polymon/internal/config"
)

// App runs one operating mode until its context is cancelled.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App for the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// modeRunner maps a mode name to the function that runs it.
type modeRunner func(ctx context.Context, deps *Dependencies) error

func (a *App) runners() map[string]modeRunner {
	return map[string]modeRunner{
		"sync":    a.SyncMode,
		"monitor": a.MonitorMode,
		"bot":     a.BotMode,
		"full":    a.FullMode,
	}
}

// Run wires dependencies, dispatches to the configured mode, and blocks
// until the mode returns. Cleanup happens in Close, not here, so callers
// can drain in-flight work between cancellation and teardown.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	run, ok := a.runners()[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	return run(ctx, deps)
}

// Close tears down resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
