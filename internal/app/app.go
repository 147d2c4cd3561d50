// Package app owns the escrow daemon's lifecycle. It wires the ledger
// backend, the Redis side channels, archive storage, the escrow service and
// notifications, then starts the goroutines of the configured operating mode:
//
//   - server: HTTP API and WebSocket event hub
//   - archive: the scheduled archiver only
//   - full: both, sharing one set of dependencies
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/stakeescrow/internal/config"
)

// App is the root application object. It holds the loaded configuration, a
// component-scoped logger, and the cleanup functions registered while wiring.
// Cleanups run in reverse order from Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, dispatches on cfg.Mode and blocks until ctx is
// cancelled or a mode goroutine fails. The wiring cleanup is registered with
// the App, so callers must Close it after Run returns, even on error.
// An unknown mode is rejected after wiring; config.Validate normally catches
// it first.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("ledger", a.cfg.Ledger.Driver),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "archive":
		return a.ArchiveMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases everything Run acquired, in reverse registration order.
// Calling it again is a no-op.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
