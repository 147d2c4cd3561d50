package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stakeescrow/internal/pipeline"
	"github.com/alanyoungcy/stakeescrow/internal/server"
	"github.com/alanyoungcy/stakeescrow/internal/server/handler"
	"github.com/alanyoungcy/stakeescrow/internal/server/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the event WebSocket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the scheduled archive job.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode serves the API and, when archive.enabled is set, runs the archive
// job in the same process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("archive", a.cfg.ArchiveRuns()),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if a.cfg.ArchiveRuns() {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return err
		}
	}
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Escrow: handler.NewEscrowHandler(deps.Escrow, a.logger),
	}
	if a.cfg.Ledger.FaucetEnabled {
		handlers.Faucet = handler.NewFaucetHandler(deps.Escrow, a.cfg.Ledger.FaucetMax, a.logger)
		a.logger.WarnContext(ctx, "development faucet enabled",
			slog.Uint64("faucet_max", a.cfg.Ledger.FaucetMax),
		)
	}

	if deps.Catalog != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Catalog, a.logger)
	}

	// The WebSocket hub requires only the Redis SignalBus.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			ProgramID: deps.ProgramID,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled: /ws and rate limiting are off")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive job requires blob storage")
	}
	archiver := pipeline.NewArchiver(deps.Escrow, deps.Archiver, deps.LockManager, deps.AuditStore, pipeline.ArchiverConfig{
		Retention: a.cfg.Archive.Retention(),
		BatchSize: a.cfg.Archive.BatchSize,
		LockTTL:   a.cfg.Archive.LockTTL.Duration,
	}, a.logger)

	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return nil
}
