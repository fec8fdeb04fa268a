package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/amongfriends/internal/pipeline"
	"github.com/alanyoungcy/amongfriends/internal/server"
	"github.com/alanyoungcy/amongfriends/internal/server/handler"
	"github.com/alanyoungcy/amongfriends/internal/server/ws"
	"github.com/alanyoungcy/amongfriends/internal/service"
	"github.com/alanyoungcy/amongfriends/internal/watcher"
)

// ServerMode serves the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// WatchMode runs the phase watcher and the audit archiver without serving
// HTTP.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWatcher(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FullMode runs everything: HTTP API, WebSocket hub, phase watcher and
// archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// startHTTPServer builds the handlers, the hub and the server and runs them
// on g until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		ChainID:        deps.Network.ChainID,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, deps.Network.ChainID, deps.Gateway, a.logger),
		Session:  handler.NewSessionHandler(deps.Sessions),
		Bets:     handler.NewBetHandler(deps.Snapshots, deps.Gateway, deps.Allowances, deps.Flows, a.logger),
		Flows:    handler.NewFlowHandler(deps.Flows, deps.Allowances, a.logger),
		Tokens:   handler.NewTokenHandler(deps.Network, deps.Allowances, deps.Gateway, a.logger),
		Metadata: handler.NewMetadataHandler(deps.Metadata, a.logger),
		Lookup:   handler.NewLookupHandler(deps.Lookups, a.logger),
		Preferences: handler.NewPreferenceHandler(
			service.NewAppState(deps.Preferences),
			deps.Contract,
			deps.Snapshots,
			deps.Gateway,
			a.logger,
		),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		CORSHeaders: a.cfg.Server.CORSHeaders,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.Sessions, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startWatcher runs the phase watcher over the bet index.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	w := watcher.New(
		deps.BetIndex,
		deps.Snapshots,
		deps.SignalBus,
		deps.Notifier,
		deps.Network.ChainID,
		a.cfg.Watcher.Interval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return w.Run(ctx)
	})
}

// startArchiver runs the audit archiver when object storage is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.AuditArchiver == nil {
		a.logger.InfoContext(ctx, "s3 disabled, skipping audit archiver")
		return
	}
	archiver := pipeline.NewArchiver(deps.AuditArchiver, a.cfg.Watcher.ArchiveAfterDays, a.logger)
	g.Go(func() error {
		if expr := a.cfg.Watcher.ArchiveCron; expr != "" {
			return archiver.RunCron(ctx, expr)
		}
		return archiver.RunEvery(ctx, a.cfg.Watcher.ArchiveInterval.Duration)
	})
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
