package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fanforge/marketd/internal/server"
	"github.com/fanforge/marketd/internal/server/handler"
	"github.com/fanforge/marketd/internal/server/ws"
)

// IngestMode replays the event log, then runs the chain ingestion loop. The
// HTTP server is started with only the health endpoint so operators can probe
// reduction progress and scrape metrics.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	if err := deps.Ingestor.Replay(ctx); err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Ingestor.RunLoop(ctx, a.cfg.Ingest.PollInterval.Duration)
	})

	if deps.Watcher != nil {
		g.Go(func() error {
			return deps.Watcher.Run(ctx)
		})
	}

	a.startHTTPServer(ctx, g, deps, server.Handlers{
		Health: handler.NewHealthHandler(deps.Listings, time.Now().UTC(), a.logger),
	}, nil)

	return g.Wait()
}

// ServeMode replays the event log into the read model and serves the full
// HTTP + WebSocket API without running ingestion. Useful when a separate
// ingest process owns the event log.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if err := deps.Ingestor.Replay(ctx); err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if deps.Watcher != nil {
		g.Go(func() error {
			return deps.Watcher.Run(ctx)
		})
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, a.buildHandlers(deps), hub)

	return g.Wait()
}

// FullMode runs ingestion and the complete API surface in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	if err := deps.Ingestor.Replay(ctx); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Ingestor.RunLoop(ctx, a.cfg.Ingest.PollInterval.Duration)
	})

	if deps.Watcher != nil {
		g.Go(func() error {
			return deps.Watcher.Run(ctx)
		})
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, a.buildHandlers(deps), hub)

	return g.Wait()
}

// buildHandlers assembles the full REST handler set from whatever
// dependencies were wired. Handlers for absent dependencies stay nil and the
// server skips their routes.
func (a *App) buildHandlers(deps *Dependencies) server.Handlers {
	h := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Listings, time.Now().UTC(), a.logger),
		Listings: handler.NewListingHandler(deps.Listings, a.logger),
		Staking:  handler.NewStakingHandler(deps.Ledger, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if deps.Tokens != nil {
		h.Tokens = handler.NewTokenHandler(deps.Tokens, a.logger)
	}
	if deps.BlobReader != nil {
		h.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}
	return h
}

// startHTTPServer adds the HTTP server and its graceful shutdown to the
// errgroup. hub may be nil when the WebSocket endpoint is not wanted.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, handlers server.Handlers, hub *ws.Hub) {
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
