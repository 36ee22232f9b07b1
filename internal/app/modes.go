package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerwatch/internal/ingest"
	"github.com/alanyoungcy/wagerwatch/internal/reconcile"
	"github.com/alanyoungcy/wagerwatch/internal/server"
	"github.com/alanyoungcy/wagerwatch/internal/server/handler"
	"github.com/alanyoungcy/wagerwatch/internal/server/ws"
)

// ObserveMode runs the event pipeline without the read API.
func (a *App) ObserveMode(ctx context.Context, deps *Dependencies) error {
	return a.runIngest(ctx, deps, false)
}

// FullMode runs the event pipeline and the read API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.runIngest(ctx, deps, true)
}

// ServerMode runs only the read API over state written by another process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)
	srv, hub := a.buildServer(deps, nil)

	g.Go(func() error { return runHub(gctx, hub) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdownServer(srv)
	})
	return g.Wait()
}

// ReplayMode force-replays every wager stream from the configured block and
// returns. Aggregates are re-applied even below the watermarks.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	ing, err := a.buildIngestor(ctx, deps, false)
	if err != nil {
		return err
	}
	release, lost, err := a.acquireInstanceLock(ctx, deps, ing)
	if err != nil {
		return err
	}
	defer release()

	g, gctx := errgroup.WithContext(ctx)
	replayCtx, finish := context.WithCancel(gctx)
	defer finish()
	g.Go(func() error { return lost(replayCtx) })
	g.Go(func() error {
		defer finish()
		if err := ing.seeder.SeedCheckpoints(gctx); err != nil {
			return err
		}
		res, err := ing.engine.Replay(gctx, a.opts.ReplayFrom, true)
		if err != nil {
			return err
		}
		a.logger.Info("replay finished",
			slog.Uint64("from", a.opts.ReplayFrom),
			slog.Uint64("head", res.Head),
		)
		return nil
	})
	return g.Wait()
}

// runIngest runs startup, live sync and reconciliation, plus the read API
// when serve is set. On shutdown the reconciler drains first, then the
// engine lanes, then the event subscription, then the HTTP server.
func (a *App) runIngest(ctx context.Context, deps *Dependencies, serve bool) error {
	ing, err := a.buildIngestor(ctx, deps, true)
	if err != nil {
		return err
	}
	release, lost, err := a.acquireInstanceLock(ctx, deps, ing)
	if err != nil {
		return err
	}
	defer release()
	a.logIngestor(ing)

	g, gctx := errgroup.WithContext(ctx)
	// The subscription outlives gctx so lanes can finish in-flight events
	// before it closes.
	connCtx, stopConn := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConn()
	engineDone := make(chan struct{})

	g.Go(func() error { return lost(gctx) })
	g.Go(func() error {
		defer close(engineDone)
		return ing.engine.Run(gctx)
	})
	g.Go(func() error {
		err := ing.conn.Run(connCtx)
		if connCtx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("app: event subscription stopped")
		}
		return err
	})
	g.Go(func() error {
		err := ingest.NewPipeline(a.logger, ingest.StartupSteps(ing.seeder, ing.engine, ing.conn.Ready())...).Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	var srv *server.Server
	if serve {
		var hub *ws.Hub
		srv, hub = a.buildServer(deps, ing)
		g.Go(func() error { return runHub(gctx, hub) })
		g.Go(srv.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down ingestion")
		ing.reconciler.Stop()
		<-engineDone
		stopConn()
		if srv != nil {
			return a.shutdownServer(srv)
		}
		return nil
	})

	return g.Wait()
}

// acquireInstanceLock takes the per-contract lock and returns its release
// function and a refresher that fails once the lock is lost.
func (a *App) acquireInstanceLock(ctx context.Context, deps *Dependencies, ing *ingestor) (func(), func(context.Context) error, error) {
	ttl := a.cfg.Sync.LockTTL.Duration
	lock, err := deps.LockManager.Acquire(ctx, ing.lockKey(), ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("app: instance lock: %w", err)
	}
	a.logger.Info("instance lock acquired", slog.String("key", ing.lockKey()), slog.Duration("ttl", ttl))

	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(rctx); err != nil {
			a.logger.Warn("release instance lock", slog.String("error", err.Error()))
		}
	}
	refresh := func(ctx context.Context) error {
		t := time.NewTicker(ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if err := lock.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("app: instance lock: %w", err)
				}
			}
		}
	}
	return release, refresh, nil
}

// buildServer assembles the read API. ing is nil in server-only mode.
func (a *App) buildServer(deps *Dependencies, ing *ingestor) (*server.Server, *ws.Hub) {
	status := &handler.StatusHandler{
		Mode:        a.cfg.Mode,
		StartedAt:   time.Now(),
		Checkpoints: deps.Checkpoints,
		Logger:      a.logger,
	}
	if ing != nil {
		status.Engine = ing.engine
		if ing.reconciler != nil {
			status.Reconciler = ing.reconciler
		}
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.Postgres,
			"redis":    deps.Redis,
		}),
		Status:  status,
		Stats:   handler.NewStatsHandler(deps.Checkpoints, deps.Matches, a.logger),
		Matches: handler.NewMatchHandler(deps.Matches, deps.Wagers, deps.MatchCache, a.logger),
		Users:   handler.NewUserHandler(deps.Checkpoints, deps.Wagers, a.logger),
	}, hub, deps.RateLimiter, a.logger)
	return srv, hub
}

func (a *App) shutdownServer(srv *server.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runHub(ctx context.Context, hub *ws.Hub) error {
	if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

var (
	_ handler.SyncStatus      = (*ingest.Engine)(nil)
	_ handler.ReconcileStatus = (*reconcile.Scheduler)(nil)
)
