package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yieldloop/loopd/internal/admin"
	"github.com/yieldloop/loopd/internal/engine"
	"github.com/yieldloop/loopd/internal/ledger"
	"github.com/yieldloop/loopd/internal/registry"
	"github.com/yieldloop/loopd/internal/risk"
	"github.com/yieldloop/loopd/internal/server"
	"github.com/yieldloop/loopd/internal/server/handler"
	"github.com/yieldloop/loopd/internal/server/ws"
)

// services holds the domain services assembled on top of the wired
// dependencies. Every mode builds the full set; modes differ only in which
// run loops they start.
type services struct {
	registry   *registry.Service
	ledger     *ledger.Service
	guard      *risk.Guard
	liquidator *risk.Liquidator
	admin      *admin.Service
	engine     *engine.Engine
	reconciler *ledger.Reconciler
}

func (a *App) buildServices(deps *Dependencies) *services {
	reg := registry.NewService(deps.Registry, deps.Audit, deps.Bus, a.logger)
	led := ledger.NewService(deps.Positions)
	guard := risk.NewGuard(deps.Venue, deps.Health, a.logger)
	liq := risk.NewLiquidator(
		deps.Positions, deps.Market, deps.Venue, deps.Swapper,
		deps.Treasury, deps.Audit, deps.Bus, a.logger,
	)
	adm := admin.NewService(deps.Strategies, reg, led, deps.Treasury, deps.Audit, deps.Bus, a.logger)

	eng := engine.New(engine.Config{
		MaxLoops: a.cfg.Engine.MaxLoops,
		LockTTL:  a.cfg.Engine.OperationLockTTL.Duration,
	}, engine.Deps{
		Positions:  deps.Positions,
		Strategies: deps.Strategies,
		Registry:   reg,
		Market:     deps.Market,
		Venue:      deps.Venue,
		Swapper:    deps.Swapper,
		Flash:      deps.Flash,
		Treasury:   deps.Treasury,
		Guard:      guard,
		Liquidator: liq,
		Locks:      deps.Locks,
		Audit:      deps.Audit,
		Bus:        deps.Bus,
		Gate:       adm,
		Logger:     a.logger,
	})

	rec := ledger.NewReconciler(led, deps.Venue, deps.Audit, deps.Bus, ledger.ReconcilerConfig{
		Interval: a.cfg.Engine.ReconcileInterval.Duration,
	}, a.logger)

	return &services{
		registry:   reg,
		ledger:     led,
		guard:      guard,
		liquidator: liq,
		admin:      adm,
		engine:     eng,
		reconciler: rec,
	}
}

// ServerMode runs the HTTP and WebSocket API without background loops.
// Engine operations still work when the venue gateways are configured.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// EngineMode runs the executor with the reconciler and archiver loops, plus
// the HTTP API when enabled.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	g.Go(func() error {
		return svcs.reconciler.Run(ctx)
	})
	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	return g.Wait()
}

// SimMode runs the full engine against the in-memory venue simulators with
// the HTTP API always enabled. State lives in process memory only.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	g.Go(func() error {
		return svcs.reconciler.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// ReconcileMode runs a single ledger-versus-venue comparison and exits.
// Intended for cron jobs and operational spot checks.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	svcs := a.buildServices(deps)
	if err := svcs.reconciler.ReconcileOnce(ctx); err != nil {
		return fmt.Errorf("app: reconcile: %w", err)
	}
	a.logger.InfoContext(ctx, "reconcile pass clean")
	return nil
}

// FullMode runs every subsystem: executor, reconciler, archiver, and the
// HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	g.Go(func() error {
		return svcs.reconciler.Run(ctx)
	})
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// startArchiver adds the history archival loop when blob storage is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Engine.ArchiveInterval.Duration
	retainDays := a.cfg.Engine.ArchiveAfterDays
	g.Go(func() error {
		return deps.Archiver.Run(ctx, interval, retainDays)
	})
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, svcs.admin),
		Positions: handler.NewPositionHandler(deps.Positions, deps.Health, a.logger),
		Engine:    handler.NewEngineHandler(svcs.engine, a.cfg.Server.APIKey != "", a.logger),
		Admin:     handler.NewAdminHandler(svcs.admin, svcs.registry, deps.BlobReader, a.logger),
		Metrics:   handler.NewMetricsHandler(svcs.ledger, deps.Health, deps.Audit, a.cfg.Strategy.LendingVenue, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		AdminKey:    a.cfg.Operator.AdminAPIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
