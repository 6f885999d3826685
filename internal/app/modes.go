package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/notifyhub/internal/alert"
	"github.com/alanyoungcy/notifyhub/internal/catalog"
	"github.com/alanyoungcy/notifyhub/internal/pipeline"
	"github.com/alanyoungcy/notifyhub/internal/queue/kafka"
	"github.com/alanyoungcy/notifyhub/internal/server"
	"github.com/alanyoungcy/notifyhub/internal/server/handler"
	"github.com/alanyoungcy/notifyhub/internal/server/middleware"
	"github.com/alanyoungcy/notifyhub/internal/server/ws"
	"github.com/alanyoungcy/notifyhub/internal/service"
)

// APIMode serves the HTTP API and owns the catalog file. Deliveries it
// creates are processed by a separate worker process.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	g, ctx := errgroup.WithContext(ctx)

	if err := a.startCatalog(ctx, g, deps); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs the delivery runner, the reaper and, when enabled, the
// archiver.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)

	if err := a.startWorkers(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	if err := a.startCatalog(ctx, g, deps); err != nil {
		return err
	}
	if err := a.startWorkers(ctx, g, deps); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startCatalog applies the catalog file once and, when configured, watches
// it for changes. A missing file is not fatal: the catalog may already be
// in the store.
func (a *App) startCatalog(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if a.cfg.Catalog.Path == "" {
		return nil
	}
	loader := catalog.NewLoader(a.cfg.Catalog.Path, deps.Catalog, deps.Audit, a.logger)

	if _, _, err := loader.Load(ctx); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("app: load catalog: %w", err)
		}
		a.logger.WarnContext(ctx, "catalog file not found, using stored catalog",
			slog.String("path", a.cfg.Catalog.Path))
	}

	if a.cfg.Catalog.Watch {
		g.Go(func() error {
			return loader.Watch(ctx, func(ctx context.Context, path string, err error) {
				raiseErr := deps.Alerter.Raise(ctx, alert.Alert{
					Kind:    alert.KindConfigError,
					Title:   "Catalog reload failed",
					Message: err.Error(),
					Fields:  map[string]string{"path": path},
				})
				if raiseErr != nil {
					a.logger.WarnContext(ctx, "raise catalog alert failed", slog.String("error", raiseErr.Error()))
				}
			})
		})
	}
	return nil
}

func (a *App) retryPolicy() service.RetryPolicy {
	return service.RetryPolicy{
		MaxAttempts: a.cfg.Delivery.MaxAttempts,
		Backoff:     a.cfg.Delivery.BackoffSteps(),
	}
}

// startWorkers adds the delivery orchestrator to g.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	policy := a.retryPolicy()
	worker := service.NewDeliveryWorker(
		deps.Deliveries, deps.Catalog, deps.Channels, policy,
		deps.SignalBus, deps.Alerter, a.logger,
	)
	runner := pipeline.NewDeliveryRunner(deps.Queue, worker, a.cfg.Queue.Concurrency, a.logger)
	reaper := pipeline.NewReaper(
		deps.Deliveries, deps.Queue, policy,
		a.cfg.Delivery.ProcessingLease.Duration,
		a.cfg.Delivery.ReaperInterval.Duration,
		a.cfg.Delivery.ReaperBatch,
		deps.Alerter,
		a.logger,
	)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, deps.Deliveries, a.cfg.Archive.RetentionDays, a.logger)
	}

	var loops []pipeline.Loop
	if a.cfg.Queue.Backend == "kafka" {
		sched, err := kafka.NewScheduler(kafkaConfig(a.cfg), a.logger)
		if err != nil {
			return fmt.Errorf("app: kafka retry scheduler: %w", err)
		}
		a.closers = append(a.closers, func() { _ = sched.Close() })
		loops = append(loops, pipeline.Loop{Name: "kafka retry scheduler", Run: sched.Run})
	}

	if src, ok := deps.Queue.(pipeline.DepthSource); ok {
		loops = append(loops, pipeline.QueueDepthLoop(src, a.cfg.Delivery.ReaperInterval.Duration, a.logger))
	}

	orch := pipeline.NewOrchestrator(runner, reaper, archiver, a.cfg.Archive.Cron, a.logger, loops...)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	return nil
}

// startHTTPServer adds the API server and the status WebSocket hub to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	dispatch := service.NewDispatchService(
		deps.Catalog, deps.Deliveries, deps.Queue, deps.Channels,
		deps.Resolver, deps.SignalBus, a.logger,
	)
	logs := service.NewLogService(deps.Deliveries, deps.Catalog)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Credentials: middleware.Credentials{
			Key:  a.cfg.Server.APIKey,
			Hash: a.cfg.Server.APIKeyHash,
		},
		RateLimit:  a.cfg.Server.RateLimit,
		RateWindow: a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Events:     handler.NewEventHandler(dispatch, a.logger),
		Deliveries: handler.NewDeliveryHandler(logs, a.logger),
	}, deps.RateLimiter, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
