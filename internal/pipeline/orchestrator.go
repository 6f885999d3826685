package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Loop is an extra long-running component, such as the Kafka retry
// scheduler, that the orchestrator supervises.
type Loop struct {
	Name string
	Run  func(ctx context.Context) error
}

// Orchestrator runs the worker-side loops under one errgroup. The archiver
// is optional.
type Orchestrator struct {
	runner      *DeliveryRunner
	reaper      *Reaper
	archiver    *Archiver
	archiveCron string
	loops       []Loop
	logger      *slog.Logger
}

// NewOrchestrator wires the loops. archiver may be nil.
func NewOrchestrator(runner *DeliveryRunner, reaper *Reaper, archiver *Archiver, archiveCron string, logger *slog.Logger, loops ...Loop) *Orchestrator {
	return &Orchestrator{
		runner:      runner,
		reaper:      reaper,
		archiver:    archiver,
		archiveCron: archiveCron,
		loops:       loops,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails, in which case the rest are cancelled and the error returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("archiver", o.archiver != nil),
		slog.Int("extra_loops", len(o.loops)),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wrapLoop(ctx, "delivery runner", o.runner.Run(ctx))
	})
	g.Go(func() error {
		return wrapLoop(ctx, "reaper", o.reaper.Run(ctx))
	})
	if o.archiver != nil {
		g.Go(func() error {
			return wrapLoop(ctx, "archiver", o.archiver.RunCron(ctx, o.archiveCron))
		})
	}
	for _, l := range o.loops {
		g.Go(func() error {
			o.logger.Info("starting loop", slog.String("loop", l.Name))
			return wrapLoop(ctx, l.Name, l.Run(ctx))
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
