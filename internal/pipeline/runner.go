// Package pipeline holds the long-running loops of a notifyhub worker: the
// delivery runner that feeds tasks to the worker, the reaper that recovers
// abandoned records, and the cold-storage archiver.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/service"
)

// Processor runs one delivery attempt. *service.DeliveryWorker satisfies it.
type Processor interface {
	Process(ctx context.Context, task domain.DeliveryTask) (service.Outcome, error)
}

// DeliveryRunner pulls tasks off the queue and hands them to the worker,
// turning a retry outcome into a delayed re-enqueue. A task is acked only
// after any follow-up task has been written, so a crash in between leads to
// redelivery rather than loss.
type DeliveryRunner struct {
	queue       domain.TaskQueue
	worker      Processor
	concurrency int
	// errorDelay is the re-enqueue delay after a store failure.
	errorDelay time.Duration
	logger     *slog.Logger
}

// NewDeliveryRunner creates a runner with the given number of consumers.
func NewDeliveryRunner(queue domain.TaskQueue, worker Processor, concurrency int, logger *slog.Logger) *DeliveryRunner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &DeliveryRunner{
		queue:       queue,
		worker:      worker,
		concurrency: concurrency,
		errorDelay:  10 * time.Second,
		logger:      logger.With(slog.String("component", "delivery_runner")),
	}
}

// Run blocks until ctx is cancelled.
func (r *DeliveryRunner) Run(ctx context.Context) error {
	r.logger.Info("delivery runner starting", slog.Int("concurrency", r.concurrency))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.concurrency; i++ {
		g.Go(func() error {
			return r.consume(ctx)
		})
	}
	err := g.Wait()
	r.logger.Info("delivery runner stopped")
	return err
}

func (r *DeliveryRunner) consume(ctx context.Context) error {
	for {
		qt, err := r.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("receive failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}
		r.handle(ctx, qt)
	}
}

// handle processes one task and acks it once its follow-up is durable.
func (r *DeliveryRunner) handle(ctx context.Context, qt domain.QueuedTask) {
	task := qt.Task
	out, err := r.worker.Process(ctx, task)

	var delay time.Duration
	requeue := false
	switch {
	case err != nil:
		r.logger.Error("process delivery failed",
			slog.String("record_id", task.RecordID),
			slog.String("error", err.Error()),
		)
		requeue, delay = true, r.errorDelay
	case out.Kind == service.OutcomeRetry:
		requeue, delay = true, out.RetryAfter
	}

	if requeue {
		if err := r.queue.EnqueueAfter(ctx, domain.DeliveryTask{RecordID: task.RecordID}, delay); err != nil {
			// Leave the task un-acked; the queue redelivers it.
			r.logger.Error("re-enqueue failed",
				slog.String("record_id", task.RecordID),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	if qt.Ack == nil {
		return
	}
	if err := qt.Ack(ctx); err != nil {
		r.logger.Warn("ack failed",
			slog.String("record_id", task.RecordID),
			slog.String("error", err.Error()),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// wrapLoop converts a loop's exit into an errgroup result: nil on shutdown.
func wrapLoop(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil || err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
