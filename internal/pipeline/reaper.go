package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/notifyhub/internal/alert"
	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/service"
)

const leaseExpiredReason = "worker lease expired"

// Reaper recovers records a crashed worker or a lost task left behind:
// Processing records older than the lease are failed and rescheduled, and
// Pending records that never reached a worker are enqueued again. Both are
// safe to repeat because the claim only lets one worker through.
type Reaper struct {
	deliveries domain.DeliveryStore
	queue      domain.TaskQueue
	policy     service.RetryPolicy
	lease      time.Duration
	interval   time.Duration
	batch      int
	alerter    service.Alerter
	logger     *slog.Logger
	now        func() time.Time
}

// NewReaper creates a Reaper. alerter may be nil.
func NewReaper(
	deliveries domain.DeliveryStore,
	queue domain.TaskQueue,
	policy service.RetryPolicy,
	lease, interval time.Duration,
	batch int,
	alerter service.Alerter,
	logger *slog.Logger,
) *Reaper {
	if batch <= 0 {
		batch = 100
	}
	return &Reaper{
		deliveries: deliveries,
		queue:      queue,
		policy:     policy,
		lease:      lease,
		interval:   interval,
		batch:      batch,
		alerter:    alerter,
		logger:     logger.With(slog.String("component", "reaper")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ReapResult counts what one sweep did.
type ReapResult struct {
	Expired     int
	Rescheduled int
	Requeued    int
}

// RunOnce performs one sweep.
func (r *Reaper) RunOnce(ctx context.Context) (ReapResult, error) {
	var res ReapResult
	cutoff := r.now().Add(-r.lease)

	expired, err := r.deliveries.ExpireProcessing(ctx, cutoff, leaseExpiredReason, r.batch)
	if err != nil {
		return res, fmt.Errorf("pipeline: expire processing: %w", err)
	}
	res.Expired = len(expired)
	for _, rec := range expired {
		if rec.Exhausted(r.policy.MaxAttempts) {
			r.logger.ErrorContext(ctx, "delivery failed permanently after lease expiry",
				slog.String("record_id", rec.ID),
				slog.Int("attempts", rec.Attempts),
			)
			r.raise(ctx, rec)
			continue
		}
		delay := r.policy.Delay(rec.Attempts)
		if err := r.queue.EnqueueAfter(ctx, domain.DeliveryTask{RecordID: rec.ID}, delay); err != nil {
			r.logger.WarnContext(ctx, "reschedule expired delivery failed",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Rescheduled++
	}

	stale, err := r.deliveries.TouchStalePending(ctx, cutoff, r.batch)
	if err != nil {
		return res, fmt.Errorf("pipeline: list stale pending: %w", err)
	}
	for _, rec := range stale {
		if err := r.queue.Enqueue(ctx, domain.DeliveryTask{RecordID: rec.ID}); err != nil {
			r.logger.WarnContext(ctx, "requeue stale delivery failed",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Requeued++
	}

	if res.Expired > 0 || res.Requeued > 0 {
		r.logger.InfoContext(ctx, "reaper sweep",
			slog.Int("expired", res.Expired),
			slog.Int("rescheduled", res.Rescheduled),
			slog.Int("requeued", res.Requeued),
		)
	}
	return res, nil
}

func (r *Reaper) raise(ctx context.Context, rec domain.DeliveryRecord) {
	if r.alerter == nil {
		return
	}
	err := r.alerter.Raise(ctx, alert.Alert{
		Kind:    alert.KindDeliveryFailed,
		Title:   "Notification delivery failed",
		Message: leaseExpiredReason,
		Fields: map[string]string{
			"record":   rec.ID,
			"rule":     rec.RuleID,
			"channel":  rec.Channel.String(),
			"attempts": strconv.Itoa(rec.Attempts),
		},
	})
	if err != nil {
		r.logger.WarnContext(ctx, "raise alert failed", slog.String("error", err.Error()))
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("lease", r.lease),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reaper sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
