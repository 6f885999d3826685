package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// Archiver copies delivery records older than the retention window to cold
// storage, one complete calendar month at a time. It never deletes; pruning
// the table is left to the operator once a month is archived.
type Archiver struct {
	blob          domain.Archiver
	deliveries    domain.DeliveryStore
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blob domain.Archiver, deliveries domain.DeliveryStore, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		deliveries:    deliveries,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run archives every month that ended before the retention cutoff. Months
// already present in storage are skipped by the blob archiver.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().AddDate(0, 0, -a.retentionDays)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	oldest, err := a.deliveries.OldestCreatedAt(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("pipeline: oldest delivery: %w", err)
	}

	var total int64
	for _, month := range archivableMonths(oldest, cutoff) {
		n, err := a.blob.ArchiveMonth(ctx, month)
		if err != nil {
			return total, fmt.Errorf("pipeline: archive %s: %w", month.Format("2006-01"), err)
		}
		if n > 0 {
			a.logger.Info("archived month",
				slog.String("month", month.Format("2006-01")),
				slog.Int64("records", n),
			)
		}
		total += n
	}

	a.logger.Info("archive run complete", slog.Int64("records", total))
	return total, nil
}

// RunCron runs the archiver on a standard 5-field cron schedule (UTC) until
// ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(expr, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("pipeline: parse archive cron %q: %w", expr, err)
	}

	a.logger.Info("archiver cron started", slog.String("cron", expr))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}

// archivableMonths lists the first instant of every month from oldest's month
// whose end is not after cutoff.
func archivableMonths(oldest, cutoff time.Time) []time.Time {
	oldest = oldest.UTC()
	month := time.Date(oldest.Year(), oldest.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for {
		next := month.AddDate(0, 1, 0)
		if next.After(cutoff) {
			return out
		}
		out = append(out, month)
		month = next
	}
}
