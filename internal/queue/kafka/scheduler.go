package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Scheduler consumes the retry topic and republishes each task to the main
// topic once its NextRetryAt has passed. Messages on one partition are in
// publish order, not due order, so a long delay holds up shorter ones behind
// it; with the fixed backoff ladder the skew is bounded by the longest step.
type Scheduler struct {
	reader *consumer
	main   *producer
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler builds a Scheduler for cfg.RetryTopic.
func NewScheduler(cfg Config, logger *slog.Logger) (*Scheduler, error) {
	main, err := newProducer(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	if cfg.RetryTopic == "" {
		_ = main.Close()
		return nil, errors.New("kafka: retry topic is required")
	}
	return &Scheduler{
		reader: newConsumer(cfg.Brokers, cfg.RetryTopic, cfg.GroupID+"-scheduler"),
		main:   main,
		logger: logger.With(slog.String("component", "kafka_retry_scheduler")),
		now:    time.Now,
	}, nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("retry scheduler started")
	for {
		var msg retryMessage
		commit, err := s.reader.fetchJSON(ctx, &msg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("retry read failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, 500*time.Millisecond) {
				return nil
			}
			continue
		}

		if wait := msg.due(s.now()); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return nil
			}
		}

		if err := s.republish(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := commit(ctx); err != nil {
			s.logger.Warn("retry commit failed", slog.String("error", err.Error()))
		}
	}
}

// republish keeps trying until the main topic accepts the task, because the
// reader has already moved past the message.
func (s *Scheduler) republish(ctx context.Context, msg retryMessage) error {
	backoff := 500 * time.Millisecond
	for {
		err := s.main.publishJSON(ctx, msg.RecordID, taskMessage{RecordID: msg.RecordID, EnqueuedAt: s.now().UTC()})
		if err == nil {
			return nil
		}
		s.logger.Warn("republish failed",
			slog.String("record_id", msg.RecordID),
			slog.String("error", err.Error()),
		)
		if !sleepCtx(ctx, backoff) {
			return fmt.Errorf("kafka: republish %s: %w", msg.RecordID, ctx.Err())
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Close releases the reader and writer.
func (s *Scheduler) Close() error {
	return errors.Join(s.reader.Close(), s.main.Close())
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
