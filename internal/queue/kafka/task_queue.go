package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// Config names the brokers and topics of a TaskQueue.
type Config struct {
	Brokers    []string
	Topic      string
	RetryTopic string
	GroupID    string
}

// TaskQueue implements domain.TaskQueue. Receive reads the main topic only;
// delayed tasks reach it through a Scheduler.
type TaskQueue struct {
	main   *producer
	retry  *producer
	reader *consumer
	logger *slog.Logger
}

var _ domain.TaskQueue = (*TaskQueue)(nil)

// NewTaskQueue builds the writers and the main-topic reader.
func NewTaskQueue(cfg Config, logger *slog.Logger) (*TaskQueue, error) {
	main, err := newProducer(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	retry, err := newProducer(cfg.Brokers, cfg.RetryTopic)
	if err != nil {
		_ = main.Close()
		return nil, err
	}
	return &TaskQueue{
		main:   main,
		retry:  retry,
		reader: newConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID),
		logger: logger.With(slog.String("component", "kafka_task_queue")),
	}, nil
}

func (q *TaskQueue) Enqueue(ctx context.Context, task domain.DeliveryTask) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	return q.main.publishJSON(ctx, task.RecordID, taskMessage{RecordID: task.RecordID, EnqueuedAt: task.EnqueuedAt})
}

func (q *TaskQueue) EnqueueAfter(ctx context.Context, task domain.DeliveryTask, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, task)
	}
	msg := retryMessage{RecordID: task.RecordID, NextRetryAt: time.Now().Add(delay).UnixMilli()}
	return q.retry.publishJSON(ctx, task.RecordID, msg)
}

func (q *TaskQueue) Receive(ctx context.Context) (domain.QueuedTask, error) {
	for {
		var msg taskMessage
		commit, err := q.reader.fetchJSON(ctx, &msg)
		if err != nil {
			if ctx.Err() != nil {
				return domain.QueuedTask{}, ctx.Err()
			}
			if errors.Is(err, errUndecodable) {
				q.logger.Error("dropping undecodable task", slog.String("error", err.Error()))
				continue
			}
			return domain.QueuedTask{}, fmt.Errorf("kafka: receive: %w", err)
		}
		if msg.RecordID == "" {
			q.logger.Error("dropping task without record id")
			if err := commit(ctx); err != nil {
				return domain.QueuedTask{}, err
			}
			continue
		}
		return domain.QueuedTask{
			Task: domain.DeliveryTask{RecordID: msg.RecordID, EnqueuedAt: msg.EnqueuedAt},
			Ack:  commit,
		}, nil
	}
}

// Close flushes the writers and leaves the consumer group.
func (q *TaskQueue) Close() error {
	return errors.Join(q.reader.Close(), q.main.Close(), q.retry.Close())
}
