package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

//go:embed scripts/promote_delayed.lua
var promoteDelayedLua string

const (
	// streamMaxLen is the approximate stream length enforced via XADD MAXLEN ~.
	streamMaxLen int64 = 100000
	taskField          = "task"
	promoteBatch       = 100
)

// TaskQueueConfig names the Redis keys and timings of a TaskQueue.
type TaskQueueConfig struct {
	Stream     string
	DelayedKey string
	Group      string
	// Consumer defaults to hostname plus a random suffix.
	Consumer string
	// VisibilityTimeout is how long a delivered but un-acked task stays
	// pending before another consumer may take it over.
	VisibilityTimeout time.Duration
	// PollInterval bounds how long Receive blocks on the stream before
	// re-checking the delayed set.
	PollInterval time.Duration
}

// TaskQueue implements domain.TaskQueue with a Redis stream read through a
// consumer group. Delayed tasks wait in a sorted set scored by ready time and
// are moved onto the stream by a Lua script.
type TaskQueue struct {
	rdb     *redis.Client
	cfg     TaskQueueConfig
	promote *redis.Script
	logger  *slog.Logger
}

var _ domain.TaskQueue = (*TaskQueue)(nil)

// NewTaskQueue creates the consumer group (and stream) if needed.
func NewTaskQueue(ctx context.Context, c *Client, cfg TaskQueueConfig, logger *slog.Logger) (*TaskQueue, error) {
	if cfg.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	q := &TaskQueue{
		rdb:     c.Underlying(),
		cfg:     cfg,
		promote: redis.NewScript(promoteDelayedLua),
		logger:  logger.With(slog.String("component", "redis_task_queue")),
	}
	err := q.rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redis: create group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}
	return q, nil
}

func (q *TaskQueue) Enqueue(ctx context.Context, task domain.DeliveryTask) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{taskField: payload},
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: enqueue %s: %w", task.RecordID, err)
	}
	return nil
}

func (q *TaskQueue) EnqueueAfter(ctx context.Context, task domain.DeliveryTask, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, task)
	}
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	readyAt := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, q.cfg.DelayedKey, redis.Z{Score: float64(readyAt), Member: payload}).Err(); err != nil {
		return fmt.Errorf("redis: enqueue %s after %s: %w", task.RecordID, delay, err)
	}
	return nil
}

// Receive first promotes due delayed tasks, then takes over any task whose
// consumer went silent for longer than the visibility timeout, and finally
// blocks on new stream entries for up to PollInterval.
func (q *TaskQueue) Receive(ctx context.Context) (domain.QueuedTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.QueuedTask{}, err
		}

		if err := q.promoteDue(ctx); err != nil {
			q.logger.Warn("promote delayed tasks failed", slog.String("error", err.Error()))
		}

		if msg, ok, err := q.reclaim(ctx); err != nil {
			q.logger.Warn("reclaim pending tasks failed", slog.String("error", err.Error()))
		} else if ok {
			return q.toQueued(ctx, msg)
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    1,
			Block:    q.cfg.PollInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return domain.QueuedTask{}, ctx.Err()
			}
			return domain.QueuedTask{}, fmt.Errorf("redis: read group %s: %w", q.cfg.Stream, err)
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				return q.toQueued(ctx, msg)
			}
		}
	}
}

// Depth reports the number of stream entries and delayed tasks.
func (q *TaskQueue) Depth(ctx context.Context) (ready int64, delayed int64, err error) {
	ready, err = q.rdb.XLen(ctx, q.cfg.Stream).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: stream length %s: %w", q.cfg.Stream, err)
	}
	delayed, err = q.rdb.ZCard(ctx, q.cfg.DelayedKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: delayed size %s: %w", q.cfg.DelayedKey, err)
	}
	return ready, delayed, nil
}

func (q *TaskQueue) promoteDue(ctx context.Context) error {
	return q.promote.Run(
		ctx,
		q.rdb,
		[]string{q.cfg.DelayedKey, q.cfg.Stream},
		time.Now().UnixMilli(),
		promoteBatch,
		streamMaxLen,
	).Err()
}

func (q *TaskQueue) reclaim(ctx context.Context) (redis.XMessage, bool, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.VisibilityTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("redis: autoclaim %s: %w", q.cfg.Stream, err)
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	return msgs[0], true, nil
}

func (q *TaskQueue) toQueued(ctx context.Context, msg redis.XMessage) (domain.QueuedTask, error) {
	ack := func(ctx context.Context) error {
		if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID).Err(); err != nil {
			return fmt.Errorf("redis: ack %s: %w", msg.ID, err)
		}
		return nil
	}

	task, err := decodeTask(msg.Values[taskField])
	if err != nil {
		// A poison entry would be redelivered forever; drop it.
		q.logger.Error("dropping undecodable task",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		if ackErr := ack(ctx); ackErr != nil {
			return domain.QueuedTask{}, ackErr
		}
		return q.Receive(ctx)
	}
	return domain.QueuedTask{Task: task, Ack: ack}, nil
}

func encodeTask(task domain.DeliveryTask) (string, error) {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	b, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("redis: encode task %s: %w", task.RecordID, err)
	}
	return string(b), nil
}

func decodeTask(raw any) (domain.DeliveryTask, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return domain.DeliveryTask{}, fmt.Errorf("redis: task field has type %T", raw)
	}
	var task domain.DeliveryTask
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.DeliveryTask{}, fmt.Errorf("redis: decode task: %w", err)
	}
	if task.RecordID == "" {
		return domain.DeliveryTask{}, errors.New("redis: decode task: empty record id")
	}
	return task, nil
}
