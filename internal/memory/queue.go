package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// Queue is an in-process domain.TaskQueue. Delayed tasks are held by timers;
// nothing survives a restart, which is why the reaper re-enqueues stale
// Pending records.
type Queue struct {
	mu     sync.Mutex
	ready  []domain.DeliveryTask
	timers map[*time.Timer]struct{}
	signal chan struct{}
	closed bool
}

var _ domain.TaskQueue = (*Queue)(nil)

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		timers: make(map[*time.Timer]struct{}),
		signal: make(chan struct{}, 1),
	}
}

func (q *Queue) Enqueue(_ context.Context, task domain.DeliveryTask) error {
	q.push(task)
	return nil
}

func (q *Queue) EnqueueAfter(ctx context.Context, task domain.DeliveryTask, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, task)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		q.push(task)
	})
	q.timers[t] = struct{}{}
	return nil
}

func (q *Queue) Receive(ctx context.Context) (domain.QueuedTask, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			task := q.ready[0]
			q.ready = q.ready[1:]
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				q.notify()
			}
			return domain.QueuedTask{Task: task, Ack: func(context.Context) error { return nil }}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.QueuedTask{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of tasks ready for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Delayed returns the number of tasks waiting on a timer.
func (q *Queue) Delayed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Depth reports Len and Delayed together, matching the Redis queue.
func (q *Queue) Depth(_ context.Context) (ready int64, delayed int64, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), int64(len(q.timers)), nil
}

// Close stops pending timers. Tasks already ready stay receivable.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	return nil
}

func (q *Queue) push(task domain.DeliveryTask) {
	q.mu.Lock()
	q.ready = append(q.ready, task)
	q.mu.Unlock()
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
