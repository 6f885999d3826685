package domain

import (
	"context"
	"time"
)

// QueuedTask is a task handed to a consumer. Ack must be called once the
// task has been fully handled (including any re-enqueue); an un-acked task is
// redelivered by the backend after its visibility timeout.
type QueuedTask struct {
	Task DeliveryTask
	Ack  func(ctx context.Context) error
}

// TaskQueue carries DeliveryTasks from the dispatcher to workers.
type TaskQueue interface {
	Enqueue(ctx context.Context, task DeliveryTask) error
	// EnqueueAfter makes the task visible to consumers no earlier than
	// delay from now.
	EnqueueAfter(ctx context.Context, task DeliveryTask, delay time.Duration) error
	// Receive blocks until a task is available or ctx is done.
	Receive(ctx context.Context) (QueuedTask, error)
}
