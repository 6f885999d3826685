package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "notifyhub_queue_depth",
	Help: "Delivery tasks waiting in the task queue, by state (ready, delayed).",
}, []string{"state"})

// DepthSource is a task queue that can report its backlog. The Redis and
// in-memory queues satisfy it; Kafka does not.
type DepthSource interface {
	Depth(ctx context.Context) (ready int64, delayed int64, err error)
}

// QueueDepthLoop returns a Loop that samples src every interval into the
// notifyhub_queue_depth gauge.
func QueueDepthLoop(src DepthSource, interval time.Duration, logger *slog.Logger) Loop {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	logger = logger.With(slog.String("component", "queue_depth"))
	return Loop{
		Name: "queue depth",
		Run: func(ctx context.Context) error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				sampleDepth(ctx, src, logger)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}
}

func sampleDepth(ctx context.Context, src DepthSource, logger *slog.Logger) {
	ready, delayed, err := src.Depth(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.WarnContext(ctx, "queue depth failed", slog.String("error", err.Error()))
		}
		return
	}
	queueDepth.WithLabelValues("ready").Set(float64(ready))
	queueDepth.WithLabelValues("delayed").Set(float64(delayed))
}
