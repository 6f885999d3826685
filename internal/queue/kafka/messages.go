package kafka

import "time"

// taskMessage is the value written to the main topic.
type taskMessage struct {
	RecordID   string    `json:"record_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// retryMessage is the value written to the retry topic. NextRetryAt is epoch
// milliseconds.
type retryMessage struct {
	RecordID    string `json:"record_id"`
	NextRetryAt int64  `json:"next_retry_at"`
}

func (m retryMessage) due(now time.Time) time.Duration {
	return time.UnixMilli(m.NextRetryAt).Sub(now)
}
