package kafka

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryMessageDue(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := retryMessage{RecordID: "r1", NextRetryAt: now.Add(90 * time.Second).UnixMilli()}
	assert.Equal(t, 90*time.Second, msg.due(now))
	assert.LessOrEqual(t, msg.due(now.Add(2*time.Minute)), time.Duration(0))
}

func TestNewTaskQueueValidatesConfig(t *testing.T) {
	_, err := NewTaskQueue(Config{Topic: "t", RetryTopic: "r"}, slog.Default())
	require.Error(t, err)

	_, err = NewTaskQueue(Config{Brokers: []string{"localhost:9092"}, Topic: "t"}, slog.Default())
	require.Error(t, err)
}

func TestNewSchedulerRequiresRetryTopic(t *testing.T) {
	_, err := NewScheduler(Config{Brokers: []string{"localhost:9092"}, Topic: "t"}, slog.Default())
	require.Error(t, err)
}
