package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

const commitTimeout = 3 * time.Second

// errUndecodable marks a message that was committed without being handled.
var errUndecodable = errors.New("undecodable message")

// consumer reads from one topic in a consumer group with manual commits.
type consumer struct {
	reader *kgo.Reader
}

func newConsumer(brokers []string, topic, groupID string) *consumer {
	return &consumer{reader: kgo.NewReader(kgo.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})}
}

// fetchJSON blocks for the next message and decodes it into v. The returned
// commit function must be called after the message has been handled.
// Undecodable messages are committed straight away and reported as errors.
func (c *consumer) fetchJSON(ctx context.Context, v any) (func(context.Context) error, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(m.Value, v); err != nil {
		_ = c.reader.CommitMessages(ctx, m)
		return nil, fmt.Errorf("kafka: %w at %s/%d/%d: %v", errUndecodable, m.Topic, m.Partition, m.Offset, err)
	}

	commit := func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, commitTimeout)
		defer cancel()
		if err := c.reader.CommitMessages(cctx, m); err != nil {
			return fmt.Errorf("kafka: commit %s/%d/%d: %w", m.Topic, m.Partition, m.Offset, err)
		}
		return nil
	}
	return commit, nil
}

func (c *consumer) Close() error { return c.reader.Close() }
