// Package kafka implements the notifyhub task queue on Kafka using
// segmentio/kafka-go. Immediate tasks go to the main topic; delayed tasks go
// to a retry topic and are moved back by a Scheduler once due.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

const writeTimeout = 3 * time.Second

// producer writes JSON values keyed by record id, so every message for one
// record lands on the same partition.
type producer struct {
	writer *kgo.Writer
}

func newProducer(brokers []string, topic string) (*producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	return &producer{writer: &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}}, nil
}

func (p *producer) publishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", key, err)
	}

	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka: write %s to %s: %w", key, p.writer.Topic, err)
	}
	return nil
}

func (p *producer) Close() error { return p.writer.Close() }
