package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaConfig configures the broker connection.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher writes events to a single topic, keyed by aggregate ID so
// every event of one invoice or contract lands on the same partition.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

// NewKafkaPublisher creates a publisher. No connection is made until the
// first Publish.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends events synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, 0, len(evts))
	for _, e := range evts {
		msg, err := toMessage(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: write %d messages: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(e Event) (kafkago.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("kafka: encode event %s: %w", e.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(e.AggregateID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID.String())},
		},
		Time: e.OccurredAt,
	}, nil
}
