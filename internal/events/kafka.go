package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publishing happens on the request path after commit, so a write that cannot
// reach the brokers gives up quickly and is only logged.
const (
	kafkaBatchTimeout   = 10 * time.Millisecond
	kafkaPublishTimeout = 2 * time.Second
	kafkaMaxAttempts    = 3
)

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by order, so each
// order's history stays ordered within its partition.
type KafkaPublisher struct {
	writer  kafkaMessageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           kafkaBatchTimeout,
			MaxAttempts:            kafkaMaxAttempts,
			WriteTimeout:           kafkaPublishTimeout,
			AllowAutoTopicCreation: true,
		},
		timeout: kafkaPublishTimeout,
	}
}

// NewKafkaPublisherWith is only for tests to inject a fake writer.
func NewKafkaPublisherWith(w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: kafkaPublishTimeout}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.PartitionKey()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "venue_id", Value: []byte(e.VenueID.String())},
		},
		Time: e.OccurredAt,
	})
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }
