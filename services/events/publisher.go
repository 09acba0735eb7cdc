package events

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/learnsphere/course-market-api/model"
)

// Publisher delivers outbox events to Kafka. It is owned by the outbox
// dispatcher; nothing publishes from inside a database transaction.
type Publisher struct {
	writer *kafka.Writer
	topic  string
}

// Config holds Kafka connection settings
type Config struct {
	Brokers string // comma-separated list
	Topic   string
}

// NewPublisher creates a Kafka publisher; returns nil when no brokers
// are configured so event dispatch can be disabled cleanly.
func NewPublisher(config Config) *Publisher {
	var brokers []string
	for _, b := range strings.Split(config.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		Async:        false,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
	}

	return &Publisher{
		writer: writer,
		topic:  config.Topic,
	}
}

// Publish sends one outbox event. The event type becomes the message key
// so consumers can partition by kind.
func (p *Publisher) Publish(ctx context.Context, event *model.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.EventType),
		Value: []byte(event.Payload),
		Headers: []kafka.Header{
			{Key: "aggregate_type", Value: []byte(event.AggregateType)},
		},
	})
}

// Close shuts down the underlying writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
