package kafka

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/logger"
)

// Header names set on every published message.
const (
	HeaderEventType   = "event-type"
	HeaderRequestID   = "request-id"
	HeaderContentType = "content-type"
)

// Event is one message to publish. Value is JSON encoded; Key picks the
// partition. RequestID falls back to the request ID in the publish context.
type Event struct {
	Key       string
	Type      string
	RequestID string
	Value     any
}

// Publisher is the write side used by the pipeline and the search event
// collector.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	PublishBatch(ctx context.Context, events []Event) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              100,
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Topic() string { return p.topic }

func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch writes events in one synchronous call.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := encode(ctx, events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("publish failed", "count", len(msgs), "error", err)
		return fmt.Errorf("publishing to kafka topic %s: %w", p.topic, err)
	}
	p.logger.Debug("published", "count", len(msgs))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func encode(ctx context.Context, events []Event) ([]kafka.Message, error) {
	fallbackID := logger.RequestID(ctx)
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s event: %w", ev.Type, err)
		}
		headers := []kafka.Header{{Key: HeaderContentType, Value: []byte("application/json")}}
		if ev.Type != "" {
			headers = append(headers, kafka.Header{Key: HeaderEventType, Value: []byte(ev.Type)})
		}
		if id := cmp.Or(ev.RequestID, fallbackID); id != "" {
			headers = append(headers, kafka.Header{Key: HeaderRequestID, Value: []byte(id)})
		}
		msgs = append(msgs, kafka.Message{Key: []byte(ev.Key), Value: value, Headers: headers})
	}
	return msgs, nil
}
