// Package kafka wraps segmentio/kafka-go for the two event streams: index
// notifications from the pipeline to every search process, and search events
// from the searchers for offline analysis.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/logger"
)

// Message is a consumed record with its headers decoded.
type Message struct {
	Key       []byte
	Value     []byte
	Type      string
	RequestID string
	Time      time.Time
}

type MessageHandler func(ctx context.Context, msg Message) error

const (
	minFetchBackoff = 100 * time.Millisecond
	maxFetchBackoff = 10 * time.Second
)

// Consumer hands messages to a handler and commits each one only after the
// handler succeeded.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger
}

// NewConsumer reads topic as group. Replicas that must all see every message
// pass distinct groups.
func NewConsumer(cfg config.KafkaConfig, group, topic string, handler MessageHandler) *Consumer {
	if group == "" {
		group = cfg.ConsumerGroup
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     group,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			StartOffset: kafka.LastOffset,
		}),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", group),
	}
}

// Start consumes until ctx is cancelled. Fetch errors back off exponentially.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	backoff := minFetchBackoff
	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("fetch failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxFetchBackoff)
			continue
		}
		backoff = minFetchBackoff

		msg := decode(raw)
		hctx := ctx
		if msg.RequestID != "" {
			hctx = logger.WithRequestID(ctx, msg.RequestID)
		}
		if err := c.handler(hctx, msg); err != nil {
			c.logger.Error("handler failed", "type", msg.Type, "partition", raw.Partition, "offset", raw.Offset, "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, raw); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", "partition", raw.Partition, "offset", raw.Offset, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func decode(raw kafka.Message) Message {
	msg := Message{Key: raw.Key, Value: raw.Value, Time: raw.Time}
	for _, h := range raw.Headers {
		switch h.Key {
		case HeaderEventType:
			msg.Type = string(h.Value)
		case HeaderRequestID:
			msg.RequestID = string(h.Value)
		}
	}
	return msg
}

// JSONHandler decodes messages of eventType into T. Messages tagged with a
// different type are skipped; untagged messages are decoded.
func JSONHandler[T any](eventType string, fn func(ctx context.Context, v T) error) MessageHandler {
	return func(ctx context.Context, msg Message) error {
		if msg.Type != "" && eventType != "" && msg.Type != eventType {
			return nil
		}
		var v T
		if err := json.Unmarshal(msg.Value, &v); err != nil {
			return fmt.Errorf("decoding %s message: %w", eventType, err)
		}
		return fn(ctx, v)
	}
}
