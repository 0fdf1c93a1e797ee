package events

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/resilience"
)

// PublishIndexBuilt announces a new index, retrying transient broker errors.
func PublishIndexBuilt(ctx context.Context, pub kafka.Publisher, ev IndexBuilt) error {
	err := resilience.Retry(ctx, "publish-index-built", resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}, func() error {
		return pub.Publish(ctx, kafka.Event{
			Key:   fmt.Sprintf("generation-%d", ev.Generation),
			Type:  TypeIndexBuilt,
			Value: ev,
		})
	})
	if err != nil {
		return fmt.Errorf("announcing index generation %d: %w", ev.Generation, err)
	}
	return nil
}

// OnIndexBuilt adapts fn into a consumer handler for the index topic.
func OnIndexBuilt(fn func(ctx context.Context, ev IndexBuilt) error) kafka.MessageHandler {
	return kafka.JSONHandler(TypeIndexBuilt, fn)
}
