package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
)

// CollectorConfig sizes the collector's queue and batches.
type CollectorConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Collector queues search events without blocking the request path and
// publishes them in batches. Events are dropped when the queue is full.
type Collector struct {
	publisher kafka.Publisher
	topic     string
	cfg       CollectorConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	eventCh chan SearchPerformed
	done    chan struct{}
}

func NewCollector(publisher kafka.Publisher, topic string, cfg CollectorConfig, m *metrics.Metrics) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Collector{
		publisher: publisher,
		topic:     topic,
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "search-event-collector"),
		eventCh:   make(chan SearchPerformed, cfg.BufferSize),
		done:      make(chan struct{}),
	}
}

// Start launches the background publish loop. Cancelling ctx flushes what is
// queued and stops the loop.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.FlushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.cfg.BatchSize)
		for {
			select {
			case ev, ok := <-c.eventCh:
				if !ok {
					c.flush(context.Background(), batch)
					return
				}
				batch = append(batch, kafka.Event{Key: ev.Query, Type: TypeSearchPerformed, RequestID: ev.RequestID, Value: ev})
				if len(batch) >= c.cfg.BatchSize {
					c.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				c.flush(ctx, batch)
				batch = batch[:0]
			case <-ctx.Done():
				batch = c.drain(batch)
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx, batch)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("collector started",
		"buffer_size", c.cfg.BufferSize,
		"batch_size", c.cfg.BatchSize,
		"flush_interval", c.cfg.FlushInterval,
	)
}

// Track enqueues ev and reports whether it was accepted.
func (c *Collector) Track(ev SearchPerformed) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.eventCh <- ev:
		return true
	default:
		c.metrics.EventsPublishedTotal.WithLabelValues(c.topic, "dropped").Inc()
		c.logger.Warn("search event dropped (buffer full)")
		return false
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	close(c.eventCh)
	c.mu.Unlock()
	if started {
		<-c.done
	}
}

func (c *Collector) drain(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, kafka.Event{Key: ev.Query, Type: TypeSearchPerformed, RequestID: ev.RequestID, Value: ev})
		default:
			return batch
		}
	}
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.metrics.EventsPublishedTotal.WithLabelValues(c.topic, "failed").Add(float64(len(batch)))
		c.logger.Error("batch publish failed", "events", len(batch), "error", err)
		return
	}
	c.metrics.EventsPublishedTotal.WithLabelValues(c.topic, "ok").Add(float64(len(batch)))
	c.logger.Debug("batch published", "events", len(batch))
}
