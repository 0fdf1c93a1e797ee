// Package cache keeps rendered result pages in Redis. Keys carry the index
// generation, so a reload never serves pages ranked against an older
// snapshot even before stale keys are flushed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/research-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "rs:search:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CountByPattern(ctx context.Context, pattern string) (int64, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one page of results for one index generation.
type Key struct {
	Generation uint64
	Terms      []string
	Page       int
	PageSize   int
}

func (k Key) String() string {
	terms := append([]string(nil), k.Terms...)
	sort.Strings(terms)
	raw := fmt.Sprintf("%s|page=%d|size=%d", strings.Join(terms, ","), k.Page, k.PageSize)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%d:%x", keyPrefix, k.Generation, hash[:16])
}

type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Total   int64  `json:"total"`
	HitRate string `json:"hit_rate"`
	Keys    int64  `json:"keys"`
	Breaker string `json:"breaker"`
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	if m == nil {
		m = metrics.NewNop()
	}
	c := &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     15 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return c
}

// Get looks a page up. Redis errors and an open breaker count as misses.
func (c *QueryCache) Get(ctx context.Context, key Key) (*executor.Page, bool) {
	k := key.String()
	var data []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		v, err := c.store.Get(ctx, k)
		if err != nil && !pkgredis.IsNilError(err) {
			return err
		}
		data = v
		return nil
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", k, "error", err)
	}
	if err != nil || data == nil {
		c.recordMiss()
		return nil, false
	}
	var page executor.Page
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHitsTotal.Inc()
	return &page, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, page *executor.Page) {
	k := key.String()
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, k, data, c.ttl)
	}); err != nil {
		c.logger.Warn("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached page or computes it once for all
// concurrent callers asking for the same key. The bool reports a cache hit.
//
// The shared computation runs detached from any one caller's cancellation;
// a caller whose context ends stops waiting without failing the others. A
// page computed against a generation other than key.Generation is returned
// but not stored.
func (c *QueryCache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (*executor.Page, error)) (*executor.Page, bool, error) {
	if page, ok := c.Get(ctx, key); ok {
		return page, true, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		page, err := compute(shared)
		if err != nil {
			return nil, err
		}
		if page.Generation != key.Generation {
			c.logger.Debug("index reloaded during search, not caching",
				"key_generation", key.Generation, "page_generation", page.Generation)
			return page, nil
		}
		c.Set(shared, key, page)
		return page, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*executor.Page), false, nil
	}
}

// Invalidate drops every cached page across all generations.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats(ctx context.Context) Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Hits:    hits,
		Misses:  misses,
		Total:   hits + misses,
		Breaker: c.breaker.State().String(),
	}
	if s.Total > 0 {
		s.HitRate = fmt.Sprintf("%.1f%%", float64(hits)/float64(s.Total)*100)
	} else {
		s.HitRate = "0.0%"
	}
	if n, err := c.store.CountByPattern(ctx, keyPrefix+"*"); err == nil {
		s.Keys = n
	} else {
		c.logger.Warn("counting cache keys failed", "error", err)
	}
	return s
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	c.metrics.CacheMissesTotal.Inc()
}
