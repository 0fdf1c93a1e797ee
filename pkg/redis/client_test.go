package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
)

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(redis.Nil))
	assert.True(t, IsNilError(fmt.Errorf("get: %w", redis.Nil)))
	assert.False(t, IsNilError(context.DeadlineExceeded))
}

func TestBoundAppliesOpTimeout(t *testing.T) {
	c := &Client{opTimeout: 50 * time.Millisecond}
	ctx, cancel := c.bound(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	c.opTimeout = 0
	ctx, cancel = c.bound(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestPatternScan(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping redis test: TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewClient(ctx, config.RedisConfig{Addr: addr, PoolSize: 2, OpTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	prefix := fmt.Sprintf("rs-test:%d:", time.Now().UnixNano())
	for i := range 5 {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("%s%d", prefix, i), []byte("page"), time.Minute))
	}
	n, err := c.CountByPattern(ctx, prefix+"*")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	v, err := c.Get(ctx, prefix+"3")
	require.NoError(t, err)
	assert.Equal(t, "page", string(v))

	n, err = c.FlushByPattern(ctx, prefix+"*")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	_, err = c.Get(ctx, prefix+"3")
	assert.True(t, IsNilError(err))
}
