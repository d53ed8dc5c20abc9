//go:build integration

package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	c, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestStore(t *testing.T) {
	rdb := newTestClient(t)
	s := NewStore(rdb, time.Minute, "test:")
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	seen, err := s.Seen(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, "pay-1"))
	seen, err = s.Seen(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := rdb.TTL(ctx, "test:pay-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, rdb.Expire(ctx, "test:pay-1", 5*time.Second).Err())
	require.NoError(t, s.Mark(ctx, "pay-1"))
	ttl, err = rdb.TTL(ctx, "test:pay-1").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 5*time.Second, "re-marking keeps the original expiry")
}
