package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseVersions checks the contract every implementation shares.
func exerciseVersions(t *testing.T, c BalanceCache) {
	ctx := context.Background()
	id := uuid.New()

	_, hit, err := c.Get(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, id, 0, 1_500))
	v, hit, err := c.Get(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, models.Money(1_500), v)

	// after a write the reader asks for the next version and misses
	_, hit, err = c.Get(ctx, id, 1)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, id, 1, 2_000))
	v, hit, err = c.Get(ctx, id, 1)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, models.Money(2_000), v)

	_, hit, err = c.Get(ctx, uuid.New(), 1)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryCache(t *testing.T) {
	exerciseVersions(t, NewInMemory())
}

func TestInMemoryCacheIgnoresOlderVersions(t *testing.T) {
	c := NewInMemory()
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, c.Set(ctx, id, 3, 300))
	// a slow reader finishing a fold of version 2 must not replace version 3
	require.NoError(t, c.Set(ctx, id, 2, 200))

	v, hit, err := c.Get(ctx, id, 3)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, models.Money(300), v)

	_, hit, err = c.Get(ctx, id, 2)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	exerciseVersions(t, NewRedis(client, time.Minute))
}

func TestNoopCacheNeverHits(t *testing.T) {
	c := NewNoop()
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, c.Set(ctx, id, 0, 10))
	_, hit, err := c.Get(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, hit)
}
