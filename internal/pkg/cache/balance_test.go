package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestBalanceCache_SetGetInvalidate(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewBalanceCache(client, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	version, err := c.Version(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, version)

	written, err := c.Set(ctx, 1, version, 70, 0)
	require.NoError(t, err)
	assert.True(t, written)

	val, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(70), val)

	require.NoError(t, c.Invalidate(ctx, 1))
	_, ok, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	version, err = c.Version(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

// 查库期间发生 Invalidate，旧余额不能写回
func TestBalanceCache_SetAfterInvalidateIsDropped(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewBalanceCache(client, time.Minute)
	ctx := context.Background()

	readVersion, err := c.Version(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, 3))

	written, err := c.Set(ctx, 3, readVersion, 100, 0)
	require.NoError(t, err)
	assert.False(t, written)

	_, ok, err := c.Get(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	current, err := c.Version(ctx, 3)
	require.NoError(t, err)
	written, err = c.Set(ctx, 3, current, 40, 0)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestBalanceCache_Expires(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewBalanceCache(client, 30*time.Second)
	ctx := context.Background()

	_, err := c.Set(ctx, 2, 0, 10, 0)
	require.NoError(t, err)
	mr.FastForward(31 * time.Second)

	_, ok, err := c.Get(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBalanceCache_ShorterTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewBalanceCache(client, time.Minute)
	ctx := context.Background()

	_, err := c.Set(ctx, 4, 0, 10, 2*time.Second)
	require.NoError(t, err)
	assert.LessOrEqual(t, mr.TTL(balanceKey(4)), 2*time.Second)

	// 超过默认值按默认值
	_, err = c.Set(ctx, 5, 0, 10, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(balanceKey(5)))

	written, err := c.Set(ctx, 6, 0, 10, time.Microsecond)
	require.NoError(t, err)
	assert.False(t, written)
}

func TestBalanceCache_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewBalanceCache(client, time.Minute)
	mr.Close()

	_, _, err := c.Get(context.Background(), 1)
	assert.Error(t, err)

	_, err = c.Version(context.Background(), 1)
	assert.Error(t, err)
}
