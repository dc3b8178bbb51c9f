package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client), mr
}

func TestRedisConditionalIncrement(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	for i := 1; i <= 5; i++ {
		res, err := r.ConditionalIncrement(ctx, "rl:cur", "rl:prev", 5, 0.25, 2*time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		assert.Equal(t, int64(i), res.Current)
	}

	res, err := r.ConditionalIncrement(ctx, "rl:cur", "rl:prev", 5, 0.25, 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(5), res.Current)

	assert.True(t, mr.TTL("rl:cur") > 0)
}

func TestRedisConditionalIncrementUsesPreviousWindow(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	require.NoError(t, mr.Set("rl:prev", "8"))

	// 8 * 0.5 = 4 against a limit of 5 leaves one slot.
	res, err := r.ConditionalIncrement(ctx, "rl:cur", "rl:prev", 5, 0.5, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(8), res.Previous)

	res, err = r.ConditionalIncrement(ctx, "rl:cur", "rl:prev", 5, 0.5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRedisIncrementWithExpiry(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	n, err := r.IncrementWithExpiry(ctx, "fw", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = r.IncrementWithExpiry(ctx, "fw", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mr.FastForward(61 * time.Second)
	n, err = r.IncrementWithExpiry(ctx, "fw", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisCountsAndCache(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	cur, prev, err := r.Counts(ctx, "a", "b")
	require.NoError(t, err)
	assert.Zero(t, cur)
	assert.Zero(t, prev)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, r.Set(ctx, "k", "v", time.Minute))
	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, r.Del(ctx, "k"))
	_, err = r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisClientFailsWhenServerDown(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	_, err := r.ConditionalIncrement(context.Background(), "a", "b", 1, 0, time.Minute)
	assert.Error(t, err)
}
