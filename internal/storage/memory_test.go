package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreConditionalIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 1; i <= 3; i++ {
		res, err := s.ConditionalIncrement(ctx, "cur", "prev", 3, 0, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(i), res.Current)
	}

	res, err := s.ConditionalIncrement(ctx, "cur", "prev", 3, 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(3), res.Current)
}

func TestMemoryStoreWeightsPreviousWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 10; i++ {
		_, err := s.IncrementWithExpiry(ctx, "prev", time.Minute)
		require.NoError(t, err)
	}

	// 10 * 0.5 = 5 already counted against a limit of 6.
	res, err := s.ConditionalIncrement(ctx, "cur", "prev", 6, 0.5, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(10), res.Previous)

	res, err = s.ConditionalIncrement(ctx, "cur", "prev", 6, 0.5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s := NewMemoryStoreWithClock(func() time.Time { return now })

	_, err := s.IncrementWithExpiry(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "cache", "v", time.Second))

	now = now.Add(2 * time.Second)

	cur, _, err := s.Counts(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur)

	_, err = s.Get(ctx, "cache")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryStoreConcurrentIncrementsNeverExceedLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.ConditionalIncrement(ctx, "cur", "prev", 20, 0, time.Minute)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, allowed)
}
