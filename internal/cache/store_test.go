package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore().WithClock(clock.now)

	ok, err := store.SetNX(ctx, "view:v1:s1", "1", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "view:v1:s1", "1", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second set inside the window must fail")

	clock.t = clock.t.Add(30 * time.Minute)
	ok, err = store.SetNX(ctx, "view:v1:s1", "1", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "key expires at the end of the window")
}

func TestMemoryStoreIncrWithTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore().WithClock(clock.now)

	for i := int64(1); i <= 3; i++ {
		n, err := store.IncrWithTTL(ctx, "freq", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// The window is fixed from the first increment
	clock.t = clock.t.Add(59 * time.Minute)
	n, err := store.IncrWithTTL(ctx, "freq", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	clock.t = clock.t.Add(time.Minute)
	n, err = store.GetInt(ctx, "freq")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryStoreGetMiss(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(context.Background(), "k", "v", 0))
	v, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, store.Del(context.Background(), "k"))
	_, err = store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrMiss)
}
