package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodegeo/nodegeo/utils"
)

func newTestCache(t *testing.T, size int) (*LocalCache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	lc, err := NewLocalCache(context.Background(), size, DefaultTTL, clock)
	require.NoError(t, err)
	return lc, clock
}

func TestLocalCache_FetchAdd(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestCache(t, 10)

	_, ok := lc.Fetch(ctx, "1.1.1.1")
	assert.False(t, ok)

	lc.Add(ctx, "1.1.1.1", &utils.GeoResult{Address: "1.1.1.1", City: "Sydney"})

	result, ok := lc.Fetch(ctx, "1.1.1.1")
	require.True(t, ok)
	assert.Equal(t, "Sydney", result.City)
	assert.Equal(t, 1, lc.Len())
}

func TestLocalCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestCache(t, 10)

	original := &utils.GeoResult{Address: "1.1.1.1", City: "Sydney"}
	lc.Add(ctx, "1.1.1.1", original)
	original.City = "Changed"

	result, ok := lc.Fetch(ctx, "1.1.1.1")
	require.True(t, ok)
	result.City = "Mutated"

	again, ok := lc.Fetch(ctx, "1.1.1.1")
	require.True(t, ok)
	assert.Equal(t, "Sydney", again.City)
}

func TestLocalCache_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	lc, clock := newTestCache(t, 10)

	lc.Add(ctx, "8.8.8.8", &utils.GeoResult{Address: "8.8.8.8"})

	clock.Advance(DefaultTTL - time.Second)
	_, ok := lc.Fetch(ctx, "8.8.8.8")
	assert.True(t, ok, "entry is still fresh")

	clock.Advance(time.Second)
	assert.Equal(t, 1, lc.Len(), "no background sweep")

	_, ok = lc.Fetch(ctx, "8.8.8.8")
	assert.False(t, ok, "entry expired at exactly ttl")
	assert.Equal(t, 0, lc.Len(), "stale entry removed on read")
}

func TestLocalCache_Clear(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestCache(t, 10)

	lc.Add(ctx, "1.1.1.1", &utils.GeoResult{})
	lc.Add(ctx, "8.8.8.8", &utils.GeoResult{})
	lc.Add(ctx, "9.9.9.9", nil)
	assert.Equal(t, 2, lc.Len())

	lc.Clear(ctx)
	assert.Equal(t, 0, lc.Len())
}

func TestLocalCache_Bounded(t *testing.T) {
	ctx := context.Background()
	lc, _ := newTestCache(t, 2)

	lc.Add(ctx, "1.1.1.1", &utils.GeoResult{})
	lc.Add(ctx, "2.2.2.2", &utils.GeoResult{})
	lc.Add(ctx, "3.3.3.3", &utils.GeoResult{})

	assert.LessOrEqual(t, lc.Len(), 2)
}
