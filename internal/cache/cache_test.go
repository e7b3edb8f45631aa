package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)

	assert.Equal(t, Stats{Hits: 1, Misses: 1}, m.Stats())
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, m.Invalidate(ctx, "k"))
	_, ok, _ := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestGetOrLoadReadsThrough(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	loads := 0
	load := func(context.Context) ([]string, error) {
		loads++
		return []string{"USDC:G->EURC:G"}, nil
	}

	first, err := GetOrLoad(ctx, m, "rows", time.Minute, load)
	require.NoError(t, err)
	second, err := GetOrLoad(ctx, m, "rows", time.Minute, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, loads)
	assert.Equal(t, uint64(1), m.Stats().Hits)
}

func TestGetOrLoadPropagatesLoadError(t *testing.T) {
	boom := errors.New("db down")
	_, err := GetOrLoad(context.Background(), NewMemory(), "rows", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestHourKey(t *testing.T) {
	hour := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	assert.Equal(t, "corridor_metrics:hour:1714554000", HourKey(hour))
}

func TestInvalidateAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	gen, err := m.Generation(ctx, "hour")
	require.NoError(t, err)
	assert.Zero(t, gen)

	require.NoError(t, m.Invalidate(ctx, "hour"))
	require.NoError(t, m.Invalidate(ctx, "hour"))
	gen, err = m.Generation(ctx, "hour")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
}

func TestGetOrLoadDropsLoadRacingInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	stored := "old"

	got, err := GetOrLoad(ctx, m, "hour", time.Minute, func(ctx context.Context) (string, error) {
		read := stored
		// A writer commits new rows and invalidates before this load caches.
		stored = "new"
		require.NoError(t, m.Invalidate(ctx, "hour"))
		return read, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "old", got)

	got, err = GetOrLoad(ctx, m, "hour", time.Minute, func(context.Context) (string, error) {
		return stored, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}
