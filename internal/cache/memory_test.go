package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLayerTTLExpiry(t *testing.T) {
	m := NewMemoryLayer(16)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLayerLRUEviction(t *testing.T) {
	m := NewMemoryLayer(3)
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Hour))
		time.Sleep(time.Millisecond)
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, _, _ = m.Get(ctx, "k0")
	require.NoError(t, m.Set(ctx, "k3", []byte("v"), time.Hour))

	_, ok, _ := m.Get(ctx, "k1")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "k0")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "k3")
	assert.True(t, ok)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 3, stats.Entries)
}

func TestMemoryLayerDeletePrefix(t *testing.T) {
	m := NewMemoryLayer(16)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "emg:result:a", []byte("v"), time.Hour))
	require.NoError(t, m.Set(ctx, "emg:result:b", []byte("v"), time.Hour))
	require.NoError(t, m.Set(ctx, "other:c", []byte("v"), time.Hour))

	require.NoError(t, m.DeletePrefix(ctx, "emg:result:"))

	_, ok, _ := m.Get(ctx, "emg:result:a")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "other:c")
	assert.True(t, ok)
}

func TestMemoryLayerStats(t *testing.T) {
	m := NewMemoryLayer(16)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Hour))
	_, _, _ = m.Get(ctx, "k")
	_, _, _ = m.Get(ctx, "missing")

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.01)
}
