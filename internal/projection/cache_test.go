package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub009/internal/quantize"
)

func TestKeyForDeterministic(t *testing.T) {
	k1 := KeyFor("/abs/path/to/collection")
	k2 := KeyFor("/abs/path/to/collection")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestCachePutGet(t *testing.T) {
	c, err := NewMatrixCache(10, time.Hour)
	require.NoError(t, err)

	m := quantize.NewMatrix(4, "test")
	key := KeyFor("/some/path")

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, m)
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, m, got)
}

func TestCacheExpiresByTTL(t *testing.T) {
	c, err := NewMatrixCache(10, time.Minute)
	require.NoError(t, err)

	now := time.Now()
	c.clock = func() time.Time { return now }

	m := quantize.NewMatrix(4, "test")
	key := KeyFor("/expiring/path")
	c.Put(key, m)

	now = now.Add(2 * time.Minute)
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestEvictExpiredRemovesStaleEntries(t *testing.T) {
	c, err := NewMatrixCache(10, time.Minute)
	require.NoError(t, err)

	now := time.Now()
	c.clock = func() time.Time { return now }

	c.Put("a", quantize.NewMatrix(4, "a"))
	now = now.Add(2 * time.Minute)
	c.Put("b", quantize.NewMatrix(4, "b"))

	removed := c.EvictExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
}

func TestIdleSinceTracksMostRecent(t *testing.T) {
	c, err := NewMatrixCache(10, time.Hour)
	require.NoError(t, err)

	now := time.Now()
	c.clock = func() time.Time { return now }
	c.Put("a", quantize.NewMatrix(4, "a"))

	later := now.Add(time.Minute)
	c.clock = func() time.Time { return later }
	c.Put("b", quantize.NewMatrix(4, "b"))

	latest, found := c.IdleSince()
	require.True(t, found)
	assert.True(t, latest.Equal(later) || latest.After(now))
}
