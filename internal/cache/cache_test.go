package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub009/internal/config"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

func newCollection(t *testing.T) *store.Collection {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig().Collection
	c, err := store.Create(dir, "coll", 8, "static", "test-model", cfg)
	require.NoError(t, err)
	return c
}

func TestGetLoadsOnceAndCachesHit(t *testing.T) {
	c := newCollection(t)
	loads := 0
	cache, err := New(4, func(dir string) (*Entry, error) {
		loads++
		fp, err := store.StatFingerprint(store.MetaPath(dir))
		require.NoError(t, err)
		return &Entry{Fingerprint: fp, IDs: store.NewIDIndex()}, nil
	})
	require.NoError(t, err)

	_, err = cache.Get(c.Dir)
	require.NoError(t, err)
	_, err = cache.Get(c.Dir)
	require.NoError(t, err)

	assert.Equal(t, 1, loads)
}

func TestGetReloadsAfterFingerprintChanges(t *testing.T) {
	c := newCollection(t)
	loads := 0
	cache, err := New(4, func(dir string) (*Entry, error) {
		loads++
		fp, err := store.StatFingerprint(store.MetaPath(dir))
		require.NoError(t, err)
		return &Entry{Fingerprint: fp, IDs: store.NewIDIndex()}, nil
	})
	require.NoError(t, err)

	_, err = cache.Get(c.Dir)
	require.NoError(t, err)

	// Force a distinguishable new mtime before the rewrite.
	time.Sleep(2 * time.Millisecond)
	c.Meta.IsStale = !c.Meta.IsStale
	require.NoError(t, c.Meta.Save(store.MetaPath(c.Dir)))

	_, err = cache.Get(c.Dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestInvalidateForcesReload(t *testing.T) {
	c := newCollection(t)
	loads := 0
	cache, err := New(4, func(dir string) (*Entry, error) {
		loads++
		fp, err := store.StatFingerprint(store.MetaPath(dir))
		require.NoError(t, err)
		return &Entry{Fingerprint: fp, IDs: store.NewIDIndex()}, nil
	})
	require.NoError(t, err)

	_, err = cache.Get(c.Dir)
	require.NoError(t, err)
	cache.Invalidate(c.Dir)
	_, err = cache.Get(c.Dir)
	require.NoError(t, err)

	assert.Equal(t, 2, loads)
}

func TestGetPropagatesLoaderError(t *testing.T) {
	c := newCollection(t)
	cache, err := New(4, func(dir string) (*Entry, error) {
		return nil, assertError
	})
	require.NoError(t, err)

	_, err = cache.Get(c.Dir)
	assert.ErrorIs(t, err, assertError)
}

func TestGetMissingCollectionErrors(t *testing.T) {
	cache, err := New(4, func(dir string) (*Entry, error) {
		return &Entry{}, nil
	})
	require.NoError(t, err)

	_, err = cache.Get(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

var assertError = assertErr{}

type assertErr struct{}

func (assertErr) Error() string { return "load failed" }
