package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub009/internal/config"
)

func testCollectionConfig() config.CollectionConfig {
	cfg := config.NewConfig()
	return cfg.Collection
}

func newTestPoint(id, path string, vec []float32) *Point {
	return &Point{
		ID:             id,
		FilePath:       path,
		StartLine:      1,
		EndLine:        10,
		ChunkHash:      "deadbeef",
		Vector:         vec,
		ChunkText:      "func example() {}",
		IndexedAt:      time.Now().UTC(),
		EmbeddingModel: "test-model",
	}
}

func randomVector(dims, seed int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32((seed*31+i*7)%97) / 97.0
	}
	return v
}

func TestCreateAndOpenCollectionRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()

	c, err := Create(dir, "test-collection", 32, "static", "test-model", cfg)
	require.NoError(t, err)
	assert.Equal(t, 32, c.Meta.VectorSize)
	assert.True(t, c.Meta.IsStale)

	reopened, err := Open(dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, c.Meta.Name, reopened.Meta.Name)
	assert.Equal(t, c.Matrix.Rows, reopened.Matrix.Rows)
}

func TestUpsertAndScrollRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()
	c, err := Create(dir, "coll", 16, "static", "test-model", cfg)
	require.NoError(t, err)

	s, err := OpenStore(c, nil)
	require.NoError(t, err)

	points := []*Point{
		newTestPoint("a.go:1-10:h1", "a.go", randomVector(16, 1)),
		newTestPoint("b.go:1-10:h2", "b.go", randomVector(16, 2)),
	}
	meta, err := s.CollectGitMetadata()
	require.NoError(t, err)
	assert.True(t, meta.Dirty) // nil repo always reports dirty

	require.NoError(t, s.UpsertPoints(points, meta))
	assert.Equal(t, 2, s.Count())

	all, next, err := s.Scroll(ScrollOptions{})
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Len(t, all, 2)
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()
	c, err := Create(dir, "coll", 16, "static", "test-model", cfg)
	require.NoError(t, err)

	s, err := OpenStore(c, nil)
	require.NoError(t, err)

	bad := newTestPoint("a.go:1-1:h1", "a.go", randomVector(8, 1))
	err = s.UpsertPoints([]*Point{bad}, &GitMetadata{Dirty: true})
	require.Error(t, err)
}

func TestDeletePointsRemovesFromDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()
	c, err := Create(dir, "coll", 16, "static", "test-model", cfg)
	require.NoError(t, err)

	s, err := OpenStore(c, nil)
	require.NoError(t, err)

	p := newTestPoint("a.go:1-10:h1", "a.go", randomVector(16, 1))
	require.NoError(t, s.UpsertPoints([]*Point{p}, &GitMetadata{Dirty: true}))
	assert.Equal(t, 1, s.Count())

	require.NoError(t, s.DeletePoints([]string{p.ID}))
	assert.Equal(t, 0, s.Count())

	all, _, err := s.Scroll(ScrollOptions{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeletePointsIsNoopForMissingID(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()
	c, err := Create(dir, "coll", 16, "static", "test-model", cfg)
	require.NoError(t, err)

	s, err := OpenStore(c, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeletePoints([]string{"nonexistent"}))
}

func TestDeleteByFilterRemovesMatching(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()
	c, err := Create(dir, "coll", 16, "static", "test-model", cfg)
	require.NoError(t, err)

	s, err := OpenStore(c, nil)
	require.NoError(t, err)

	p1 := newTestPoint("a.py:1-10:h1", "a.py", randomVector(16, 1))
	p2 := newTestPoint("b.go:1-10:h2", "b.go", randomVector(16, 2))
	require.NoError(t, s.UpsertPoints([]*Point{p1, p2}, &GitMetadata{Dirty: true}))

	n, err := s.DeleteByFilter(&Filter{Language: "python"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Count())
}

func TestSearchFallbackFindsExactMatch(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()
	c, err := Create(dir, "coll", 32, "static", "test-model", cfg)
	require.NoError(t, err)

	s, err := OpenStore(c, nil)
	require.NoError(t, err)

	target := randomVector(32, 5)
	points := []*Point{
		newTestPoint("target.go:1-10:h1", "target.go", target),
		newTestPoint("other.go:1-10:h2", "other.go", randomVector(32, 99)),
	}
	require.NoError(t, s.UpsertPoints(points, &GitMetadata{Dirty: true}))

	searcher := NewSearcher(s, nil, cfg)
	result, err := searcher.Search(target, SearchOptions{Limit: 5, Accuracy: "balanced"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	assert.Equal(t, "target.go:1-10:h1", result.Hits[0].ID)
	assert.InDelta(t, 1.0, result.Hits[0].Score, 1e-4)
	assert.False(t, result.Truncated)
}

func TestConsistencyCheckDetectsOrphanVectorFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()
	c, err := Create(dir, "coll", 16, "static", "test-model", cfg)
	require.NoError(t, err)

	s, err := OpenStore(c, nil)
	require.NoError(t, err)

	p := newTestPoint("a.go:1-10:h1", "a.go", randomVector(16, 1))
	require.NoError(t, s.UpsertPoints([]*Point{p}, &GitMetadata{Dirty: true}))

	// Simulate an orphan: remove from the in-memory id index without
	// touching the vector file on disk.
	s.IDs.Remove(p.ID)

	result, err := CheckConsistency(s)
	require.NoError(t, err)
	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, InconsistencyOrphanVectorFile, result.Inconsistencies[0].Type)
}

func TestQuickCheckDetectsCountMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := testCollectionConfig()
	c, err := Create(dir, "coll", 16, "static", "test-model", cfg)
	require.NoError(t, err)

	s, err := OpenStore(c, nil)
	require.NoError(t, err)

	p := newTestPoint("a.go:1-10:h1", "a.go", randomVector(16, 1))
	require.NoError(t, s.UpsertPoints([]*Point{p}, &GitMetadata{Dirty: true}))

	ok, err := QuickCheck(s, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	s.IDs.Remove(p.ID)
	ok, err = QuickCheck(s, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
