package fts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub009/internal/config"
	"github.com/jsbattig/code-indexer-sub009/internal/rebuild"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

func newTestCollection(t *testing.T) *store.FSStore {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig().Collection
	c, err := store.Create(dir, "coll", 4, "static", "test-model", cfg)
	require.NoError(t, err)
	fs, err := store.OpenStore(c, nil)
	require.NoError(t, err)
	return fs
}

func vec(seed int) []float32 {
	v := make([]float32, 4)
	for i := range v {
		v[i] = float32((seed*31+i*7)%97) / 97.0
	}
	return v
}

func contentByID(points map[string]string) Materialize {
	return func(p *store.Point) (string, error) {
		return points[p.ID], nil
	}
}

func TestBuildFuncAbortsOnEmptyCollection(t *testing.T) {
	fs := newTestCollection(t)
	b := New(fs.Collection.Dir)

	result, err := b.BuildFunc(fs, contentByID(nil))()
	require.NoError(t, err)
	assert.True(t, result.Aborted)
}

func TestBuildFuncProducesSearchableIndex(t *testing.T) {
	fs := newTestCollection(t)
	points := []*store.Point{
		{ID: "a.go:1-1:h1", FilePath: "a.go", Vector: vec(1), ChunkText: "hello", IndexedAt: time.Now().UTC()},
		{ID: "b.go:1-1:h2", FilePath: "b.go", Vector: vec(2), ChunkText: "world", IndexedAt: time.Now().UTC()},
	}
	require.NoError(t, fs.UpsertPoints(points, &store.GitMetadata{Dirty: true}))

	contents := map[string]string{
		"a.go:1-1:h1": "func greet() { fmt.Println(\"hello\") }",
		"b.go:1-1:h2": "func shout() { fmt.Println(\"world\") }",
	}

	b := New(fs.Collection.Dir)
	r := rebuild.New(fs.Collection.Dir)
	err := r.Rebuild(rebuild.KindFTS, fs.Collection.Meta, b.BuildFunc(fs, contentByID(contents)))
	require.NoError(t, err)

	idx, err := Open(fs.Collection.Dir)
	require.NoError(t, err)
	require.NotNil(t, idx)
	defer idx.Close()

	q := bleve.NewMatchQuery("greet")
	req := bleve.NewSearchRequest(q)
	res, err := idx.Search(req)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "a.go:1-1:h1", res.Hits[0].ID)
}

func TestBuildFuncReplacesPreviousGeneration(t *testing.T) {
	fs := newTestCollection(t)
	p1 := []*store.Point{{ID: "a.go:1-1:h1", FilePath: "a.go", Vector: vec(1), ChunkText: "v1", IndexedAt: time.Now().UTC()}}
	require.NoError(t, fs.UpsertPoints(p1, &store.GitMetadata{Dirty: true}))

	b := New(fs.Collection.Dir)
	r := rebuild.New(fs.Collection.Dir)
	err := r.Rebuild(rebuild.KindFTS, fs.Collection.Meta,
		b.BuildFunc(fs, contentByID(map[string]string{"a.go:1-1:h1": "v1"})))
	require.NoError(t, err)

	p2 := []*store.Point{{ID: "b.go:1-1:h2", FilePath: "b.go", Vector: vec(2), ChunkText: "v2", IndexedAt: time.Now().UTC()}}
	require.NoError(t, fs.UpsertPoints(p2, &store.GitMetadata{Dirty: true}))

	err = r.Rebuild(rebuild.KindFTS, fs.Collection.Meta,
		b.BuildFunc(fs, contentByID(map[string]string{"b.go:1-1:h2": "v2"})))
	require.NoError(t, err)

	idx, err := Open(fs.Collection.Dir)
	require.NoError(t, err)
	require.NotNil(t, idx)
	defer idx.Close()

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	_, err = os.Stat(filepath.Join(fs.Collection.Dir, Dirname+tmpSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenReturnsNilWhenIndexNotBuilt(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	require.NoError(t, err)
	assert.Nil(t, idx)
}
