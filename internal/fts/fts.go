// Package fts provides the optional full-text rebuild hook: given a
// collection's points, build a fresh bleve index into a sibling tmp
// directory and hand the tmp/final pair back to internal/rebuild for the
// same atomic rename-into-place discipline every other artifact uses.
// Query-time ranking is deliberately not implemented here — only the
// artifact the rebuild cycle produces.
package fts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"

	"github.com/jsbattig/code-indexer-sub009/internal/rebuild"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

// Dirname is the on-disk directory name for the full-text index within a
// collection, "fts" rather than the spec's "tantivy_fts" since this
// implementation is bleve-backed, not Tantivy-backed (see DESIGN.md).
const Dirname = "fts"

const tmpSuffix = ".tmp"

// Document is one searchable unit handed to the index: a materialized
// point's content, keyed by the point's stable ID.
type Document struct {
	ID      string
	Content string
}

// bleveDoc is the structure actually stored per-document; mirrors the
// teacher's BleveDocument shape (one "content" field, default-analyzed).
type bleveDoc struct {
	Content string `json:"content"`
}

// Materialize resolves a point to the text the full-text index should
// store for it. Callers typically pass internal/materialize.Materializer.Materialize
// wrapped to discard staleness, since the FTS hook has no concept of
// staleness — it always reflects whatever the rebuild saw at build time.
type Materialize func(p *store.Point) (string, error)

// Builder rebuilds the full-text index for one collection directory.
type Builder struct {
	CollectionDir string
}

// New binds a Builder to a collection directory.
func New(collectionDir string) *Builder {
	return &Builder{CollectionDir: collectionDir}
}

// BuildFunc returns a rebuild.BuilderFunc that scrolls every point in fs,
// materializes its content via materialize, and writes a fresh bleve
// index to a tmp directory. The rename into the final "fts" directory is
// left to rebuild.Rebuild, via the returned ArtifactPaths.
func (b *Builder) BuildFunc(fs *store.FSStore, materialize Materialize) rebuild.BuilderFunc {
	return func() (rebuild.BuildResult, error) {
		points, _, err := fs.Scroll(store.ScrollOptions{})
		if err != nil {
			return rebuild.BuildResult{}, err
		}
		if len(points) == 0 {
			return rebuild.BuildResult{Aborted: true}, nil
		}

		finalDir := filepath.Join(b.CollectionDir, Dirname)
		tmpDir := finalDir + tmpSuffix
		if err := os.RemoveAll(tmpDir); err != nil {
			return rebuild.BuildResult{}, fmt.Errorf("clear stale fts tmp dir: %w", err)
		}
		// os.Rename cannot replace a non-empty directory, so the previous
		// generation's index is cleared here, under the same exclusive
		// rebuild lock, rather than left for Rebuild's plain os.Rename.
		if err := os.RemoveAll(finalDir); err != nil {
			return rebuild.BuildResult{}, fmt.Errorf("clear previous fts dir: %w", err)
		}

		mapping := bleve.NewIndexMapping()
		idx, err := bleve.New(tmpDir, mapping)
		if err != nil {
			return rebuild.BuildResult{}, fmt.Errorf("create fts index at %s: %w", tmpDir, err)
		}
		defer idx.Close()

		batch := idx.NewBatch()
		for _, p := range points {
			content, err := materialize(p)
			if err != nil {
				return rebuild.BuildResult{}, fmt.Errorf("materialize %s for fts: %w", p.ID, err)
			}
			if err := batch.Index(p.ID, bleveDoc{Content: content}); err != nil {
				return rebuild.BuildResult{}, fmt.Errorf("index %s into fts batch: %w", p.ID, err)
			}
		}
		if err := idx.Batch(batch); err != nil {
			return rebuild.BuildResult{}, fmt.Errorf("execute fts batch: %w", err)
		}

		return rebuild.BuildResult{Artifacts: rebuild.ArtifactPaths{tmpDir: finalDir}}, nil
	}
}

// Open opens the collection's existing full-text index read-only,
// returning (nil, nil) if it hasn't been built yet — there is no
// query-time ranking here, only enough surface for a caller to confirm
// the index exists and hand it off to a future ranking layer.
func Open(collectionDir string) (bleve.Index, error) {
	path := filepath.Join(collectionDir, Dirname)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return bleve.Open(path)
}
