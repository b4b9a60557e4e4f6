package rebuild

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jsbattig/code-indexer-sub009/internal/metrics"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

// Kind names which artifact a rebuild cycle produces.
type Kind string

const (
	KindHNSW    Kind = "hnsw"
	KindIDIndex Kind = "id_index"
	KindFTS     Kind = "fts"
)

// ArtifactPaths maps each built tmp file to the final path it should be
// renamed to. An empty map means there is nothing left to rename; it does
// not abort the rebuild (BuildResult.Aborted does), so the metadata is
// still saved.
type ArtifactPaths map[string]string

// BuildResult is what a BuilderFunc reports back. Some artifact types
// (the HNSW graph, the id index) already perform their own tmp+rename
// internally via their Save method, the same discipline the teacher's
// HNSWStore.Save uses — for those, Artifacts is left empty and Aborted
// false, since the rename already happened inside build(). Other
// artifact types (the FTS directory swap) hand their tmp->final pairs
// back for Rebuild to rename. Aborted true means build() decided
// nothing needed to change; Rebuild skips both renaming and the
// metadata save in that case.
type BuildResult struct {
	Artifacts ArtifactPaths
	Aborted   bool
}

// BuilderFunc builds new artifact(s), either renaming them itself or
// returning tmp->final pairs for Rebuild to rename.
type BuilderFunc func() (BuildResult, error)

// OnComplete is invoked once a background rebuild finishes, nil err on
// success.
type OnComplete func(kind Kind, err error)

// Rebuilder runs the lock/clean/build/rename protocol for one
// collection directory.
type Rebuilder struct {
	CollectionDir string
	Metrics       *metrics.Registry
}

// New binds a Rebuilder to a collection directory.
func New(collectionDir string) *Rebuilder {
	return &Rebuilder{CollectionDir: collectionDir}
}

// CleanOrphanedTemps removes every *.tmp file under the collection,
// left behind by a worker that died between building and renaming.
// Safe only while holding the exclusive rebuild lock.
func (r *Rebuilder) CleanOrphanedTemps() error {
	return filepath.WalkDir(r.CollectionDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmp") {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return rmErr
		}
		return nil
	})
}

// Rebuild runs one full cycle for kind:
//  1. acquire the exclusive lock (blocking)
//  2. clean orphaned *.tmp files
//  3. invoke build to produce new artifact(s) into sibling *.tmp files
//  4. rename each tmp -> final
//  5. save meta last, so its fingerprint only changes once every
//     artifact it describes is already visible on disk
//  6. release the lock
//
// If the worker dies between steps 3 and 5, the *.tmp files are cleaned
// up by the next Rebuild call's step 2; either the old artifacts remain
// fully valid (no rename happened) or the new ones are fully visible.
func (r *Rebuilder) Rebuild(kind Kind, meta *store.Meta, build BuilderFunc) error {
	if r.Metrics != nil {
		r.Metrics.RebuildsStarted.Inc()
	}
	start := time.Now()
	err := r.rebuild(kind, meta, build)
	if r.Metrics != nil {
		r.Metrics.RebuildDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			r.Metrics.RebuildFailures.Inc()
		}
	}
	return err
}

func (r *Rebuilder) rebuild(kind Kind, meta *store.Meta, build BuilderFunc) error {
	lock := NewLock(r.CollectionDir)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	if err := r.CleanOrphanedTemps(); err != nil {
		return fmt.Errorf("clean orphaned temp files: %w", err)
	}

	result, err := build()
	if err != nil {
		return fmt.Errorf("build %s artifacts: %w", kind, err)
	}
	if result.Aborted {
		return nil
	}

	for tmp, final := range result.Artifacts {
		if err := os.Rename(tmp, final); err != nil {
			return fmt.Errorf("rename %s artifact %s into place: %w", kind, final, err)
		}
	}

	meta.IsStale = false
	if err := meta.Save(store.MetaPath(r.CollectionDir)); err != nil {
		return fmt.Errorf("save collection meta after %s rebuild: %w", kind, err)
	}
	return nil
}

// RebuildInBackground runs Rebuild in its own goroutine. Concurrent
// rebuild requests serialize on the lock; there is no de-duplication,
// matching the concurrency contract's explicit simplicity choice.
func (r *Rebuilder) RebuildInBackground(kind Kind, meta *store.Meta, build BuilderFunc, onComplete OnComplete) {
	go func() {
		err := r.Rebuild(kind, meta, build)
		if onComplete != nil {
			onComplete(kind, err)
		}
	}()
}
