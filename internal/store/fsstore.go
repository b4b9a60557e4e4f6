package store

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jsbattig/code-indexer-sub009/internal/coreerrors"
	"github.com/jsbattig/code-indexer-sub009/internal/gitrepo"
)

// FSStore is the filesystem-backed vector store: a collection's
// projection matrix + metadata + per-point files, with an in-memory id
// index accreting during a session. The HNSW recall index and the
// on-disk id index are derived artifacts owned by the background
// rebuilder (internal/rebuild), not written here directly — a write
// here only marks the collection stale.
type FSStore struct {
	Collection *Collection
	IDs        *IDIndex
	repo       *gitrepo.Repo // nil for non-git collections
}

// OpenStore attaches an FSStore to an already-open Collection. repo may
// be nil when the collection's root isn't a git working tree.
func OpenStore(collection *Collection, repo *gitrepo.Repo) (*FSStore, error) {
	idx := NewIDIndex()
	if _, err := os.Stat(collection.IDIndexPath()); err == nil {
		loaded, err := LoadIDIndex(collection.IDIndexPath())
		if err != nil {
			return nil, fmt.Errorf("load id index: %w", err)
		}
		idx = loaded
	}
	return &FSStore{Collection: collection, IDs: idx, repo: repo}, nil
}

// GitMetadata is the path -> blob_hash map produced by one batch
// `git ls-tree -r HEAD` equivalent call, amortizing git I/O across a
// whole batch of upserts instead of paying it per point.
type GitMetadata struct {
	Dirty      bool
	PathToBlob map[string]string
}

// CollectGitMetadata resolves the batch git-metadata map once per
// upsert batch: a dirty working tree forces chunk_text storage for the
// whole session, a clean one lets individual points store
// git_blob_hash when their path resolves in the HEAD tree.
func (s *FSStore) CollectGitMetadata() (*GitMetadata, error) {
	if s.repo == nil {
		return &GitMetadata{Dirty: true}, nil
	}
	dirty, err := s.repo.IsDirty()
	if err != nil {
		return nil, err
	}
	if dirty {
		return &GitMetadata{Dirty: true}, nil
	}

	head, err := s.repo.Head()
	if err != nil {
		return nil, err
	}
	blobs, err := gitrepo.PathToBlob(s.repo, head)
	if err != nil {
		return nil, err
	}
	pathToBlob := make(map[string]string, len(blobs))
	for path, hash := range blobs {
		pathToBlob[path] = hash.String()
	}
	return &GitMetadata{PathToBlob: pathToBlob}, nil
}

// UpsertPoints writes each point's vector file, preferring
// git_blob_hash over chunk_text when meta says the tree is clean and
// the point's path is tracked. Marks the collection stale on success.
func (s *FSStore) UpsertPoints(points []*Point, meta *GitMetadata) error {
	for _, p := range points {
		if len(p.Vector) != s.Collection.Meta.VectorSize {
			return coreerrors.DimensionMismatch(s.Collection.Meta.VectorSize, len(p.Vector))
		}

		if meta != nil && !meta.Dirty && p.GitBlobHash == "" && p.ChunkText == "" {
			if blob, ok := meta.PathToBlob[p.FilePath]; ok {
				p.GitBlobHash = blob
			}
		}
		if p.GitBlobHash == "" && p.ChunkText == "" {
			return fmt.Errorf("point %q has neither git_blob_hash nor chunk_text resolvable", p.ID)
		}
		if p.IndexedAt.IsZero() {
			p.IndexedAt = time.Now().UTC()
		}

		path, err := s.Collection.VectorFilePath(p)
		if err != nil {
			return fmt.Errorf("compute vector file path for %q: %w", p.ID, err)
		}
		if err := WritePointFile(path, p); err != nil {
			return fmt.Errorf("write vector file for %q: %w", p.ID, err)
		}
		s.IDs.Add(p.ID)
	}
	return s.Collection.MarkStale()
}

// pointPath locates where a given id's vector file lives, so
// DeletePoints can find it without re-deriving the quantized path from
// a vector we may not have in memory.
func (s *FSStore) pointPath(id string) (string, bool, error) {
	p, err := s.loadPointByID(id)
	if err != nil {
		return "", false, err
	}
	if p == nil {
		return "", false, nil
	}
	path, err := s.Collection.VectorFilePath(p)
	return path, true, err
}

// loadPointByID is a best-effort lookup used by DeletePoints and by
// HNSW hit resolution in Searcher: it walks the collection directory
// instead of keeping a second id -> path side index.
func (s *FSStore) loadPointByID(id string) (*Point, error) {
	var found *Point
	err := s.walkVectorFiles(func(path string, p *Point) (cont bool, err error) {
		if p.ID == id {
			found = p
			return false, nil
		}
		return true, nil
	})
	return found, err
}

// DeletePoints removes each id's vector file, located by walking the
// collection directory, and drops the id from the id index; missing ids
// are a no-op, per the write-path contract.
func (s *FSStore) DeletePoints(ids []string) error {
	for _, id := range ids {
		path, ok, err := s.pointPath(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove vector file for %q: %w", id, err)
		}
		s.IDs.Remove(id)
	}
	return s.Collection.MarkStale()
}

// DeleteByFilter scans every vector file, deleting those matching
// filter; returns the number of points deleted.
func (s *FSStore) DeleteByFilter(filter *Filter) (int, error) {
	var toDelete []string
	err := s.walkVectorFiles(func(path string, p *Point) (bool, error) {
		if filter.Matches(p) {
			toDelete = append(toDelete, p.ID)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if len(toDelete) == 0 {
		return 0, nil
	}
	if err := s.DeletePoints(toDelete); err != nil {
		return 0, err
	}
	return len(toDelete), nil
}

// Count returns the number of points currently tracked by the id index.
func (s *FSStore) Count() int {
	return s.IDs.Len()
}

// Scroll paginates over every point in the collection in a stable
// (sorted-by-id) order, for bulk export / consistency checks.
func (s *FSStore) Scroll(opts ScrollOptions) (points []*Point, nextCursor string, err error) {
	var all []*Point
	err = s.walkVectorFiles(func(path string, p *Point) (bool, error) {
		all = append(all, p)
		return true, nil
	})
	if err != nil {
		return nil, "", err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := 0
	if opts.Cursor != "" {
		for i, p := range all {
			if p.ID > opts.Cursor {
				start = i
				break
			}
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]
	if end < len(all) {
		nextCursor = all[end-1].ID
	}
	return page, nextCursor, nil
}
