// Package cache holds the version-tagged in-process cache of loaded
// HNSW/id-map instances keyed by (collection, metadata fingerprint).
//
// A naive cache keyed only by collection name would hand out a stale
// HNSW graph after a background rebuild swaps new artifacts into place:
// the graph's mmap still points at the unlinked inode of the old file.
// Keying by fingerprint instead means a rebuild's atomic rename of
// collection_meta.text (always last, per internal/rebuild) produces a
// new cache key, so the next reader misses and reloads fresh artifacts
// rather than reusing stale ones. The evicted entry's HNSWIndex is
// dropped; once the last reference dies, its mmap unmaps and the OS
// releases the unlinked inode — no explicit cleanup required here.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

// Entry is one cached, immutable-once-built pair of HNSW graph and id
// index, plus the fingerprint it was loaded at.
type Entry struct {
	Fingerprint store.Fingerprint
	HNSW        *store.HNSWIndex
	IDs         *store.IDIndex
}

// Loader loads a fresh Entry for a collection directory, invoked on a
// cache miss or a fingerprint mismatch.
type Loader func(collectionDir string) (*Entry, error)

// Cache is an LRU of collection directory -> Entry, each entry
// additionally stat-gated by its metadata fingerprint. A coarse mutex
// guards the gate-then-load section; once an entry is obtained the
// caller's use of it (HNSW search, id lookups) is lock-free.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
	load    Loader
}

// New builds a Cache bounded to size entries (a size of 0 or less is
// treated as 1, lru's minimum), using load to (re)build an Entry on miss
// or staleness.
func New(size int, load Loader) (*Cache, error) {
	if size <= 0 {
		size = 1
	}
	l, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: l, load: load}, nil
}

// Get returns the cached Entry for collectionDir if its fingerprint
// still matches what's on disk, otherwise loads and caches a fresh one.
// A stat of the metadata file costs well under a millisecond and is
// cheap enough to perform on every read-path entry.
func (c *Cache) Get(collectionDir string) (*Entry, error) {
	current, err := store.StatFingerprint(store.MetaPath(collectionDir))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries.Get(collectionDir); ok && entry.Fingerprint == current {
		return entry, nil
	}

	entry, err := c.load(collectionDir)
	if err != nil {
		return nil, err
	}
	c.entries.Add(collectionDir, entry)
	return entry, nil
}

// Invalidate drops any cached entry for collectionDir, forcing the next
// Get to reload regardless of fingerprint. Used by callers that know a
// rebuild just completed and want to avoid a redundant stat-and-compare
// round trip.
func (c *Cache) Invalidate(collectionDir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(collectionDir)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
