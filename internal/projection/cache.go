package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jsbattig/code-indexer-sub009/internal/quantize"
)

// cacheEntry pairs a loaded matrix with its last-access timestamp so
// the eviction scanner can measure per-entry idle time independently
// of LRU recency.
type cacheEntry struct {
	matrix     *quantize.Matrix
	lastAccess time.Time
}

// MatrixCache caches loaded projection matrices keyed by
// sha256(absolute_collection_path), bounded by both an LRU size cap and
// a per-entry idle TTL.
type MatrixCache struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, *cacheEntry]
	ttl   time.Duration
	clock func() time.Time
}

// NewMatrixCache creates a cache holding up to size matrices, evicting
// entries whose last access is older than ttl.
func NewMatrixCache(size int, ttl time.Duration) (*MatrixCache, error) {
	l, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &MatrixCache{lru: l, ttl: ttl, clock: time.Now}, nil
}

// KeyFor derives the cache key for an absolute collection path.
func KeyFor(absCollectionPath string) string {
	sum := sha256.Sum256([]byte(absCollectionPath))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached matrix for key, reporting a cache hit only if
// the entry exists and hasn't exceeded its idle TTL; an expired entry is
// evicted on read rather than waiting for the scanner.
func (c *MatrixCache) Get(key string) (*quantize.Matrix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.clock().Sub(entry.lastAccess) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	entry.lastAccess = c.clock()
	return entry.matrix, true
}

// Put inserts or refreshes a matrix under key.
func (c *MatrixCache) Put(key string, m *quantize.Matrix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, &cacheEntry{matrix: m, lastAccess: c.clock()})
}

// Len returns the number of cached entries (used for /stats and /health).
func (c *MatrixCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// EvictExpired removes every entry whose idle time exceeds the TTL,
// returning how many were removed. Called by the background scanner.
func (c *MatrixCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	var stale []string
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(entry.lastAccess) > c.ttl {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		c.lru.Remove(key)
	}
	return len(stale)
}

// IdleSince returns the most recent lastAccess across all entries, or
// the zero Time if the cache is empty — used to decide idle shutdown.
func (c *MatrixCache) IdleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var latest time.Time
	found := false
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if !found || entry.lastAccess.After(latest) {
			latest = entry.lastAccess
			found = true
		}
	}
	return latest, found
}

// Stat describes one cached matrix for the /stats endpoint.
type Stat struct {
	Collection string
	AgeMinutes float64
}
