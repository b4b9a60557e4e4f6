package store

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/mmap-go"
	"github.com/coder/hnsw"
)

// HNSWIndex wraps coder/hnsw's pure-Go graph, keyed by the dense
// internal labels IDIndex assigns — the string<->label mapping lives in
// IDIndex, not here, so this type stays a plain ANN index over uint64
// keys exactly like coder/hnsw's own API.
//
// Deletion is lazy: a removed label is dropped only from IDIndex. The
// node stays in the graph as an orphan, the same tradeoff the teacher's
// HNSWStore makes to avoid a coder/hnsw bug when the last node in the
// graph is deleted.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	mmap  mmap.MMap // non-nil only when Load used an mmap'd file
}

// NewHNSWIndex builds an empty graph with the given M (neighbor degree)
// and ef_search.
func NewHNSWIndex(m, efSearch int) *HNSWIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = m
	graph.EfSearch = efSearch
	graph.Ml = 0.25
	return &HNSWIndex{graph: graph}
}

// Add inserts or replaces vector under label, normalizing it for cosine
// distance first.
func (h *HNSWIndex) Add(label uint64, vector []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)
	h.graph.Add(hnsw.MakeNode(label, vec))
}

// LabelResult is one HNSW recall hit before translation back to a point
// id via IDIndex.
type LabelResult struct {
	Label    uint64
	Distance float32
	Score    float32
}

// Search returns up to k nearest neighbors to query, at the graph's
// configured ef_search.
func (h *HNSWIndex) Search(query []float32, k int) []LabelResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 {
		return nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	nodes := h.graph.Search(q, k)
	results := make([]LabelResult, 0, len(nodes))
	for _, n := range nodes {
		d := h.graph.Distance(q, n.Value)
		results = append(results, LabelResult{Label: n.Key, Distance: d, Score: 1 - d/2})
	}
	return results
}

// Len returns the number of nodes currently in the graph, including
// lazily-deleted orphans.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph.Len()
}

// SetEfSearch updates the query-time search width, used to apply the
// accuracy-preset -> ef_search mapping per request.
func (h *HNSWIndex) SetEfSearch(ef int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph.EfSearch = ef
}

// Save exports the graph to a sibling temp file and renames it into
// place, the same tmp-then-rename discipline every other collection
// artifact uses.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp hnsw file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("export hnsw graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp hnsw file: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadHNSWIndex mmaps the index file and imports the graph from the
// mapping. Import copies the nodes into an in-memory graph, so searches
// run against that heap copy; the mapping itself is kept until Close.
func LoadHNSWIndex(path string, m, efSearch int) (*HNSWIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat hnsw index: %w", err)
	}
	if info.Size() == 0 {
		return NewHNSWIndex(m, efSearch), nil
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap hnsw index: %w", err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = m
	graph.EfSearch = efSearch
	graph.Ml = 0.25

	reader := bufio.NewReader(bytes.NewReader(mapped))
	if err := graph.Import(reader); err != nil {
		mapped.Unmap()
		return nil, fmt.Errorf("import hnsw graph: %w", err)
	}

	return &HNSWIndex{graph: graph, mmap: mapped}, nil
}

// Close unmaps the backing file, if one was mmap'd. Safe to call on an
// index built fresh in memory.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mmap != nil {
		err := h.mmap.Unmap()
		h.mmap = nil
		return err
	}
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
