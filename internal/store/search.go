package store

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jsbattig/code-indexer-sub009/internal/config"
	"github.com/jsbattig/code-indexer-sub009/internal/quantize"
)

// MaxFallbackCandidates bounds how many vector files the path-quantized
// fallback will load per query before truncating deterministically.
// Truncation is recorded in FallbackResult.Truncated rather than
// silently discarded, per the candidate-loading-cap requirement.
const MaxFallbackCandidates = 50000

// Searcher runs both the HNSW-recall and path-quantized-fallback search
// strategies over one collection.
type Searcher struct {
	Store  *FSStore
	HNSW   *HNSWIndex // nil or stale -> callers should use fallback
	Config config.CollectionConfig
}

// NewSearcher binds a searcher to a store and an optional HNSW index.
func NewSearcher(s *FSStore, hnsw *HNSWIndex, cfg config.CollectionConfig) *Searcher {
	return &Searcher{Store: s, HNSW: hnsw, Config: cfg}
}

// FallbackResult carries the path-quantized fallback's hits plus
// whether the candidate set was truncated against MaxFallbackCandidates.
type FallbackResult struct {
	Hits      []*Hit
	Truncated bool
}

// Search dispatches to HNSW recall when available and not forced to
// fall back, otherwise runs the path-quantized fallback. The returned
// FallbackResult.Truncated is always false for the HNSW path, which has
// no candidate-loading cap to hit.
func (s *Searcher) Search(query []float32, opts SearchOptions) (*FallbackResult, error) {
	accuracy := config.AccuracyPreset(opts.Accuracy)
	if !accuracy.IsKnown() {
		accuracy = config.AccuracyBalanced
	}

	useFallback := opts.ForceFallback || s.HNSW == nil || s.Store.Collection.Meta.IsStale
	if !useFallback {
		hits, err := s.searchHNSW(query, opts, accuracy)
		if err != nil {
			return nil, err
		}
		return &FallbackResult{Hits: hits}, nil
	}

	return s.searchFallback(query, opts, accuracy)
}

func (s *Searcher) searchHNSW(query []float32, opts SearchOptions, accuracy config.AccuracyPreset) ([]*Hit, error) {
	s.HNSW.SetEfSearch(s.Config.EfSearch(accuracy))
	labelResults := s.HNSW.Search(query, opts.Limit)

	hits := make([]*Hit, 0, len(labelResults))
	for _, lr := range labelResults {
		id, ok := s.Store.IDs.ID(lr.Label)
		if !ok {
			continue // orphaned/lazily-deleted node
		}
		if opts.ScoreThreshold > 0 && lr.Score < opts.ScoreThreshold {
			continue
		}
		p, err := s.Store.loadPointByID(id)
		if err != nil || p == nil {
			continue
		}
		if !opts.Filter.Matches(p) {
			continue
		}
		hits = append(hits, &Hit{ID: id, Score: lr.Score, FilePath: p.FilePath, StartLine: p.StartLine, EndLine: p.EndLine, Point: p})
	}
	return hits, nil
}

// searchFallback implements §4.4(B): quantize the query, enumerate
// neighbor directory paths within the accuracy-derived Hamming radius,
// parallel-load every candidate vector file, score by cosine
// similarity, filter, sort, and truncate to limit.
func (s *Searcher) searchFallback(query []float32, opts SearchOptions, accuracy config.AccuracyPreset) (*FallbackResult, error) {
	hex, err := s.Store.Collection.quantize2Bit(query)
	if err != nil {
		return nil, err
	}

	depthFactor := s.Store.Collection.Meta.DepthFactor
	radius := s.Config.HammingRadius(accuracy)
	dirSets, err := quantize.EnumerateNeighborPaths(hex, depthFactor, radius)
	if err != nil {
		return nil, err
	}

	candidatePaths, truncated, err := s.enumerateCandidateFiles(dirSets)
	if err != nil {
		return nil, err
	}

	workers := s.Config.FallbackWorkers
	if workers <= 0 {
		workers = 1
	}
	hits := s.loadAndScoreCandidates(candidatePaths, query, opts, workers)

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	return &FallbackResult{Hits: hits, Truncated: truncated}, nil
}

// enumerateCandidateFiles lists the vector files under each enumerated
// directory set, stopping once MaxFallbackCandidates is reached.
func (s *Searcher) enumerateCandidateFiles(dirSets [][]string) ([]string, bool, error) {
	var paths []string
	truncated := false

	for _, dirs := range dirSets {
		segments := append([]string{s.Store.Collection.Dir}, dirs...)
		dir := joinPath(segments)
		entries, err := readDirIfExists(dir)
		if err != nil {
			return nil, false, err
		}
		for _, name := range entries {
			if len(paths) >= MaxFallbackCandidates {
				truncated = true
				return paths, truncated, nil
			}
			paths = append(paths, joinPath([]string{dir, name}))
		}
	}
	return paths, truncated, nil
}

// loadAndScoreCandidates parallel-loads and scores every candidate under
// an errgroup bounded to workers concurrent file reads, the same
// explicit-limit fan-out idiom the teacher's coordinator uses for
// batching file events.
func (s *Searcher) loadAndScoreCandidates(paths []string, query []float32, opts SearchOptions, workers int) []*Hit {
	var mu sync.Mutex
	hits := make([]*Hit, 0, len(paths))

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			p, err := ReadPointFile(path)
			if err != nil {
				return nil
			}
			if !opts.Filter.Matches(p) {
				return nil
			}
			score := cosineSimilarity(query, p.Vector)
			if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
				return nil
			}
			hit := &Hit{ID: p.ID, Score: score, FilePath: p.FilePath, StartLine: p.StartLine, EndLine: p.EndLine, Point: p}
			mu.Lock()
			hits = append(hits, hit)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return hits
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func joinPath(segments []string) string {
	return filepath.Join(segments...)
}

// readDirIfExists lists file names under dir, treating a missing
// directory as an empty candidate set rather than an error — most
// enumerated neighbor paths won't exist for a sparsely populated
// collection.
func readDirIfExists(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
