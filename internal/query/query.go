// Package query implements the top-level search pipeline: embed, ANN
// recall, temporal/metadata filtering, content materialization, and
// result truncation. It composes internal/store, internal/temporal,
// and internal/materialize without owning any of their storage.
package query

import (
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jsbattig/code-indexer-sub009/internal/gitrepo"
	"github.com/jsbattig/code-indexer-sub009/internal/materialize"
	"github.com/jsbattig/code-indexer-sub009/internal/metrics"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
	"github.com/jsbattig/code-indexer-sub009/internal/temporal"
	"github.com/jsbattig/code-indexer-sub009/internal/warn"
)

// Embedder turns query text into a vector in the collection's full
// (pre-projection) embedding space. Narrow external contract: no
// provider implementation lives in this core.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// TimeRange restricts results to hits whose blob appears in a commit
// dated within [Start, End] (unix seconds, inclusive).
type TimeRange struct {
	Start int64
	End   int64
}

// Options configures one Query call.
type Options struct {
	Limit          int
	Accuracy       string
	ScoreThreshold float32
	Filter         *store.Filter

	TimeRange      *TimeRange
	AtCommit       string // a revision string, resolved via gitrepo.ResolveRevision
	IncludeRemoved bool
	ShowEvolution  bool
	EvolutionLimit int
}

func (o Options) temporalRequested() bool {
	return o.TimeRange != nil || o.AtCommit != "" || o.IncludeRemoved || o.ShowEvolution
}

// TemporalContext annotates a hit with when its content has appeared
// in history, populated by the time_range filter.
type TemporalContext struct {
	FirstSeen       int64
	LastSeen        int64
	AppearanceCount int
	Commits         []string
}

// EvolutionEntry is one commit in a hit's show_evolution history.
type EvolutionEntry struct {
	CommitHash string
	CommitDate int64
	Author     string
	Message    string
	Diff       string // unified-ish text diff against the previous entry; "" for the first
}

// Hit is one materialized, temporally-annotated search result.
type Hit struct {
	ID        string
	Score     float32
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
	Staleness store.Staleness
	Point     *store.Point

	Temporal  *TemporalContext
	Evolution []EvolutionEntry
}

// Result is the full outcome of one Query call.
type Result struct {
	Hits      []Hit
	Warning   string
	Truncated bool
}

// Pipeline binds the collaborators one Query call needs. Commits and
// Repo may be nil, meaning this collection has no temporal index; any
// Options requesting temporal filtering then degrades to steps 1-2 and
// 7 only, per spec, with Result.Warning explaining why. Metrics and Warn
// may both be nil, in which case Query skips instrumentation and
// stderr warnings respectively — Result.Warning still carries the
// degradation notice either way.
type Pipeline struct {
	Embedder     Embedder
	Searcher     *store.Searcher
	Materializer *materialize.Materializer
	Commits      *temporal.CommitStore
	Repo         *gitrepo.Repo
	Metrics      *metrics.Registry
	Warn         *warn.Printer
}

const defaultLimit = 10
const overfetchFactor = 3

// Query runs the full pipeline for qText under opts.
func (p *Pipeline) Query(qText string, opts Options) (Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	vec, err := p.Embedder.Embed(qText)
	if err != nil {
		return Result{}, err
	}

	searchLimit := limit
	temporalRequested := opts.temporalRequested()
	if temporalRequested {
		searchLimit = limit * overfetchFactor
	}

	strategy := "hnsw"
	if p.Searcher != nil && (p.Searcher.HNSW == nil || p.Searcher.Store.Collection.Meta.IsStale) {
		strategy = "fallback"
		if p.Warn != nil {
			p.Warn.WarnOnce("hnsw-unavailable", "HNSW graph not available or stale; falling back to path-quantized search")
		}
	}

	start := time.Now()
	searchResult, err := p.Searcher.Search(vec, store.SearchOptions{
		Limit: searchLimit, ScoreThreshold: opts.ScoreThreshold, Filter: opts.Filter, Accuracy: opts.Accuracy,
	})
	if p.Metrics != nil {
		p.Metrics.SearchLatency.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
		p.Metrics.SearchRequests.WithLabelValues(opts.Accuracy).Inc()
	}
	if err != nil {
		return Result{}, err
	}
	candidatesTruncated := searchResult.Truncated
	if candidatesTruncated && p.Warn != nil {
		p.Warn.WarnOnce("fallback-candidates-truncated", "Path-quantized fallback hit its candidate-loading cap; results may be incomplete")
	}

	hits := wrapHits(searchResult.Hits)

	var warning string
	if temporalRequested {
		if p.Commits == nil {
			warning = "Temporal index not available; returning results without temporal filtering"
			if p.Warn != nil {
				p.Warn.WarnOnce("temporal-unavailable", "%s", warning)
			}
		} else {
			hits, err = p.applyTemporal(hits, opts)
			if err != nil {
				return Result{}, err
			}
		}
	}

	for i := range hits {
		res, err := p.Materializer.Materialize(hits[i].Point)
		if err != nil {
			return Result{}, err
		}
		hits[i].Content = res.Content
		hits[i].Staleness = res.Staleness
	}

	overfetchTruncated := len(hits) > limit
	if overfetchTruncated {
		hits = hits[:limit]
	}

	return Result{Hits: hits, Warning: warning, Truncated: candidatesTruncated || overfetchTruncated}, nil
}

func wrapHits(storeHits []*store.Hit) []Hit {
	hits := make([]Hit, 0, len(storeHits))
	for _, h := range storeHits {
		hits = append(hits, Hit{
			ID: h.ID, Score: h.Score, FilePath: h.FilePath,
			StartLine: h.StartLine, EndLine: h.EndLine, Point: h.Point,
		})
	}
	return hits
}

// applyTemporal runs steps 3-6 of the pipeline in order, each narrowing
// or annotating the surviving hit set.
func (p *Pipeline) applyTemporal(hits []Hit, opts Options) ([]Hit, error) {
	var err error

	if opts.TimeRange != nil {
		hits, err = p.applyTimeRange(hits, *opts.TimeRange)
		if err != nil {
			return nil, err
		}
	}

	if opts.AtCommit != "" {
		hits, err = p.applyAtCommit(hits, opts.AtCommit)
		if err != nil {
			return nil, err
		}
	}

	if !opts.IncludeRemoved {
		hits, err = p.excludeRemoved(hits)
		if err != nil {
			return nil, err
		}
	}

	if opts.ShowEvolution {
		hits, err = p.applyShowEvolution(hits, opts.EvolutionLimit)
		if err != nil {
			return nil, err
		}
	}

	return hits, nil
}

// applyTimeRange keeps hits whose blob appears in a commit dated within
// the range and annotates each with its temporal context.
func (p *Pipeline) applyTimeRange(hits []Hit, tr TimeRange) ([]Hit, error) {
	var kept []Hit
	for _, h := range hits {
		if h.Point == nil || h.Point.GitBlobHash == "" {
			continue
		}
		commits, err := p.Commits.BlobCommits(h.Point.GitBlobHash)
		if err != nil {
			return nil, err
		}

		var inRange []string
		var first, last int64
		for _, c := range commits {
			if c.Commit.Date < tr.Start || c.Commit.Date > tr.End {
				continue
			}
			inRange = append(inRange, c.Commit.Hash)
			if first == 0 || c.Commit.Date < first {
				first = c.Commit.Date
			}
			if c.Commit.Date > last {
				last = c.Commit.Date
			}
		}
		if len(inRange) == 0 {
			continue
		}

		h.Temporal = &TemporalContext{
			FirstSeen: first, LastSeen: last,
			AppearanceCount: len(inRange), Commits: inRange,
		}
		kept = append(kept, h)
	}
	return kept, nil
}

// applyAtCommit restricts hits to those whose blob appears in commit's
// recursive tree.
func (p *Pipeline) applyAtCommit(hits []Hit, commit string) ([]Hit, error) {
	if p.Repo == nil {
		return nil, nil
	}
	resolved, err := p.Repo.ResolveRevision(commit)
	if err != nil {
		return nil, err
	}
	tree, err := p.Commits.BlobsInTree(resolved.String())
	if err != nil {
		return nil, err
	}

	blobsPresent := make(map[string]bool, len(tree))
	for _, blob := range tree {
		blobsPresent[blob] = true
	}

	var kept []Hit
	for _, h := range hits {
		if h.Point != nil && blobsPresent[h.Point.GitBlobHash] {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// excludeRemoved drops hits whose file path no longer exists in HEAD's
// tree, the default behavior unless include_removed asks to keep them.
func (p *Pipeline) excludeRemoved(hits []Hit) ([]Hit, error) {
	head, err := p.Commits.HeadBlobs()
	if err != nil {
		return nil, err
	}

	var kept []Hit
	for _, h := range hits {
		if _, ok := head[h.FilePath]; ok {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// applyShowEvolution attaches each surviving hit's full commit history
// for its file path, diffing successive blob contents on demand.
func (p *Pipeline) applyShowEvolution(hits []Hit, limit int) ([]Hit, error) {
	if p.Repo == nil {
		return hits, nil
	}

	for i := range hits {
		entries, err := p.Commits.PathHistory(hits[i].FilePath)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(a, b int) bool { return entries[a].Commit.Date < entries[b].Commit.Date })
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}

		var prevContent string
		var prevBlob string
		evolution := make([]EvolutionEntry, 0, len(entries))
		for _, e := range entries {
			var diff string
			if e.BlobHash != prevBlob && prevBlob != "" {
				content, err := readBlobText(p.Repo, e.BlobHash)
				if err == nil {
					diff = unifiedishDiff(prevContent, content)
					prevContent = content
				}
			} else if prevBlob == "" {
				if content, err := readBlobText(p.Repo, e.BlobHash); err == nil {
					prevContent = content
				}
			}
			prevBlob = e.BlobHash

			evolution = append(evolution, EvolutionEntry{
				CommitHash: e.Commit.Hash, CommitDate: e.Commit.Date,
				Author: e.Commit.AuthorName, Message: e.Commit.Message, Diff: diff,
			})
		}
		hits[i].Evolution = evolution
	}
	return hits, nil
}

func readBlobText(repo *gitrepo.Repo, blobHash string) (string, error) {
	data, err := gitrepo.ReadBlobBytes(repo, plumbing.NewHash(blobHash))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unifiedishDiff renders a compact, human-readable diff between two
// blob contents. Uses diffmatchpatch's line-level diff mode, the same
// library go-git itself depends on for blob/patch diffing, rather than
// a hand-rolled line-diff algorithm.
func unifiedishDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	aChars, bChars, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(aChars, bChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	return dmp.DiffPrettyText(diffs)
}
