// Package store implements the path-quantized, git-aware vector store:
// collection metadata, per-point files, the HNSW recall index, the
// path-quantized fallback search, and Qdrant-style filter matching.
package store

import "time"

// Point is one indexed chunk: its embedding plus enough positional and
// provenance data to materialize its content later without storing the
// content itself.
type Point struct {
	// ID is stable within a collection: "<path>:<start>-<end>:<chunk_hash>".
	ID string

	FilePath    string
	StartLine   int
	EndLine     int
	StartOffset int
	EndOffset   int
	ChunkHash   string

	Vector []float32

	// Exactly one of GitBlobHash or ChunkText is set.
	GitBlobHash string
	ChunkText   string

	IndexedAt      time.Time
	EmbeddingModel string
	Branch         string
	Type           string // e.g. "content", "test"
}

// HasGitBlob reports whether the point stores a git blob reference
// rather than inline text.
func (p *Point) HasGitBlob() bool {
	return p.GitBlobHash != ""
}

// Staleness describes how a materialized hit's content relates to what
// was indexed, in both the hash-based (git-backed) and mtime-based
// (non-git/remote-backend) forms a caller may need.
type Staleness struct {
	IsStale               bool
	StalenessIndicator    string // "⚠️ Modified" | "🗑️ Deleted" | "❌ Error" | ""
	StalenessReason       string // "file_modified_after_indexing" | "file_deleted" | "retrieval_failed" | ""
	HashMismatch          bool
	StalenessDeltaSeconds int64
}

// Hit is a single search result, content populated by the materializer,
// not by the store itself.
type Hit struct {
	ID        string
	Score     float32
	FilePath  string
	StartLine int
	EndLine   int
	Point     *Point
	Staleness Staleness
}

// SearchOptions configures one search call.
type SearchOptions struct {
	Limit          int
	ScoreThreshold float32
	Filter         *Filter
	Accuracy       string // "fast" | "balanced" | "high"
	ForceFallback  bool   // explicitly request the path-quantized fallback
}

// ScrollOptions paginate over all points in a collection.
type ScrollOptions struct {
	Cursor string
	Limit  int
}
