package temporal

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/jsbattig/code-indexer-sub009/internal/gitrepo"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

// Chunk is one piece of a blob's content destined for embedding. This
// mirrors spec.md §6's Chunker contract, scoped to this package because
// the temporal indexer — unlike the live working-tree indexer, which
// receives already-chunked (path, chunk, embedding) tuples from its
// caller per spec.md §1's Out-of-scope list — is itself responsible for
// chunking and embedding the historical blobs it discovers.
type Chunk struct {
	Text        string
	StartLine   int
	EndLine     int
	StartOffset int
	EndOffset   int
	ChunkHash   string
}

// Chunker splits a blob's text content into chunks.
type Chunker interface {
	Chunk(text string, path string) ([]Chunk, error)
}

// Embedder produces a full-precision embedding for one chunk's text.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// ProgressCallback reports ingestion progress. Per spec.md §4.7, setup
// phases pass total=0 with a descriptive info string; processing phases
// pass total>0 and an info string of the form
// "<cur>/<tot> blobs (<pct>%) | <rate> emb/s | <threads> threads | <description>".
// Implementations MUST be thread-safe and return quickly (<1ms) — the
// ingester calls it synchronously from its single worker goroutine, so
// a slow callback stalls ingestion.
type ProgressCallback func(current, total uint64, path string, info string)

// Ingester drives one repository's temporal ingestion pipeline: walk
// commits, list each tree, dedup against the blob registry, chunk and
// embed only the blobs never seen before, and persist commit/tree/
// branch rows plus vector points.
type Ingester struct {
	Repo     *gitrepo.Repo
	Commits  *CommitStore
	Registry *BlobRegistry
	Store    *store.FSStore
	Chunker  Chunker
	Embedder Embedder

	BatchSize         int
	Sizer             BatchSizer
	IndexedExtensions map[string]bool
	EmbeddingModel    string

	Progress ProgressCallback
}

// Stats summarizes one IndexBranch run, feeding Meta.Stats after it
// returns.
type Stats struct {
	CommitsIndexed int
	BlobsEmbedded  int
	BlobsDeduped   int
}

// IndexBranch walks commit history reachable from head, recording every
// commit/tree/branch row and embedding each not-yet-registered blob
// exactly once. The walk stops at resumeFrom, if non-empty, or at the
// first commit already present in commits.db (ancestors of an
// already-indexed commit are assumed already indexed too, the same
// incremental assumption `git log <last>..HEAD` relies on). The
// collected commits are then indexed oldest first, so a run that stops
// early leaves only ancestors of its last indexed commit behind it.
func (ig *Ingester) IndexBranch(branch string, head plumbing.Hash, resumeFrom string, isHeadBranch bool) (Stats, error) {
	var stats Stats
	var pending []gitrepo.CommitInfo

	if ig.Progress != nil {
		ig.Progress(0, 0, "", fmt.Sprintf("enumerating commits on %s", branch))
	}

	err := gitrepo.WalkCommits(ig.Repo, head, func(c gitrepo.CommitInfo) (bool, error) {
		if resumeFrom != "" && c.Hash.String() == resumeFrom {
			return false, nil
		}
		already, err := ig.Commits.HasCommit(c.Hash.String())
		if err != nil {
			return false, err
		}
		if already {
			return false, nil
		}
		pending = append(pending, c)
		return true, nil
	})
	if err != nil {
		return stats, err
	}
	// WalkCommits yields newest first; index oldest first.
	for l, r := 0, len(pending)-1; l < r; l, r = l+1, r-1 {
		pending[l], pending[r] = pending[r], pending[l]
	}

	batchSize := ig.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	total := uint64(len(pending))
	var processed uint64
	start := time.Now()

	for i := 0; i < len(pending); {
		size, err := ig.Sizer.NextBatchSize(batchSize)
		if err != nil {
			return stats, err
		}
		end := i + size
		if end > len(pending) {
			end = len(pending)
		}
		if end <= i {
			end = i + 1 // always make progress even under a halved-to-zero edge case
			if end > len(pending) {
				break
			}
		}

		for _, c := range pending[i:end] {
			embedded, deduped, err := ig.indexOneCommit(branch, c, isHeadBranch && c.Hash == head)
			if err != nil {
				return stats, err
			}
			stats.CommitsIndexed++
			stats.BlobsEmbedded += embedded
			stats.BlobsDeduped += deduped
			processed++

			if ig.Progress != nil {
				elapsed := time.Since(start).Seconds()
				rate := float64(0)
				if elapsed > 0 {
					rate = float64(processed) / elapsed
				}
				pct := float64(100)
				if total > 0 {
					pct = float64(processed) * 100 / float64(total)
				}
				ig.Progress(processed, total, "", fmt.Sprintf(
					"%d/%d blobs (%.1f%%) | %.1f emb/s | 1 threads | commit %s",
					processed, total, pct, rate, c.Hash.String()[:minInt(7, len(c.Hash.String()))]))
			}
		}
		i = end
	}

	return stats, nil
}

// treeWrite is one (path, blob) pair awaiting a trees table row.
type treeWrite struct {
	path string
	blob string
}

// indexOneCommit processes a single commit: list its tree, dedup and
// embed new blobs, then write the commit/tree/branch rows in one
// EXCLUSIVE transaction.
func (ig *Ingester) indexOneCommit(branch string, c gitrepo.CommitInfo, isHead bool) (embedded, deduped int, err error) {
	entries, err := gitrepo.ListTree(ig.Repo, c.Hash)
	if err != nil {
		return 0, 0, err
	}

	var writes []treeWrite

	for _, e := range entries {
		blobHash := e.Hash.String()
		_, ok, err := ig.Registry.Lookup(blobHash)
		if err != nil {
			return embedded, deduped, err
		}
		if ok {
			deduped++
			writes = append(writes, treeWrite{path: e.Path, blob: blobHash})
			continue
		}

		if !ig.extensionIndexed(e.Path) {
			// Invariant 7 escape hatch: record the tree row without an
			// embedding set, since this extension is outside the
			// allow-list rather than merely unseen.
			writes = append(writes, treeWrite{path: e.Path, blob: blobHash})
			continue
		}

		pointIDs, err := ig.embedBlob(e.Path, blobHash, branch)
		if err != nil {
			return embedded, deduped, err
		}
		if err := ig.Registry.Register(blobHash, pointIDs); err != nil {
			return embedded, deduped, err
		}
		embedded++
		writes = append(writes, treeWrite{path: e.Path, blob: blobHash})
	}

	if err := ig.persistCommit(branch, c, isHead, writes); err != nil {
		return embedded, deduped, err
	}
	return embedded, deduped, nil
}

// persistCommit writes the commit row, every tree row, and the branch
// membership row inside one EXCLUSIVE transaction.
func (ig *Ingester) persistCommit(branch string, c gitrepo.CommitInfo, isHead bool, writes []treeWrite) error {
	var parents []string
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}

	return ig.Commits.WithBatch(func(tx *sql.Tx) error {
		if err := ig.Commits.InsertCommit(tx, CommitRow{
			Hash: c.Hash.String(), Date: c.Date, AuthorName: c.AuthorName,
			AuthorEmail: c.AuthorEmail, Message: c.Message, ParentHashes: parents,
		}); err != nil {
			return err
		}
		for _, w := range writes {
			if err := ig.Commits.InsertTreeEntry(tx, TreeRow{CommitHash: c.Hash.String(), FilePath: w.path, BlobHash: w.blob}); err != nil {
				return err
			}
		}
		return ig.Commits.InsertBranchMembership(tx, BranchRow{
			CommitHash: c.Hash.String(), BranchName: branch, IsHead: isHead, IndexedAt: time.Now().Unix(),
		})
	})
}

// embedBlob reads, chunks, and embeds one blob's content, writing each
// resulting point to the vector store with git_blob_hash set, and
// returns the point ids produced (possibly empty, for a blob that
// chunks to nothing).
func (ig *Ingester) embedBlob(path, blobHash, branch string) ([]string, error) {
	hash := blobHashFromHex(blobHash)
	data, err := gitrepo.ReadBlobBytes(ig.Repo, hash)
	if err != nil {
		return nil, err
	}

	chunks, err := ig.Chunker.Chunk(string(data), path)
	if err != nil {
		return nil, err
	}

	var points []*store.Point
	var ids []string
	for _, c := range chunks {
		vec, err := ig.Embedder.Embed(c.Text)
		if err != nil {
			return nil, err
		}
		id := fmt.Sprintf("%s:%d-%d:%s", path, c.StartLine, c.EndLine, c.ChunkHash)
		p := &store.Point{
			ID: id, FilePath: path, StartLine: c.StartLine, EndLine: c.EndLine,
			StartOffset: c.StartOffset, EndOffset: c.EndOffset, ChunkHash: c.ChunkHash,
			Vector: vec, GitBlobHash: blobHash, IndexedAt: time.Now().UTC(),
			EmbeddingModel: ig.EmbeddingModel, Branch: branch, Type: "content",
		}
		points = append(points, p)
		ids = append(ids, id)
	}
	if len(points) == 0 {
		return nil, nil
	}
	if err := ig.Store.UpsertPoints(points, &store.GitMetadata{PathToBlob: map[string]string{path: blobHash}}); err != nil {
		return nil, err
	}
	return ids, nil
}

func (ig *Ingester) extensionIndexed(path string) bool {
	if len(ig.IndexedExtensions) == 0 {
		return true
	}
	return ig.IndexedExtensions[strings.ToLower(filepath.Ext(path))]
}

func blobHashFromHex(s string) plumbing.Hash {
	return plumbing.NewHash(s)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
