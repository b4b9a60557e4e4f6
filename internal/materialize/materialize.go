// Package materialize recovers a point's source text at read time. The
// store never persists chunk content for git-backed points — only a
// blob hash and a line/byte range — so every search hit's text has to
// be reconstructed from the repository, and the reconstruction doubles
// as the staleness check: if the working tree no longer matches what
// was indexed, the caller needs to know before it trusts the snippet.
package materialize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/jsbattig/code-indexer-sub009/internal/coreerrors"
	"github.com/jsbattig/code-indexer-sub009/internal/gitrepo"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

// Result is a materialized hit's content plus the staleness verdict
// that governs whether a caller should trust it.
type Result struct {
	Content   string
	Staleness store.Staleness
}

// Materializer resolves point content against one opened repository.
type Materializer struct {
	Repo *gitrepo.Repo
}

// New returns a Materializer bound to repo. A nil repo is valid: every
// point materialized through it must carry inline ChunkText (the
// non-git indexing path), and any git-backed point reaching it fails
// with CodeGitBackendError.
func New(repo *gitrepo.Repo) *Materializer {
	return &Materializer{Repo: repo}
}

// Materialize recovers p's text and staleness. Points that store inline
// text (p.ChunkText set, the non-git or remote-backend path) are never
// stale by construction — there is no working tree to drift from — and
// are returned as-is. Git-backed points (p.GitBlobHash set) go through
// the 3-tier fallback:
//
//  1. Read the current working-tree file and hash the chunk's own
//     [StartLine, EndLine) range; if that hash still matches ChunkHash,
//     only this chunk's lines are unchanged since indexing (an edit
//     elsewhere in the same file doesn't affect this verdict) and that
//     substring is returned.
//  2. If the working-tree file is missing, unreadable, or the chunk's
//     hash has drifted, fall back to the blob recorded at index time,
//     slice the same line range out of it, and mark the result stale.
//  3. If even the stored blob can't be read (corrupt repository,
//     blob pruned by gc), return an error.
func (m *Materializer) Materialize(p *store.Point) (Result, error) {
	if p.GitBlobHash == "" {
		return Result{Content: p.ChunkText, Staleness: store.Staleness{}}, nil
	}
	if m.Repo == nil {
		return Result{}, coreerrors.New(coreerrors.CodeGitBackendError,
			"point references a git blob but no repository is configured", nil)
	}

	absPath := filepath.Join(m.Repo.Path(), p.FilePath)
	data, statErr := os.ReadFile(absPath)
	if statErr == nil {
		if chunk, ok := sliceChunk(data, p.StartLine, p.EndLine); ok && chunkHash(chunk) == p.ChunkHash {
			return Result{Content: chunk, Staleness: store.Staleness{}}, nil
		}
	}

	blobData, err := gitrepo.ReadBlobBytes(m.Repo, plumbing.NewHash(p.GitBlobHash))
	if err != nil {
		return Result{}, coreerrors.New(coreerrors.CodeGitBackendError,
			fmt.Sprintf("failed to materialize %s: working tree copy unavailable and blob %s unreadable", p.FilePath, p.GitBlobHash), err)
	}

	chunk, ok := sliceChunk(blobData, p.StartLine, p.EndLine)
	if !ok {
		chunk = string(blobData)
	}

	reason := "file_modified_after_indexing"
	indicator := "⚠️ Modified"
	if statErr != nil {
		reason = "file_deleted"
		indicator = "🗑️ Deleted"
	}

	delta := int64(0)
	if statErr == nil {
		if info, infoErr := os.Stat(absPath); infoErr == nil {
			delta = time.Now().Unix() - info.ModTime().Unix()
		}
	}

	return Result{
		Content: chunk,
		Staleness: store.Staleness{
			IsStale:               true,
			StalenessIndicator:    indicator,
			StalenessReason:       reason,
			HashMismatch:          statErr == nil,
			StalenessDeltaSeconds: delta,
		},
	}, nil
}

// sliceChunk extracts the half-open [start, end) line range from data,
// keeping each line's trailing newline so the result matches the bytes
// originally fed to the embedder. Returns false if the range doesn't
// fit the current line count, e.g. the file has since shrunk.
func sliceChunk(data []byte, start, end int) (string, bool) {
	lines := strings.SplitAfter(string(data), "\n")
	if start < 0 || end < start || end > len(lines) {
		return "", false
	}
	return strings.Join(lines[start:end], ""), true
}

// chunkHash is the content hash stored as ChunkHash: sha256 over the
// chunk's exact text. Chunker implementations feeding this store must
// hash chunks the same way for the tier-1 freshness check to ever hit.
func chunkHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
