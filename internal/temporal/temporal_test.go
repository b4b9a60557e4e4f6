package temporal

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub009/internal/config"
	"github.com/jsbattig/code-indexer-sub009/internal/gitrepo"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

func TestCommitStoreInsertAndQuery(t *testing.T) {
	dir := t.TempDir()
	cs, err := OpenCommitStore(dir)
	require.NoError(t, err)
	defer cs.Close()

	has, err := cs.HasCommit("deadbeef")
	require.NoError(t, err)
	assert.False(t, has)

	err = cs.WithBatch(func(tx *sql.Tx) error {
		if err := cs.InsertCommit(tx, CommitRow{
			Hash: "deadbeef", Date: 1000, AuthorName: "tester",
			AuthorEmail: "tester@example.com", Message: "initial",
		}); err != nil {
			return err
		}
		if err := cs.InsertTreeEntry(tx, TreeRow{CommitHash: "deadbeef", FilePath: "a.go", BlobHash: "blob1"}); err != nil {
			return err
		}
		return cs.InsertBranchMembership(tx, BranchRow{CommitHash: "deadbeef", BranchName: "main", IsHead: true, IndexedAt: 1000})
	})
	require.NoError(t, err)

	has, err = cs.HasCommit("deadbeef")
	require.NoError(t, err)
	assert.True(t, has)

	commits, err := cs.CommitsInRange(0, 2000)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "tester", commits[0].AuthorName)

	blob, ok, err := cs.BlobAtCommit("deadbeef", "a.go")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "blob1", blob)

	tree, err := cs.BlobsInTree("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "blob1", tree["a.go"])

	head, err := cs.HeadBlobs()
	require.NoError(t, err)
	assert.Equal(t, "blob1", head["a.go"])

	n, err := cs.CommitCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	commitsForBlob, err := cs.BlobCommits("blob1")
	require.NoError(t, err)
	require.Len(t, commitsForBlob, 1)
	assert.Equal(t, "a.go", commitsForBlob[0].FilePath)
}

func TestBlobRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenBlobRegistry(dir)
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.Lookup("blob1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Register("blob1", []string{"p1", "p2"}))

	ids, ok, err := r.Lookup("blob1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"p1", "p2"}, ids)

	n, err := r.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBlobRegistryEmptyRegistrationShortCircuits(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenBlobRegistry(dir)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Register("empty-blob", nil))

	ids, ok, err := r.Lookup("empty-blob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, ids)
}

func TestMetaSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, err := LoadMeta(dir)
	require.NoError(t, err)
	assert.Nil(t, m)

	fresh := NewMeta(ModeSingleBranch)
	fresh.LastIndexedCommit = "deadbeef"
	fresh.IndexedBranches = []string{"main"}
	fresh.Stats.CommitsPerBranch["main"] = 2
	fresh.Stats.DedupRatio = 0.5
	require.NoError(t, fresh.Save(dir))

	loaded, err := LoadMeta(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "deadbeef", loaded.LastIndexedCommit)
	assert.Equal(t, ModeSingleBranch, loaded.IndexingMode)
	assert.Equal(t, 2, loaded.Stats.CommitsPerBranch["main"])
}

func TestBatchSizerKeepsFullSizeAboveThresholds(t *testing.T) {
	sizer := BatchSizer{HalveBelowBytes: 1, RefuseBelowBytes: 1}
	size, err := sizer.NextBatchSize(100)
	require.NoError(t, err)
	assert.Equal(t, 100, size)
}

func TestBatchSizerHalvesUnderPressure(t *testing.T) {
	avail, err := availableMemoryBytes()
	require.NoError(t, err)

	sizer := BatchSizer{HalveBelowBytes: avail + 1, RefuseBelowBytes: 0}
	size, err := sizer.NextBatchSize(100)
	require.NoError(t, err)
	assert.Equal(t, 50, size)
}

func TestBatchSizerRefusesWhenUnderFloor(t *testing.T) {
	avail, err := availableMemoryBytes()
	require.NoError(t, err)

	sizer := BatchSizer{HalveBelowBytes: avail + 2, RefuseBelowBytes: avail + 1}
	_, err = sizer.NextBatchSize(100)
	require.Error(t, err)
}

// fakeChunker produces exactly one chunk spanning the whole file.
type fakeChunker struct{}

func (fakeChunker) Chunk(text string, path string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}
	return []Chunk{{Text: text, StartLine: 1, EndLine: 1, ChunkHash: "h-" + path}}, nil
}

// fakeEmbedder returns a fixed-size zero vector regardless of input.
type fakeEmbedder struct{ dims int }

func (f fakeEmbedder) Embed(text string) ([]float32, error) {
	return make([]float32, f.dims), nil
}

func initIngestTestRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("\x00\x01"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("a.go")
	require.NoError(t, err)
	_, err = wt.Add("a.bin")
	require.NoError(t, err)

	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	_, err = wt.Commit("initial commit", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	return dir, repo
}

func newIngester(t *testing.T) (*Ingester, func()) {
	t.Helper()
	repoDir, _ := initIngestTestRepo(t)
	repo, err := gitrepo.Open(repoDir)
	require.NoError(t, err)

	tmpDir := t.TempDir()
	cs, err := OpenCommitStore(tmpDir)
	require.NoError(t, err)
	reg, err := OpenBlobRegistry(tmpDir)
	require.NoError(t, err)

	collDir := t.TempDir()
	cfg := config.NewConfig().Collection
	coll, err := store.Create(collDir, "coll", 4, "static", "test-model", cfg)
	require.NoError(t, err)
	fs, err := store.OpenStore(coll, nil)
	require.NoError(t, err)

	ig := &Ingester{
		Repo: repo, Commits: cs, Registry: reg, Store: fs,
		Chunker: fakeChunker{}, Embedder: fakeEmbedder{dims: 4},
		BatchSize:         10,
		IndexedExtensions: map[string]bool{".go": true},
		EmbeddingModel:    "test-model",
	}
	cleanup := func() { cs.Close(); reg.Close() }
	return ig, cleanup
}

func TestIndexBranchEmbedsAllowedExtensionOnly(t *testing.T) {
	ig, cleanup := newIngester(t)
	defer cleanup()

	head, err := ig.Repo.Head()
	require.NoError(t, err)

	stats, err := ig.IndexBranch("main", head, "", true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CommitsIndexed)
	assert.Equal(t, 1, stats.BlobsEmbedded) // only a.go, a.bin skipped by allow-list
	assert.Equal(t, 0, stats.BlobsDeduped)

	has, err := ig.Commits.HasCommit(head.String())
	require.NoError(t, err)
	assert.True(t, has)

	tree, err := ig.Commits.BlobsInTree(head.String())
	require.NoError(t, err)
	assert.Len(t, tree, 2) // both files still recorded in trees

	n, err := ig.Registry.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n) // only the embedded blob gets registered
}

func TestIndexBranchDedupsAcrossCommits(t *testing.T) {
	ig, cleanup := newIngester(t)
	defer cleanup()

	head1, err := ig.Repo.Head()
	require.NoError(t, err)
	_, err = ig.IndexBranch("main", head1, "", true)
	require.NoError(t, err)

	// Second commit reuses a.go's content unchanged, only adds a new file.
	dir := ig.Repo.Path()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package main\n// second\n"), 0o644))

	rawRepo, openErr := git.PlainOpen(dir)
	require.NoError(t, openErr)
	wt2, err := rawRepo.Worktree()
	require.NoError(t, err)
	_, err = wt2.Add("b.go")
	require.NoError(t, err)
	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	_, err = wt2.Commit("second commit", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	head2, err := ig.Repo.ResolveRevision("HEAD")
	require.NoError(t, err)

	stats, err := ig.IndexBranch("main", head2, head1.String(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CommitsIndexed) // resumed, only the new commit processed
	assert.Equal(t, 1, stats.BlobsEmbedded)  // b.go is new
	assert.Equal(t, 1, stats.BlobsDeduped)   // a.go's blob already registered

	n, err := ig.Commits.CommitCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
