package temporal

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
)

// CommitRow is one row of the commits table.
type CommitRow struct {
	Hash         string
	Date         int64 // unix seconds
	AuthorName   string
	AuthorEmail  string
	Message      string
	ParentHashes []string
}

// TreeRow is one row of the trees table: commit -> path -> blob.
type TreeRow struct {
	CommitHash string
	FilePath   string
	BlobHash   string
}

// BranchRow is one row of commit_branches.
type BranchRow struct {
	CommitHash string
	BranchName string
	IsHead     bool
	IndexedAt  int64
}

// CommitStore owns commits.db: the commits, trees, and commit_branches
// tables plus their secondary indexes.
type CommitStore struct {
	db *sql.DB
}

// OpenCommitStore opens (and migrates, if new) commits.db under dir.
func OpenCommitStore(dir string) (*CommitStore, error) {
	// _txlock=exclusive makes every db.Begin on this handle issue
	// BEGIN EXCLUSIVE, which WithBatch relies on.
	db, err := openDB(filepath.Join(dir, CommitsDBFile) + "?_txlock=exclusive")
	if err != nil {
		return nil, err
	}
	s := &CommitStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *CommitStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS commits (
			hash TEXT PRIMARY KEY,
			date INTEGER NOT NULL,
			author_name TEXT NOT NULL,
			author_email TEXT NOT NULL,
			message TEXT NOT NULL,
			parent_hashes TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trees (
			commit_hash TEXT NOT NULL,
			file_path TEXT NOT NULL,
			blob_hash TEXT NOT NULL,
			PRIMARY KEY (commit_hash, file_path)
		)`,
		`CREATE TABLE IF NOT EXISTS commit_branches (
			commit_hash TEXT NOT NULL,
			branch_name TEXT NOT NULL,
			is_head INTEGER NOT NULL DEFAULT 0,
			indexed_at INTEGER NOT NULL,
			PRIMARY KEY (commit_hash, branch_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trees_blob_commit ON trees (blob_hash, commit_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_date_hash ON commits (date, hash)`,
		`CREATE INDEX IF NOT EXISTS idx_commit_branches_commit ON commit_branches (commit_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_commit_branches_branch ON commit_branches (branch_name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate commits.db: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *CommitStore) Close() error { return s.db.Close() }

// HasCommit reports whether hash is already recorded, used to resume
// incremental indexing from last_indexed_commit without reprocessing.
func (s *CommitStore) HasCommit(hash string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM commits WHERE hash = ?`, hash).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertCommit inserts c's row, the bulk-write path wraps a whole batch
// in an EXCLUSIVE transaction via WithBatch, per spec.md §5.
func (s *CommitStore) InsertCommit(tx *sql.Tx, c CommitRow) error {
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO commits (hash, date, author_name, author_email, message, parent_hashes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Hash, c.Date, c.AuthorName, c.AuthorEmail, c.Message, strings.Join(c.ParentHashes, ","),
	)
	return err
}

// InsertTreeEntry records one (commit, path, blob) triple, whether the
// blob was freshly embedded this batch or already known from an
// earlier commit — the dedup invariant only governs whether embedding
// happens, never whether the tree membership row is written.
func (s *CommitStore) InsertTreeEntry(tx *sql.Tx, t TreeRow) error {
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO trees (commit_hash, file_path, blob_hash) VALUES (?, ?, ?)`,
		t.CommitHash, t.FilePath, t.BlobHash,
	)
	return err
}

// InsertBranchMembership records that commit_hash is reachable from
// branch_name, and whether it is currently that branch's HEAD.
func (s *CommitStore) InsertBranchMembership(tx *sql.Tx, b BranchRow) error {
	if b.IsHead {
		// A branch has one HEAD: clear the flag on its older commits.
		if _, err := tx.Exec(`UPDATE commit_branches SET is_head = 0 WHERE branch_name = ?`, b.BranchName); err != nil {
			return err
		}
	}
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO commit_branches (commit_hash, branch_name, is_head, indexed_at) VALUES (?, ?, ?, ?)`,
		b.CommitHash, b.BranchName, boolToInt(b.IsHead), b.IndexedAt,
	)
	return err
}

// WithBatch runs fn inside an EXCLUSIVE transaction, per spec.md §5's
// "bulk inserts use EXCLUSIVE transactions" guidance for the
// single-writer pattern. The handle is opened with _txlock=exclusive, so
// db.Begin itself starts the transaction with BEGIN EXCLUSIVE.
func (s *CommitStore) WithBatch(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CommitsInRange returns every commit hash with date in [start, end]
// (unix seconds, inclusive), ordered by date, the query backing
// time-range filtering in internal/query.
func (s *CommitStore) CommitsInRange(start, end int64) ([]CommitRow, error) {
	rows, err := s.db.Query(
		`SELECT hash, date, author_name, author_email, message, parent_hashes
		 FROM commits WHERE date >= ? AND date <= ? ORDER BY date ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommitRows(rows)
}

// BlobCommits returns every (commit, file_path) pair where blobHash
// appears in the tree, ordered by commit date — the backing query for
// a hit's temporal_context.commits list and show-evolution.
func (s *CommitStore) BlobCommits(blobHash string) ([]struct {
	Commit   CommitRow
	FilePath string
}, error) {
	rows, err := s.db.Query(
		`SELECT c.hash, c.date, c.author_name, c.author_email, c.message, c.parent_hashes, t.file_path
		 FROM trees t JOIN commits c ON c.hash = t.commit_hash
		 WHERE t.blob_hash = ? ORDER BY c.date ASC`, blobHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []struct {
		Commit   CommitRow
		FilePath string
	}
	for rows.Next() {
		var c CommitRow
		var parents, path string
		if err := rows.Scan(&c.Hash, &c.Date, &c.AuthorName, &c.AuthorEmail, &c.Message, &parents, &path); err != nil {
			return nil, err
		}
		c.ParentHashes = splitParents(parents)
		out = append(out, struct {
			Commit   CommitRow
			FilePath string
		}{Commit: c, FilePath: path})
	}
	return out, rows.Err()
}

// BlobAtCommit returns the blob hash recorded for path in commitHash's
// tree, and whether any row exists — the backing lookup for at_commit
// point-in-time queries.
func (s *CommitStore) BlobAtCommit(commitHash, path string) (string, bool, error) {
	var blob string
	err := s.db.QueryRow(
		`SELECT blob_hash FROM trees WHERE commit_hash = ? AND file_path = ?`, commitHash, path,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return blob, true, nil
}

// BlobsInTree returns the full path->blob map for commitHash's tree,
// used by at_commit restriction over a whole hit set in one query
// instead of one BlobAtCommit call per hit.
func (s *CommitStore) BlobsInTree(commitHash string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT file_path, blob_hash FROM trees WHERE commit_hash = ?`, commitHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var path, blob string
		if err := rows.Scan(&path, &blob); err != nil {
			return nil, err
		}
		out[path] = blob
	}
	return out, rows.Err()
}

// HeadBlobs returns the path->blob map for the branch currently marked
// is_head, used by include_removed to know which files still exist at
// HEAD versus only in history.
func (s *CommitStore) HeadBlobs() (map[string]string, error) {
	rows, err := s.db.Query(
		`SELECT t.file_path, t.blob_hash FROM trees t
		 JOIN commit_branches cb ON cb.commit_hash = t.commit_hash
		 WHERE cb.is_head = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var path, blob string
		if err := rows.Scan(&path, &blob); err != nil {
			return nil, err
		}
		out[path] = blob
	}
	return out, rows.Err()
}

// PathHistoryEntry is one commit in a file path's history, paired with
// whatever blob that commit recorded at that path (which may repeat
// across consecutive commits when the file was untouched).
type PathHistoryEntry struct {
	Commit   CommitRow
	BlobHash string
}

// PathHistory returns every commit that touched path's tree entry, in
// date order — the backing query for show-evolution, which needs the
// full cross-blob history of a path rather than just the commits that
// share one specific blob (BlobCommits).
func (s *CommitStore) PathHistory(path string) ([]PathHistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT c.hash, c.date, c.author_name, c.author_email, c.message, c.parent_hashes, t.blob_hash
		 FROM trees t JOIN commits c ON c.hash = t.commit_hash
		 WHERE t.file_path = ? ORDER BY c.date ASC`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PathHistoryEntry
	for rows.Next() {
		var c CommitRow
		var parents, blob string
		if err := rows.Scan(&c.Hash, &c.Date, &c.AuthorName, &c.AuthorEmail, &c.Message, &parents, &blob); err != nil {
			return nil, err
		}
		c.ParentHashes = splitParents(parents)
		out = append(out, PathHistoryEntry{Commit: c, BlobHash: blob})
	}
	return out, rows.Err()
}

// CommitCount returns the total number of indexed commits.
func (s *CommitStore) CommitCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM commits`).Scan(&n)
	return n, err
}

func scanCommitRows(rows *sql.Rows) ([]CommitRow, error) {
	var out []CommitRow
	for rows.Next() {
		var c CommitRow
		var parents string
		if err := rows.Scan(&c.Hash, &c.Date, &c.AuthorName, &c.AuthorEmail, &c.Message, &parents); err != nil {
			return nil, err
		}
		c.ParentHashes = splitParents(parents)
		out = append(out, c)
	}
	return out, rows.Err()
}

func splitParents(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
