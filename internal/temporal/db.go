// Package temporal owns the auxiliary relational store of git commits,
// tree entries (commit -> path -> blob), and branch membership, built
// by streaming commit/tree history and deduplicating over blob hash so
// each unique blob is embedded exactly once no matter how many commits
// reference it.
//
// Two SQLite files back one repository's temporal index:
// temporal/commits.db (commits, trees, commit_branches) and
// temporal/blob_registry.db (the dedup oracle). They are opened
// separately, per spec.md §3, rather than as one schema, so the
// registry can be queried independently of full commit history.
//
// modernc.org/sqlite is used rather than a CGO sqlite3 driver, for the
// same portability reason the vector store uses pure-Go coder/hnsw
// instead of CGO USearch and the temporal walker uses go-git instead of
// spawning `git`: no external toolchain dependency, single static
// binary. See DESIGN.md.
package temporal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	// CommitsDBFile is the commits/trees/commit_branches database file.
	CommitsDBFile = "commits.db"
	// BlobRegistryDBFile is the blob_hash -> point_ids dedup database file.
	BlobRegistryDBFile = "blob_registry.db"
	// MetaFile is the temporal_meta.json sidecar file.
	MetaFile = "temporal_meta.json"
)

// pragmas is the concurrent-read/bulk-writer pragma set spec.md §3
// recommends: WAL journaling, a 5s busy timeout, NORMAL sync, an 8MB
// page cache, and an in-memory temp store.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -8000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
}

// openDB opens (creating if absent) a SQLite database at path with the
// shared concurrency pragmas applied.
func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create temporal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

// Dir returns the temporal/ directory for a repository's index root.
func Dir(indexRoot string) string {
	return filepath.Join(indexRoot, "temporal")
}
