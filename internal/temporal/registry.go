package temporal

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
)

// BlobRegistry answers "is this blob already embedded?" — the
// deduplication oracle that makes a blob observed in 100 commits cost
// exactly one embedding. It is a function, not a relation: each
// blob_hash maps to exactly one set of point ids (invariant 8).
type BlobRegistry struct {
	db *sql.DB
}

// OpenBlobRegistry opens (and migrates, if new) blob_registry.db under dir.
func OpenBlobRegistry(dir string) (*BlobRegistry, error) {
	db, err := openDB(filepath.Join(dir, BlobRegistryDBFile))
	if err != nil {
		return nil, err
	}
	r := &BlobRegistry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *BlobRegistry) migrate() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS blob_registry (
		blob_hash TEXT PRIMARY KEY,
		point_ids TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migrate blob_registry.db: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (r *BlobRegistry) Close() error { return r.db.Close() }

// Lookup returns the point ids registered for blobHash, and whether any
// registration exists at all. An empty, present registration (ok=true,
// len(ids)==0) can occur for a blob whose chunks all produced zero
// points (e.g. an empty file) and must still short-circuit
// re-embedding.
func (r *BlobRegistry) Lookup(blobHash string) (ids []string, ok bool, err error) {
	var joined string
	err = r.db.QueryRow(`SELECT point_ids FROM blob_registry WHERE blob_hash = ?`, blobHash).Scan(&joined)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if joined == "" {
		return nil, true, nil
	}
	return strings.Split(joined, ","), true, nil
}

// Register records that blobHash has been embedded into the given
// point ids. Registering an already-registered hash is an error from
// the caller's perspective — Ingester checks Lookup first and only
// calls Register on a true miss, so a double-register here indicates a
// race the single-writer temporal ingestion pipeline should not allow.
func (r *BlobRegistry) Register(blobHash string, pointIDs []string) error {
	_, err := r.db.Exec(
		`INSERT INTO blob_registry (blob_hash, point_ids) VALUES (?, ?)`,
		blobHash, strings.Join(pointIDs, ","),
	)
	return err
}

// Count returns the number of unique blobs registered.
func (r *BlobRegistry) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM blob_registry`).Scan(&n)
	return n, err
}
