// Package rebuild serializes index rebuilds (HNSW, id index, FTS) per
// collection behind a single exclusive file lock, building side-by-side
// temp artifacts and renaming them into place only once every artifact
// has been built successfully.
package rebuild

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the advisory lock file name, one per collection
// directory, per rebuild invariant: "locking only the swap is
// bug-prone" — the lock is held for the full build-plus-swap.
const LockFileName = ".index_rebuild.lock"

// Lock wraps a gofrs/flock exclusive lock scoped to one collection
// directory's rebuild lock file.
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewLock creates a lock bound to <collectionDir>/.index_rebuild.lock.
func NewLock(collectionDir string) *Lock {
	path := filepath.Join(collectionDir, LockFileName)
	return &Lock{path: path, flock: flock.New(path)}
}

// Lock blocks until the exclusive lock is acquired.
func (l *Lock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create rebuild lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire rebuild lock: %w", err)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an unlocked Lock.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release rebuild lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }
