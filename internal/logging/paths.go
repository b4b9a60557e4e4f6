package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory
// (~/.code-indexer-matrix-service/logs/), falling back to a temp directory
// if the home directory can't be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".code-indexer-matrix-service", "logs")
	}
	return filepath.Join(home, ".code-indexer-matrix-service", "logs")
}

// DefaultLogPath returns the default projection-service log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "projection-service.log")
}

// EnsureLogDir creates the log directory if it doesn't already exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
