// Package projection implements the resident localhost daemon that owns
// loaded projection matrices and serves y = x·M, plus the auto-starting
// client that falls back to in-process multiplication when the daemon
// is unavailable.
package projection

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/jsbattig/code-indexer-sub009/internal/coreerrors"
)

// RegistryDir is where the port file, PID file, and allocation lock
// live, host-wide (not per-collection).
func RegistryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".code-indexer-matrix-service")
	}
	return filepath.Join(home, ".code-indexer-matrix-service")
}

func portFilePath() string { return filepath.Join(RegistryDir(), "service.port") }
func pidFilePath() string  { return filepath.Join(RegistryDir(), "service.pid") }
func lockFilePath() string { return filepath.Join(RegistryDir(), "service.lock") }

// Registry performs atomic, file-locked allocation of the service's
// listening port so a second daemon instance started concurrently loses
// the tie-break and exits cleanly instead of binding a second port.
type Registry struct {
	lock *flock.Flock
}

// NewRegistry returns a Registry bound to the host-wide lock file,
// creating the registry directory if needed.
func NewRegistry() (*Registry, error) {
	dir := RegistryDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry dir: %w", err)
	}
	return &Registry{lock: flock.New(lockFilePath())}, nil
}

// Claim attempts to become the one true daemon instance: it takes the
// exclusive registry lock, checks whether an existing port file names a
// still-live PID, and if so returns that port with claimed=false (the
// caller is the loser and should exit). Otherwise it writes port and
// pid and returns claimed=true.
func (r *Registry) Claim(port, pid int) (claimed bool, existingPort int, err error) {
	if err := r.lock.Lock(); err != nil {
		return false, 0, coreerrors.New(coreerrors.CodeLockBusy, "could not acquire registry lock", err)
	}
	defer r.lock.Unlock()

	if existing, existingPID, ok := readRegistry(); ok && processAlive(existingPID) {
		return false, existing, nil
	}

	if err := os.WriteFile(portFilePath(), []byte(strconv.Itoa(port)), 0o644); err != nil {
		return false, 0, fmt.Errorf("failed to write port file: %w", err)
	}
	if err := os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return false, 0, fmt.Errorf("failed to write pid file: %w", err)
	}
	return true, port, nil
}

// Release removes the port and pid files; called during orderly daemon
// shutdown (SIGTERM/SIGINT or idle timeout).
func (r *Registry) Release() error {
	if err := r.lock.Lock(); err != nil {
		return err
	}
	defer r.lock.Unlock()

	_ = os.Remove(portFilePath())
	_ = os.Remove(pidFilePath())
	return nil
}

// LookupPort reads the currently registered port, if any daemon is
// believed to be running. Used by clients before probing /health.
func LookupPort() (port int, ok bool) {
	port, pid, ok := readRegistry()
	if !ok {
		return 0, false
	}
	return port, processAlive(pid)
}

func readRegistry() (port, pid int, ok bool) {
	portData, err := os.ReadFile(portFilePath())
	if err != nil {
		return 0, 0, false
	}
	pidData, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, 0, false
	}
	port, err1 := strconv.Atoi(strings.TrimSpace(string(portData)))
	pid, err2 := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return port, pid, true
}

// processAlive sends signal 0 to pid, the portable way to check
// liveness without actually perturbing the process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
