// Package lock provides the two flock(2)-based exclusion primitives the
// coordinator relies on: a per-project scope lock serializing admission and
// a PID lock keeping serve single-instance.
package lock

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/zeebo/blake3"
)

// ScopeLock is a blocking exclusive flock(2) scoped to an arbitrary key,
// typically a project path. Admission decisions for a project are serialized
// across processes by taking its scope lock for the duration of the
// check-and-create sequence.
type ScopeLock struct {
	path string
	f    *os.File
}

// AcquireScopeLock blocks until the exclusive lock for scope is held. The
// lock file name is derived from a hash of the scope so arbitrary paths map
// to valid file names.
func AcquireScopeLock(lockDir, scope string) (*ScopeLock, error) {
	if lockDir == "" {
		return nil, fmt.Errorf("lock directory is empty")
	}
	if scope == "" {
		return nil, fmt.Errorf("lock scope is empty")
	}
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	sum := blake3.Sum256([]byte(scope))
	name := hex.EncodeToString(sum[:8]) + ".lock"
	path := filepath.Join(lockDir, name)

	// Blocking acquire: admission only holds the lock for the duration of a
	// few ledger statements, so waiting is bounded in practice.
	f, err := flockExclusive(path, true)
	if err != nil {
		return nil, fmt.Errorf("acquire scope lock: %w", err)
	}

	return &ScopeLock{path: path, f: f}, nil
}

func (l *ScopeLock) Path() string { return l.path }

func (l *ScopeLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := funlock(l.f)
	l.f = nil
	return err
}

// flockExclusive opens path and takes an exclusive flock on it. The lock
// lives as long as the returned descriptor stays open.
func flockExclusive(path string, wait bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	how := syscall.LOCK_EX
	if !wait {
		how |= syscall.LOCK_NB
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func funlock(f *os.File) error {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return f.Close()
}
