package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

// PIDLock keeps the coordinator service single-instance. It is the same
// flock mechanism as ScopeLock, but non-blocking: a second serve must fail
// fast, not queue behind the first. The file carries the holder's PID for
// operators to inspect.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock takes the service lock at lockPath or fails immediately
// when another process holds it.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := flockExclusive(lockPath, false)
	if err != nil {
		return nil, fmt.Errorf("acquire service lock: %w", err)
	}
	if err := stampPID(f); err != nil {
		_ = funlock(f)
		return nil, err
	}

	return &PIDLock{path: lockPath, f: f}, nil
}

// stampPID replaces the file contents with the current PID. Purely
// informational; the flock is what excludes.
func stampPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind pid file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync pid file: %w", err)
	}
	return nil
}

func (l *PIDLock) Path() string { return l.path }

func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := funlock(l.f)
	l.f = nil
	return err
}
