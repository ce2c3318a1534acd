package collaborator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// LockDir is where the install inhibitor lock file lives. A var, not a
// const, so tests can point it at a temp directory.
var LockDir = "/run/dinst"

const installLockFile = "install.lock"

// ErrInhibitHeld is returned when another install already holds the
// inhibitor.
var ErrInhibitHeld = errors.New("another install is already in progress")

// FileInhibitor holds an exclusive flock for the duration of an
// install, both serializing concurrent installs and standing in for a
// systemd sleep inhibitor (no session bus is guaranteed to be present
// on an install medium). Adapted from the teacher's FileLock
// (pkg/lock.go), repurposed from a general cache/system lock pair into
// the single suspend-inhibitor handle the executor acquires at INIT
// and releases on Close.
type FileInhibitor struct {
	file *os.File
	path string
}

// AcquireInhibitor acquires the install inhibitor lock, returning
// ErrInhibitHeld if another install already holds it.
func AcquireInhibitor() (*FileInhibitor, error) {
	if err := os.MkdirAll(LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory %s: %w", LockDir, err)
	}
	path := filepath.Join(LockDir, installLockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrInhibitHeld
		}
		return nil, fmt.Errorf("acquire lock on %s: %w", path, err)
	}

	return &FileInhibitor{file: file, path: path}, nil
}

// Close releases the lock. Safe to call multiple times.
func (f *FileInhibitor) Close() error {
	if f == nil || f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
