package store

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// RunLock provides cross-process mutual exclusion using flock(2). Two
// packflow processes orchestrating the same feature would race on the
// state file and the worktrees, so a run holds this lock for its whole
// duration.
type RunLock struct {
	path string
	file *os.File
}

// RunLock returns the lock guarding a feature's run, stored next to
// its state file.
func (s *Store) RunLock(featureSlug string) *RunLock {
	return &RunLock{
		path: filepath.Join(s.dir, featureSlug+".lock"),
	}
}

// TryLock attempts to acquire the lock without blocking. Returns false
// if another process holds it.
func (l *RunLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("create state directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}

	l.file = f
	return true, nil
}

// Unlock releases the lock and closes the lock file. Unlocking a lock
// that was never acquired is a no-op.
func (l *RunLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := l.file.Close()
	l.file = nil
	return err
}
