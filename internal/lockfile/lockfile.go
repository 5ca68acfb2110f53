// Package lockfile guards the database directory against concurrent engine
// processes. The daemon holds the lock for its lifetime; CLI probes test it
// to learn whether a daemon is running.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockName is the daemon lock file stored next to the database.
const LockName = "daemon.lock"

// DaemonLock is a held filesystem lock. Release it with Unlock.
type DaemonLock struct {
	fl *flock.Flock
}

// Acquire takes the daemon lock for dir, creating the directory if needed.
// Returns an error when another process already holds it.
func Acquire(dir string) (*DaemonLock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(dir, LockName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("daemon lock already held (another instance running in %s)", dir)
	}
	return &DaemonLock{fl: fl}, nil
}

// Unlock releases the lock and removes the lock file best-effort.
func (l *DaemonLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	path := l.fl.Path()
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release daemon lock: %w", err)
	}
	_ = os.Remove(path)
	return nil
}

// TryDaemonLock reports whether a daemon currently holds the lock for dir.
// It never leaves the lock held: a successful probe releases it
// immediately.
func TryDaemonLock(dir string) (held bool, err error) {
	path := filepath.Join(dir, LockName)
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return false, nil
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to probe daemon lock: %w", err)
	}
	if !locked {
		return true, nil
	}
	_ = fl.Unlock()
	return false, nil
}
