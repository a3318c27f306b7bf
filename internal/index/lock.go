package index

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// SyncLock enforces single-writer discipline over a registry across
// processes. The lock file sits next to the registry and is held for
// the whole sync cycle.
type SyncLock struct {
	flock  *flock.Flock
	locked bool
}

// NewSyncLock creates a lock at the given path (conventionally
// <data_dir>/registries/<collection>.lock).
func NewSyncLock(path string) *SyncLock {
	return &SyncLock{flock: flock.New(path)}
}

// Acquire takes the lock without blocking. A held lock means another
// sync is running against the same collection.
func (l *SyncLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return errors.IOError("failed to create lock directory", err)
	}

	ok, err := l.flock.TryLock()
	if err != nil {
		return errors.IOError("failed to acquire sync lock", err).
			WithDetail("path", l.flock.Path())
	}
	if !ok {
		return errors.New(errors.ErrCodeSyncInProgress, "sync already in progress", nil).
			WithDetail("path", l.flock.Path()).
			WithSuggestion("Wait for the running sync to finish")
	}
	l.locked = true
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *SyncLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return errors.IOError("failed to release sync lock", err).
			WithDetail("path", l.flock.Path())
	}
	return nil
}
