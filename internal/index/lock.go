package index

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// Lock is a cross-process lock on the data directory. Two indexing
// processes writing the same store would corrupt it; the lock makes
// the second one fail fast instead.
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewLock creates a lock for the given data directory. The lock file
// lives at <dir>/.index.lock.
func NewLock(dir string) *Lock {
	path := filepath.Join(dir, ".index.lock")
	return &Lock{path: path, flock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking.
func (l *Lock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	if !acquired {
		return qerrors.Newf(qerrors.ErrCodeStoreUnavailable,
			"another indexing process holds the lock on %s", filepath.Dir(l.path)).
			WithSuggestion("wait for the other quiver process to finish")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	return l.flock.Unlock()
}
