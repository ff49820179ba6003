// Package state tracks per-file fingerprints between indexing runs so
// incremental indexing can skip unchanged files. Fingerprints live in
// a small SQLite database next to the vector index.
package state

import (
	"database/sql"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// Fingerprint modes. A hash table uses exactly one mode for its whole
// life; reopening with the other mode fails so stale fingerprints are
// never compared across modes.
const (
	ModeContent = "content"
	ModeMtime   = "mtime"
)

// HashTable maps relative note paths to fingerprints. All reads are
// served from memory; SQLite is touched on Open and ReplaceAll only.
type HashTable struct {
	mu     sync.RWMutex
	db     *sql.DB
	mode   string
	hashes map[string]string
	closed bool
}

// Open opens or creates the hash table at path. mode must match the
// mode the table was created with.
func Open(path, mode string) (*HashTable, error) {
	if mode != ModeContent && mode != ModeMtime {
		return nil, qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"unknown hash mode %q (use %s or %s)", mode, ModeContent, ModeMtime)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	// Single writer keeps lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores DSN pragmas; set them explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
		}
	}

	t := &HashTable{db: db, mode: mode}
	if err := t.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func (t *HashTable) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS hashes (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);`
	if _, err := t.db.Exec(schema); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	var storedMode string
	err := t.db.QueryRow(`SELECT value FROM meta WHERE key = 'hash_mode'`).Scan(&storedMode)
	switch {
	case err == sql.ErrNoRows:
		if _, err := t.db.Exec(`INSERT INTO meta (key, value) VALUES ('hash_mode', ?)`, t.mode); err != nil {
			return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
		}
	case err != nil:
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	case storedMode != t.mode:
		return qerrors.Newf(qerrors.ErrCodeHashModeChanged,
			"index was built with hash mode %q, configured mode is %q", storedMode, t.mode).
			WithSuggestion("run a full index to switch modes")
	}

	return t.loadAll()
}

func (t *HashTable) loadAll() error {
	rows, err := t.db.Query(`SELECT path, hash FROM hashes`)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
		}
		hashes[path] = hash
	}
	if err := rows.Err(); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	t.hashes = hashes
	return nil
}

// Mode returns the table's fingerprint mode.
func (t *HashTable) Mode() string { return t.mode }

// Get returns the stored fingerprint for path.
func (t *HashTable) Get(path string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hash, ok := t.hashes[path]
	return hash, ok
}

// Len returns the number of tracked paths.
func (t *HashTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.hashes)
}

// Paths returns all tracked paths.
func (t *HashTable) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	paths := make([]string, 0, len(t.hashes))
	for path := range t.hashes {
		paths = append(paths, path)
	}
	return paths
}

// Snapshot returns a copy of the whole table.
func (t *HashTable) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := make(map[string]string, len(t.hashes))
	for path, hash := range t.hashes {
		snap[path] = hash
	}
	return snap
}

// ReplaceAll atomically swaps the whole table for hashes, in memory
// and on disk. Indexing runs compute their final table and commit it
// here once, after the run settles.
func (t *HashTable) ReplaceAll(hashes map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return qerrors.Newf(qerrors.ErrCodeStoreUnavailable, "hash table is closed")
	}

	tx, err := t.db.Begin()
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM hashes`); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO hashes (path, hash) VALUES (?, ?)`)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = stmt.Close() }()

	for path, hash := range hashes {
		if _, err := stmt.Exec(path, hash); err != nil {
			return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	t.hashes = make(map[string]string, len(hashes))
	for path, hash := range hashes {
		t.hashes[path] = hash
	}
	return nil
}

// Close closes the underlying database.
func (t *HashTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.db.Close()
}
