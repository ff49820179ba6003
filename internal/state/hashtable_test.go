package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

func openTable(t *testing.T, path, mode string) *HashTable {
	t.Helper()
	table, err := Open(path, mode)
	require.NoError(t, err)
	t.Cleanup(func() { _ = table.Close() })
	return table
}

func TestHashTableEmpty(t *testing.T) {
	table := openTable(t, filepath.Join(t.TempDir(), "state.db"), ModeContent)

	assert.Equal(t, 0, table.Len())
	assert.Equal(t, ModeContent, table.Mode())

	_, ok := table.Get("notes/a.md")
	assert.False(t, ok)
}

func TestHashTableReplaceAllPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	table := openTable(t, path, ModeContent)
	require.NoError(t, table.ReplaceAll(map[string]string{
		"notes/a.md": "hash-a",
		"notes/b.md": "hash-b",
	}))

	hash, ok := table.Get("notes/a.md")
	assert.True(t, ok)
	assert.Equal(t, "hash-a", hash)
	require.NoError(t, table.Close())

	// A fresh open sees the committed table.
	reopened := openTable(t, path, ModeContent)
	assert.Equal(t, 2, reopened.Len())
	hash, ok = reopened.Get("notes/b.md")
	assert.True(t, ok)
	assert.Equal(t, "hash-b", hash)
}

func TestHashTableReplaceAllDropsStale(t *testing.T) {
	table := openTable(t, filepath.Join(t.TempDir(), "state.db"), ModeContent)

	require.NoError(t, table.ReplaceAll(map[string]string{"a.md": "1", "b.md": "2"}))
	require.NoError(t, table.ReplaceAll(map[string]string{"b.md": "3"}))

	assert.Equal(t, 1, table.Len())
	_, ok := table.Get("a.md")
	assert.False(t, ok)

	hash, _ := table.Get("b.md")
	assert.Equal(t, "3", hash)
}

func TestHashTableModeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	table := openTable(t, path, ModeContent)
	require.NoError(t, table.Close())

	_, err := Open(path, ModeMtime)
	require.Error(t, err)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeHashModeChanged))
}

func TestHashTableInvalidMode(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "state.db"), "size")
	require.Error(t, err)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeConfigInvalid))
}

func TestHashTableSnapshotIsCopy(t *testing.T) {
	table := openTable(t, filepath.Join(t.TempDir(), "state.db"), ModeMtime)
	require.NoError(t, table.ReplaceAll(map[string]string{"a.md": "1"}))

	snap := table.Snapshot()
	snap["a.md"] = "mutated"
	snap["b.md"] = "new"

	hash, _ := table.Get("a.md")
	assert.Equal(t, "1", hash)
	assert.Equal(t, 1, table.Len())
	assert.ElementsMatch(t, []string{"a.md"}, table.Paths())
}
