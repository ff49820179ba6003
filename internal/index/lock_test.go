package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

func TestLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	first := NewLock(dir)
	require.NoError(t, first.TryLock())

	second := NewLock(dir)
	err := second.TryLock()
	require.Error(t, err)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeStoreUnavailable))

	require.NoError(t, first.Unlock())
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}

func TestLockUnlockWithoutHold(t *testing.T) {
	l := NewLock(t.TempDir())
	assert.NoError(t, l.Unlock())
}
