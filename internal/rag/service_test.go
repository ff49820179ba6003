package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiver-notes/quiver/internal/config"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
	"github.com/quiver-notes/quiver/internal/search"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig(t.TempDir())
	cfg.Index.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Embeddings.Provider = config.ProviderStatic
	cfg.Search.MinScore = 0.01
	require.NoError(t, cfg.Validate())
	return cfg
}

func newService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc, err := New(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func writeNote(t *testing.T, cfg *config.Config, rel, content string) {
	t.Helper()
	path := filepath.Join(cfg.Notes.Dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestServiceIndexAndSearch(t *testing.T) {
	cfg := testConfig(t)
	writeNote(t, cfg, "greetings.md", "# Title\n\nHello world from the first note.")
	writeNote(t, cfg, "farewell.md", "# Other\n\nGoodbye and good night.")

	svc := newService(t, cfg)
	ctx := context.Background()

	result, err := svc.IndexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	passages, err := svc.Search(ctx, "Hello world", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Equal(t, "greetings.md", passages[0].SourcePath)
	assert.Contains(t, passages[0].Content, "Hello world")
}

func TestServicePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	writeNote(t, cfg, "note.md", "# Persistent\n\nThis survives a restart.")

	svc := newService(t, cfg)
	_, err := svc.IndexAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	// A fresh service loads the saved index without re-indexing.
	restarted := newService(t, cfg)
	status := restarted.Status()
	assert.Equal(t, 1, status.Documents)
	assert.Equal(t, 1, status.TrackedFiles)
	assert.True(t, status.IndexOnDisk)

	passages, err := restarted.Search(context.Background(), "survives a restart", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Equal(t, "note.md", passages[0].SourcePath)
}

// A cancelled run still writes the store file so the on-disk index
// never lags behind the committed fingerprint table.
func TestServicePersistsCancelledRun(t *testing.T) {
	cfg := testConfig(t)
	writeNote(t, cfg, "note.md", "# Interrupted\n\nStopped before finishing.")

	svc := newService(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.IndexAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.True(t, svc.Status().IndexOnDisk)
	require.NoError(t, svc.Close())

	// After a restart the interrupted work is finished, not skipped.
	restarted := newService(t, cfg)
	result, err = restarted.IndexIncremental(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Skipped)

	status := restarted.Status()
	assert.Equal(t, 1, status.TrackedFiles)
	assert.Positive(t, status.Documents)
}

func TestServiceIncrementalAfterEdit(t *testing.T) {
	cfg := testConfig(t)
	writeNote(t, cfg, "a.md", "# A\n\nOriginal topic: astronomy.")

	svc := newService(t, cfg)
	ctx := context.Background()

	_, err := svc.IndexAll(ctx)
	require.NoError(t, err)

	writeNote(t, cfg, "a.md", "# A\n\nNew topic: woodworking and carpentry.")
	result, err := svc.IndexIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	passages, err := svc.Search(ctx, "woodworking carpentry", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Contains(t, passages[0].Content, "woodworking")
}

func TestServiceStatus(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg)

	status := svc.Status()
	assert.Equal(t, cfg.Notes.Dir, status.NotesDir)
	assert.Equal(t, "static", status.Provider)
	assert.Equal(t, "content", status.HashMode)
	assert.Equal(t, 0, status.Documents)
	assert.False(t, status.IndexOnDisk)
	assert.True(t, status.CacheEnabled)
}

func TestServiceRejectsDimensionChange(t *testing.T) {
	for _, kind := range []string{config.StoreHNSW, config.StoreMemory} {
		t.Run(kind, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Index.Store = kind
			writeNote(t, cfg, "a.md", "# A\n\nSome content.")

			svc := newService(t, cfg)
			_, err := svc.IndexAll(context.Background())
			require.NoError(t, err)
			require.NoError(t, svc.Close())

			// Reopening with a provider of different dimensionality
			// must fail at startup instead of mixing vector spaces.
			cfg.Embeddings.Provider = config.ProviderOpenAI
			cfg.Embeddings.Dimensions = 1536
			t.Setenv("OPENAI_API_KEY", "dummy")

			_, err = New(context.Background(), cfg, nil, nil)
			require.Error(t, err)
			assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeDimensionMismatch))
		})
	}
}

func TestServiceEmptyNotesDir(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg)
	ctx := context.Background()

	result, err := svc.IndexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	passages, err := svc.Search(ctx, "anything at all", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, passages)
}
