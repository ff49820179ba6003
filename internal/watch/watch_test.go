package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
	}

	select {
	case <-d.Output():
	case <-time.After(time.Second):
		t.Fatal("expected a flush")
	}

	// One burst, one flush.
	select {
	case <-d.Output():
		t.Fatal("unexpected second flush")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerSeparateBursts(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Trigger()
	select {
	case <-d.Output():
	case <-time.After(time.Second):
		t.Fatal("expected first flush")
	}

	d.Trigger()
	select {
	case <-d.Output():
	case <-time.After(time.Second):
		t.Fatal("expected second flush")
	}
}

func TestDebouncerStopIsIdempotent(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Trigger()
	d.Stop()
	d.Stop()

	// Triggers after Stop are ignored.
	d.Trigger()
	_, open := <-d.Output()
	assert.False(t, open)
}

func TestWatcherTriggersReindex(t *testing.T) {
	root := t.TempDir()

	var runs int64
	w := NewWatcher(root, 30*time.Millisecond, func(_ context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register, then touch a note.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.md"), []byte("# Hi"), 0o644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherIgnoresNonMarkdown(t *testing.T) {
	root := t.TempDir()

	var runs int64
	w := NewWatcher(root, 30*time.Millisecond, func(_ context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "image.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.md"), []byte("# H"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&runs))

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherMissingRoot(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), 0, func(_ context.Context) error {
		return nil
	}, nil)

	err := w.Run(context.Background())
	require.Error(t, err)
}
