// Package index builds and refreshes the vector index from the notes
// directory.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quiver-notes/quiver/internal/chunk"
	"github.com/quiver-notes/quiver/internal/embed"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
	"github.com/quiver-notes/quiver/internal/notes"
	"github.com/quiver-notes/quiver/internal/state"
	"github.com/quiver-notes/quiver/internal/store"
)

// FileError records one file that failed during a run. The run itself
// continues; the file keeps its previous fingerprint so the next run
// retries it.
type FileError struct {
	Path string
	Err  error
}

// Result summarizes one indexing run.
type Result struct {
	Processed int // files chunked, embedded and upserted
	Skipped   int // unchanged files
	Deleted   int // files removed from the index
	Chunks    int // chunks upserted
	Failed    []FileError
	Cancelled bool
	Elapsed   time.Duration
}

// ProgressFunc reports per-file progress during a run.
type ProgressFunc func(path string, done, total int)

// Options configures an Indexer.
type Options struct {
	Workers    int
	OnProgress ProgressFunc
}

// Indexer coordinates scanning, chunking, embedding and storage.
// Files are processed concurrently with bounded parallelism; one
// failing file never aborts the run.
type Indexer struct {
	scanner  *notes.Scanner
	chunker  *chunk.Chunker
	provider embed.Provider
	store    store.VectorStore
	hashes   *state.HashTable
	logger   *slog.Logger
	opts     Options
}

// New creates an Indexer.
func New(scanner *notes.Scanner, chunker *chunk.Chunker, provider embed.Provider,
	vs store.VectorStore, hashes *state.HashTable, logger *slog.Logger, opts Options) *Indexer {

	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		scanner:  scanner,
		chunker:  chunker,
		provider: provider,
		store:    vs,
		hashes:   hashes,
		logger:   logger,
		opts:     opts,
	}
}

// IndexAll rebuilds the index from scratch: the store and fingerprint
// table are cleared, then every note is indexed.
func (ix *Indexer) IndexAll(ctx context.Context) (*Result, error) {
	if err := ix.store.Clear(ctx); err != nil {
		return nil, err
	}
	if err := ix.hashes.ReplaceAll(nil); err != nil {
		return nil, err
	}
	return ix.run(ctx, true)
}

// IndexIncremental re-indexes only notes whose fingerprint changed
// since the last run, and removes notes that disappeared from disk.
func (ix *Indexer) IndexIncremental(ctx context.Context) (*Result, error) {
	return ix.run(ctx, false)
}

// fileOutcome is the per-file result collected from workers.
type fileOutcome struct {
	path   string
	hash   string
	chunks int
	err    error
}

func (ix *Indexer) run(ctx context.Context, full bool) (*Result, error) {
	start := time.Now()

	paths, err := ix.scanner.Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return &Result{Cancelled: true, Elapsed: time.Since(start)}, nil
		}
		return nil, err
	}

	previous := ix.hashes.Snapshot()
	result := &Result{}

	// Notes that vanished from disk leave the index first.
	onDisk := make(map[string]bool, len(paths))
	for _, p := range paths {
		onDisk[p] = true
	}
	next := make(map[string]string, len(paths))
	for path, hash := range previous {
		if onDisk[path] {
			next[path] = hash
			continue
		}
		if err := ix.store.DeletePath(ctx, path); err != nil {
			return nil, err
		}
		result.Deleted++
		ix.logger.Debug("removed deleted note", "path", path)
	}

	// Decide what needs work.
	var pending []string
	fingerprints := make(map[string]string, len(paths))
	for _, path := range paths {
		fp, err := ix.fingerprint(path)
		if err != nil {
			result.Failed = append(result.Failed, FileError{Path: path, Err: err})
			continue
		}
		fingerprints[path] = fp
		if !full {
			if old, ok := previous[path]; ok && old == fp {
				result.Skipped++
				continue
			}
		}
		pending = append(pending, path)
	}

	outcomes := ix.process(ctx, pending, fingerprints)

	for _, out := range outcomes {
		if out.err != nil {
			result.Failed = append(result.Failed, FileError{Path: out.path, Err: out.err})
			continue
		}
		next[out.path] = out.hash
		result.Processed++
		result.Chunks += out.chunks
	}

	cancelled := ctx.Err() != nil
	result.Cancelled = cancelled

	// Commit fingerprints only after all in-flight work has settled,
	// and only for files that fully made it into the store. Failed
	// files keep their old entry (or none) so the next run retries.
	if err := ix.hashes.ReplaceAll(next); err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)
	ix.logger.Info("indexing run finished",
		"full", full,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"deleted", result.Deleted,
		"chunks", result.Chunks,
		"failed", len(result.Failed),
		"cancelled", result.Cancelled,
		"elapsed", result.Elapsed)
	return result, nil
}

// process indexes the pending files with bounded concurrency and
// returns one outcome per attempted file. Cancellation stops new files
// from starting; files already in flight finish.
func (ix *Indexer) process(ctx context.Context, pending []string, fingerprints map[string]string) []fileOutcome {
	if len(pending) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		outcomes []fileOutcome
		done     int
	)

	g := &errgroup.Group{}
	g.SetLimit(ix.opts.Workers)

	for _, path := range pending {
		if ctx.Err() != nil {
			break
		}
		path := path
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			chunks, err := ix.indexFile(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			done++
			if ix.opts.OnProgress != nil {
				ix.opts.OnProgress(path, done, len(pending))
			}
			if err != nil {
				// A cancelled worker is not a failed file.
				if ctx.Err() != nil {
					return nil
				}
				ix.logger.Warn("failed to index note", "path", path, "error", err)
				outcomes = append(outcomes, fileOutcome{path: path, err: err})
				return nil
			}
			outcomes = append(outcomes, fileOutcome{
				path:   path,
				hash:   fingerprints[path],
				chunks: chunks,
			})
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].path < outcomes[j].path })
	return outcomes
}

// indexFile reads, chunks, embeds and stores one note. The store
// update is delete-then-upsert so chunks from a previous version never
// linger.
func (ix *Indexer) indexFile(ctx context.Context, path string) (int, error) {
	data, err := ix.scanner.ReadNote(path)
	if err != nil {
		return 0, err
	}

	chunks, _ := ix.chunker.Chunk(path, string(data))

	if err := ix.store.DeletePath(ctx, path); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	docs := make([]*store.Document, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		docs[i] = &store.Document{
			ID: c.ID,
			Metadata: store.Metadata{
				SourcePath:  c.SourcePath,
				HeadingPath: c.HeadingPath,
				Content:     c.Content,
				ContentHash: c.ContentHash,
				Ordinal:     c.Ordinal,
			},
		}
	}

	// Respect the provider's batch limit; a failed batch fails the
	// whole file.
	batchSize := ix.provider.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	for offset := 0; offset < len(texts); offset += batchSize {
		end := offset + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := ix.provider.EmbedBatch(ctx, texts[offset:end])
		if err != nil {
			return 0, err
		}
		for i, vec := range vectors {
			docs[offset+i].Vector = vec
		}
	}

	if err := ix.store.Upsert(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// fingerprint computes the change-detection fingerprint for one note,
// using the mode the hash table was created with. Content mode hashes
// the file bytes; mtime mode combines size and modification time and
// trades accuracy for speed.
func (ix *Indexer) fingerprint(rel string) (string, error) {
	root, err := ix.scanner.Root()
	if err != nil {
		return "", err
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))

	if ix.hashes.Mode() == state.ModeMtime {
		info, err := os.Stat(abs)
		if err != nil {
			return "", qerrors.New(qerrors.ErrCodeFileUnreadable, "cannot stat note "+rel, err)
		}
		return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()), nil
	}

	data, err := ix.scanner.ReadNote(rel)
	if err != nil {
		return "", err
	}
	return chunk.HashContent(string(data)), nil
}
