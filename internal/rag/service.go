// Package rag wires the pipeline together behind one façade: index
// the notes directory, then answer retrieval queries against it.
package rag

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/quiver-notes/quiver/internal/chunk"
	"github.com/quiver-notes/quiver/internal/config"
	"github.com/quiver-notes/quiver/internal/embed"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
	"github.com/quiver-notes/quiver/internal/index"
	"github.com/quiver-notes/quiver/internal/notes"
	"github.com/quiver-notes/quiver/internal/search"
	"github.com/quiver-notes/quiver/internal/state"
	"github.com/quiver-notes/quiver/internal/store"
)

// Persisted file names inside the data directory.
const (
	vectorFileName = "vectors.idx"
	stateFileName  = "state.db"
)

// Service owns the full pipeline: scanner, chunker, provider, store,
// fingerprint table, indexer and retriever. Build one with New, use
// it, Close it.
type Service struct {
	cfg       *config.Config
	logger    *slog.Logger
	scanner   *notes.Scanner
	provider  embed.Provider
	store     store.VectorStore
	hashes    *state.HashTable
	indexer   *index.Indexer
	retriever *search.Retriever
}

// Status describes the current index for introspection commands.
type Status struct {
	NotesDir      string
	DataDir       string
	Provider      string
	Model         string
	Dimensions    int
	Documents     int
	TrackedFiles  int
	HashMode      string
	StoreKind     string
	IndexOnDisk   bool
	CacheEnabled  bool
}

// New builds a Service from configuration. The provider is initialized
// and a persisted index is loaded when one exists.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, onProgress embed.ProgressFunc) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := embed.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		return nil, err
	}
	if err := provider.Initialize(ctx, onProgress); err != nil {
		return nil, err
	}

	dims := provider.Dimensions()

	// When a persisted index exists, its dimension is authoritative: a
	// model switch must fail loudly instead of serving garbage.
	vectorPath := filepath.Join(cfg.Index.DataDir, vectorFileName)
	if storedDims, err := store.ReadStoredDimensions(vectorPath); err != nil {
		_ = provider.Close()
		return nil, err
	} else if storedDims != 0 && storedDims != dims {
		_ = provider.Close()
		return nil, qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
			"index was built with %d-dimension vectors, provider %s/%s produces %d",
			storedDims, provider.Name(), provider.ModelID(), dims).
			WithSuggestion("run a full index to rebuild with the new model")
	}

	vs, err := store.NewVectorStore(cfg.Index.Store, dims)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}

	if err := os.MkdirAll(cfg.Index.DataDir, 0o755); err != nil {
		_ = provider.Close()
		_ = vs.Close()
		return nil, qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	if _, err := os.Stat(vectorPath); err == nil {
		if err := vs.Load(vectorPath); err != nil {
			_ = provider.Close()
			_ = vs.Close()
			// The memory store learns of a model switch here rather
			// than from the sidecar check above.
			if qerrors.IsCode(err, qerrors.ErrCodeDimensionMismatch) {
				err = qerrors.Wrap(qerrors.ErrCodeDimensionMismatch, err).
					WithSuggestion("run a full index to rebuild with the new model")
			}
			return nil, err
		}
		logger.Info("loaded persisted index", "path", vectorPath, "documents", vs.Count())
	}

	hashes, err := state.Open(filepath.Join(cfg.Index.DataDir, stateFileName), cfg.Index.HashMode)
	if err != nil {
		_ = provider.Close()
		_ = vs.Close()
		return nil, err
	}

	scanner := notes.NewScanner(cfg.Notes.Dir, cfg.Notes.Exclude)
	chunker := chunk.NewChunkerWithOptions(chunk.Options{
		Size:    cfg.Chunking.Size,
		Overlap: cfg.Chunking.Overlap,
	})

	svc := &Service{
		cfg:      cfg,
		logger:   logger,
		scanner:  scanner,
		provider: provider,
		store:    vs,
		hashes:   hashes,
	}
	svc.indexer = index.New(scanner, chunker, provider, vs, hashes, logger,
		index.Options{Workers: cfg.Index.Workers})
	svc.retriever = search.NewRetriever(provider, vs, cfg.Search.K,
		float32(cfg.Search.MinScore), logger)

	return svc, nil
}

// IndexAll rebuilds the whole index and persists it.
func (s *Service) IndexAll(ctx context.Context) (*index.Result, error) {
	result, err := s.indexer.IndexAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return result, nil
}

// IndexIncremental refreshes changed notes and persists the result.
func (s *Service) IndexIncremental(ctx context.Context) (*index.Result, error) {
	result, err := s.indexer.IndexIncremental(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return result, nil
}

// persist saves the vector store after a run. Cancelled runs save
// too: the indexer has already committed fingerprints for the files
// that fully made it into the store, so the on-disk index must carry
// their chunks or those files would be skipped forever.
func (s *Service) persist() error {
	return s.store.Save(filepath.Join(s.cfg.Index.DataDir, vectorFileName))
}

// Search retrieves ranked passages for a query.
func (s *Service) Search(ctx context.Context, query string, opts search.Options) ([]*search.Passage, error) {
	return s.retriever.Retrieve(ctx, query, opts)
}

// Status reports the current state of the index.
func (s *Service) Status() Status {
	_, err := os.Stat(filepath.Join(s.cfg.Index.DataDir, vectorFileName))
	return Status{
		NotesDir:     s.cfg.Notes.Dir,
		DataDir:      s.cfg.Index.DataDir,
		Provider:     s.provider.Name(),
		Model:        s.provider.ModelID(),
		Dimensions:   s.provider.Dimensions(),
		Documents:    s.store.Count(),
		TrackedFiles: s.hashes.Len(),
		HashMode:     s.hashes.Mode(),
		StoreKind:    s.cfg.Index.Store,
		IndexOnDisk:  err == nil,
		CacheEnabled: s.cfg.Embeddings.CacheSize > 0,
	}
}

// Close releases every component. Safe to call once.
func (s *Service) Close() error {
	var firstErr error
	if err := s.hashes.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.provider.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
