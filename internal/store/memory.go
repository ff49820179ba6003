package store

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"sync"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// MemoryStore is a brute-force VectorStore that scans every document
// per query. Exact results, no index to maintain; fine for small note
// collections and for tests.
type MemoryStore struct {
	mu         sync.RWMutex
	dimensions int
	docs       map[string]*Document
	closed     bool
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory brute-force store.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, qerrors.Newf(qerrors.ErrCodeInvalidInput,
			"memory store requires positive dimensions, got %d", dimensions)
	}
	return &MemoryStore{
		dimensions: dimensions,
		docs:       make(map[string]*Document),
	}, nil
}

// Upsert inserts or replaces documents by ID.
func (s *MemoryStore) Upsert(_ context.Context, docs []*Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}

	for _, doc := range docs {
		if len(doc.Vector) != s.dimensions {
			return errDimensionMismatch(s.dimensions, len(doc.Vector))
		}
	}

	for _, doc := range docs {
		vec := make([]float32, len(doc.Vector))
		copy(vec, doc.Vector)
		normalizeInPlace(vec)
		s.docs[doc.ID] = &Document{ID: doc.ID, Vector: vec, Metadata: doc.Metadata}
	}
	return nil
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

// DeletePath removes every document for one source path.
func (s *MemoryStore) DeletePath(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}
	for id, doc := range s.docs {
		if doc.Metadata.SourcePath == path {
			delete(s.docs, id)
		}
	}
	return nil
}

// Search scans all documents and returns the top k by cosine
// similarity.
func (s *MemoryStore) Search(_ context.Context, query []float32, k int, filter *SearchFilter) ([]*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed()
	}
	if len(query) != s.dimensions {
		return nil, errDimensionMismatch(s.dimensions, len(query))
	}
	if k <= 0 || len(s.docs) == 0 {
		return []*Match{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	matches := make([]*Match, 0, len(s.docs))
	for _, doc := range s.docs {
		if !filter.Matches(doc.Metadata) {
			continue
		}
		matches = append(matches, &Match{
			ID:       doc.ID,
			Score:    dotToScore(dot(normalized, doc.Vector)),
			Metadata: doc.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count returns the number of stored documents.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.docs)
}

// Clear removes all documents.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}
	s.docs = make(map[string]*Document)
	return nil
}

// memorySnapshot is the gob-encoded persisted form.
type memorySnapshot struct {
	Dimensions int
	Docs       map[string]*Document
}

// Save persists all documents atomically (temp file + rename).
func (s *MemoryStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errStoreClosed()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	snap := memorySnapshot{Dimensions: s.dimensions, Docs: s.docs}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces in-memory state with the persisted store at path.
func (s *MemoryStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}

	file, err := os.Open(path)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = file.Close() }()

	var snap memorySnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return qerrors.New(qerrors.ErrCodeCorruptIndex,
			"vector store file is corrupt, re-run a full index", err)
	}

	// The snapshot's dimension is authoritative for the data it holds;
	// adopting a mismatched one would mix vector spaces.
	if snap.Dimensions != s.dimensions {
		return errDimensionMismatch(s.dimensions, snap.Dimensions)
	}

	s.docs = snap.Docs
	if s.docs == nil {
		s.docs = make(map[string]*Document)
	}
	return nil
}

// Close releases resources.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.docs = nil
	return nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// dotToScore maps the dot product of unit vectors (-1..1) to the same
// 0..1 similarity scale the HNSW store uses.
func dotToScore(d float32) float32 {
	return (d + 1.0) / 2.0
}
