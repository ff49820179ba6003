package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// HNSW graph defaults, following the library's recommendations.
const (
	defaultM        = 16
	defaultEfSearch = 20
	defaultMl       = 0.25
)

// HNSWConfig configures the HNSW-backed store.
type HNSWConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// HNSWStore implements VectorStore on a pure-Go HNSW graph. String
// chunk IDs map to internal uint64 keys; deletion is lazy (mappings
// are dropped, graph nodes stay) because removing the last node from
// the graph corrupts it.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	meta    map[string]Metadata
	pathIDs map[string]map[string]struct{} // source path -> chunk IDs
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// hnswSidecar is the gob-encoded state saved next to the graph file.
// Vectors live in the graph export; everything else lives here.
type hnswSidecar struct {
	IDMap   map[string]uint64
	Meta    map[string]Metadata
	NextKey uint64
	Config  HNSWConfig
}

// NewHNSWStore creates an HNSW-backed vector store. Cosine distance is
// the only metric; vectors are normalized on insert.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, qerrors.Newf(qerrors.ErrCodeInvalidInput,
			"hnsw store requires positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = defaultM
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = defaultEfSearch
	}

	s := &HNSWStore{config: cfg}
	s.reset()
	return s, nil
}

// reset recreates the graph and mappings. Caller holds the lock (or is
// the constructor).
func (s *HNSWStore) reset() {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = defaultMl

	s.graph = graph
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.meta = make(map[string]Metadata)
	s.pathIDs = make(map[string]map[string]struct{})
	s.nextKey = 0
}

// Upsert inserts or replaces documents by ID.
func (s *HNSWStore) Upsert(_ context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}

	for _, doc := range docs {
		if len(doc.Vector) != s.config.Dimensions {
			return errDimensionMismatch(s.config.Dimensions, len(doc.Vector))
		}
	}

	for _, doc := range docs {
		s.removeLocked(doc.ID)

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(doc.Vector))
		copy(vec, doc.Vector)
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[doc.ID] = key
		s.keyMap[key] = doc.ID
		s.meta[doc.ID] = doc.Metadata

		ids, ok := s.pathIDs[doc.Metadata.SourcePath]
		if !ok {
			ids = make(map[string]struct{})
			s.pathIDs[doc.Metadata.SourcePath] = ids
		}
		ids[doc.ID] = struct{}{}
	}

	return nil
}

// removeLocked drops every mapping for id, leaving the graph node
// orphaned. Caller holds the write lock.
func (s *HNSWStore) removeLocked(id string) {
	key, exists := s.idMap[id]
	if !exists {
		return
	}
	delete(s.keyMap, key)
	delete(s.idMap, id)

	if m, ok := s.meta[id]; ok {
		if ids, ok := s.pathIDs[m.SourcePath]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.pathIDs, m.SourcePath)
			}
		}
		delete(s.meta, id)
	}
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (s *HNSWStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}

	for _, id := range ids {
		s.removeLocked(id)
	}
	return nil
}

// DeletePath removes every document for one source path.
func (s *HNSWStore) DeletePath(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}

	for id := range s.pathIDs[path] {
		s.removeLocked(id)
	}
	return nil
}

// Search returns up to k matches ordered by descending score. With a
// filter, the graph is over-queried so filtered-out and lazily deleted
// nodes don't starve the result.
func (s *HNSWStore) Search(_ context.Context, query []float32, k int, filter *SearchFilter) ([]*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed()
	}
	if len(query) != s.config.Dimensions {
		return nil, errDimensionMismatch(s.config.Dimensions, len(query))
	}
	if k <= 0 || len(s.idMap) == 0 {
		return []*Match{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Orphans plus filtering mean the top-k graph nodes may not yield
	// k valid matches. Fetch extra, capped at the graph size.
	fetch := k * 3
	if orphans := s.graph.Len() - len(s.idMap); orphans > 0 {
		fetch += orphans
	}
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(normalized, fetch)

	// The graph does not return candidates in distance order, so score
	// every valid one, rank, then cut to k.
	matches := make([]*Match, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}
		meta := s.meta[id]
		if !filter.Matches(meta) {
			continue
		}

		distance := s.graph.Distance(normalized, node.Value)
		matches = append(matches, &Match{
			ID:       id,
			Score:    distanceToScore(distance),
			Metadata: meta,
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
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Clear removes all documents and rebuilds the graph, dropping
// accumulated orphans.
func (s *HNSWStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}
	s.reset()
	return nil
}

// Stats reports graph occupancy, including orphans left by lazy
// deletion. A Save/Load cycle does not compact them; Clear does.
type Stats struct {
	Documents  int
	GraphNodes int
	Orphans    int
}

// Stats returns store occupancy numbers.
func (s *HNSWStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}
	}
	return Stats{
		Documents:  len(s.idMap),
		GraphNodes: s.graph.Len(),
		Orphans:    s.graph.Len() - len(s.idMap),
	}
}

// Save persists the graph and sidecar atomically (temp file + rename).
func (s *HNSWStore) Save(path string) error {
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

	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	return s.saveSidecar(path + ".meta")
}

func (s *HNSWStore) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}

	sidecar := hnswSidecar{
		IDMap:   s.idMap,
		Meta:    s.meta,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(file).Encode(sidecar); err != nil {
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

// Load replaces in-memory state with the persisted store at path. A
// decode failure reports a corrupt index so callers can offer a
// rebuild.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}

	if err := s.loadSidecar(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = file.Close() }()

	// Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return qerrors.New(qerrors.ErrCodeCorruptIndex,
			"vector index is corrupt, re-run a full index", err)
	}
	return nil
}

func (s *HNSWStore) loadSidecar(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = file.Close() }()

	var sidecar hnswSidecar
	if err := gob.NewDecoder(file).Decode(&sidecar); err != nil {
		return qerrors.New(qerrors.ErrCodeCorruptIndex,
			"vector index metadata is corrupt, re-run a full index", err)
	}

	s.config = sidecar.Config
	s.reset()
	s.idMap = sidecar.IDMap
	s.meta = sidecar.Meta
	s.nextKey = sidecar.NextKey
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	for id, m := range s.meta {
		ids, ok := s.pathIDs[m.SourcePath]
		if !ok {
			ids = make(map[string]struct{})
			s.pathIDs[m.SourcePath] = ids
		}
		ids[id] = struct{}{}
	}
	return nil
}

// Close releases resources. Further calls fail.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadStoredDimensions reads the dimension from a persisted store's
// sidecar, or 0 when no store exists yet.
func ReadStoredDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, qerrors.Wrap(qerrors.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = file.Close() }()

	var sidecar hnswSidecar
	if err := gob.NewDecoder(file).Decode(&sidecar); err != nil {
		return 0, qerrors.New(qerrors.ErrCodeCorruptIndex,
			"vector index metadata is corrupt", err)
	}
	return sidecar.Config.Dimensions, nil
}

// normalizeInPlace scales v to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps cosine distance (0..2) to similarity (0..1).
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
