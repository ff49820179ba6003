// Package store persists chunk vectors and answers nearest-neighbor
// queries. Implementations are selected by configuration and share one
// interface, so the indexer and retriever never branch on backend.
package store

import (
	"context"
	"strings"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// Metadata is the chunk payload stored alongside each vector. It holds
// everything the retriever needs to build a search result without
// re-reading source files.
type Metadata struct {
	SourcePath  string
	HeadingPath []string
	Content     string
	ContentHash string
	Ordinal     int
}

// Document is a vector plus its chunk metadata, keyed by chunk ID.
type Document struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is one search hit. Score is a similarity in [0,1], higher is
// closer.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// SearchFilter restricts search results. A nil filter matches
// everything.
type SearchFilter struct {
	// PathPrefix keeps only chunks whose source path starts with the
	// prefix.
	PathPrefix string
}

// Matches reports whether meta passes the filter.
func (f *SearchFilter) Matches(meta Metadata) bool {
	if f == nil || f.PathPrefix == "" {
		return true
	}
	return strings.HasPrefix(meta.SourcePath, f.PathPrefix)
}

// VectorStore stores chunk vectors and supports nearest-neighbor
// search.
//
// Upsert is idempotent per ID. Implementations must reject vectors
// whose dimension differs from the store's configured dimension.
type VectorStore interface {
	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, docs []*Document) error

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// DeletePath removes every document whose source path equals path.
	DeletePath(ctx context.Context, path string) error

	// Search returns up to k matches ordered by descending score.
	Search(ctx context.Context, query []float32, k int, filter *SearchFilter) ([]*Match, error)

	// Count returns the number of stored documents.
	Count() int

	// Clear removes all documents.
	Clear(ctx context.Context) error

	// Save persists the store to path atomically.
	Save(path string) error

	// Load replaces in-memory state with the persisted store at path.
	Load(path string) error

	// Close releases resources.
	Close() error
}

// errDimensionMismatch builds the standard dimension error.
func errDimensionMismatch(expected, got int) error {
	return qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
		"vector has %d dimensions, store expects %d", got, expected)
}

// errStoreClosed builds the standard closed-store error.
func errStoreClosed() error {
	return qerrors.Newf(qerrors.ErrCodeStoreUnavailable, "vector store is closed")
}
