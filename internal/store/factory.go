package store

import (
	"github.com/quiver-notes/quiver/internal/config"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// NewVectorStore builds the store backend named by kind.
func NewVectorStore(kind string, dimensions int) (VectorStore, error) {
	switch kind {
	case config.StoreHNSW:
		return NewHNSWStore(HNSWConfig{Dimensions: dimensions})
	case config.StoreMemory:
		return NewMemoryStore(dimensions)
	default:
		return nil, qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"unknown vector store %q", kind)
	}
}
