// Package embed converts text to fixed-dimension vectors through
// interchangeable provider backends. Providers are selected by
// configuration; call sites never branch on variant identity.
package embed

import (
	"context"
	"math"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default sub-batch size for remote requests.
	DefaultBatchSize = 32

	// DefaultMaxRetries is the default number of retry attempts for
	// transient remote failures.
	DefaultMaxRetries = 3

	// tokensPerChar is a rough approximation: 4 chars per token.
	tokensPerChar = 4
)

// State describes the lifecycle of a provider.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateDisposed      State = "disposed"
)

// ProgressFunc reports one-time setup progress. stage is a short
// human-readable label; completed/total may be zero when unknown.
type ProgressFunc func(stage string, completed, total int)

// Result is the full outcome of a single embedding call. It is ephemeral
// and never persisted.
type Result struct {
	Vector     []float32
	TokenCount int
	ModelID    string
	Dimensions int
}

// Status is a snapshot of provider state for introspection.
type Status struct {
	State      State
	ModelID    string
	Dimensions int
}

// Provider generates vector embeddings for text.
//
// Initialize must be called before any embedding call; concurrent
// Initialize calls are coalesced. After Close, every call fails with a
// Disposed error.
type Provider interface {
	// Name returns the backend identifier (e.g. "ollama", "static").
	Name() string

	// ModelID returns the model identifier.
	ModelID() string

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// MaxBatchSize returns the largest batch EmbedBatch accepts.
	MaxBatchSize() int

	// Initialize performs one-time setup. onProgress may be nil.
	Initialize(ctx context.Context, onProgress ProgressFunc) error

	// Ready reports whether the provider is initialized and not disposed.
	Ready() bool

	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving
	// input order in the output.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedWithMetadata embeds one text and reports model metadata
	// alongside the vector.
	EmbedWithMetadata(ctx context.Context, text string) (*Result, error)

	// Status returns a snapshot of the provider state.
	Status() Status

	// Close releases resources. Subsequent calls fail with Disposed.
	Close() error
}

// errNotInitialized builds the standard not-initialized error.
func errNotInitialized(name string) error {
	return qerrors.Newf(qerrors.ErrCodeNotInitialized,
		"%s provider not initialized: call Initialize first", name)
}

// errDisposed builds the standard disposed error.
func errDisposed(name string) error {
	return qerrors.Newf(qerrors.ErrCodeDisposed, "%s provider is disposed", name)
}

// errBatchTooLarge builds the standard batch-size error.
func errBatchTooLarge(name string, got, limit int) error {
	return qerrors.Newf(qerrors.ErrCodeBatchTooLarge,
		"%s provider: batch of %d exceeds limit %d", name, got, limit)
}

// estimateTokens approximates the token count of text.
func estimateTokens(text string) int {
	n := len(text) / tokensPerChar
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // zero vector stays as-is
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
