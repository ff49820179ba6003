// Package chunk splits Markdown notes into deterministic, overlap-aware
// passages with heading context. Chunk boundaries are measured in UTF-16
// code units so offsets are stable across re-indexing runs.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Chunk size defaults, in UTF-16 code units.
const (
	DefaultChunkSize = 1600
	DefaultOverlap   = 200
)

// Chunk is a retrievable passage of a note's body.
type Chunk struct {
	// ID is a deterministic function of (SourcePath, Ordinal).
	ID string

	// SourcePath is the note path relative to the notes root.
	SourcePath string

	// Content is the passage text.
	Content string

	// HeadingPath is the stack of Markdown headings in scope at StartOffset,
	// outermost first.
	HeadingPath []string

	// StartOffset and EndOffset delimit the passage within the note body,
	// in UTF-16 code units. EndOffset > StartOffset always holds.
	StartOffset int
	EndOffset   int

	// Ordinal is the zero-based position of this chunk within its note.
	Ordinal int

	// Frontmatter holds the note's parsed frontmatter key/value pairs.
	Frontmatter map[string]string

	// ContentHash is the SHA-256 hash of Content.
	ContentHash string
}

// ChunkID computes the deterministic chunk ID for a note path and ordinal.
// Re-chunking unchanged content reproduces identical IDs, which makes
// vector store upserts idempotent.
func ChunkID(sourcePath string, ordinal int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", sourcePath, ordinal)))
	return hex.EncodeToString(h[:])[:16]
}

// HashContent returns the SHA-256 hex digest of content.
func HashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
