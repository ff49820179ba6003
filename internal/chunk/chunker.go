package chunk

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// headingPattern matches ATX headings: # Title, ## Title, etc.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Options configures the chunker. Size and Overlap are in UTF-16 code units.
type Options struct {
	Size    int
	Overlap int
}

// Chunker splits a note body into overlapping windows with heading context.
// Identical input text and configuration always yield byte-identical
// boundaries, which keeps re-indexing idempotent.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with default options.
func NewChunker() *Chunker {
	return NewChunkerWithOptions(Options{})
}

// NewChunkerWithOptions creates a chunker with custom options.
// An overlap at or above the chunk size is clamped to zero.
func NewChunkerWithOptions(opts Options) *Chunker {
	if opts.Size <= 0 {
		opts.Size = DefaultChunkSize
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		opts.Overlap = 0
	}
	return &Chunker{size: opts.Size, overlap: opts.Overlap}
}

// Chunk splits a note into ordered chunks. It separates the frontmatter
// block, windows the body by the configured size and overlap, and records
// the heading stack in scope at each chunk's start offset.
//
// Offsets are relative to the body (after frontmatter), in UTF-16 code
// units. An empty body yields zero chunks; the frontmatter is still
// returned so callers can capture it.
func (c *Chunker) Chunk(sourcePath, text string) ([]*Chunk, map[string]string) {
	frontmatter, body := SplitFrontmatter(text)

	units := utf16.Encode([]rune(body))
	n := len(units)
	if n == 0 {
		return nil, frontmatter
	}

	marks := headingMarks(body)

	var chunks []*Chunk
	step := c.size - c.overlap
	start := 0
	ordinal := 0

	for {
		end := start + c.size
		if end > n {
			end = n
		}

		content := string(utf16.Decode(units[start:end]))
		chunks = append(chunks, &Chunk{
			ID:          ChunkID(sourcePath, ordinal),
			SourcePath:  sourcePath,
			Content:     content,
			HeadingPath: headingPathAt(marks, start),
			StartOffset: start,
			EndOffset:   end,
			Ordinal:     ordinal,
			Frontmatter: frontmatter,
			ContentHash: HashContent(content),
		})

		if end == n {
			break
		}
		start += step
		ordinal++
	}

	return chunks, frontmatter
}

// headingMark records a heading's position within the body.
type headingMark struct {
	offset int // UTF-16 code units from body start
	level  int
	title  string
}

// headingMarks scans the body line by line and records each ATX heading
// with its UTF-16 offset.
func headingMarks(body string) []headingMark {
	var marks []headingMark
	offset := 0

	for _, line := range strings.Split(body, "\n") {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			marks = append(marks, headingMark{
				offset: offset,
				level:  len(m[1]),
				title:  strings.TrimSpace(m[2]),
			})
		}
		offset += utf16Len(line) + 1 // trailing newline is one code unit
	}

	return marks
}

// headingPathAt replays the heading stack up to the given offset and
// returns the headings in scope, outermost first. Headings deeper than a
// later, shallower heading are popped, mirroring Markdown document
// structure.
func headingPathAt(marks []headingMark, offset int) []string {
	var stack [6]string
	depth := 0

	for _, m := range marks {
		if m.offset > offset {
			break
		}
		stack[m.level-1] = m.title
		for i := m.level; i < 6; i++ {
			stack[i] = ""
		}
		depth = m.level
	}

	var path []string
	for i := 0; i < depth; i++ {
		if stack[i] != "" {
			path = append(path, stack[i])
		}
	}
	return path
}

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
