// Package notes discovers Markdown files in the configured notes
// directory.
package notes

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// markdownExtensions are the file extensions treated as notes.
var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// Scanner walks a notes directory for Markdown files. Hidden
// directories (dot-prefixed) are always skipped; additional exclusions
// come from configuration as glob patterns matched against relative
// paths.
type Scanner struct {
	root    string
	exclude []string
}

// NewScanner creates a scanner rooted at dir.
func NewScanner(dir string, exclude []string) *Scanner {
	return &Scanner{root: dir, exclude: exclude}
}

// Root returns the absolute notes directory.
func (s *Scanner) Root() (string, error) {
	abs, err := filepath.Abs(s.root)
	if err != nil {
		return "", qerrors.Wrap(qerrors.ErrCodeNotesDirUnreadable, err)
	}
	return abs, nil
}

// Scan returns the relative paths of every Markdown file under the
// root, sorted for deterministic runs. Slash-separated paths are used
// throughout so chunk IDs are portable across platforms.
func (s *Scanner) Scan(ctx context.Context) ([]string, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, qerrors.Newf(qerrors.ErrCodeNotesDirUnreadable,
			"notes directory %s does not exist or is not a directory", root).
			WithSuggestion("check the notes.dir setting")
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable subdirectories are skipped, not fatal; the
			// root itself was checked above.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || s.excluded(rel) {
				return fs.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !markdownExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if s.excluded(rel) {
			return nil
		}

		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

// excluded reports whether rel matches any exclude pattern. Patterns
// match the full relative path or its base name.
func (s *Scanner) excluded(rel string) bool {
	base := filepath.Base(rel)
	for _, pattern := range s.exclude {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		// Directory prefix patterns like "archive/" exclude whole
		// subtrees.
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(rel+"/", pattern) {
			return true
		}
	}
	return false
}

// ReadNote reads one note file by relative path.
func (s *Scanner) ReadNote(rel string) ([]byte, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeFileUnreadable,
			"cannot read note "+rel, err)
	}
	return data, nil
}
