// Package search turns natural-language queries into ranked passages
// from the vector index.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quiver-notes/quiver/internal/embed"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
	"github.com/quiver-notes/quiver/internal/store"
)

// Retrieval defaults.
const (
	DefaultK        = 10
	DefaultMinScore = 0.25
)

// Passage is one ranked retrieval result.
type Passage struct {
	SourcePath  string
	HeadingPath []string
	Content     string
	Score       float32
	Ordinal     int
}

// Options tunes one retrieval call. Zero values fall back to the
// retriever's configured defaults.
type Options struct {
	K          int
	MinScore   float32
	PathPrefix string
}

// Retriever embeds queries and searches the vector store.
type Retriever struct {
	provider embed.Provider
	store    store.VectorStore
	logger   *slog.Logger

	defaultK        int
	defaultMinScore float32
}

// NewRetriever creates a retriever with the given defaults. k <= 0 or
// a minScore outside (0,1] fall back to package defaults.
func NewRetriever(provider embed.Provider, vs store.VectorStore, k int, minScore float32, logger *slog.Logger) *Retriever {
	if k <= 0 {
		k = DefaultK
	}
	if minScore <= 0 || minScore > 1 {
		minScore = DefaultMinScore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		provider:        provider,
		store:           vs,
		logger:          logger,
		defaultK:        k,
		defaultMinScore: minScore,
	}
}

// Retrieve embeds the query and returns up to K passages with score at
// least MinScore, ordered by descending score. Ties order by source
// path, then ordinal, so results are stable across runs.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]*Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, qerrors.Newf(qerrors.ErrCodeQueryEmpty, "query is empty")
	}

	k := opts.K
	if k <= 0 {
		k = r.defaultK
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = r.defaultMinScore
	}

	start := time.Now()

	vector, err := r.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var filter *store.SearchFilter
	if opts.PathPrefix != "" {
		filter = &store.SearchFilter{PathPrefix: opts.PathPrefix}
	}

	matches, err := r.store.Search(ctx, vector, k, filter)
	if err != nil {
		// A dimension mismatch here means the index was built with a
		// different model; surface it untouched so the caller can
		// suggest a rebuild.
		if qerrors.IsCode(err, qerrors.ErrCodeDimensionMismatch) {
			return nil, err
		}
		return nil, qerrors.Wrap(qerrors.ErrCodeSearchFailed, err)
	}

	passages := make([]*Passage, 0, len(matches))
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		passages = append(passages, &Passage{
			SourcePath:  m.Metadata.SourcePath,
			HeadingPath: m.Metadata.HeadingPath,
			Content:     m.Metadata.Content,
			Score:       m.Score,
			Ordinal:     m.Metadata.Ordinal,
		})
	}

	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		if passages[i].SourcePath != passages[j].SourcePath {
			return passages[i].SourcePath < passages[j].SourcePath
		}
		return passages[i].Ordinal < passages[j].Ordinal
	})

	r.logger.Debug("retrieval finished",
		"query_len", len(query),
		"k", k,
		"results", len(passages),
		"elapsed", time.Since(start))
	return passages, nil
}
