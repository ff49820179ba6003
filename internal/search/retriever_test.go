package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiver-notes/quiver/internal/embed"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
	"github.com/quiver-notes/quiver/internal/store"
)

func newRetrieverFixture(t *testing.T) (*Retriever, embed.Provider, store.VectorStore) {
	t.Helper()

	provider := embed.NewStaticProvider()
	require.NoError(t, provider.Initialize(context.Background(), nil))

	vs, err := store.NewMemoryStore(provider.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	// minScore 0.01 keeps hash-based similarity scores in play.
	return NewRetriever(provider, vs, 10, 0.01, nil), provider, vs
}

func seed(t *testing.T, provider embed.Provider, vs store.VectorStore, id, path, content string, ordinal int) {
	t.Helper()
	vec, err := provider.Embed(context.Background(), content)
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(context.Background(), []*store.Document{{
		ID:     id,
		Vector: vec,
		Metadata: store.Metadata{
			SourcePath:  path,
			HeadingPath: []string{"Title"},
			Content:     content,
			Ordinal:     ordinal,
		},
	}}))
}

func TestRetrieveRanksRelevantFirst(t *testing.T) {
	r, provider, vs := newRetrieverFixture(t)
	seed(t, provider, vs, "a", "recipes.md", "pasta recipe with tomato sauce and basil", 0)
	seed(t, provider, vs, "b", "travel.md", "itinerary for the mountain hiking trip", 0)

	passages, err := r.Retrieve(context.Background(), "tomato pasta recipe", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, passages)

	assert.Equal(t, "recipes.md", passages[0].SourcePath)
	assert.Contains(t, passages[0].Content, "pasta")
	assert.Equal(t, []string{"Title"}, passages[0].HeadingPath)
	for i := 1; i < len(passages); i++ {
		assert.GreaterOrEqual(t, passages[i-1].Score, passages[i].Score)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r, _, _ := newRetrieverFixture(t)

	for _, q := range []string{"", "   ", "\n"} {
		_, err := r.Retrieve(context.Background(), q, Options{})
		require.Error(t, err)
		assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeQueryEmpty))
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	r, _, _ := newRetrieverFixture(t)

	passages, err := r.Retrieve(context.Background(), "anything", Options{})
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestRetrieveRespectsK(t *testing.T) {
	r, provider, vs := newRetrieverFixture(t)
	for i, content := range []string{
		"meeting notes about the budget review",
		"budget planning spreadsheet summary",
		"quarterly budget discussion points",
		"notes from the budget committee",
	} {
		seed(t, provider, vs, string(rune('a'+i)), "n.md", content, i)
	}

	passages, err := r.Retrieve(context.Background(), "budget", Options{K: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(passages), 2)
}

func TestRetrieveMinScoreFilters(t *testing.T) {
	r, provider, vs := newRetrieverFixture(t)
	seed(t, provider, vs, "a", "a.md", "completely unrelated gardening content", 0)

	passages, err := r.Retrieve(context.Background(), "quantum physics lecture",
		Options{MinScore: 0.99})
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestRetrievePathPrefix(t *testing.T) {
	r, provider, vs := newRetrieverFixture(t)
	seed(t, provider, vs, "a", "work/standup.md", "daily standup meeting notes", 0)
	seed(t, provider, vs, "b", "personal/journal.md", "meeting a friend for coffee notes", 0)

	passages, err := r.Retrieve(context.Background(), "meeting notes",
		Options{PathPrefix: "work/"})
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	for _, p := range passages {
		assert.Equal(t, "work/standup.md", p.SourcePath)
	}
}

func TestRetrieveTieOrdering(t *testing.T) {
	r, provider, vs := newRetrieverFixture(t)
	// Identical content yields identical scores; order must fall back
	// to path then ordinal.
	content := "identical chunk content for tie breaking"
	seed(t, provider, vs, "b1", "b.md", content, 1)
	seed(t, provider, vs, "b0", "b.md", content, 0)
	seed(t, provider, vs, "a0", "a.md", content, 0)

	passages, err := r.Retrieve(context.Background(), "identical chunk content", Options{})
	require.NoError(t, err)
	require.Len(t, passages, 3)

	assert.Equal(t, "a.md", passages[0].SourcePath)
	assert.Equal(t, "b.md", passages[1].SourcePath)
	assert.Equal(t, 0, passages[1].Ordinal)
	assert.Equal(t, 1, passages[2].Ordinal)
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	provider := embed.NewStaticProvider()
	require.NoError(t, provider.Initialize(context.Background(), nil))

	// Store built for a different model dimension.
	vs, err := store.NewMemoryStore(provider.Dimensions() + 1)
	require.NoError(t, err)
	defer func() { _ = vs.Close() }()

	r := NewRetriever(provider, vs, 10, 0.01, nil)
	_, err = r.Retrieve(context.Background(), "query", Options{})
	require.Error(t, err)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeDimensionMismatch))
}
