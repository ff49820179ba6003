package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

func newReadyStatic(t *testing.T) *StaticProvider {
	t.Helper()
	p := NewStaticProvider()
	require.NoError(t, p.Initialize(context.Background(), nil))
	return p
}

func TestStaticProviderLifecycle(t *testing.T) {
	p := NewStaticProvider()
	ctx := context.Background()

	// Calls before Initialize fail with NotInitialized.
	_, err := p.Embed(ctx, "hello")
	require.Error(t, err)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeNotInitialized))
	assert.False(t, p.Ready())

	require.NoError(t, p.Initialize(ctx, nil))
	assert.True(t, p.Ready())
	assert.Equal(t, StateReady, p.Status().State)

	// Initialize is idempotent.
	require.NoError(t, p.Initialize(ctx, nil))

	require.NoError(t, p.Close())
	assert.False(t, p.Ready())

	_, err = p.Embed(ctx, "hello")
	require.Error(t, err)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeDisposed))

	// Initialize after Close also fails.
	err = p.Initialize(ctx, nil)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeDisposed))
}

func TestStaticProviderDeterministic(t *testing.T) {
	p := newReadyStatic(t)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "weekly planning notes")
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "weekly planning notes")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)
}

func TestStaticProviderUnitLength(t *testing.T) {
	p := newReadyStatic(t)

	vec, err := p.Embed(context.Background(), "vectors should be normalized")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sumSquares, 1e-5)
}

func TestStaticProviderEmptyText(t *testing.T) {
	p := newReadyStatic(t)

	for _, text := range []string{"", "   ", "\n\t"} {
		vec, err := p.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, vec, StaticDimensions)
		for _, v := range vec {
			assert.Zero(t, v)
		}
	}
}

func TestStaticProviderSimilarTextsCloser(t *testing.T) {
	p := newReadyStatic(t)
	ctx := context.Background()

	a, err := p.Embed(ctx, "grocery shopping list for the week")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "grocery shopping list for next week")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "quantum chromodynamics lattice simulation")
	require.NoError(t, err)

	assert.Greater(t, cosine(a, b), cosine(a, c))
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot // inputs are unit vectors
}

func TestStaticProviderBatch(t *testing.T) {
	p := newReadyStatic(t)
	ctx := context.Background()

	texts := []string{"first note", "second note", "third note"}
	vecs, err := p.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	// Batch output matches single-text output per index.
	for i, text := range texts {
		single, err := p.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, vecs[i])
	}
}

func TestStaticProviderBatchTooLarge(t *testing.T) {
	p := newReadyStatic(t)

	texts := make([]string, StaticMaxBatchSize+1)
	for i := range texts {
		texts[i] = "x"
	}

	_, err := p.EmbedBatch(context.Background(), texts)
	require.Error(t, err)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeBatchTooLarge))
}

func TestStaticProviderMetadata(t *testing.T) {
	p := newReadyStatic(t)

	res, err := p.EmbedWithMetadata(context.Background(), "a note about metadata")
	require.NoError(t, err)
	assert.Len(t, res.Vector, StaticDimensions)
	assert.Equal(t, StaticDimensions, res.Dimensions)
	assert.Equal(t, "static-fnv-256", res.ModelID)
	assert.Positive(t, res.TokenCount)
}

func TestTokenizeFiltersStopWords(t *testing.T) {
	tokens := tokenize("the meeting is on Monday and covers the budget")
	assert.NotContains(t, tokens, "the")
	assert.NotContains(t, tokens, "and")
	assert.Contains(t, tokens, "meeting")
	assert.Contains(t, tokens, "monday")
	assert.Contains(t, tokens, "budget")
}

func TestExtractNgrams(t *testing.T) {
	assert.Nil(t, extractNgrams("ab", 3))
	assert.Equal(t, []string{"abc"}, extractNgrams("abc", 3))
	assert.Equal(t, []string{"abc", "bcd"}, extractNgrams("abcd", 3))
}
