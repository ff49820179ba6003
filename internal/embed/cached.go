package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings held by
// CachedProvider. At 768 dimensions * 4 bytes * 1000 entries this is
// roughly 3MB.
const DefaultCacheSize = 1000

// CachedProvider wraps a Provider with an LRU cache keyed by content
// hash, so re-indexing unchanged chunks and repeated queries skip the
// backend entirely.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps inner with an LRU cache of cacheSize
// entries.
func NewCachedProvider(inner Provider, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedProvider{inner: inner, cache: cache}
}

// cacheKey hashes text together with the model so a model switch never
// serves stale vectors.
func (c *CachedProvider) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelID()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Name returns the backend identifier of the wrapped provider.
func (c *CachedProvider) Name() string { return c.inner.Name() }

// ModelID returns the wrapped provider's model identifier.
func (c *CachedProvider) ModelID() string { return c.inner.ModelID() }

// Dimensions returns the wrapped provider's embedding dimension.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// MaxBatchSize returns the wrapped provider's batch limit.
func (c *CachedProvider) MaxBatchSize() int { return c.inner.MaxBatchSize() }

// Initialize initializes the wrapped provider.
func (c *CachedProvider) Initialize(ctx context.Context, onProgress ProgressFunc) error {
	return c.inner.Initialize(ctx, onProgress)
}

// Ready reports whether the wrapped provider is initialized.
func (c *CachedProvider) Ready() bool { return c.inner.Ready() }

// Status returns the wrapped provider's status.
func (c *CachedProvider) Status() Status { return c.inner.Status() }

// Embed returns the cached embedding when available, otherwise
// computes and caches one.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves what it can from cache and sends only the misses
// to the backend, reassembling results in input order.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIndices {
		results[idx] = vecs[j]
		c.cache.Add(c.cacheKey(missTexts[j]), vecs[j])
	}
	return results, nil
}

// EmbedWithMetadata embeds one text through the cache and reports
// model metadata.
func (c *CachedProvider) EmbedWithMetadata(ctx context.Context, text string) (*Result, error) {
	vec, err := c.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Result{
		Vector:     vec,
		TokenCount: estimateTokens(text),
		ModelID:    c.inner.ModelID(),
		Dimensions: c.inner.Dimensions(),
	}, nil
}

// Close purges the cache and closes the wrapped provider.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Len returns the number of cached embeddings.
func (c *CachedProvider) Len() int { return c.cache.Len() }
