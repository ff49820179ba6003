package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiver-notes/quiver/internal/config"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

func TestNewProviderStatic(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{Provider: config.ProviderStatic}, nil)
	require.NoError(t, err)
	assert.Equal(t, "static", p.Name())
	// No cache size means no cache wrapper.
	_, isCached := p.(*CachedProvider)
	assert.False(t, isCached)
}

func TestNewProviderWrapsCache(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{
		Provider:  config.ProviderStatic,
		CacheSize: 100,
	}, nil)
	require.NoError(t, err)

	cached, ok := p.(*CachedProvider)
	require.True(t, ok)
	assert.Equal(t, "static", cached.Name())
}

func TestNewProviderOllama(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{
		Provider:   config.ProviderOllama,
		Model:      "nomic-embed-text",
		OllamaHost: "http://localhost:11434",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, "nomic-embed-text", p.ModelID())
}

func TestNewProviderOpenAI(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{
		Provider:   config.ProviderOpenAI,
		Dimensions: 1536,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, 1536, p.Dimensions())
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "cohere"}, nil)
	require.Error(t, err)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeConfigInvalid))
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return qerrors.Newf(qerrors.ErrCodeInvalidInput, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesTransient(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return qerrors.Newf(qerrors.ErrCodeNetworkTimeout, "timeout")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhausted(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return qerrors.Newf(qerrors.ErrCodeNetworkUnavailable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeNetworkUnavailable))
}

func TestWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultRetryConfig()
	err := WithRetry(ctx, cfg, func() error {
		return qerrors.Newf(qerrors.ErrCodeNetworkTimeout, "timeout")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
