package embed

import (
	"log/slog"

	"github.com/quiver-notes/quiver/internal/config"
	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// NewProvider builds the provider named by cfg and wraps it with the
// LRU cache when caching is enabled. The returned provider is not yet
// initialized.
func NewProvider(cfg config.EmbeddingsConfig, logger *slog.Logger) (Provider, error) {
	var inner Provider

	switch cfg.Provider {
	case config.ProviderStatic:
		inner = NewStaticProvider()

	case config.ProviderOllama:
		inner = NewOllamaProvider(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}, logger)

	case config.ProviderOpenAI:
		inner = NewOpenAIProvider(OpenAIConfig{
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			APIKeyEnv:  cfg.OpenAIAPIKeyEnv,
		}, logger)

	default:
		return nil, qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		return NewCachedProvider(inner, cfg.CacheSize), nil
	}
	return inner, nil
}
