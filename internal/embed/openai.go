package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// OpenAI defaults.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
	DefaultOpenAIKeyEnv  = "OPENAI_API_KEY"
	openAIDefaultDims    = 1536
	openAIRequestTimeout = 60 * time.Second
	openAIMaxBatchSize   = 128
)

// OpenAIConfig configures the OpenAI-compatible provider. BaseURL may
// point at any server implementing the /embeddings endpoint.
type OpenAIConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	APIKeyEnv  string // environment variable holding the key
	MaxRetries int
}

// OpenAIProvider generates embeddings through an OpenAI-compatible
// HTTP API. The API key is read from the environment at Initialize so
// it never lives in config files.
type OpenAIProvider struct {
	client *http.Client
	config OpenAIConfig
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	apiKey string
	dims   int
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultOpenAIKeyEnv
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = openAIDefaultDims
	}

	return &OpenAIProvider{
		client: &http.Client{},
		config: cfg,
		logger: logger,
		state:  StateUninitialized,
		dims:   dims,
	}
}

// Name returns the backend identifier.
func (e *OpenAIProvider) Name() string { return "openai" }

// ModelID returns the model identifier.
func (e *OpenAIProvider) ModelID() string { return e.config.Model }

// Dimensions returns the embedding dimension.
func (e *OpenAIProvider) Dimensions() int { return e.dims }

// MaxBatchSize returns the batch limit.
func (e *OpenAIProvider) MaxBatchSize() int { return openAIMaxBatchSize }

// Initialize reads the API key from the environment. It performs no
// network traffic; a bad key surfaces on the first embed call.
func (e *OpenAIProvider) Initialize(_ context.Context, onProgress ProgressFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateDisposed:
		return errDisposed(e.Name())
	case StateReady:
		return nil
	}

	key := strings.TrimSpace(os.Getenv(e.config.APIKeyEnv))
	if key == "" {
		return qerrors.Newf(qerrors.ErrCodeInitializationFailed,
			"openai provider: environment variable %s is not set", e.config.APIKeyEnv).
			WithSuggestion("export " + e.config.APIKeyEnv + "=<your key>")
	}
	e.apiKey = key
	e.state = StateReady

	if onProgress != nil {
		onProgress("ready", 1, 1)
	}
	e.logger.Info("openai provider initialized",
		"model", e.config.Model, "dimensions", e.dims, "base_url", e.config.BaseURL)
	return nil
}

// Ready reports whether the provider is initialized.
func (e *OpenAIProvider) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateReady
}

// Status returns a snapshot of provider state.
func (e *OpenAIProvider) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{State: e.state, ModelID: e.config.Model, Dimensions: e.dims}
}

// Embed generates an embedding for a single text.
func (e *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		if err := e.checkReady(); err != nil {
			return nil, err
		}
		return make([]float32, e.dims), nil
	}

	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds multiple texts in one request, preserving order.
// A remote failure fails the whole batch; no partial results.
func (e *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if len(texts) > openAIMaxBatchSize {
		return nil, errBatchTooLarge(e.Name(), len(texts), openAIMaxBatchSize)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var result [][]float32
	retryCfg := DefaultRetryConfig()
	retryCfg.MaxRetries = e.config.MaxRetries

	err := WithRetry(ctx, retryCfg, func() error {
		vecs, err := e.doEmbed(ctx, texts)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EmbedWithMetadata embeds one text and reports model metadata.
func (e *OpenAIProvider) EmbedWithMetadata(ctx context.Context, text string) (*Result, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Result{
		Vector:     vec,
		TokenCount: estimateTokens(text),
		ModelID:    e.config.Model,
		Dimensions: e.dims,
	}, nil
}

// Close releases resources.
func (e *OpenAIProvider) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateDisposed
	e.client.CloseIdleConnections()
	return nil
}

func (e *OpenAIProvider) checkReady() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateDisposed:
		return errDisposed(e.Name())
	case StateReady:
		return nil
	default:
		return errNotInitialized(e.Name())
	}
}

// doEmbed performs a single /embeddings request.
func (e *OpenAIProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, openAIRequestTimeout)
	defer cancel()

	reqBody := openAIEmbedRequest{Model: e.config.Model, Input: texts}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeInternal, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, e.config.BaseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(respBody))
		if resp.StatusCode == http.StatusNotFound {
			return nil, qerrors.Newf(qerrors.ErrCodeModelNotFound,
				"model %q not found: %s", e.config.Model, msg)
		}
		qe := qerrors.Newf(qerrors.ErrCodeEmbeddingFailed,
			"embeddings request failed with status %d: %s", resp.StatusCode, msg)
		// Rate limits and server errors are worth retrying; auth and
		// validation errors are not.
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			qe.Retryable = false
		}
		return nil, qe
	}

	var parsed openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeEmbeddingFailed, err)
	}

	if len(parsed.Data) != len(texts) {
		return nil, qerrors.Newf(qerrors.ErrCodeEmbeddingFailed,
			"server returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	// The API may return items out of order; the index field is
	// authoritative.
	result := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, qerrors.Newf(qerrors.ErrCodeEmbeddingFailed,
				"server returned out-of-range embedding index %d", item.Index)
		}
		if len(item.Embedding) != e.dims {
			return nil, qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
				"server returned %d-dim vector, expected %d", len(item.Embedding), e.dims)
		}
		result[item.Index] = item.Embedding
	}
	return result, nil
}

// OpenAI API wire types.

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}
