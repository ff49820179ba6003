package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// Ollama defaults.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaMaxBatchSize bounds a single /api/embed request.
	OllamaMaxBatchSize = 256

	// ollamaRequestTimeout covers a single embed request. Cold model
	// loads can take tens of seconds, so this is generous.
	ollamaRequestTimeout = 120 * time.Second

	// ollamaConnectTimeout covers the initial availability probe.
	ollamaConnectTimeout = 5 * time.Second

	ollamaPoolSize = 4
)

// fallbackOllamaModels are tried in order when the configured model
// is not installed.
var fallbackOllamaModels = []string{
	"nomic-embed-text",
	"mxbai-embed-large",
	"all-minilm",
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect at Initialize
	MaxRetries int
}

// OllamaProvider generates embeddings through a local Ollama server's
// HTTP API.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	modelName string
	dims      int
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider. No network traffic
// happens until Initialize.
func NewOllamaProvider(cfg OllamaConfig, logger *slog.Logger) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	// IdleConnTimeout is short because indexing runs are short-lived;
	// connections should not linger after Ctrl+C.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-level timeout: per-request contexts control deadlines.
	return &OllamaProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		logger:    logger,
		state:     StateUninitialized,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}
}

// Name returns the backend identifier.
func (e *OllamaProvider) Name() string { return "ollama" }

// ModelID returns the resolved model name.
func (e *OllamaProvider) ModelID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelName
}

// Dimensions returns the embedding dimension, or 0 before Initialize
// when auto-detection is in use.
func (e *OllamaProvider) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// MaxBatchSize returns the batch limit.
func (e *OllamaProvider) MaxBatchSize() int { return OllamaMaxBatchSize }

// Initialize checks server availability, resolves the model, and
// detects the embedding dimension. Safe to call repeatedly; the mutex
// coalesces concurrent callers and the first success wins.
func (e *OllamaProvider) Initialize(ctx context.Context, onProgress ProgressFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateDisposed:
		return errDisposed(e.Name())
	case StateReady:
		return nil
	}

	report := func(stage string, done, total int) {
		if onProgress != nil {
			onProgress(stage, done, total)
		}
	}

	report("connecting", 0, 3)
	modelName, err := e.findAvailableModel(ctx)
	if err != nil {
		return err
	}
	e.modelName = modelName
	report("model resolved", 1, 3)

	if e.dims == 0 {
		report("detecting dimensions", 2, 3)
		dims, err := e.detectDimensions(ctx, modelName)
		if err != nil {
			return err
		}
		e.dims = dims
	}
	report("ready", 3, 3)

	e.logger.Info("ollama provider initialized",
		"model", e.modelName, "dimensions", e.dims, "host", e.config.Host)
	e.state = StateReady
	return nil
}

// Ready reports whether the provider is initialized.
func (e *OllamaProvider) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateReady
}

// Status returns a snapshot of provider state.
func (e *OllamaProvider) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{State: e.state, ModelID: e.modelName, Dimensions: e.dims}
}

// Embed generates an embedding for a single text.
func (e *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.Dimensions()), nil
	}

	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds multiple texts in one request, preserving order.
// A remote failure fails the whole batch; no partial results.
func (e *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if len(texts) > OllamaMaxBatchSize {
		return nil, errBatchTooLarge(e.Name(), len(texts), OllamaMaxBatchSize)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	return e.embedWithRetry(ctx, texts)
}

// EmbedWithMetadata embeds one text and reports model metadata.
func (e *OllamaProvider) EmbedWithMetadata(ctx context.Context, text string) (*Result, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Result{
		Vector:     vec,
		TokenCount: estimateTokens(text),
		ModelID:    e.ModelID(),
		Dimensions: e.Dimensions(),
	}, nil
}

// Close releases connections. Subsequent calls fail with Disposed.
func (e *OllamaProvider) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateDisposed
	e.transport.CloseIdleConnections()
	return nil
}

func (e *OllamaProvider) checkReady() error {
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

// embedWithRetry runs one embed request with exponential backoff on
// transient failures.
func (e *OllamaProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	model, expectDims := e.ModelID(), e.Dimensions()

	retryCfg := DefaultRetryConfig()
	retryCfg.MaxRetries = e.config.MaxRetries

	err := WithRetry(ctx, retryCfg, func() error {
		vecs, err := e.doEmbed(ctx, model, expectDims, texts)
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

// doEmbed performs a single /api/embed request. Model and expected
// dimension come in as arguments so it can run while Initialize holds
// the provider mutex for the detection probe.
func (e *OllamaProvider) doEmbed(ctx context.Context, model string, expectDims int, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, ollamaRequestTimeout)
	defer cancel()

	reqBody := ollamaEmbedRequest{Model: model, Input: texts}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeInternal, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, e.config.Host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, qerrors.Newf(qerrors.ErrCodeEmbeddingFailed,
			"ollama embed failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeEmbeddingFailed, err)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, qerrors.Newf(qerrors.ErrCodeEmbeddingFailed,
			"ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts))
	}

	for i, vec := range parsed.Embeddings {
		if expectDims > 0 && len(vec) != expectDims {
			return nil, qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
				"ollama returned %d-dim vector at index %d, expected %d", len(vec), i, expectDims)
		}
	}
	return parsed.Embeddings, nil
}

// listModels fetches the installed model list from /api/tags.
func (e *OllamaProvider) listModels(ctx context.Context) ([]ollamaModelInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, ollamaConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeInternal, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, e.config.Host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, qerrors.Newf(qerrors.ErrCodeNetworkUnavailable,
			"ollama /api/tags returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result ollamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeNetworkUnavailable, err)
	}
	return result.Models, nil
}

// findAvailableModel resolves the configured model against installed
// models, trying fallbacks before giving up. Lookup matches both the
// full "name:tag" and the bare name.
func (e *OllamaProvider) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	lookup := func(model string) (string, bool) {
		name := strings.ToLower(model)
		if actual, ok := available[name]; ok {
			return actual, true
		}
		actual, ok := available[strings.Split(name, ":")[0]]
		return actual, ok
	}

	if actual, ok := lookup(e.config.Model); ok {
		return actual, nil
	}
	for _, fallback := range fallbackOllamaModels {
		if actual, ok := lookup(fallback); ok {
			e.logger.Warn("configured model not installed, using fallback",
				"configured", e.config.Model, "fallback", actual)
			return actual, nil
		}
	}

	return "", qerrors.Newf(qerrors.ErrCodeModelNotFound,
		"no embedding model available on %s (tried %s and fallbacks %v)",
		e.config.Host, e.config.Model, fallbackOllamaModels).
		WithSuggestion(fmt.Sprintf("run: ollama pull %s", e.config.Model))
}

// detectDimensions embeds a probe text to learn the model's dimension.
// Called with e.mu held, so it must not go through the public accessors.
func (e *OllamaProvider) detectDimensions(ctx context.Context, model string) (int, error) {
	vecs, err := e.doEmbed(ctx, model, 0, []string{"dimension probe"})
	if err != nil {
		return 0, qerrors.Wrap(qerrors.ErrCodeInitializationFailed, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, qerrors.Newf(qerrors.ErrCodeInitializationFailed,
			"ollama returned an empty probe embedding")
	}
	return len(vecs[0]), nil
}

// classifyTransportError maps HTTP client errors to timeout vs
// unavailable codes.
func classifyTransportError(err error, host string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return qerrors.New(qerrors.ErrCodeNetworkTimeout,
			fmt.Sprintf("request to %s timed out", host), err)
	}
	return qerrors.New(qerrors.ErrCodeNetworkUnavailable,
		fmt.Sprintf("cannot reach %s", host), err).
		WithSuggestion("check that the embedding server is running")
}

// Ollama API wire types.

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}

type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}
