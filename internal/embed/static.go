package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticDimensions is the embedding dimension for the static provider.
const StaticDimensions = 256

// StaticMaxBatchSize is the batch limit for the static provider. The
// provider is a pure function, so the limit only bounds memory use.
const StaticMaxBatchSize = 512

// Weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// englishStopWords filters the most common English words, which carry no
// retrieval signal for note search.
var englishStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "at": true,
	"is": true, "are": true, "was": true, "it": true, "this": true,
	"that": true, "for": true, "as": true, "with": true, "be": true,
}

// tokenRegex matches alphanumeric sequences.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticProvider generates embeddings using a hash-based approach.
// It is the local on-device variant: no network, no model download,
// deterministic output with reduced semantic quality. Since each text
// embeds independently, batch calls cannot fail per item.
type StaticProvider struct {
	mu    sync.RWMutex
	state State
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a new static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{state: StateUninitialized}
}

// Name returns the backend identifier.
func (e *StaticProvider) Name() string { return "static" }

// ModelID returns the model identifier.
func (e *StaticProvider) ModelID() string { return "static-fnv-256" }

// Dimensions returns the embedding dimension.
func (e *StaticProvider) Dimensions() int { return StaticDimensions }

// MaxBatchSize returns the batch limit.
func (e *StaticProvider) MaxBatchSize() int { return StaticMaxBatchSize }

// Initialize marks the provider ready. There is nothing to set up;
// repeated and concurrent calls are no-ops.
func (e *StaticProvider) Initialize(_ context.Context, onProgress ProgressFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDisposed {
		return errDisposed(e.Name())
	}
	e.state = StateReady

	if onProgress != nil {
		onProgress("ready", 1, 1)
	}
	return nil
}

// Ready reports whether the provider is initialized.
func (e *StaticProvider) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateReady
}

// Status returns a snapshot of provider state.
func (e *StaticProvider) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{State: e.state, ModelID: e.ModelID(), Dimensions: StaticDimensions}
}

// Embed generates an embedding for a single text.
func (e *StaticProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (e *StaticProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if len(texts) > StaticMaxBatchSize {
		return nil, errBatchTooLarge(e.Name(), len(texts), StaticMaxBatchSize)
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = emb
	}
	return results, nil
}

// EmbedWithMetadata embeds one text and reports model metadata.
func (e *StaticProvider) EmbedWithMetadata(ctx context.Context, text string) (*Result, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Result{
		Vector:     vec,
		TokenCount: estimateTokens(text),
		ModelID:    e.ModelID(),
		Dimensions: StaticDimensions,
	}, nil
}

// Close releases resources.
func (e *StaticProvider) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateDisposed
	return nil
}

func (e *StaticProvider) checkReady() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch e.state {
	case StateDisposed:
		return errDisposed(e.Name())
	case StateReady:
		return nil
	default:
		return errNotInitialized(e.Name())
	}
}

// generateVector creates a hash-based vector from text: word tokens with
// weight 0.7 plus character trigrams with weight 0.3.
func (e *StaticProvider) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range tokenize(text) {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}

	return vector
}

// tokenize splits text into lowercase word tokens, dropping stop words.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if !englishStopWords[lower] {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// normalizeForNgrams prepares text for n-gram extraction.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-character sliding windows.
func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return nil
	}

	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to a vector index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
