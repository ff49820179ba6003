// Package config loads and validates quiver configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// Provider names accepted in the embeddings section.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Store backends accepted in the index section.
const (
	StoreHNSW   = "hnsw"
	StoreMemory = "memory"
)

// Hash modes accepted in the index section.
const (
	HashModeContent = "content"
	HashModeMtime   = "mtime"
)

// Config represents the complete quiver configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Notes      NotesConfig      `yaml:"notes"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	Watch      WatchConfig      `yaml:"watch"`
	LogLevel   string           `yaml:"log_level"`
}

// NotesConfig configures the notes directory to index.
type NotesConfig struct {
	// Dir is the root directory containing Markdown notes.
	Dir string `yaml:"dir"`
	// Exclude lists directory names skipped during scanning (in addition
	// to dot-directories, which are always skipped).
	Exclude []string `yaml:"exclude"`
}

// ChunkingConfig configures the document chunker.
// Size and Overlap are measured in UTF-16 code units.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`

	// Ollama settings
	OllamaHost string `yaml:"ollama_host"`

	// OpenAI-compatible settings. The API key is read from the named
	// environment variable, never stored in config.
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OpenAIAPIKeyEnv string `yaml:"openai_api_key_env"`

	// CacheSize is the LRU embedding cache size (0 disables caching).
	CacheSize int `yaml:"cache_size"`
}

// IndexConfig configures the indexer and persistence layout.
type IndexConfig struct {
	// DataDir holds the vector store and hash table. Defaults to
	// <notes.dir>/.quiver.
	DataDir string `yaml:"data_dir"`
	// Store selects the vector store backend: "hnsw" (durable) or "memory".
	Store string `yaml:"store"`
	// Workers bounds per-file indexing concurrency.
	Workers int `yaml:"workers"`
	// HashMode selects the change fingerprint: "content" or "mtime".
	// One mode is authoritative per index; changing it requires a full reindex.
	HashMode string `yaml:"hash_mode"`
}

// SearchConfig configures retrieval defaults.
type SearchConfig struct {
	K        int     `yaml:"k"`
	MinScore float64 `yaml:"min_score"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns a config with all defaults applied for the given
// notes directory.
func DefaultConfig(notesDir string) *Config {
	cfg := &Config{
		Version: 1,
		Notes: NotesConfig{
			Dir:     notesDir,
			Exclude: []string{"node_modules", ".obsidian", ".trash"},
		},
		Chunking: ChunkingConfig{
			Size:    1600,
			Overlap: 200,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   ProviderOllama,
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			CacheSize:  1000,
		},
		Index: IndexConfig{
			Store:    StoreHNSW,
			Workers:  runtime.NumCPU(),
			HashMode: HashModeContent,
		},
		Search: SearchConfig{
			K:        10,
			MinScore: 0.25,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		LogLevel: "info",
	}
	cfg.Index.DataDir = filepath.Join(notesDir, ".quiver")
	return cfg
}

// Load reads configuration from path, applies defaults for unset fields,
// and validates the result. A missing file is not an error: the defaults
// for the current working directory are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig("."), nil
		}
		return nil, qerrors.Wrap(qerrors.ErrCodeConfigNotFound, err)
	}

	cfg := DefaultConfig(".")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeConfigInvalid, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the conventional config location (./quiver.yaml).
func DefaultConfigPath() string {
	return "quiver.yaml"
}

// applyDefaults fills fields that unmarshalling may have zeroed out.
func (c *Config) applyDefaults() {
	if c.Notes.Dir == "" {
		c.Notes.Dir = "."
	}
	if c.Index.DataDir == "" {
		c.Index.DataDir = filepath.Join(c.Notes.Dir, ".quiver")
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = runtime.NumCPU()
	}
	if c.Chunking.Size <= 0 {
		c.Chunking.Size = 1600
	}
	if c.Chunking.Overlap < 0 {
		c.Chunking.Overlap = 0
	}
	if c.Embeddings.BatchSize <= 0 {
		c.Embeddings.BatchSize = 32
	}
	if c.Search.K <= 0 {
		c.Search.K = 10
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderStatic:
	default:
		return qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"unknown embeddings provider %q (use %s, %s or %s)",
			c.Embeddings.Provider, ProviderOllama, ProviderOpenAI, ProviderStatic)
	}

	switch c.Index.Store {
	case StoreHNSW, StoreMemory:
	default:
		return qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"unknown vector store %q (use %s or %s)", c.Index.Store, StoreHNSW, StoreMemory)
	}

	switch c.Index.HashMode {
	case HashModeContent, HashModeMtime:
	default:
		return qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"unknown hash mode %q (use %s or %s)", c.Index.HashMode, HashModeContent, HashModeMtime)
	}

	if c.Chunking.Overlap >= c.Chunking.Size {
		return qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"chunk overlap %d must be smaller than chunk size %d",
			c.Chunking.Overlap, c.Chunking.Size)
	}

	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"min_score %.2f must be in [0, 1]", c.Search.MinScore)
	}

	return nil
}

// Save writes the config as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
