// Package config provides configuration loading for ragd.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates a missing or inconsistent configuration value.
// Configuration errors are fatal and never retried.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for the ragd daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generation  GenerationConfig  `koanf:"generation"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Chromem     ChromemConfig     `koanf:"chromem"`
	Memory      MemoryConfig      `koanf:"memory"`
	Answer      AnswerConfig      `koanf:"answer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ChunkingConfig controls document splitting.
type ChunkingConfig struct {
	// Size is the maximum chunk length in characters.
	Size int `koanf:"size"`
	// Overlap is the number of characters shared between adjacent chunks.
	// Must be strictly smaller than Size.
	Overlap int `koanf:"overlap"`
}

// EmbeddingsConfig configures the remote embedding provider.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
	// BatchSize caps texts per provider request.
	BatchSize int `koanf:"batch_size"`
	// Dimension is the embedding dimension, fixed per index.
	Dimension int `koanf:"dimension"`
}

// GenerationConfig configures the answer generation provider.
type GenerationConfig struct {
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// VectorStoreConfig selects the vector index backend.
type VectorStoreConfig struct {
	// Provider is "qdrant" or "chromem".
	Provider string `koanf:"provider"`
}

// QdrantConfig holds the Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host string `koanf:"host"`
	// Port is the gRPC port (6334), not the HTTP REST port.
	Port   int  `koanf:"port"`
	UseTLS bool `koanf:"use_tls"`
}

// ChromemConfig holds the embedded chromem-go settings.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// MemoryConfig controls per-user memory behavior.
type MemoryConfig struct {
	// RecentCap bounds the rolling interaction log per user.
	RecentCap int `koanf:"recent_cap"`
	// AnswerChars caps the answer portion stored per interaction.
	AnswerChars int `koanf:"answer_chars"`
}

// AnswerConfig holds defaults for the answer pipeline.
type AnswerConfig struct {
	TopK         int     `koanf:"top_k"`
	ContextK     int     `koanf:"context_k"`
	PassageChars int     `koanf:"passage_chars"`
	Temperature  float64 `koanf:"temperature"`
	Alpha        float64 `koanf:"alpha"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9180
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 100
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 1536 // text-embedding-3-small
	}

	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = cfg.Embeddings.BaseURL
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if !cfg.Generation.APIKey.IsSet() {
		cfg.Generation.APIKey = cfg.Embeddings.APIKey
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(60 * time.Second)
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}

	if cfg.Memory.RecentCap == 0 {
		cfg.Memory.RecentCap = 3
	}
	if cfg.Memory.AnswerChars == 0 {
		cfg.Memory.AnswerChars = 800
	}

	if cfg.Answer.TopK == 0 {
		cfg.Answer.TopK = 20
	}
	if cfg.Answer.ContextK == 0 {
		cfg.Answer.ContextK = 5
	}
	if cfg.Answer.PassageChars == 0 {
		cfg.Answer.PassageChars = 700
	}
	if cfg.Answer.Temperature == 0 {
		cfg.Answer.Temperature = 0.2
	}
	if cfg.Answer.Alpha == 0 {
		cfg.Answer.Alpha = 0.6
	}
}

// Validate checks the configuration for fatal errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port: %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunk overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			ErrInvalidConfig, c.Chunking.Overlap, c.Chunking.Size)
	}
	if !c.Embeddings.APIKey.IsSet() {
		return fmt.Errorf("%w: embeddings api_key required (EMBEDDINGS_API_KEY)", ErrInvalidConfig)
	}
	if c.Embeddings.BatchSize < 1 {
		return fmt.Errorf("%w: embeddings batch_size must be >= 1, got %d", ErrInvalidConfig, c.Embeddings.BatchSize)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("%w: embeddings dimension must be positive, got %d", ErrInvalidConfig, c.Embeddings.Dimension)
	}
	if !c.Generation.APIKey.IsSet() {
		return fmt.Errorf("%w: generation api_key required (GENERATION_API_KEY)", ErrInvalidConfig)
	}
	switch c.VectorStore.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}
	if c.Answer.Alpha < 0 || c.Answer.Alpha > 1 {
		return fmt.Errorf("%w: answer alpha must be in [0,1], got %v", ErrInvalidConfig, c.Answer.Alpha)
	}
	if c.Memory.RecentCap < 1 {
		return fmt.Errorf("%w: memory recent_cap must be >= 1, got %d", ErrInvalidConfig, c.Memory.RecentCap)
	}
	return nil
}
