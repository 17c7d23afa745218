// Package embeddings provides embedding generation via a remote
// OpenAI-compatible provider.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProviderFailed indicates the embedding provider returned a
	// non-success response. The wrapped message carries the provider's
	// raw error payload.
	ErrProviderFailed = errors.New("embedding provider request failed")
)

// Provider generates vector embeddings from text.
//
// Embeddings are dense numerical representations that capture semantic
// meaning, enabling similarity search. The batch form preserves input order
// in its output and is all-or-nothing: a failed batch discards all partial
// results.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one vector per input text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the configured model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}
