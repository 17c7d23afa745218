// Package generation provides the chat-completion client used to produce
// grounded answers.
package generation

import (
	"context"
	"errors"
)

// Sentinel errors for generation.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid generation config")

	// ErrProviderFailed indicates a non-timeout provider failure.
	ErrProviderFailed = errors.New("generation provider failed")

	// ErrProviderTimeout indicates the provider did not answer within the
	// configured timeout.
	ErrProviderTimeout = errors.New("generation provider timeout")
)

// Request is one completion request.
type Request struct {
	// System is the system prompt establishing the answering contract.
	System string

	// User is the user message carrying question and context.
	User string

	// Temperature controls sampling randomness.
	Temperature float64

	// MaxTokens caps the completion length. 0 means provider default.
	MaxTokens int

	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool
}

// Provider produces completions. Implementations do not retry; a
// generation failure surfaces immediately so the caller can degrade.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Close() error
}
