// Package index provides the vector index gateway over pluggable backends.
package index

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for index operations.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid index config")

	// ErrInvalidNamespace indicates a namespace name violating naming rules.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrConnectionFailed indicates the backend is unreachable.
	ErrConnectionFailed = errors.New("index connection failed")
)

// namespacePattern validates namespace names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var namespacePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateNamespace validates a namespace name against naming rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("%w: namespace cannot be empty", ErrInvalidNamespace)
	}
	if !namespacePattern.MatchString(name) {
		return fmt.Errorf("%w: namespace must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidNamespace, name)
	}
	return nil
}

// Record is a vector plus its payload, addressed by a caller-chosen string ID.
// Upserting a record with an existing ID replaces it.
type Record struct {
	// ID is the stable record identifier, e.g. "report-0" or "persona".
	ID string

	// Vector is the embedding. Length must match the store's dimension.
	Vector []float32

	// Metadata carries the payload stored alongside the vector.
	// Supported value types: string, int, int64, float64, bool.
	Metadata map[string]any
}

// Match is a single similarity search hit.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Stats describes the current state of a namespace.
type Stats struct {
	Namespace   string
	RecordCount int
	Dimension   int
}

// Store is the vector index gateway. All operations are scoped to a
// namespace; implementations map namespaces to backend collections.
type Store interface {
	// EnsureReady creates the namespace if missing and waits until the
	// backend reports it ready. Idempotent.
	EnsureReady(ctx context.Context, namespace string) error

	// Upsert writes records into the namespace, replacing records with
	// matching IDs.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Query returns up to topK nearest matches for the vector, best first.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)

	// Fetch returns the records with the given IDs. Missing IDs are
	// omitted from the result, not errors.
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error)

	// DeleteMany removes the records with the given IDs. Missing IDs are
	// ignored.
	DeleteMany(ctx context.Context, namespace string, ids []string) error

	// DeleteAll removes every record in the namespace.
	DeleteAll(ctx context.Context, namespace string) error

	// Describe reports record count and dimension for the namespace.
	Describe(ctx context.Context, namespace string) (Stats, error)

	// Close releases backend connections.
	Close() error
}
