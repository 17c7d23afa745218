package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("ragd.index.chromem")

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means
	// in-memory only (useful for tests).
	Path string

	// Compress enables gzip compression of persisted gob files.
	Compress bool

	// VectorSize is the dimensionality of embeddings.
	VectorSize int
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore is a Store implementation backed by chromem-go, an
// embeddable pure-Go vector database. Each namespace maps to a chromem
// collection. No external service is needed, which makes it the default
// backend for development and tests.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// mu serializes namespace create/delete against reads.
	mu sync.RWMutex
}

// NewChromemStore creates a new ChromemStore. With a non-empty Path the
// database persists to disk; otherwise it is purely in-memory.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expanded, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expanded, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
		}
		db, err = chromem.NewPersistentDB(expanded, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = expanded
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Int("vector_size", config.VectorSize))

	return &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbedding is the EmbeddingFunc wired into collections. All operations
// carry precomputed vectors, so chromem must never embed on its own.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("store does not embed; vectors must be precomputed")
}

func (s *ChromemStore) collection(namespace string) *chromem.Collection {
	return s.db.GetCollection(namespace, noEmbedding)
}

// EnsureReady creates the namespace collection if missing. The embedded
// backend is ready as soon as the collection exists.
func (s *ChromemStore) EnsureReady(ctx context.Context, namespace string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsureReady")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.GetOrCreateCollection(namespace, nil, noEmbedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "ready")
	return nil
}

// Upsert writes records into the namespace collection. chromem replaces
// documents with matching IDs.
func (s *ChromemStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("record_count", len(records)),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	collection, err := s.db.GetOrCreateCollection(namespace, nil, noEmbedding)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting collection %s: %w", namespace, err)
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record %d: ID required", i)
		}
		if len(rec.Vector) != s.config.VectorSize {
			return fmt.Errorf("record %q: vector size %d, want %d", rec.ID, len(rec.Vector), s.config.VectorSize)
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   metadataContent(rec.Metadata),
			Metadata:  metadataToStrings(rec.Metadata),
			Embedding: rec.Vector,
		}
	}

	// Concurrency of 1: embeddings are precomputed, nothing to parallelize.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents to %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to topK nearest matches for the vector.
func (s *ChromemStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	collection := s.collection(namespace)
	if collection == nil {
		return []Match{}, nil
	}

	// chromem requires nResults <= doc count.
	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", namespace, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: metadataFromStrings(r.Metadata, r.Content),
		}
	}

	span.SetAttributes(attribute.Int("match_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Fetch returns the records with the given IDs. Missing IDs are omitted.
func (s *ChromemStore) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Fetch")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Record, len(ids))
	collection := s.collection(namespace)
	if collection == nil {
		return out, nil
	}

	for _, id := range ids {
		doc, err := collection.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out[id] = Record{
			ID:       doc.ID,
			Vector:   doc.Embedding,
			Metadata: metadataFromStrings(doc.Metadata, doc.Content),
		}
	}

	span.SetAttributes(attribute.Int("found_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// DeleteMany removes the records with the given IDs.
func (s *ChromemStore) DeleteMany(ctx context.Context, namespace string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteMany")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	collection := s.collection(namespace)
	if collection == nil {
		return nil
	}

	if err := collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteAll removes every record in the namespace by dropping and
// recreating the collection.
func (s *ChromemStore) DeleteAll(ctx context.Context, namespace string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeleteAll")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(namespace); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping collection %s: %w", namespace, err)
	}
	if _, err := s.db.GetOrCreateCollection(namespace, nil, noEmbedding); err != nil {
		span.RecordError(err)
		return fmt.Errorf("recreating collection %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Describe reports record count and dimension for the namespace.
func (s *ChromemStore) Describe(ctx context.Context, namespace string) (Stats, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Describe")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Namespace: namespace, Dimension: s.config.VectorSize}
	if collection := s.collection(namespace); collection != nil {
		stats.RecordCount = collection.Count()
	}

	span.SetAttributes(attribute.Int("record_count", stats.RecordCount))
	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// Close is a no-op; chromem persists synchronously on write.
func (s *ChromemStore) Close() error {
	return nil
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
