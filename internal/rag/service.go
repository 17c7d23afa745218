// Package rag orchestrates the retrieval-and-augmentation pipeline:
// chunking and ingesting documents, similarity search, and assembling
// grounded answers with citations.
package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seekerlabs/ragd/internal/chunker"
	"github.com/seekerlabs/ragd/internal/embeddings"
	"github.com/seekerlabs/ragd/internal/generation"
	"github.com/seekerlabs/ragd/internal/index"
	"github.com/seekerlabs/ragd/internal/logging"
	"github.com/seekerlabs/ragd/internal/memory"
	"github.com/seekerlabs/ragd/internal/reranker"
)

// Defaults for the answer pipeline.
const (
	DefaultNamespace    = "docs"
	DefaultTopK         = 20
	DefaultContextK     = 5
	DefaultPassageChars = 700
	DefaultTemperature  = 0.2
	DefaultRecentLimit  = 3

	// snippetChars bounds synthesized citation snippets on the degrade path.
	snippetChars = 200
)

// Document is one ingestable source document.
type Document struct {
	// ID identifies the document; chunk IDs derive from it, so
	// re-ingesting the same ID replaces the previous chunks.
	ID string

	// Source is a human-readable origin (file path, URL) surfaced in
	// citations. Empty falls back to the ID.
	Source string

	// Text is the raw document text.
	Text string
}

// IngestResult reports what an ingest run produced.
type IngestResult struct {
	ChunksProcessed int
}

// Config tunes the pipeline.
type Config struct {
	// Namespace is the document namespace. Default: "docs".
	Namespace string

	// Chunking configures the document splitter.
	Chunking chunker.Options

	// TopK is the default candidate pool size for answering.
	TopK int

	// ContextK is the default number of passages placed in the prompt.
	ContextK int

	// PassageChars truncates each context passage.
	PassageChars int

	// Temperature is the default generation temperature.
	Temperature float64

	// RecentLimit caps recent memories included in the prompt.
	RecentLimit int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	c.Chunking.ApplyDefaults()
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.ContextK <= 0 {
		c.ContextK = DefaultContextK
	}
	if c.PassageChars <= 0 {
		c.PassageChars = DefaultPassageChars
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = DefaultRecentLimit
	}
}

// Service wires the pipeline components together.
type Service struct {
	config    Config
	embedder  embeddings.Provider
	store     index.Store
	reranker  *reranker.Hybrid
	memory    *memory.Manager
	generator generation.Provider
	logger    *logging.Logger
}

// NewService creates the orchestrator.
func NewService(
	config Config,
	embedder embeddings.Provider,
	store index.Store,
	rr *reranker.Hybrid,
	mem *memory.Manager,
	gen generation.Provider,
	logger *logging.Logger,
) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Chunking.Validate(); err != nil {
		return nil, fmt.Errorf("validating chunking: %w", err)
	}
	if err := index.ValidateNamespace(config.Namespace); err != nil {
		return nil, fmt.Errorf("validating namespace: %w", err)
	}

	return &Service{
		config:    config,
		embedder:  embedder,
		store:     store,
		reranker:  rr,
		memory:    mem,
		generator: gen,
		logger:    logger.Named("rag"),
	}, nil
}

// Ingest chunks, embeds, and upserts the documents. Chunk IDs are
// deterministic, so re-ingesting a document replaces its chunks in place.
// A batch is all-or-nothing: any embedding or upsert failure leaves no
// partial writes from this call's later documents.
func (s *Service) Ingest(ctx context.Context, docs []Document) (IngestResult, error) {
	if len(docs) == 0 {
		return IngestResult{}, fmt.Errorf("no documents to ingest")
	}

	var chunks []chunker.Chunk
	sources := make(map[string]string, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			return IngestResult{}, fmt.Errorf("document ID required")
		}
		cs, err := chunker.Split(doc.ID, doc.Text, s.config.Chunking)
		if err != nil {
			return IngestResult{}, fmt.Errorf("chunking document %s: %w", doc.ID, err)
		}
		chunks = append(chunks, cs...)
		source := doc.Source
		if source == "" {
			source = doc.ID
		}
		sources[doc.ID] = source
	}
	if len(chunks) == 0 {
		return IngestResult{}, fmt.Errorf("documents contain no text")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return IngestResult{}, fmt.Errorf("embedding chunks: %w", err)
	}

	if err := s.store.EnsureReady(ctx, s.config.Namespace); err != nil {
		return IngestResult{}, fmt.Errorf("preparing namespace: %w", err)
	}

	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		records[i] = index.Record{
			ID:     c.ID(),
			Vector: vectors[i],
			Metadata: map[string]any{
				"text":    c.Content,
				"source":  sources[c.DocumentID],
				"docId":   c.DocumentID,
				"kind":    "chunk",
				"ordinal": int64(c.Ordinal),
			},
		}
	}

	if err := s.store.Upsert(ctx, s.config.Namespace, records); err != nil {
		return IngestResult{}, fmt.Errorf("upserting chunks: %w", err)
	}

	s.logger.Info(ctx, "documents ingested",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)))

	return IngestResult{ChunksProcessed: len(chunks)}, nil
}

// Search embeds the query and returns the nearest matches. Matches
// scoring below minScore are dropped before the topK cut; minScore 0
// disables the filter.
func (s *Service) Search(ctx context.Context, query string, topK int, minScore float64) ([]index.Match, error) {
	if query == "" {
		return nil, fmt.Errorf("query required")
	}
	if topK <= 0 {
		topK = s.config.TopK
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Over-fetch when filtering so the floor does not starve topK.
	fetchK := topK
	if minScore > 0 {
		fetchK = topK * 2
	}

	matches, err := s.store.Query(ctx, s.config.Namespace, vector, fetchK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	if minScore > 0 {
		filtered := matches[:0]
		for _, m := range matches {
			if float64(m.Score) >= minScore {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// ClearIndex removes every record in the document namespace. Memory
// namespaces are untouched.
func (s *Service) ClearIndex(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx, s.config.Namespace); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	s.logger.Info(ctx, "index cleared", zap.String("namespace", s.config.Namespace))
	return nil
}

// Stats reports the document namespace state.
func (s *Service) Stats(ctx context.Context) (index.Stats, error) {
	return s.store.Describe(ctx, s.config.Namespace)
}

// Memory exposes the memory manager for the HTTP layer's persona and
// recent endpoints.
func (s *Service) Memory() *memory.Manager {
	return s.memory
}
