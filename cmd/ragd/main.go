// Ragd is a retrieval-and-augmentation daemon. It chunks and indexes
// documents into a vector store, answers questions grounded in the
// indexed passages with citations, and keeps lightweight per-user memory
// (persona plus a short rolling interaction log).
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (embedded chromem store)
//	EMBEDDINGS_API_KEY=sk-... ragd
//
//	# Use a config file and a Qdrant backend
//	ragd -config /etc/ragd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/seekerlabs/ragd/internal/chunker"
	"github.com/seekerlabs/ragd/internal/config"
	"github.com/seekerlabs/ragd/internal/embeddings"
	"github.com/seekerlabs/ragd/internal/generation"
	"github.com/seekerlabs/ragd/internal/httpapi"
	"github.com/seekerlabs/ragd/internal/index"
	"github.com/seekerlabs/ragd/internal/logging"
	"github.com/seekerlabs/ragd/internal/memory"
	"github.com/seekerlabs/ragd/internal/rag"
	"github.com/seekerlabs/ragd/internal/reranker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/ragd/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Printf("ragd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd           Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  ragd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting ragd",
		zap.String("version", version),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embedding_model", cfg.Embeddings.Model),
		zap.String("generation_model", cfg.Generation.Model))

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:   cfg.Embeddings.BaseURL,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		BatchSize: cfg.Embeddings.BatchSize,
		Dimension: cfg.Embeddings.Dimension,
	}, logger.Underlying())
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	store, err := index.NewStore(cfg.VectorStore.Provider,
		index.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			VectorSize: uint64(cfg.Embeddings.Dimension),
		},
		index.ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			VectorSize: cfg.Embeddings.Dimension,
		},
		logger.Underlying())
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer func() { _ = store.Close() }()

	generator, err := generation.NewOpenAIProvider(generation.Config{
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
		APIKey:  cfg.Generation.APIKey.Value(),
		Timeout: time.Duration(cfg.Generation.Timeout),
	}, logger.Underlying())
	if err != nil {
		return fmt.Errorf("creating generation provider: %w", err)
	}
	defer func() { _ = generator.Close() }()

	mem := memory.NewManager(store, embedder, memory.Config{
		Cap:         cfg.Memory.RecentCap,
		AnswerChars: cfg.Memory.AnswerChars,
	}, logger)

	service, err := rag.NewService(rag.Config{
		Chunking:     chunker.Options{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap},
		TopK:         cfg.Answer.TopK,
		ContextK:     cfg.Answer.ContextK,
		PassageChars: cfg.Answer.PassageChars,
		Temperature:  cfg.Answer.Temperature,
		RecentLimit:  cfg.Memory.RecentCap,
	}, embedder, store, reranker.NewHybrid(cfg.Answer.Alpha), mem, generator, logger)
	if err != nil {
		return fmt.Errorf("creating rag service: %w", err)
	}

	// Warm up the document namespace so the first ingest does not pay
	// the readiness wait.
	if err := store.EnsureReady(ctx, rag.DefaultNamespace); err != nil {
		logger.Warn(ctx, "document namespace not ready at startup", zap.Error(err))
	}

	server, err := httpapi.NewServer(service, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
