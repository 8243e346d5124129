package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"docsync/internal/chunker"
	"docsync/internal/config"
	"docsync/internal/embedder"
	"docsync/internal/http"
	"docsync/internal/scanner"
	"docsync/internal/storage"
	"docsync/internal/syncer"
	"docsync/internal/vectorstore"
	"docsync/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg)

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	fileRepo := storage.NewFileRepo(db)
	runRepo := storage.NewRunRepo(db)
	eventRepo := storage.NewEventRepo(db)

	ctx := context.Background()

	vectorStore, err := vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.DistanceMetric, cfg.PayloadIndexFields)
	if err != nil {
		log.Fatalf("Failed to create Qdrant client: %v", err)
	}

	fileScanner, err := scanner.New(scanner.Options{
		HashAlgorithm:     cfg.HashAlgorithm,
		AllowedExtensions: cfg.AllowedExtensions,
		IgnorePatterns:    cfg.IgnorePatterns,
		MaxFileSizeBytes:  cfg.MaxFileSizeBytes,
		CacheEnabled:      cfg.HashCacheEnabled,
	})
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}

	chunkStrategy, err := chunker.New(chunker.Config{
		Strategy: cfg.ChunkStrategy,
		Size:     cfg.ChunkSize,
		Overlap:  cfg.ChunkOverlap,
	})
	if err != nil {
		log.Fatalf("Failed to create chunker: %v", err)
	}

	backend := embedder.NewHTTPBackend(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	dispatcher, err := embedder.NewDispatcher(backend, embedder.Options{
		BatchSize:        cfg.EmbeddingBatchSize,
		MaxSequenceChars: cfg.MaxSequenceChars,
		Dimension:        cfg.VectorDimension,
		Normalize:        cfg.NormalizeVectors,
		Concurrency:      cfg.EmbeddingConcurrency,
		RateLimit:        cfg.EmbeddingRateLimit,
	})
	if err != nil {
		log.Fatalf("Failed to create embedding dispatcher: %v", err)
	}

	// Fail fast on a dimension mismatch before any tenant work starts.
	probe, err := dispatcher.EmbedTexts(ctx, []string{"probe"})
	if err != nil {
		log.Fatalf("Failed to validate embedding backend: %v", err)
	}
	if len(probe) == 0 || len(probe[0]) != cfg.VectorDimension {
		log.Fatalf("Embedding vector size mismatch: expected %d", cfg.VectorDimension)
	}
	slog.Info("Embedding backend validated", "model", cfg.EmbeddingModel, "dimension", cfg.VectorDimension)

	orchestrator := syncer.New(syncer.Options{
		TenantRoots:       cfg.TenantRoots,
		CollectionPrefix:  cfg.CollectionPrefix,
		WorkerConcurrency: cfg.WorkerConcurrency,
		CommitBatchSize:   cfg.CommitBatchSize,
		Retry: syncer.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			MaxDelay:  cfg.RetryMaxDelay,
		},
		SkipFailedFiles: cfg.SkipFailedFiles,
		DeleteRetention: cfg.DeleteRetention,
		PreviewChars:    cfg.PreviewChars,
		VectorDimension: cfg.VectorDimension,
	}, syncer.Deps{
		Scanner:  fileScanner,
		Chunker:  chunkStrategy,
		Embedder: dispatcher,
		Vectors:  vectorStore,
		DB:       db,
		Files:    fileRepo,
		Runs:     runRepo,
		Events:   eventRepo,
	})

	if err := orchestrator.EnsureCollections(ctx); err != nil {
		log.Fatalf("Failed to ensure Qdrant collections: %v", err)
	}
	slog.Info("Qdrant collections ready", "tenants", len(cfg.TenantRoots), "prefix", cfg.CollectionPrefix)

	if err := orchestrator.RecoverInterrupted(ctx); err != nil {
		log.Fatalf("Failed to recover interrupted runs: %v", err)
	}

	if cfg.WatchEnabled {
		watcher, err := watch.New(cfg.TenantRoots, cfg.WatchDebounce, func(ctx context.Context, tenantID string) error {
			_, err := orchestrator.Trigger(ctx, tenantID, false)
			if errors.Is(err, syncer.ErrConflict) {
				// A run is already in flight; the next quiet window retries.
				return nil
			}
			return err
		})
		if err != nil {
			log.Fatalf("Failed to create filesystem watcher: %v", err)
		}
		if err := watcher.Start(ctx); err != nil {
			log.Fatalf("Failed to start filesystem watcher: %v", err)
		}
		defer watcher.Stop()
		slog.Info("Filesystem watcher started", "debounce", cfg.WatchDebounce)
	}

	router := http.NewRouter(&http.Deps{
		Service: orchestrator,
		Runs:    runRepo,
		Events:  eventRepo,
		DB:      db,
	})

	addr := ":" + cfg.APIPort
	server := &nethttp.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("Starting API server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}

func setupLogging(cfg *config.Config) {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)
}
