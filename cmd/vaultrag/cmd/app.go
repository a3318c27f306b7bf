package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/vaultrag/vaultrag/internal/chunk"
	"github.com/vaultrag/vaultrag/internal/config"
	"github.com/vaultrag/vaultrag/internal/embed"
	"github.com/vaultrag/vaultrag/internal/index"
	"github.com/vaultrag/vaultrag/internal/logging"
	"github.com/vaultrag/vaultrag/internal/rag"
	"github.com/vaultrag/vaultrag/internal/scanner"
	"github.com/vaultrag/vaultrag/internal/store"
)

// app bundles the indexing pipeline every command wires the same way:
// scanner, chunker, embedder, vector store, registry, and syncer, all
// bound to one collection.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	scanner  *scanner.Scanner
	chunker  *chunk.MarkdownChunker
	embedder embed.Embedder
	store    store.VectorStore
	registry *index.Registry
	syncer   *index.Syncer
}

// loadConfig resolves the vault root (from --vault, the nearest vault
// marker, or the cwd) and loads the layered configuration for it.
func loadConfig() (*config.Config, error) {
	dir := vaultDir
	if dir == "" {
		root, err := config.FindVaultRoot(".")
		if err != nil {
			root, _ = os.Getwd()
		}
		dir = root
	}
	return config.Load(dir)
}

// newApp builds the full pipeline for cfg. Callers must Close it.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, syncOpts ...index.SyncerOption) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, err
	}

	sc, err := scanner.New(scanner.Options{
		Root:         cfg.Vault.Path,
		Extensions:   cfg.Vault.Extensions,
		IncludePaths: cfg.Vault.Include,
		IgnoreGlobs:  cfg.Vault.Ignore,
		MaxFileSize:  int64(cfg.Vault.MaxFileSizeMB) * 1024 * 1024,
	}, logger)
	if err != nil {
		return nil, err
	}

	chunker := chunk.NewMarkdownChunkerWithOptions(chunk.MarkdownChunkerOptions{
		MinChunkSize: cfg.Chunking.MinChunkSize,
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		ChunkLevel:   cfg.Chunking.ChunkLevel,
	})

	embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	vs, err := store.Open(ctx, cfg, embedder, logger)
	if err != nil {
		embedder.Close()
		return nil, err
	}

	registry := index.LoadRegistry(cfg.RegistryPath(vs.Name()), logger)
	lock := index.NewSyncLock(cfg.RegistryLockPath(vs.Name()))
	syncer := index.NewSyncer(sc, chunker, vs, registry, lock, logger, syncOpts...)

	return &app{
		cfg:      cfg,
		logger:   logger,
		scanner:  sc,
		chunker:  chunker,
		embedder: embedder,
		store:    vs,
		registry: registry,
		syncer:   syncer,
	}, nil
}

// Close releases the store and the embedder.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store_close_failed", slog.String("error", err.Error()))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			a.logger.Warn("embedder_close_failed", slog.String("error", err.Error()))
		}
	}
}

// retriever builds the configured retrieval stack: the plain vector
// retriever, wrapped by the cross-encoder stage when reranking is on.
func (a *app) retriever() rag.Retriever {
	var base rag.Retriever = rag.NewVectorRetriever(a.store)
	if a.cfg.Search.Rerank.Enabled {
		reranker := rag.NewRerankerFromConfig(a.cfg.Search.Rerank)
		base = rag.NewRerankedRetriever(base, reranker, a.cfg.Search.Rerank.InitialK)
	}
	return base
}

// setupCommandLogging configures quiet file logging for CLI commands
// so operations stay observable without polluting stdout. The returned
// cleanup is a no-op when setup fails.
func setupCommandLogging(level string) func() {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if level != "" {
		cfg.Level = level
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}
