package store

import (
	"context"
	"log/slog"

	"github.com/vaultrag/vaultrag/internal/config"
	"github.com/vaultrag/vaultrag/internal/errors"
)

// Open builds the configured backend bound to embedder. The collection
// name is derived from the configured base and the embedding model, so
// switching models lands in a fresh collection.
func Open(ctx context.Context, cfg *config.Config, embedder Embedder, logger *slog.Logger) (VectorStore, error) {
	name := DeriveCollectionName(cfg.Store.CollectionBase, embedder.ModelName())

	switch cfg.Store.Backend {
	case "", config.StoreBackendLocal:
		return NewLocalStore(cfg.CollectionDir(name), name, embedder, logger)
	case config.StoreBackendQdrant:
		return NewQdrantStore(ctx, QdrantOptions{
			Host:   cfg.Store.Qdrant.Host,
			Port:   cfg.Store.Qdrant.Port,
			APIKey: APIKeyFromEnv(cfg.Store.Qdrant.APIKeyEnv),
			UseTLS: cfg.Store.Qdrant.UseTLS,
		}, name, embedder, logger)
	default:
		return nil, errors.ConfigError("unknown store backend", nil).
			WithDetail("backend", cfg.Store.Backend).
			WithSuggestion("Use 'local' or 'qdrant'")
	}
}
