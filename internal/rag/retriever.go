package rag

import (
	"context"
	"log/slog"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/store"
)

// VectorRetriever answers queries straight from the vector store.
type VectorRetriever struct {
	store  store.VectorStore
	logger *slog.Logger
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever wraps a vector store as a Retriever.
func NewVectorRetriever(vs store.VectorStore) *VectorRetriever {
	return &VectorRetriever{
		store:  vs,
		logger: slog.Default().With("component", "retriever"),
	}
}

// Retrieve runs a top-k similarity query and scores each row.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int, opts ...store.QueryOption) (*RetrievalResult, error) {
	if topK <= 0 {
		return nil, errors.ValidationError("top_k must be positive", nil)
	}

	rows, err := r.store.Query(ctx, query, topK, opts...)
	if err != nil {
		return nil, err
	}

	chunks := make([]RetrievedChunk, len(rows))
	for i, row := range rows {
		chunks[i] = RetrievedChunk{
			ID:       row.ID,
			Text:     row.Text,
			Metadata: row.Metadata,
			Distance: row.Distance,
			Score:    scoreFromDistance(row.Distance),
		}
	}

	r.logger.Debug("retrieved",
		"query_len", len(query),
		"top_k", topK,
		"results", len(chunks))

	return &RetrievalResult{
		Query:      query,
		Chunks:     chunks,
		TotalCount: len(chunks),
	}, nil
}

// RetrieveWithContext retrieves and renders the result as a prompt
// context block.
func (r *VectorRetriever) RetrieveWithContext(ctx context.Context, query string, topK int, format ContextFormat) (string, error) {
	result, err := r.Retrieve(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return FormatContext(result, format), nil
}
