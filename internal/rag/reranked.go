package rag

import (
	"context"
	"log/slog"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/store"
)

// RerankedRetriever widens the initial fetch and lets a cross-encoder
// pick the final topK. Chunk scores become cross-encoder scores.
type RerankedRetriever struct {
	base     Retriever
	reranker Reranker
	initialK int
	logger   *slog.Logger
}

var _ Retriever = (*RerankedRetriever)(nil)

// NewRerankedRetriever wraps base so every retrieval passes through
// the reranker. initialK defaults to DefaultInitialK when zero.
func NewRerankedRetriever(base Retriever, reranker Reranker, initialK int) *RerankedRetriever {
	if initialK <= 0 {
		initialK = DefaultInitialK
	}
	return &RerankedRetriever{
		base:     base,
		reranker: reranker,
		initialK: initialK,
		logger:   slog.Default().With("component", "reranked_retriever"),
	}
}

// Retrieve fetches initialK candidates, reranks their texts, and maps
// the winners back to their chunks.
func (r *RerankedRetriever) Retrieve(ctx context.Context, query string, topK int, opts ...store.QueryOption) (*RetrievalResult, error) {
	if topK <= 0 {
		return nil, errors.ValidationError("top_k must be positive", nil)
	}

	initial, err := r.base.Retrieve(ctx, query, r.initialK, opts...)
	if err != nil {
		return nil, err
	}
	if len(initial.Chunks) == 0 {
		return initial, nil
	}

	documents := make([]string, len(initial.Chunks))
	for i, c := range initial.Chunks {
		documents[i] = c.Text
	}

	ranked, err := r.reranker.Rerank(ctx, query, documents, topK)
	if err != nil {
		return nil, err
	}

	chunks := make([]RetrievedChunk, 0, len(ranked))
	for _, doc := range ranked {
		if doc.Index < 0 || doc.Index >= len(initial.Chunks) {
			r.logger.Warn("reranker returned out-of-range index",
				"index", doc.Index, "candidates", len(initial.Chunks))
			continue
		}
		original := initial.Chunks[doc.Index]
		chunks = append(chunks, RetrievedChunk{
			ID:       original.ID,
			Text:     original.Text,
			Metadata: original.Metadata,
			Distance: original.Distance,
			Score:    doc.Score,
		})
	}
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}

	return &RetrievalResult{
		Query:      query,
		Chunks:     chunks,
		TotalCount: len(chunks),
	}, nil
}
