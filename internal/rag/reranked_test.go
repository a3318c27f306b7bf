package rag

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/store"
)

// fakeRetriever returns a canned result and records requested topK.
type fakeRetriever struct {
	mu     sync.Mutex
	result *RetrievalResult
	err    error
	topKs  []int
}

var _ Retriever = (*fakeRetriever)(nil)

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int, _ ...store.QueryOption) (*RetrievalResult, error) {
	f.mu.Lock()
	f.topKs = append(f.topKs, topK)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &RetrievalResult{Query: query}, nil
}

// scriptedReranker replays a fixed ranking.
type scriptedReranker struct {
	results []RerankResult
	err     error
	calls   int
}

func (s *scriptedReranker) Rerank(_ context.Context, _ string, _ []string, _ int) ([]RerankResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *scriptedReranker) Available(_ context.Context) bool {
	return true
}

func (s *scriptedReranker) Close() error {
	return nil
}

func threeChunks() *RetrievalResult {
	return &RetrievalResult{
		Query: "q",
		Chunks: []RetrievedChunk{
			{ID: "a.md::chunk_0", Text: "alpha", Metadata: map[string]any{"source": "a.md"}, Distance: 0.2, Score: 0.83},
			{ID: "b.md::chunk_0", Text: "beta", Metadata: map[string]any{"source": "b.md"}, Distance: 0.4, Score: 0.71},
			{ID: "c.md::chunk_0", Text: "gamma", Metadata: map[string]any{"source": "c.md"}, Distance: 0.6, Score: 0.62},
		},
		TotalCount: 3,
	}
}

func TestRerankedRetriever_ReordersByCrossEncoder(t *testing.T) {
	base := &fakeRetriever{result: threeChunks()}
	reranker := &scriptedReranker{results: []RerankResult{
		{Index: 2, Score: 0.95, Document: "gamma"},
		{Index: 0, Score: 0.40, Document: "alpha"},
	}}
	retriever := NewRerankedRetriever(base, reranker, 20)

	result, err := retriever.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "c.md::chunk_0", result.Chunks[0].ID)
	assert.Equal(t, "gamma", result.Chunks[0].Text)
	assert.InDelta(t, 0.95, result.Chunks[0].Score, 1e-9)
	// The vector distance survives so callers can still see both signals.
	assert.InDelta(t, 0.6, result.Chunks[0].Distance, 1e-9)

	assert.Equal(t, "a.md::chunk_0", result.Chunks[1].ID)
	assert.InDelta(t, 0.40, result.Chunks[1].Score, 1e-9)

	assert.Equal(t, 2, result.TotalCount)
	assert.Equal(t, []int{20}, base.topKs)
}

func TestRerankedRetriever_DefaultInitialK(t *testing.T) {
	base := &fakeRetriever{result: threeChunks()}
	retriever := NewRerankedRetriever(base, &NoopReranker{}, 0)

	_, err := retriever.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{DefaultInitialK}, base.topKs)
}

func TestRerankedRetriever_EmptyBaseSkipsReranker(t *testing.T) {
	base := &fakeRetriever{}
	reranker := &scriptedReranker{}
	retriever := NewRerankedRetriever(base, reranker, 10)

	result, err := retriever.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Zero(t, reranker.calls)
}

func TestRerankedRetriever_OutOfRangeIndexSkipped(t *testing.T) {
	base := &fakeRetriever{result: threeChunks()}
	reranker := &scriptedReranker{results: []RerankResult{
		{Index: 7, Score: 0.9},
		{Index: 1, Score: 0.8, Document: "beta"},
		{Index: -1, Score: 0.7},
	}}
	retriever := NewRerankedRetriever(base, reranker, 10)

	result, err := retriever.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "b.md::chunk_0", result.Chunks[0].ID)
}

func TestRerankedRetriever_TruncatesToTopK(t *testing.T) {
	base := &fakeRetriever{result: threeChunks()}
	retriever := NewRerankedRetriever(base, &NoopReranker{}, 10)

	result, err := retriever.Retrieve(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 1)
	assert.Equal(t, "a.md::chunk_0", result.Chunks[0].ID)
}

func TestRerankedRetriever_ErrorPaths(t *testing.T) {
	baseErr := &fakeRetriever{err: errors.VectorStoreError("down", nil)}
	retriever := NewRerankedRetriever(baseErr, &NoopReranker{}, 10)
	_, err := retriever.Retrieve(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreFailed, errors.GetCode(err))

	base := &fakeRetriever{result: threeChunks()}
	rerankErr := &scriptedReranker{err: errors.NetworkError("sidecar down", nil)}
	retriever = NewRerankedRetriever(base, rerankErr, 10)
	_, err = retriever.Retrieve(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNetworkTimeout, errors.GetCode(err))

	_, err = retriever.Retrieve(context.Background(), "q", 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}
