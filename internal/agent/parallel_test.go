package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/rag"
	"github.com/vaultrag/vaultrag/internal/store"
)

// mapRetriever serves canned results by query and can fail or block on
// selected queries. It tracks the peak number of in-flight retrievals
// and how many calls finished.
type mapRetriever struct {
	mu       sync.Mutex
	results  map[string]*rag.RetrievalResult
	failOn   map[string]error
	blockOn  map[string]struct{}
	inFlight int
	peak     int
	finished int
}

var _ rag.Retriever = (*mapRetriever)(nil)

func (m *mapRetriever) Retrieve(ctx context.Context, query string, _ int, _ ...store.QueryOption) (*rag.RetrievalResult, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	_, blocked := m.blockOn[query]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.finished++
		m.mu.Unlock()
	}()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	// Window for siblings to pile onto the semaphore.
	time.Sleep(5 * time.Millisecond)

	if err, ok := m.failOn[query]; ok {
		return nil, err
	}
	if result, ok := m.results[query]; ok {
		return result, nil
	}
	return &rag.RetrievalResult{Query: query}, nil
}

func (m *mapRetriever) peakInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

func (m *mapRetriever) finishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

func chunkWithScore(id string, score float64) rag.RetrievedChunk {
	return rag.RetrievedChunk{
		ID:       id,
		Text:     "text of " + id,
		Metadata: map[string]any{"source": "doc.md"},
		Score:    score,
	}
}

func queryResult(query string, chunks ...rag.RetrievedChunk) *rag.RetrievalResult {
	return &rag.RetrievalResult{Query: query, Chunks: chunks, TotalCount: len(chunks)}
}

func TestParallel_EmptyQueries(t *testing.T) {
	processor := NewParallelProcessor(&mapRetriever{}, 3)

	results, err := processor.Process(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestParallel_SingleQueryInline(t *testing.T) {
	retriever := &mapRetriever{results: map[string]*rag.RetrievalResult{
		"only": queryResult("only", chunkWithScore("a", 0.9)),
	}}
	processor := NewParallelProcessor(retriever, 3)

	results, err := processor.Process(context.Background(), []string{"only"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "only", results[0].Query)
}

func TestParallel_SingleQueryErrorSurfaces(t *testing.T) {
	retriever := &mapRetriever{failOn: map[string]error{"bad": assert.AnError}}
	processor := NewParallelProcessor(retriever, 3)

	_, err := processor.Process(context.Background(), []string{"bad"}, 5)
	require.ErrorIs(t, err, assert.AnError)
}

func TestParallel_FanOutKeepsInputOrder(t *testing.T) {
	retriever := &mapRetriever{results: map[string]*rag.RetrievalResult{
		"first":  queryResult("first"),
		"second": queryResult("second"),
		"third":  queryResult("third"),
	}}
	processor := NewParallelProcessor(retriever, 3)

	results, err := processor.Process(context.Background(), []string{"first", "second", "third"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Query)
	assert.Equal(t, "second", results[1].Query)
	assert.Equal(t, "third", results[2].Query)
}

func TestParallel_FailedSubQueryDropped(t *testing.T) {
	retriever := &mapRetriever{
		results: map[string]*rag.RetrievalResult{
			"good":      queryResult("good", chunkWithScore("a", 0.8)),
			"also_good": queryResult("also_good", chunkWithScore("b", 0.6)),
		},
		failOn: map[string]error{"bad": assert.AnError},
	}
	processor := NewParallelProcessor(retriever, 3)

	results, err := processor.Process(context.Background(), []string{"good", "bad", "also_good"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "good", results[0].Query)
	assert.Equal(t, "also_good", results[1].Query)
}

func TestParallel_AllFailedReturnsEmpty(t *testing.T) {
	retriever := &mapRetriever{failOn: map[string]error{
		"x": assert.AnError,
		"y": assert.AnError,
	}}
	processor := NewParallelProcessor(retriever, 3)

	results, err := processor.Process(context.Background(), []string{"x", "y"}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestParallel_BoundedConcurrency(t *testing.T) {
	retriever := &mapRetriever{}
	processor := NewParallelProcessor(retriever, 2)

	queries := []string{"q1", "q2", "q3", "q4", "q5", "q6"}
	_, err := processor.Process(context.Background(), queries, 5)
	require.NoError(t, err)

	assert.LessOrEqual(t, retriever.peakInFlight(), 2)
	assert.GreaterOrEqual(t, retriever.peakInFlight(), 1)
}

func TestParallel_DefaultWorkerCount(t *testing.T) {
	processor := NewParallelProcessor(&mapRetriever{}, 0)
	assert.Equal(t, DefaultMaxWorkers, processor.maxWorkers)
}

func TestParallel_CanceledContextReturnsCompleted(t *testing.T) {
	retriever := &mapRetriever{
		results: map[string]*rag.RetrievalResult{
			"fast": queryResult("fast", chunkWithScore("a", 0.9)),
		},
		blockOn: map[string]struct{}{"slow": {}},
	}
	processor := NewParallelProcessor(retriever, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var results []*rag.RetrievalResult
	var err error
	go func() {
		defer close(done)
		results, err = processor.Process(ctx, []string{"fast", "slow"}, 5)
	}()

	// Wait for the fast query to finish, then abandon the slow one.
	require.Eventually(t, func() bool { return retriever.finishedCount() == 1 },
		2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out did not return after cancellation")
	}

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fast", results[0].Query)
}

func TestAggregate_MergesAndDedupesByMaxScore(t *testing.T) {
	processor := NewParallelProcessor(&mapRetriever{}, 3)

	results := []*rag.RetrievalResult{
		queryResult("q1",
			chunkWithScore("shared", 0.5),
			chunkWithScore("only_q1", 0.7)),
		queryResult("q2",
			chunkWithScore("shared", 0.9),
			chunkWithScore("only_q2", 0.3)),
	}

	agg := processor.Aggregate(results, 10)

	assert.Equal(t, []string{"q1", "q2"}, agg.Queries)
	assert.Equal(t, 3, agg.TotalCount)
	require.Len(t, agg.Chunks, 3)
	assert.Equal(t, "shared", agg.Chunks[0].ID)
	assert.InDelta(t, 0.9, agg.Chunks[0].Score, 1e-9)
	assert.Equal(t, "only_q1", agg.Chunks[1].ID)
	assert.Equal(t, "only_q2", agg.Chunks[2].ID)
	assert.Len(t, agg.PerQuery, 2)
}

func TestAggregate_TruncatesToTopK(t *testing.T) {
	processor := NewParallelProcessor(&mapRetriever{}, 3)

	results := []*rag.RetrievalResult{
		queryResult("q",
			chunkWithScore("a", 0.9),
			chunkWithScore("b", 0.8),
			chunkWithScore("c", 0.7)),
	}

	agg := processor.Aggregate(results, 2)

	assert.Equal(t, 3, agg.TotalCount)
	require.Len(t, agg.Chunks, 2)
	assert.Equal(t, "a", agg.Chunks[0].ID)
	assert.Equal(t, "b", agg.Chunks[1].ID)
}

func TestAggregate_TieBreaksByID(t *testing.T) {
	processor := NewParallelProcessor(&mapRetriever{}, 3)

	results := []*rag.RetrievalResult{
		queryResult("q",
			chunkWithScore("zeta", 0.5),
			chunkWithScore("alpha", 0.5)),
	}

	agg := processor.Aggregate(results, 10)

	require.Len(t, agg.Chunks, 2)
	assert.Equal(t, "alpha", agg.Chunks[0].ID)
	assert.Equal(t, "zeta", agg.Chunks[1].ID)
}

func TestAggregate_TopKZeroKeepsEverything(t *testing.T) {
	processor := NewParallelProcessor(&mapRetriever{}, 3)

	results := []*rag.RetrievalResult{
		queryResult("q",
			chunkWithScore("a", 0.9),
			chunkWithScore("b", 0.8)),
	}

	agg := processor.Aggregate(results, 0)
	assert.Len(t, agg.Chunks, 2)
}

func TestAggregate_SkipsNilResults(t *testing.T) {
	processor := NewParallelProcessor(&mapRetriever{}, 3)

	results := []*rag.RetrievalResult{
		nil,
		queryResult("q", chunkWithScore("a", 0.9)),
	}

	agg := processor.Aggregate(results, 10)
	assert.Equal(t, []string{"q"}, agg.Queries)
	assert.Len(t, agg.Chunks, 1)
}

func TestAggregate_EmptyInput(t *testing.T) {
	processor := NewParallelProcessor(&mapRetriever{}, 3)

	agg := processor.Aggregate(nil, 5)
	assert.Empty(t, agg.Queries)
	assert.Empty(t, agg.Chunks)
	assert.Zero(t, agg.TotalCount)
	assert.NotNil(t, agg.PerQuery)
}

func TestAggregatedResult_RetrievalResult(t *testing.T) {
	agg := &AggregatedResult{
		Chunks:     []rag.RetrievedChunk{chunkWithScore("a", 0.9)},
		TotalCount: 4,
	}

	result := agg.RetrievalResult("combined question")
	assert.Equal(t, "combined question", result.Query)
	assert.Len(t, result.Chunks, 1)
	assert.Equal(t, 4, result.TotalCount)
}

func TestParallel_ProcessAndAggregate(t *testing.T) {
	retriever := &mapRetriever{results: map[string]*rag.RetrievalResult{
		"q1": queryResult("q1",
			chunkWithScore("shared", 0.4),
			chunkWithScore("only_q1", 0.95)),
		"q2": queryResult("q2",
			chunkWithScore("shared", 0.6)),
	}}
	processor := NewParallelProcessor(retriever, 3)

	agg, err := processor.ProcessAndAggregate(context.Background(), []string{"q1", "q2"}, 5, 2)
	require.NoError(t, err)

	require.Len(t, agg.Chunks, 2)
	assert.Equal(t, "only_q1", agg.Chunks[0].ID)
	assert.Equal(t, "shared", agg.Chunks[1].ID)
	assert.InDelta(t, 0.6, agg.Chunks[1].Score, 1e-9)
	assert.Equal(t, 2, agg.TotalCount)
}
