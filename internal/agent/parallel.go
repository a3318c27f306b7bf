package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vaultrag/vaultrag/internal/rag"
)

// DefaultMaxWorkers bounds concurrent sub-query retrievals.
const DefaultMaxWorkers = 3

// AggregatedResult merges the retrievals of several sub-queries into
// one deduplicated ranking.
type AggregatedResult struct {
	// Queries lists the sub-queries that contributed results.
	Queries []string
	// Chunks is the merged ranking, deduplicated by chunk id keeping
	// the best score, sorted descending, truncated to the final topK.
	Chunks []rag.RetrievedChunk
	// TotalCount is the deduplicated union size before truncation.
	TotalCount int
	// PerQuery maps each sub-query to its own retrieval.
	PerQuery map[string]*rag.RetrievalResult
}

// RetrievalResult repackages the merged ranking so it can feed answer
// generation like a single retrieval would.
func (a *AggregatedResult) RetrievalResult(query string) *rag.RetrievalResult {
	return &rag.RetrievalResult{
		Query:      query,
		Chunks:     a.Chunks,
		TotalCount: a.TotalCount,
	}
}

// ParallelProcessor fans sub-queries out to a retriever with bounded
// concurrency and merges the results. A failed sub-query is dropped so
// its siblings still produce an answer.
type ParallelProcessor struct {
	retriever  rag.Retriever
	maxWorkers int
	logger     *slog.Logger
}

// NewParallelProcessor builds a fan-out processor. maxWorkers <= 0
// selects the default.
func NewParallelProcessor(retriever rag.Retriever, maxWorkers int) *ParallelProcessor {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &ParallelProcessor{
		retriever:  retriever,
		maxWorkers: maxWorkers,
		logger:     slog.Default().With("component", "parallel_processor"),
	}
}

// Process retrieves every query concurrently and returns the results
// that completed, in input order. A single query is retrieved inline
// and its error surfaces; with multiple queries individual failures are
// logged and dropped. When the context expires mid-flight the completed
// results still come back.
func (p *ParallelProcessor) Process(ctx context.Context, queries []string, topK int) ([]*rag.RetrievalResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	if len(queries) == 1 {
		result, err := p.retriever.Retrieve(ctx, queries[0], topK)
		if err != nil {
			return nil, err
		}
		return []*rag.RetrievalResult{result}, nil
	}

	results := make([]*rag.RetrievalResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.maxWorkers)

	var mu sync.Mutex
	var firstErr error

	for i, query := range queries {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return nil
			}

			result, err := p.retriever.Retrieve(gctx, query, topK)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			results[i] = result
			return nil
		})
	}

	// Workers always return nil so one failed sub-query cannot cancel
	// its siblings; the group is only the completion barrier.
	_ = g.Wait()

	if firstErr != nil {
		p.logger.Warn("some sub-queries failed, continuing with partial results",
			"error", firstErr)
	}

	completed := make([]*rag.RetrievalResult, 0, len(results))
	for _, result := range results {
		if result != nil {
			completed = append(completed, result)
		}
	}
	return completed, nil
}

// Aggregate merges retrievals into one ranking: union of chunks,
// deduplicated by id keeping the highest score, sorted by score
// descending with id as tiebreak, truncated to topK (topK <= 0 keeps
// everything).
func (p *ParallelProcessor) Aggregate(results []*rag.RetrievalResult, topK int) *AggregatedResult {
	agg := &AggregatedResult{
		PerQuery: make(map[string]*rag.RetrievalResult, len(results)),
	}

	best := make(map[string]rag.RetrievedChunk)
	for _, result := range results {
		if result == nil {
			continue
		}
		agg.Queries = append(agg.Queries, result.Query)
		agg.PerQuery[result.Query] = result

		for _, chunk := range result.Chunks {
			if prior, ok := best[chunk.ID]; !ok || chunk.Score > prior.Score {
				best[chunk.ID] = chunk
			}
		}
	}

	merged := make([]rag.RetrievedChunk, 0, len(best))
	for _, chunk := range best {
		merged = append(merged, chunk)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})

	agg.TotalCount = len(merged)
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	agg.Chunks = merged
	return agg
}

// ProcessAndAggregate fans out and merges in one step.
func (p *ParallelProcessor) ProcessAndAggregate(ctx context.Context, queries []string, topKPerQuery, topKFinal int) (*AggregatedResult, error) {
	results, err := p.Process(ctx, queries, topKPerQuery)
	if err != nil {
		return nil, err
	}
	return p.Aggregate(results, topKFinal), nil
}
