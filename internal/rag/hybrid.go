package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/store"
)

const (
	// proseAnalyzerName identifies the whitespace+lowercase analyzer
	// used for BM25 over markdown prose.
	proseAnalyzerName = "prose"

	// weightSumTolerance is how far the two weights may drift from
	// summing to 1.0.
	weightSumTolerance = 0.01
)

// HybridResult is one blended search hit with its component scores.
type HybridResult struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	DenseScore  float64 `json:"dense_score"`
	SparseScore float64 `json:"sparse_score"`
}

// HybridSearcher blends vector similarity with BM25 keyword relevance.
// The keyword side lives in an in-memory bleve index built from the
// corpus handed to IndexDocuments.
type HybridSearcher struct {
	store        store.VectorStore
	denseWeight  float64
	sparseWeight float64
	logger       *slog.Logger

	mu     sync.RWMutex
	index  bleve.Index
	docs   map[string]string
	closed bool
}

type bleveDocument struct {
	Content string `json:"content"`
}

// NewHybridSearcher validates the weights and prepares an empty
// keyword index.
func NewHybridSearcher(vs store.VectorStore, denseWeight, sparseWeight float64) (*HybridSearcher, error) {
	if denseWeight < 0 || denseWeight > 1 || sparseWeight < 0 || sparseWeight > 1 {
		return nil, errors.ValidationError(
			fmt.Sprintf("weights must be in [0,1]: dense=%.3f sparse=%.3f", denseWeight, sparseWeight), nil)
	}
	if math.Abs(denseWeight+sparseWeight-1.0) > weightSumTolerance {
		return nil, errors.ValidationError(
			fmt.Sprintf("weights must sum to 1.0: dense=%.3f sparse=%.3f", denseWeight, sparseWeight), nil)
	}

	index, err := newProseIndex()
	if err != nil {
		return nil, err
	}

	return &HybridSearcher{
		store:        vs,
		denseWeight:  denseWeight,
		sparseWeight: sparseWeight,
		logger:       slog.Default().With("component", "hybrid_search"),
		index:        index,
		docs:         make(map[string]string),
	}, nil
}

func newProseIndex() (bleve.Index, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(proseAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, errors.InternalError("failed to build prose analyzer", err)
	}
	indexMapping.DefaultAnalyzer = proseAnalyzerName

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, errors.InternalError("failed to create keyword index", err)
	}
	return index, nil
}

// IndexDocuments adds a batch of documents to the keyword index.
// Repeated calls accumulate; re-used ids replace the old document.
func (h *HybridSearcher) IndexDocuments(ctx context.Context, docs []string, ids []string) error {
	if len(docs) != len(ids) {
		return errors.ValidationError(
			fmt.Sprintf("documents and ids differ in length: %d vs %d", len(docs), len(ids)), nil)
	}
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.VectorStoreError("hybrid searcher is closed", nil)
	}

	batch := h.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, bleveDocument{Content: docs[i]}); err != nil {
			return errors.VectorStoreError("failed to index document "+id, err)
		}
	}
	if err := h.index.Batch(batch); err != nil {
		return errors.VectorStoreError("failed to commit keyword batch", err)
	}

	for i, id := range ids {
		h.docs[id] = docs[i]
	}

	h.logger.Debug("documents_indexed", "count", len(docs), "corpus_size", len(h.docs))
	return nil
}

// CorpusSize returns the number of keyword-indexed documents.
func (h *HybridSearcher) CorpusSize() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.docs)
}

// Search blends dense and sparse relevance for the query. Dense
// candidates are over-fetched at topK*2; BM25 runs corpus-wide and is
// normalized by its maximum score. The union of both candidate sets is
// scored as denseWeight*d + sparseWeight*s.
func (h *HybridSearcher) Search(ctx context.Context, query string, topK int) ([]HybridResult, error) {
	if topK <= 0 {
		return nil, errors.ValidationError("top_k must be positive", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.ValidationError("query must not be empty", nil)
	}

	denseScores, texts, err := h.denseCandidates(ctx, query, topK*2)
	if err != nil {
		return nil, err
	}
	sparseScores, err := h.sparseScores(ctx, query)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(denseScores)+len(sparseScores))
	for id := range denseScores {
		ids[id] = struct{}{}
	}
	for id := range sparseScores {
		ids[id] = struct{}{}
	}

	h.mu.RLock()
	results := make([]HybridResult, 0, len(ids))
	for id := range ids {
		text, ok := texts[id]
		if !ok {
			text = h.docs[id]
		}
		dense := denseScores[id]
		sparse := sparseScores[id]
		results = append(results, HybridResult{
			ID:          id,
			Text:        text,
			Score:       h.denseWeight*dense + h.sparseWeight*sparse,
			DenseScore:  dense,
			SparseScore: sparse,
		})
	}
	h.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	h.logger.Debug("hybrid_search",
		"dense_candidates", len(denseScores),
		"sparse_candidates", len(sparseScores),
		"returned", len(results))
	return results, nil
}

func (h *HybridSearcher) denseCandidates(ctx context.Context, query string, n int) (map[string]float64, map[string]string, error) {
	rows, err := h.store.Query(ctx, query, n)
	if err != nil {
		return nil, nil, err
	}
	scores := make(map[string]float64, len(rows))
	texts := make(map[string]string, len(rows))
	for _, row := range rows {
		scores[row.ID] = scoreFromDistance(row.Distance)
		texts[row.ID] = row.Text
	}
	return scores, texts, nil
}

// sparseScores runs BM25 over the whole corpus and normalizes by the
// maximum score so the sparse component lands in [0,1].
func (h *HybridSearcher) sparseScores(ctx context.Context, query string) (map[string]float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, errors.VectorStoreError("hybrid searcher is closed", nil)
	}
	if len(h.docs) == 0 {
		return map[string]float64{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	request := bleve.NewSearchRequest(matchQuery)
	request.Size = len(h.docs)

	result, err := h.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, errors.VectorStoreError("keyword search failed", err)
	}

	maxScore := 0.0
	for _, hit := range result.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}
	if maxScore == 0 {
		maxScore = 1
	}

	scores := make(map[string]float64, len(result.Hits))
	for _, hit := range result.Hits {
		scores[hit.ID] = hit.Score / maxScore
	}
	return scores, nil
}

// Close releases the keyword index.
func (h *HybridSearcher) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.index.Close()
}
