// Package rag turns stored chunk vectors into answers: similarity
// retrieval, hybrid dense+BM25 search, cross-encoder reranking, and the
// prompt/LLM chain that generates grounded responses with sources.
package rag

import (
	"context"
	"math"

	"github.com/vaultrag/vaultrag/internal/store"
)

// RetrievedChunk is one scored chunk from a retrieval.
type RetrievedChunk struct {
	// ID is the deterministic chunk id "<relative_path>::chunk_<i>".
	ID string `json:"id"`
	// Text is the chunk body.
	Text string `json:"text"`
	// Metadata holds the chunk metadata (source, folder_path, headers).
	Metadata map[string]any `json:"metadata"`
	// Distance is the raw vector distance (NaN when unknown).
	Distance float64 `json:"distance"`
	// Score is the similarity in [0,1], higher is more relevant.
	Score float64 `json:"score"`
}

// RetrievalResult is the outcome of one retrieval.
type RetrievalResult struct {
	Query      string           `json:"query"`
	Chunks     []RetrievedChunk `json:"chunks"`
	TotalCount int              `json:"total_count"`
}

// TopChunk returns the most relevant chunk, or nil when empty.
func (r *RetrievalResult) TopChunk() *RetrievedChunk {
	if len(r.Chunks) == 0 {
		return nil
	}
	return &r.Chunks[0]
}

// Source is the citation form of a retrieved chunk, exposed by the
// chat endpoints.
type Source struct {
	Content      string  `json:"content"`
	Source       string  `json:"source"`
	Score        float64 `json:"score"`
	RelativePath string  `json:"relative_path,omitempty"`
}

// Sources maps every chunk to its citation form.
func (r *RetrievalResult) Sources() []Source {
	sources := make([]Source, len(r.Chunks))
	for i, c := range r.Chunks {
		sources[i] = Source{
			Content:      c.Text,
			Source:       chunkSource(c.Metadata),
			Score:        c.Score,
			RelativePath: metaString(c.Metadata, "relative_path"),
		}
	}
	return sources
}

// Retriever finds the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, opts ...store.QueryOption) (*RetrievalResult, error)
}

// scoreFromDistance converts a vector distance to a [0,1] similarity.
// Rows without a measured distance score zero.
func scoreFromDistance(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return 1.0 / (1.0 + distance)
}

func chunkSource(metadata map[string]any) string {
	if s := metaString(metadata, "source"); s != "" {
		return s
	}
	return "unknown"
}

func metaString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	s, _ := metadata[key].(string)
	return s
}
