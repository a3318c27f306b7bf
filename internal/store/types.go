// Package store persists chunk vectors and serves similarity queries.
//
// Two backends implement the same contract: LocalStore keeps an HNSW
// graph on disk under the data directory, QdrantStore talks to a Qdrant
// server over gRPC. Both bind an Embedder so callers hand over raw text
// and the store owns vectorization.
package store

import (
	"context"
	"strings"

	"github.com/vaultrag/vaultrag/internal/chunk"
)

// MaxChunksPerFile bounds prefix deletes: DeleteChunksByPrefix covers
// indices [fromIndex, fromIndex+MaxChunksPerFile). Files producing more
// chunks than this leave stragglers behind on shrink.
const MaxChunksPerFile = 1000

// Row is one stored chunk as returned from a query.
type Row struct {
	// ID is the deterministic chunk id "<relative_path>::chunk_<i>".
	ID string
	// Text is the chunk body.
	Text string
	// Metadata holds the normalized chunk metadata.
	Metadata map[string]any
	// Distance is the vector distance to the query. NaN when the row
	// was not produced by a similarity search.
	Distance float64
}

// Embedder supplies vectors for stored passages and incoming queries.
// Implementations live in internal/embed.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
}

// VectorStore is the collection-scoped persistence contract used by the
// syncer and retrievers.
type VectorStore interface {
	// UpsertChunks writes all chunks of one file under deterministic
	// ids and returns the number written.
	UpsertChunks(ctx context.Context, chunks []chunk.Chunk, relativePath string) (int, error)

	// Query embeds text and returns the n nearest rows, closest first.
	Query(ctx context.Context, text string, n int, opts ...QueryOption) ([]Row, error)

	// All returns every stored row sorted by id. Distances are NaN.
	All(ctx context.Context) ([]Row, error)

	// DeleteByRelativePath removes every chunk belonging to a file.
	DeleteByRelativePath(ctx context.Context, relativePath string) error

	// DeleteChunksByPrefix removes ids rp::chunk_k for k in
	// [fromIndex, fromIndex+MaxChunksPerFile). Missing ids are ignored.
	DeleteChunksByPrefix(ctx context.Context, relativePath string, fromIndex int) error

	// Clear drops all rows, preserving the embedder binding.
	Clear(ctx context.Context) error

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)

	// Name returns the collection name.
	Name() string

	Close() error
}

type queryOptions struct {
	where         map[string]string
	whereDocument string
}

// QueryOption narrows a similarity query.
type QueryOption func(*queryOptions)

// WithWhere keeps only rows whose metadata matches every key/value pair.
func WithWhere(where map[string]string) QueryOption {
	return func(o *queryOptions) {
		o.where = where
	}
}

// WithWhereDocument keeps only rows whose text contains substr.
func WithWhereDocument(substr string) QueryOption {
	return func(o *queryOptions) {
		o.whereDocument = substr
	}
}

func applyQueryOptions(opts []QueryOption) queryOptions {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// hasFilters reports whether the options restrict the result set beyond
// plain top-n similarity.
func (o queryOptions) hasFilters() bool {
	return len(o.where) > 0 || o.whereDocument != ""
}

// matches applies the where and whereDocument filters to one row.
func (o queryOptions) matches(text string, metadata map[string]any) bool {
	for k, want := range o.where {
		got, ok := metadata[k]
		if !ok || stringifyMetaValue(got) != want {
			return false
		}
	}
	if o.whereDocument != "" && !strings.Contains(text, o.whereDocument) {
		return false
	}
	return true
}
