package embed

import (
	"context"
	"math"
	"strings"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultWarmTimeout is the timeout for requests when the model is loaded
	DefaultWarmTimeout = 60 * time.Second

	// DefaultColdTimeout is the timeout for the first request when the model
	// may need loading. Cold loads of large embedding models can take well
	// over a minute on modest hardware.
	DefaultColdTimeout = 120 * time.Second

	// ModelUnloadThreshold is the duration after which a model is considered
	// "cold". Ollama unloads models after ~5 minutes of inactivity.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3

	// DefaultDimensions is the fallback dimension when detection fails
	DefaultDimensions = 768
)

// Static embedder constants
const (
	// StaticDimensions is the embedding dimension for the static embedder
	StaticDimensions = 256
)

// Instruction prefixes for asymmetric retrieval models. E5-family and
// bge-m3 models were trained with distinct query and passage prefixes;
// omitting them degrades retrieval quality noticeably.
const (
	E5QueryPrefix   = "query: "
	E5PassagePrefix = "passage: "
)

// Embedder generates vector embeddings for text. Document and query
// embedding are separate operations because asymmetric models prepend
// different instruction prefixes to each side.
type Embedder interface {
	// EmbedDocuments generates embeddings for passages being indexed.
	// The result has one vector per input text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// asymmetricModel reports whether the model distinguishes query and
// passage inputs and therefore needs instruction prefixes.
func asymmetricModel(model string) bool {
	name := strings.ToLower(model)
	return strings.Contains(name, "e5") || strings.Contains(name, "bge-m3")
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
