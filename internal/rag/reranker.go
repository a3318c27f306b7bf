package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vaultrag/vaultrag/internal/config"
	"github.com/vaultrag/vaultrag/internal/errors"
)

// Reranker defaults
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerTimeout  = 30 * time.Second
	DefaultInitialK         = 20
)

// RerankResult is one cross-encoder scored document.
type RerankResult struct {
	// Index is the document's position in the input slice.
	Index int `json:"index"`
	// Score is the cross-encoder relevance score.
	Score float64 `json:"score"`
	// Document is the original document text.
	Document string `json:"document"`
}

// Reranker rescores documents against a query with a cross-encoder.
// Results come back sorted by score descending.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoopReranker preserves the original order with descending synthetic
// scores. Used when reranking is disabled or the sidecar is down.
type NoopReranker struct{}

var _ Reranker = (*NoopReranker)(nil)

// Rerank returns the documents unmoved.
func (n *NoopReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{
			Index:    i,
			Score:    1.0 - float64(i)*0.01,
			Document: doc,
		}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available always holds for the noop.
func (n *NoopReranker) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (n *NoopReranker) Close() error { return nil }

// HTTPRerankerConfig configures the cross-encoder sidecar client.
type HTTPRerankerConfig struct {
	// Endpoint is the sidecar base URL.
	Endpoint string
	// Model is the cross-encoder model name ("" = server default).
	Model string
	// Timeout bounds one rerank request.
	Timeout time.Duration
}

// HTTPReranker calls a cross-encoder serving /rerank (TEI or MLX
// style: request {query, documents, model, top_k}, response
// {results: [{index, score, document}]}).
type HTTPReranker struct {
	client   *http.Client
	endpoint string
	model    string
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []RerankResult `json:"results"`
	Model   string         `json:"model"`
}

// NewHTTPReranker creates a sidecar client. No network at
// construction; use Available to probe.
func NewHTTPReranker(cfg HTTPRerankerConfig) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	return &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		logger:   slog.Default().With("component", "reranker"),
	}
}

// Rerank posts the query/document batch to the sidecar.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, errors.InternalError("reranker is closed", nil)
	}
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}

	reqBody := rerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.model,
	}
	if topK > 0 {
		reqBody.TopK = topK
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.InternalError("failed to encode rerank request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("failed to create rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.NetworkError("cannot reach reranker", err).
			WithDetail("endpoint", r.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.LLMError(
			fmt.Sprintf("rerank failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			nil,
		).WithDetail("endpoint", r.endpoint)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.LLMError("failed to decode rerank response", err)
	}

	r.logger.Debug("reranked",
		"doc_count", len(documents),
		"returned", len(result.Results),
		"elapsed", time.Since(start))
	return result.Results, nil
}

// Available probes the sidecar health endpoint.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// NewRerankerFromConfig returns the HTTP sidecar client when reranking
// is enabled, the noop otherwise.
func NewRerankerFromConfig(cfg config.RerankConfig) Reranker {
	if !cfg.Enabled {
		return &NoopReranker{}
	}
	return NewHTTPReranker(HTTPRerankerConfig{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		Timeout:  cfg.TimeoutDuration(),
	})
}
