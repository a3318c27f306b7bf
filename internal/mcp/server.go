// Package mcp exposes the vault over the Model Context Protocol:
// a stdio JSON-RPC server whose tools let MCP clients (Claude Code,
// Cursor) search the vault, trigger sync cycles, and inspect the
// collection.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/index"
	"github.com/vaultrag/vaultrag/internal/rag"
	"github.com/vaultrag/vaultrag/internal/store"
	"github.com/vaultrag/vaultrag/pkg/version"
)

// serverName identifies this server in the MCP handshake.
const serverName = "vaultrag"

const (
	// defaultTopK matches the search.top_k config default.
	defaultTopK = 5
	// maxTopK caps what a single tool call can request.
	maxTopK = 50
)

// Syncer triggers sync cycles against the vault.
type Syncer interface {
	SyncWithOptions(ctx context.Context, opts index.SyncOptions) (index.SyncResult, error)
}

// Collection is the slice of the vector store the status tool reports
// on. Backends that persist locally additionally expose Path() string.
type Collection interface {
	Name() string
	Count(ctx context.Context) (int, error)
}

// Config wires the server's dependencies. Embedder may be nil; status
// then omits the model fields.
type Config struct {
	Retriever  rag.Retriever
	Syncer     Syncer
	Collection Collection
	Embedder   store.Embedder
	Logger     *slog.Logger
}

// Server adapts the vault's retrieval and sync pipeline to MCP tools.
type Server struct {
	mcp        *mcp.Server
	retriever  rag.Retriever
	syncer     Syncer
	collection Collection
	embedder   store.Embedder
	logger     *slog.Logger
}

// SearchInput is the vault_search tool input.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the question or phrase to search the vault for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of chunks to return, default 5"`
}

// SearchOutput is the vault_search structured result.
type SearchOutput struct {
	Results []SearchResult `json:"results" jsonschema:"scored chunks, most relevant first"`
}

// SearchResult is one retrieved chunk with its citation fields.
type SearchResult struct {
	Source       string  `json:"source" jsonschema:"note the chunk came from"`
	RelativePath string  `json:"relative_path,omitempty" jsonschema:"vault-relative path of the note"`
	Score        float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
	Content      string  `json:"content" jsonschema:"chunk text (Markdown)"`
}

// SyncInput is the vault_sync tool input.
type SyncInput struct {
	Full bool `json:"full,omitempty" jsonschema:"rebuild the whole collection instead of syncing incrementally"`
}

// SyncOutput is the vault_sync structured result.
type SyncOutput struct {
	Added       int      `json:"added" jsonschema:"files newly indexed"`
	Modified    int      `json:"modified" jsonschema:"files re-indexed after a content change"`
	Deleted     int      `json:"deleted" jsonschema:"files removed from the collection"`
	Skipped     int      `json:"skipped" jsonschema:"files left untouched"`
	TotalChunks int      `json:"total_chunks" jsonschema:"chunks written this cycle"`
	Errors      []string `json:"errors,omitempty" jsonschema:"per-file failures the cycle continued past"`
}

// StatusInput is the vault_status tool input.
type StatusInput struct{}

// StatusOutput is the vault_status structured result.
type StatusOutput struct {
	Collection  string `json:"collection" jsonschema:"vector store collection name"`
	Chunks      int    `json:"chunks" jsonschema:"chunks currently stored"`
	Embedder    string `json:"embedder,omitempty" jsonschema:"embedding model in use"`
	Dimensions  int    `json:"dimensions,omitempty" jsonschema:"embedding vector width"`
	PersistPath string `json:"persist_path,omitempty" jsonschema:"on-disk location for local backends"`
}

// New builds an MCP server from its wiring.
func New(cfg Config) (*Server, error) {
	if cfg.Retriever == nil {
		return nil, errors.ValidationError("mcp server requires a retriever", nil)
	}
	if cfg.Syncer == nil {
		return nil, errors.ValidationError("mcp server requires a syncer", nil)
	}
	if cfg.Collection == nil {
		return nil, errors.ValidationError("mcp server requires a collection", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		retriever:  cfg.Retriever,
		syncer:     cfg.Syncer,
		collection: cfg.Collection,
		embedder:   cfg.Embedder,
		logger:     logger.With("component", "mcp_server"),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

// registerTools declares the tool surface. The SDK derives the input
// and output schemas from the handler types.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "vault_search",
		Description: "Search the Markdown vault. Returns the most relevant note chunks with sources and scores. Use this to ground answers in the user's own notes.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "vault_sync",
		Description: "Index new, changed, and deleted notes into the vector store. Incremental by default; set full to rebuild the whole collection.",
	}, s.handleSync)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report the vector store collection: name, chunk count, and the active embedding model. Use this to verify the vault is indexed before searching.",
	}, s.handleStatus)
}

// Run serves MCP over stdio until ctx is canceled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp_server_started",
		"name", serverName,
		"version", version.Version,
		"collection", s.collection.Name())

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !stderrors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", "error", err)
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "query must not be empty",
		}
	}
	topK := clampTopK(input.TopK)

	s.logger.Info("vault_search started",
		"request_id", requestID,
		"query", input.Query,
		"top_k", topK)

	result, err := s.retriever.Retrieve(ctx, input.Query, topK)
	if err != nil {
		s.logger.Error("vault_search failed",
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return nil, SearchOutput{}, mapError(err)
	}

	s.logger.Info("vault_search completed",
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
		"result_count", len(result.Chunks))

	output := SearchOutput{Results: make([]SearchResult, 0, len(result.Chunks))}
	for _, src := range result.Sources() {
		output.Results = append(output.Results, SearchResult{
			Source:       src.Source,
			RelativePath: src.RelativePath,
			Score:        src.Score,
			Content:      src.Content,
		})
	}

	res := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{
			Text: formatSearchResults(input.Query, output.Results),
		}},
	}
	return res, output, nil
}

func (s *Server) handleSync(ctx context.Context, _ *mcp.CallToolRequest, input SyncInput) (*mcp.CallToolResult, SyncOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("vault_sync started",
		"request_id", requestID,
		"full", input.Full)

	result, err := s.syncer.SyncWithOptions(ctx, index.SyncOptions{ForceReindex: input.Full})
	if err != nil {
		s.logger.Error("vault_sync failed",
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return nil, SyncOutput{}, mapError(err)
	}

	s.logger.Info("vault_sync completed",
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
		"result", result.String())

	output := SyncOutput{
		Added:       result.Added,
		Modified:    result.Modified,
		Deleted:     result.Deleted,
		Skipped:     result.Skipped,
		TotalChunks: result.TotalChunks,
		Errors:      result.Errors,
	}
	res := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{
			Text: formatSyncResult(result),
		}},
	}
	return res, output, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	count, err := s.collection.Count(ctx)
	if err != nil {
		return nil, StatusOutput{}, mapError(err)
	}

	output := StatusOutput{
		Collection: s.collection.Name(),
		Chunks:     count,
	}
	if s.embedder != nil {
		output.Embedder = s.embedder.ModelName()
		output.Dimensions = s.embedder.Dimensions()
	}
	// Only locally persisted backends have a path to report.
	if p, ok := s.collection.(interface{ Path() string }); ok {
		output.PersistPath = p.Path()
	}

	s.logger.Info("vault_status reported",
		"collection", output.Collection,
		"chunks", output.Chunks)
	return nil, output, nil
}

// formatSearchResults renders retrieved chunks as markdown for clients
// that show text content directly.
func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Vault Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		path := r.RelativePath
		if path == "" {
			path = r.Source
		}
		fmt.Fprintf(&sb, "### %d. %s (score: %.2f)\n\n", i+1, path, r.Score)
		// Chunks are Markdown already; pass them through unfenced.
		sb.WriteString(r.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// formatSyncResult summarizes a sync cycle in one line, with per-file
// failures listed after it.
func formatSyncResult(result index.SyncResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sync complete: %d added, %d modified, %d deleted, %d skipped; %d chunks written.",
		result.Added, result.Modified, result.Deleted, result.Skipped, result.TotalChunks)

	if len(result.Errors) > 0 {
		fmt.Fprintf(&sb, "\n\n%d file(s) failed:\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}

	return sb.String()
}

// clampTopK bounds the requested result count.
func clampTopK(topK int) int {
	switch {
	case topK <= 0:
		return defaultTopK
	case topK > maxTopK:
		return maxTopK
	default:
		return topK
	}
}

// generateRequestID creates a short unique id for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
