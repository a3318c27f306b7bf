package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/agent"
	"github.com/vaultrag/vaultrag/internal/config"
	"github.com/vaultrag/vaultrag/internal/llm"
	"github.com/vaultrag/vaultrag/internal/output"
	"github.com/vaultrag/vaultrag/internal/rag"
)

// queryOptions holds the CLI flags for query.
type queryOptions struct {
	topK   int
	hybrid bool
	rerank bool
	expand bool
	json   bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the indexed vault",
		Long: `Search the indexed vault and print the most relevant chunks.

By default the query is embedded and matched against the collection by
vector similarity. --hybrid blends in BM25 keyword relevance under the
configured weights, --rerank re-scores the candidates with the
cross-encoder sidecar, and --expand decomposes compound questions into
sub-queries fanned out in parallel.`,
		Example: `  vaultrag query "wireguard config"
  vaultrag query "backup strategy" --top-k 10 --hybrid
  vaultrag query "meeting notes from the trip" --expand --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runQuery(ctx, cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Number of chunks to return (default from config)")
	cmd.Flags().BoolVar(&opts.hybrid, "hybrid", false, "Blend dense and BM25 keyword scores")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Re-score candidates with the cross-encoder")
	cmd.Flags().BoolVar(&opts.expand, "expand", false, "Decompose the question into parallel sub-queries")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print results as JSON")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, query string, opts queryOptions) error {
	cleanup := setupCommandLogging("")
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.rerank {
		cfg.Search.Rerank.Enabled = true
	}
	topK := opts.topK
	if topK <= 0 {
		topK = cfg.Search.TopK
	}

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	out := output.New(cmd.OutOrStdout())

	if opts.hybrid || (cfg.Search.Hybrid && !opts.expand) {
		return runHybridQuery(ctx, cmd, a, query, topK, opts.json)
	}

	result, err := retrieveForQuery(ctx, a, cfg.LLM, query, topK, opts.expand)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if len(result.Chunks) == 0 {
		out.Warning("no matching chunks; is the vault synced?")
		return nil
	}
	printChunks(cmd, result.Chunks)
	return nil
}

// retrieveForQuery runs either a plain retrieval or, with expansion, a
// rewrite into sub-queries fanned out in parallel and merged.
func retrieveForQuery(ctx context.Context, a *app, llmCfg config.LLMConfig, query string, topK int, expand bool) (*rag.RetrievalResult, error) {
	retriever := a.retriever()
	if !expand {
		return retriever.Retrieve(ctx, query, topK)
	}

	model, err := llm.New(llmCfg)
	if err != nil {
		return nil, err
	}
	rewrite, err := agent.NewRewriter(model).Rewrite(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	processor := agent.NewParallelProcessor(retriever, a.cfg.Agent.MaxWorkers)
	aggregated, err := processor.ProcessAndAggregate(ctx, rewrite.RewrittenQueries, topK, topK)
	if err != nil {
		return nil, err
	}
	return aggregated.RetrievalResult(query), nil
}

func runHybridQuery(ctx context.Context, cmd *cobra.Command, a *app, query string, topK int, jsonOut bool) error {
	hs, err := rag.NewHybridSearcher(a.store, a.cfg.Search.DenseWeight, a.cfg.Search.SparseWeight)
	if err != nil {
		return err
	}
	defer hs.Close()

	rows, err := a.store.All(ctx)
	if err != nil {
		return err
	}
	docs := make([]string, len(rows))
	ids := make([]string, len(rows))
	for i, row := range rows {
		docs[i] = row.Text
		ids[i] = row.ID
	}
	if err := hs.IndexDocuments(ctx, docs, ids); err != nil {
		return err
	}

	results, err := hs.Search(ctx, query, topK)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		output.New(cmd.OutOrStdout()).Warning("no matching chunks; is the vault synced?")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s  (score %.3f = dense %.3f + keyword %.3f)\n",
			i+1, r.ID, r.Score, r.DenseScore, r.SparseScore)
		fmt.Fprintf(cmd.OutOrStdout(), "   %s\n\n", snippet(r.Text, 200))
	}
	return nil
}

// printChunks renders retrieved chunks as a ranked list.
func printChunks(cmd *cobra.Command, chunks []rag.RetrievedChunk) {
	w := cmd.OutOrStdout()
	for i, c := range chunks {
		path := metaStr(c.Metadata, "relative_path")
		if path == "" {
			path = metaStr(c.Metadata, "source")
		}
		fmt.Fprintf(w, "%d. %s  (score %.3f)\n", i+1, path, c.Score)
		if hp := metaStr(c.Metadata, "header_path"); hp != "" {
			fmt.Fprintf(w, "   %s\n", hp)
		}
		fmt.Fprintf(w, "   %s\n\n", snippet(c.Text, 200))
	}
}

func metaStr(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

// snippet returns the first n runes of text with newlines flattened.
func snippet(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "…"
}
