package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/agent"
	"github.com/vaultrag/vaultrag/internal/chat"
	"github.com/vaultrag/vaultrag/internal/llm"
	"github.com/vaultrag/vaultrag/internal/output"
	"github.com/vaultrag/vaultrag/internal/rag"
)

func newAskCmd() *cobra.Command {
	var (
		sessionID  string
		noStream   bool
		corrective bool
		topK       int
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question against the vault",
		Long: `Ask a natural-language question and get an answer grounded in the
vault's content.

Turns belong to a chat session: pass --session to continue an earlier
conversation (pronouns like "it" resolve against its history), or omit
it to start a fresh session titled from the question.

--corrective answers outside any session through the self-correcting
chain: when retrieval quality is poor the question is broadened and
retried before answering.`,
		Example: `  vaultrag ask "how do I rotate the wireguard keys?"
  vaultrag ask "and what about the backup host?" --session 3f6d…
  vaultrag ask "what was decided about the migration?" --corrective`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAsk(ctx, cmd, strings.Join(args, " "), sessionID, noStream, corrective, topK)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Chat session to continue (default: new session)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Print the full answer at once instead of streaming")
	cmd.Flags().BoolVar(&corrective, "corrective", false, "Broaden and retry on low retrieval quality (sessionless)")
	cmd.Flags().IntVarP(&topK, "top-k", "n", 0, "Retrieval depth (default from config)")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, question, sessionID string, noStream, corrective bool, topK int) error {
	cleanup := setupCommandLogging("")
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if topK <= 0 {
		topK = cfg.Search.TopK
	}

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	model, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	chain := rag.NewChain(a.retriever(), model)
	out := output.New(cmd.OutOrStdout())

	if corrective {
		return runCorrectiveAsk(ctx, cmd, out, a, chain, question, topK)
	}

	store, err := chat.NewStore(cfg.ChatDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	service := chat.NewService(store, chain,
		chat.WithTopK(topK),
		chat.WithHistoryWindow(cfg.Agent.HistoryWindow),
	)

	if noStream {
		result, err := service.Ask(ctx, sessionID, question)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
		printSources(cmd, out, result.Sources)
		out.Statusf("", "session: %s", result.Session.ID)
		return nil
	}

	stream, err := service.StreamAsk(ctx, sessionID, question)
	if err != nil {
		return err
	}
	for chunk := range stream.Chunks {
		if chunk.Err != nil {
			fmt.Fprintln(cmd.OutOrStdout())
			return chunk.Err
		}
		fmt.Fprint(cmd.OutOrStdout(), chunk.Content)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	printSources(cmd, out, stream.Sources)
	out.Statusf("", "session: %s", stream.Session.ID)
	return nil
}

func runCorrectiveAsk(ctx context.Context, cmd *cobra.Command, out *output.Writer, a *app, chain *rag.Chain, question string, topK int) error {
	corrector := agent.NewSelfCorrectingChain(chain,
		agent.WithQualityThreshold(a.cfg.Agent.QualityThreshold),
		agent.WithMaxRetries(a.cfg.Agent.MaxRetries),
		agent.WithBroadenTemperature(a.cfg.Agent.BroadenTemperature),
	)
	result, err := corrector.Query(ctx, question, topK)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
	printSources(cmd, out, result.Sources)
	if result.Attempts > 1 {
		out.Statusf("", "retrieved %d times, final query: %q (quality %.2f)",
			result.Attempts, result.FinalQuery, result.Quality)
	}
	return nil
}

func printSources(cmd *cobra.Command, out *output.Writer, sources []rag.Source) {
	if len(sources) == 0 {
		return
	}
	out.Newline()
	for i, s := range sources {
		path := s.RelativePath
		if path == "" {
			path = s.Source
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s (%.3f)\n", i+1, path, s.Score)
	}
}
