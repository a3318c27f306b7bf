package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/logging"
	"github.com/vaultrag/vaultrag/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve vault tools over MCP on stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Exposes the vault to MCP clients (Claude Code, Cursor, ...) through
three tools: vault_search retrieves chunks, vault_sync runs a sync
cycle, and vault_status reports collection statistics.

Logging goes to the log file only; stdout stays clean for JSON-RPC.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx)
		},
	}
	return cmd
}

func runMCP(ctx context.Context) error {
	// Stdout carries JSON-RPC; all logging must go to the file.
	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcp.New(mcp.Config{
		Retriever:  a.retriever(),
		Syncer:     a.syncer,
		Collection: a.store,
		Embedder:   a.embedder,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
