package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vaultrag/vaultrag/internal/chat"
	"github.com/vaultrag/vaultrag/internal/llm"
	"github.com/vaultrag/vaultrag/internal/logging"
	"github.com/vaultrag/vaultrag/internal/rag"
	"github.com/vaultrag/vaultrag/internal/server"
	"github.com/vaultrag/vaultrag/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var (
		addr  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the vault over HTTP",
		Long: `Serve the vault over HTTP: sync triggers, store status, session CRUD,
and chat with Server-Sent-Events streaming.

With --watch the vault is also watched for changes; edits are synced
into the collection automatically after a quiet window.`,
		Example: `  vaultrag serve
  vaultrag serve --addr 127.0.0.1:9000 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, addr, watch)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config server.host:server.port)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the vault and sync changes automatically")

	return cmd
}

func runServe(ctx context.Context, addr string, watch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	model, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	chatStore, err := chat.NewStore(cfg.ChatDBPath())
	if err != nil {
		return err
	}
	defer chatStore.Close()

	chain := rag.NewChain(a.retriever(), model)
	service := chat.NewService(chatStore, chain,
		chat.WithTopK(cfg.Search.TopK),
		chat.WithHistoryWindow(cfg.Agent.HistoryWindow),
	)

	srv := server.New(server.Config{
		Syncer:     a.syncer,
		Chat:       service,
		Collection: a.store,
		Embedder:   a.embedder,
		Logger:     logger,
	})

	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.ListenAndServe(ctx, addr)
	})

	if watch || cfg.Watch.Enabled {
		w, err := watcher.New(watcher.Config{
			Scanner:  a.scanner,
			Syncer:   a.syncer,
			Debounce: cfg.Watch.DebounceDuration(),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		group.Go(func() error {
			return w.Run(ctx)
		})
	}

	return group.Wait()
}
