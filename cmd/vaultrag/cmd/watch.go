package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/output"
	"github.com/vaultrag/vaultrag/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the vault and sync changes automatically",
		Long: `Watch the vault for file changes and keep the collection in sync.

An initial incremental sync brings the collection up to date, then
bursts of edits are coalesced over a quiet window (watch.debounce)
before each cycle. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command) error {
	cleanup := setupCommandLogging("")
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

	out := output.New(cmd.OutOrStdout())

	result, err := a.syncer.Sync(ctx)
	if err != nil {
		return err
	}
	out.Successf("initial sync: %s", result.String())

	w, err := watcher.New(watcher.Config{
		Scanner:  a.scanner,
		Syncer:   a.syncer,
		Debounce: cfg.Watch.DebounceDuration(),
	})
	if err != nil {
		return err
	}

	out.Statusf("", "watching %s (Ctrl-C to stop)", cfg.Vault.Path)
	return w.Run(ctx)
}
