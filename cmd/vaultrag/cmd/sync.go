package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/embed"
	"github.com/vaultrag/vaultrag/internal/index"
	"github.com/vaultrag/vaultrag/internal/ui"
)

func newSyncCmd() *cobra.Command {
	var (
		full     bool
		includes []string
		noTUI    bool
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the vault into the vector collection",
		Long: `Sync the vault into the vector collection.

An incremental sync hashes every vault file and only re-chunks and
re-embeds the ones that actually changed. Deleted files leave the
collection, renamed files move with it.

Use --full to drop the collection and rebuild everything from scratch.
Use --include to restrict the cycle to a subtree of the vault.`,
		Example: `  # Incremental sync of the current vault
  vaultrag sync

  # Rebuild everything
  vaultrag sync --full

  # Only the notes/projects subtree
  vaultrag sync --include notes/projects`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd, full, includes, noTUI, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Clear the collection and re-embed the whole vault")
	cmd.Flags().StringSliceVar(&includes, "include", nil, "Restrict the sync to these relative path prefixes (repeatable)")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the live progress display")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the sync result as JSON")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, full bool, includes []string, noTUI, jsonOut bool) error {
	cleanup := setupCommandLogging("")
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(noTUI || jsonOut),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithVaultDir(cfg.Vault.Path),
	))

	progress := func(stage string, done, total int) {
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageFromName(stage),
			Current: done,
			Total:   total,
		})
	}

	a, err := newApp(ctx, cfg, nil, index.WithProgress(progress))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := renderer.Start(ctx); err != nil {
		return err
	}

	start := time.Now()
	result, err := a.syncer.SyncWithOptions(ctx, index.SyncOptions{
		IncludePaths: includes,
		ForceReindex: full,
	})
	if err != nil {
		_ = renderer.Stop()
		return err
	}

	for _, msg := range result.Errors {
		renderer.AddError(ui.ErrorEvent{Err: errString(msg), IsWarn: true})
	}

	info := embed.GetInfo(ctx, a.embedder)
	renderer.Complete(ui.CompletionStats{
		Added:    result.Added,
		Modified: result.Modified,
		Deleted:  result.Deleted,
		Skipped:  result.Skipped,
		Chunks:   result.TotalChunks,
		Duration: time.Since(start),
		Errors:   len(result.Errors),
		Embedder: ui.EmbedderInfo{
			Backend:    string(info.Provider),
			Model:      info.Model,
			Dimensions: info.Dimensions,
		},
	})
	if err := renderer.Stop(); err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return nil
}

// errString adapts a collected per-file error message to the error
// interface the renderer displays.
type errString string

func (e errString) Error() string { return string(e) }
