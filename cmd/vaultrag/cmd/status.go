package cmd

import (
	"context"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/chat"
	"github.com/vaultrag/vaultrag/internal/embed"
	"github.com/vaultrag/vaultrag/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vault index status",
		Long: `Show the state of the vault's index: file and chunk counts, the
collection backing them, store size on disk, and whether the embedding
backend is reachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStatus(ctx, cmd, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOut bool) error {
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

	count, err := a.store.Count(ctx)
	if err != nil {
		return err
	}
	embInfo := embed.GetInfo(ctx, a.embedder)

	info := ui.StatusInfo{
		VaultPath:     cfg.Vault.Path,
		TotalFiles:    a.registry.Len(),
		TotalChunks:   count,
		LastSync:      lastSyncTime(a),
		Collection:    a.store.Name(),
		StoreSize:     dirSize(cfg.CollectionDir(a.store.Name())),
		EmbedderType:  string(embInfo.Provider),
		EmbedderModel: embInfo.Model,
		Dimensions:    embInfo.Dimensions,
		WatcherStatus: "n/a",
		Sessions:      sessionCount(ctx, cfg.ChatDBPath()),
	}
	if p, ok := a.store.(interface{ Path() string }); ok {
		info.PersistPath = p.Path()
	}
	if embInfo.Available {
		info.EmbedderStatus = "ready"
	} else {
		info.EmbedderStatus = "offline"
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOut {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// lastSyncTime reads the most recent per-file sync stamp out of the
// registry; zero when the vault was never synced.
func lastSyncTime(a *app) time.Time {
	var last time.Time
	for _, entry := range a.registry.Files() {
		if t, err := time.Parse(time.RFC3339, entry.LastSynced); err == nil && t.After(last) {
			last = t
		}
	}
	return last
}

// dirSize totals the file bytes under dir; 0 when it does not exist.
func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries just don't count
		}
		if fi, err := d.Info(); err == nil {
			size += fi.Size()
		}
		return nil
	})
	return size
}

// sessionCount opens the chat store read-only-ish to count sessions;
// 0 when no chat history exists yet.
func sessionCount(ctx context.Context, path string) int {
	if _, err := os.Stat(path); err != nil {
		return 0
	}
	store, err := chat.NewStore(path)
	if err != nil {
		return 0
	}
	defer store.Close()
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return 0
	}
	return len(sessions)
}
