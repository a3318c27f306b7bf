package cmd

import (
	"context"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/logging"
	"github.com/vaultrag/vaultrag/internal/ui"
)

func newLogsCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		pattern string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View vaultrag log output",
		Long: `View the JSON log file as readable lines.

Shows the last entries by default; --follow tails the file as new
entries arrive. Entries can be filtered by level and by a regular
expression over the message text.`,
		Example: `  vaultrag logs
  vaultrag logs -n 100 --level warn
  vaultrag logs --follow --grep 'sync_'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLogs(ctx, cmd, follow, lines, level, pattern, file)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep the file open and print new entries")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing entries to show")
	cmd.Flags().StringVar(&level, "level", "", "Only show entries at or above this level (debug, info, warn, error)")
	cmd.Flags().StringVar(&pattern, "grep", "", "Only show entries matching this regular expression")
	cmd.Flags().StringVar(&file, "file", "", "Log file to read (default: the active log file)")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, follow bool, lines int, level, pattern, file string) error {
	path, err := logging.FindLogFile(file)
	if err != nil {
		return err
	}

	cfg := logging.ViewerConfig{
		Level:   level,
		NoColor: ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()),
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return err
		}
		cfg.Pattern = re
	}
	viewer := logging.NewViewer(cfg, cmd.OutOrStdout())

	entries, err := viewer.Tail(path, lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !follow {
		return nil
	}

	stream := make(chan logging.LogEntry, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- viewer.Follow(ctx, path, stream)
	}()
	for {
		select {
		case entry := <-stream:
			viewer.Print([]logging.LogEntry{entry})
		case err := <-errc:
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		}
	}
}
