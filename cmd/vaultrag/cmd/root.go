// Package cmd provides the CLI commands for vaultrag.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/logging"
	"github.com/vaultrag/vaultrag/internal/profiling"
	"github.com/vaultrag/vaultrag/pkg/version"
)

// Persistent flag state shared by the PreRun/PostRun hooks.
var (
	vaultDir  string
	debugMode bool

	profileCPU   string
	profileTrace string
	profileHeap  string

	profiler       = profiling.New()
	loggingCleanup func()
)

// NewRootCmd creates the root command for the vaultrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaultrag",
		Short: "Index a Markdown vault and answer questions against it",
		Long: `vaultrag indexes an Obsidian-style Markdown vault into a vector
collection and answers natural-language questions over it.

Syncs are incremental: files are chunked along their headers, embedded,
and upserted only when their content actually changed. Questions run
through hybrid dense+keyword retrieval and a grounded answer chain.

Run 'vaultrag sync' inside a vault to build the index, then
'vaultrag query' or 'vaultrag ask' to search it.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("vaultrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&vaultDir, "vault", "", "Vault root directory (default: nearest .vaultrag.yaml or .obsidian, else cwd)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.vaultrag/logs/")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileHeap, "profile-heap", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startDiagnostics
	cmd.PersistentPostRunE = stopDiagnostics

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startDiagnostics enables debug logging and profiling when the
// corresponding persistent flags are set.
func startDiagnostics(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to set up debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if profileCPU != "" {
		if err := profiler.StartCPU(profileCPU); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}
	if profileTrace != "" {
		if err := profiler.StartTrace(profileTrace); err != nil {
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}
	return nil
}

// stopDiagnostics flushes profiles and closes the debug log.
func stopDiagnostics(_ *cobra.Command, _ []string) error {
	if profileHeap != "" {
		if err := profiler.WriteHeap(profileHeap); err != nil {
			fmt.Fprintf(os.Stderr, "warning: heap profile failed: %v\n", err)
		}
	}
	profiler.Stop()

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and maps the error to a process exit
// code: 0 ok, 1 config or generic failure, 2 unrecoverable registry
// corruption.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.FormatForUser(err, debugMode))
		return errors.ExitCode(err)
	}
	return 0
}
