package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultrag/vaultrag/internal/embed"
	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/llm"
	"github.com/vaultrag/vaultrag/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run diagnostics to ensure vaultrag can operate on this machine.

Checks:
  - Vault path exists and is readable
  - Data directory is writable
  - Disk space (100MB minimum)
  - File descriptor limits (1024 minimum)
  - Embedding backend reachability
  - LLM backend reachability

Backend probes are non-critical: when the embedder or LLM is offline,
sync and query fail later with a clear error, not here. Use --offline
to skip the probes entirely.`,
		Example: `  vaultrag doctor
  vaultrag doctor --verbose
  vaultrag doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDoctor(ctx, cmd, verbose, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip embedder and LLM reachability probes")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, verbose, jsonOutput, offline bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	env := preflight.Env{
		VaultPath: cfg.Vault.Path,
		DataDir:   cfg.ResolvedDataDir(),
	}
	if !offline {
		// Probe failures downgrade to warnings inside the checks, so a
		// constructor error here just means no probe.
		if embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings); err == nil {
			defer embedder.Close()
			env.Embedder = embedder
		}
		if model, err := llm.New(cfg.LLM); err == nil {
			env.LLM = model
		}
	}

	results := checker.RunAll(ctx, env)

	if jsonOutput {
		report := struct {
			Status string                  `json:"status"`
			Checks []preflight.CheckResult `json:"checks"`
		}{
			Status: checker.SummaryStatus(results),
			Checks: results,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		_ = preflight.ClearMarker(cfg.ResolvedDataDir())
		return errors.ValidationError("preflight checks failed", nil).
			WithSuggestion("Fix the failed checks above and re-run 'vaultrag doctor'")
	}
	_ = preflight.MarkPassed(cfg.ResolvedDataDir())
	return nil
}
