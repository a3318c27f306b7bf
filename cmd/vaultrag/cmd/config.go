package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vaultrag/vaultrag/configs"
	"github.com/vaultrag/vaultrag/internal/config"
	"github.com/vaultrag/vaultrag/internal/output"
)

func newConfigCmd() *cobra.Command {
	var (
		initVault bool
		initUser  bool
		upgrade   bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize configuration",
		Long: `Show the effective configuration after all layers are merged:
built-in defaults, the user config, the vault's .vaultrag.yaml, and
VAULTRAG_* environment overrides.

--init writes a commented .vaultrag.yaml template into the vault root;
--init-user writes the user-level template instead. --upgrade backs up
the user config and fills in defaults added since it was written.`,
		Example: `  vaultrag config
  vaultrag config --init
  vaultrag config --upgrade`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			switch {
			case initVault:
				return runConfigInitVault(out)
			case initUser:
				return runConfigInitUser(out)
			case upgrade:
				return runConfigUpgrade(out)
			default:
				return runConfigShow(cmd)
			}
		},
	}

	cmd.Flags().BoolVar(&initVault, "init", false, "Write a .vaultrag.yaml template into the vault root")
	cmd.Flags().BoolVar(&initUser, "init-user", false, "Write the user config template")
	cmd.Flags().BoolVar(&upgrade, "upgrade", false, "Back up the user config and merge new defaults")
	cmd.MarkFlagsMutuallyExclusive("init", "init-user", "upgrade")

	return cmd
}

func runConfigShow(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigInitVault(out *output.Writer) error {
	dir := vaultDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	path := filepath.Join(dir, config.VaultConfigName)
	if _, err := os.Stat(path); err == nil {
		out.Warningf("%s already exists, leaving it alone", path)
		return nil
	}
	if err := os.WriteFile(path, []byte(configs.VaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	out.Successf("wrote %s", path)
	return nil
}

func runConfigInitUser(out *output.Writer) error {
	path := config.GetUserConfigPath()
	if config.UserConfigExists() {
		out.Warningf("%s already exists, leaving it alone", path)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	out.Successf("wrote %s", path)
	return nil
}

func runConfigUpgrade(out *output.Writer) error {
	cfg, err := config.LoadUserConfig()
	if err != nil {
		return err
	}
	if cfg == nil {
		out.Warning("no user config found; run 'vaultrag config --init-user' first")
		return nil
	}

	backup, err := config.BackupUserConfig()
	if err != nil {
		return err
	}
	if backup != "" {
		out.Statusf("", "backed up to %s", backup)
	}

	added := cfg.MergeNewDefaults()
	if len(added) == 0 {
		out.Success("config already up to date")
		return nil
	}
	if err := cfg.WriteYAML(config.GetUserConfigPath()); err != nil {
		return err
	}
	for _, field := range added {
		out.Statusf("", "added %s", field)
	}
	out.Successf("upgraded %s", config.GetUserConfigPath())
	return nil
}
