package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/deployer/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect deployer configuration. Subcommands show the effective settings
and the sections available in the config file.`,
		Example: `  deployer config show
  deployer config show -s production
  deployer config sections`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSectionsCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration",
		Long: `Display the configuration in YAML format after merging the defaults, the
common and selected sections of the config file and any command-line
overrides. The password is masked.`,
		Example: `  deployer config show
  deployer config show --config-file deploy.json --section staging`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration", "path", cfgPath, "section", section)

	data, err := yaml.Marshal(globalCfg.Masked())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	out := cmd.OutOrStdout()
	source := cfgPath
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(out, "# source: %s\n", source)
	if section != "" {
		fmt.Fprintf(out, "# section: %s\n", section)
	}
	fmt.Fprint(out, string(data))

	return nil
}

func newConfigSectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "List the sections of the config file",
		Args:  cobra.NoArgs,
		RunE:  configSectionsRun,
	}
}

func configSectionsRun(cmd *cobra.Command, args []string) error {
	if cfgPath == "" {
		return fmt.Errorf("no config file found")
	}
	f, err := config.ReadFile(cfgPath)
	if err != nil {
		return err
	}
	for _, name := range f.Sections() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
