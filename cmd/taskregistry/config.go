package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskregistry/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration (json, yaml or toml by extension)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(config.Dir, "config.yaml")
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}
