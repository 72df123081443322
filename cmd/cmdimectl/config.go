package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"cmdime/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the runtime configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file if none exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.ConfigPath()
		}
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintln(cmd.OutOrStdout(), "Created", path)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Already exists:", path)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
