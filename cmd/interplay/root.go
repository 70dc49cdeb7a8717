package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/interplay/internal/cli"
	"github.com/aretw0/interplay/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "interplay",
	Short: "Interplay runs interactive installations built from wired modules",
	Long: `Interplay hosts module instances (inputs such as clocks or HTTP endpoints,
outputs such as logs or webhooks) and routes their events to each other.
Everything created at runtime is persisted and restored on the next start.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (yaml, json or toml); INTERPLAY_* variables override it")
	rootCmd.PersistentFlags().Bool("debug", false, "Log at debug level")
	rootCmd.PersistentFlags().String("backend", "", "State backend: memory, file, sqlite or redis")
	rootCmd.PersistentFlags().String("plugins", "", "Directory scanned for module manifests")
}

// setup resolves the configuration and the logger shared by every command.
// Flags win over the config file and the environment.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Resolve(path)
	if err != nil {
		return cfg, nil, err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend, _ = cmd.Flags().GetString("backend")
	}
	if cmd.Flags().Changed("plugins") {
		cfg.PluginDir, _ = cmd.Flags().GetString("plugins")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	debug, _ := cmd.Flags().GetBool("debug")
	logger, err := cli.NewLogger(cfg, debug)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}
