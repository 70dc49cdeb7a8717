package main

import (
	"github.com/aretw0/interplay/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the runtime and its HTTP control API",
	Long: `Restores the persisted state, starts every enabled instance and serves the
control API (instances, routes, interactions, modules, /events and /metrics)
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.HTTPAddr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("watch") {
			cfg.Watch, _ = cmd.Flags().GetBool("watch")
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		out := cmd.OutOrStdout()
		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			out = nil
		}
		if err := cli.Serve(ctx, cfg, logger, out); err != nil {
			return err
		}
		if sig := ctx.Signal(); sig != nil {
			logger.Info("stopped by signal", "signal", sig.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (default from config)")
	serveCmd.Flags().BoolP("watch", "w", false, "Reload module manifests when they change on disk")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner and status changes")
}
