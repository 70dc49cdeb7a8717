package main

import (
	"fmt"

	"github.com/aretw0/interplay/internal/cli"
	"github.com/aretw0/interplay/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the persisted state",
}

var stateInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print interactions, instances and routes without starting them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		backend, release, err := cli.OpenBackend(cfg)
		if err != nil {
			return err
		}
		defer release()
		if show, _ := cmd.Flags().GetBool("show-secrets"); !show {
			backend = cli.Redacted(backend)
		}

		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		return cli.InspectState(cmd.Context(), out, backend, format, tui.IsTerminal(out))
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the persisted state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to delete the %s state without --yes", cfg.Backend)
		}
		backend, release, err := cli.OpenBackend(cfg)
		if err != nil {
			return err
		}
		defer release()
		return cli.ResetState(cmd.Context(), cmd.OutOrStdout(), backend)
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateInspectCmd, stateResetCmd)

	stateInspectCmd.Flags().StringP("format", "f", cli.FormatTable, "Output format: table, json or mermaid")
	stateInspectCmd.Flags().Bool("show-secrets", false, "Print passwords, tokens and keys found in instance configs")
	stateResetCmd.Flags().BoolP("yes", "y", false, "Confirm the deletion")
}
