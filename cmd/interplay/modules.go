package main

import (
	"fmt"

	"github.com/aretw0/interplay/internal/cli"
	"github.com/aretw0/interplay/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:     "modules",
	Aliases: []string{"mod"},
	Short:   "Inspect the available module types",
}

var modulesListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List built-in and plugin module types",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		reg, report, err := cli.Catalog(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if err := cli.Render(out, cli.ModulesMarkdown(reg.List()), tui.IsTerminal(out)); err != nil {
			return err
		}
		for _, s := range report.Skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", s.Dir, s.Err)
		}
		return nil
	},
}

var modulesShowCmd = &cobra.Command{
	Use:   "show <type>",
	Short: "Show the manifest of a module type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		reg, _, err := cli.Catalog(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		return cli.ShowModule(out, reg, args[0], tui.IsTerminal(out))
	},
}

var modulesValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check every manifest of a plugin directory",
	Long:  `Parses each manifest under dir (default: the configured plugin directory) and reports the ones that would be rejected at load time.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		dir := cfg.PluginDir
		if len(args) > 0 {
			dir = args[0]
		}
		if dir == "" {
			return fmt.Errorf("no plugin directory given")
		}
		return cli.ValidateDir(cmd.Context(), cmd.OutOrStdout(), dir)
	},
}

func init() {
	rootCmd.AddCommand(modulesCmd)
	modulesCmd.AddCommand(modulesListCmd, modulesShowCmd, modulesValidateCmd)
}
