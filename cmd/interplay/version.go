package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/interplay"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of interplay",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "interplay version %s\n", strings.TrimSpace(interplay.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
