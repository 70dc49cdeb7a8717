package main

import (
	"log"
	"os"

	"github.com/aretw0/interplay/internal/cli"
	"github.com/aretw0/interplay/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server over stdio",
	Long: `Starts the runtime as an MCP server so agents can list modules, create and
destroy instances and wire routes as tools. The interactions document is
exposed as the interplay://interactions resource.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		// Ensure logs don't corrupt JSON-RPC on Stdout
		log.SetOutput(os.Stderr)

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		rt, err := cli.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(cmd.Context()); err != nil {
				logger.Error("runtime shutdown failed", "err", err)
			}
		}()

		logger.Info("starting MCP server (stdio)")
		return mcp.NewServer(rt.Orchestrator).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
