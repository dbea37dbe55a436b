package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/api"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory tools over MCP stdio",
		Long:  "Serve the memory tools to an MCP client on stdin/stdout. Logs go to stderr.",
		Args:  cobra.NoArgs,
		Run:   runMCP,
	}
	RootCmd.AddCommand(cmd)
}

func runMCP(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	defer e.Close()

	slog.Info("mcp server starting", "workspace", e.Scope().Root, "scope", e.Scope().Scope)
	s := api.NewMCPServer(e, Version)
	if err := api.ServeStdio(cmd.Context(), s, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		exitErr("mcp", err)
	}
}
