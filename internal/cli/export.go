package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories to a file inside the workspace",
		Args:  cobra.NoArgs,
		Run:   runExport,
	}

	cmd.Flags().StringP("format", "f", "json", "Output format: json, md or yaml")
	cmd.Flags().Bool("all", false, "Every scope, not just project and global")
	cmd.Flags().StringP("output", "o", "", "Relative output path (default codex-memory-export-<time>.<ext>)")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("format")
	all, _ := cmd.Flags().GetBool("all")
	output, _ := cmd.Flags().GetString("output")

	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Export(cmd.Context(), engine.ExportRequest{Format: format, All: all, Path: output})
	})
}
