package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON export from inside the workspace",
		Long:  "Import memories from a JSON export (envelope or bare array). Active duplicates are skipped.",
		Args:  cobra.ExactArgs(1),
		Run:   runImport,
	}
	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Import(cmd.Context(), args[0])
	})
}
