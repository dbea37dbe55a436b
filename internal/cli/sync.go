package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Write the memory block into the workspace AGENTS.md",
		Args:  cobra.NoArgs,
		Run:   runSync,
	}
	RootCmd.AddCommand(cmd)
}

func runSync(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.SyncAgents(cmd.Context())
	})
}
