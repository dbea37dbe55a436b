package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the index, prune old events and compact every scope",
		Args:  cobra.NoArgs,
		Run:   runRefresh,
	}
	RootCmd.AddCommand(cmd)
}

func runRefresh(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Refresh(cmd.Context())
	})
}
