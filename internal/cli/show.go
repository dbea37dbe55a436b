package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Preview the memory block injected into the agent context",
		Args:  cobra.NoArgs,
		Run:   runShow,
	}
	RootCmd.AddCommand(cmd)
}

func runShow(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Show(cmd.Context())
	})
}
