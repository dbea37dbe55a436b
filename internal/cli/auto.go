package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:       "auto [on|off|status]",
		Short:     "Report or toggle auto-capture",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off", "status"},
		Run:       runAuto,
	}
	RootCmd.AddCommand(cmd)
}

func runAuto(cmd *cobra.Command, args []string) {
	mode := ""
	if len(args) == 1 {
		mode = args[0]
	}
	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Auto(cmd.Context(), mode)
	})
}
