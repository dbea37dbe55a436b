package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a memory by id or unique prefix",
		Args:    cobra.ExactArgs(1),
		Run:     runDelete,
	}
	RootCmd.AddCommand(cmd)
}

func runDelete(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Delete(cmd.Context(), args[0])
	})
}
