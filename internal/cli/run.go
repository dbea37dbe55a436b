package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run <command line>",
		Short: "Run a raw /memory command line",
		Long: `Run a command in the chat grammar, for example:

  memory-engine run '/memory add --category workflow use pnpm'
  memory-engine run -- memory list --pinned`,
		Args: cobra.MinimumNArgs(1),
		Run:  runRun,
	}
	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) {
	raw := strings.Join(args, " ")
	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Execute(cmd.Context(), raw)
	})
}
