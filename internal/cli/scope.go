package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Show the project scope detected for the workspace",
		Args:  cobra.NoArgs,
		Run:   runScope,
	}
	RootCmd.AddCommand(cmd)
}

func runScope(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		s := e.Scope()
		return &engine.Response{
			OK:     true,
			Action: "scope",
			Data:   s,
			Text:   fmt.Sprintf("%s\n  %s: %s\n  root: %s", s.Scope, s.Kind, s.Identifier, s.Root),
		}
	})
}
