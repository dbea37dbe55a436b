package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Remember something",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runAdd,
	}

	cmd.Flags().StringP("category", "c", "", "preference, workflow, constraint, fact, decision, convention or other")
	cmd.Flags().BoolP("global", "g", false, "Store in the global scope instead of the project")
	cmd.Flags().BoolP("pinned", "p", false, "Pin the entry")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	global, _ := cmd.Flags().GetBool("global")
	pinned, _ := cmd.Flags().GetBool("pinned")

	req := engine.AddRequest{
		Content:  readInput(args, cmd.InOrStdin()),
		Category: category,
		Pinned:   pinned,
	}
	if global {
		req.Scope = "global"
	}

	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Add(cmd.Context(), req)
	})
}
