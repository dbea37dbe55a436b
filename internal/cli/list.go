package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List project and global memories",
		Args:  cobra.NoArgs,
		Run:   runList,
	}

	cmd.Flags().StringP("category", "c", "", "Filter by category (glob patterns allowed)")
	cmd.Flags().IntP("limit", "l", 0, "Page size (default from config)")
	cmd.Flags().String("cursor", "", "Cursor from a previous page")
	cmd.Flags().Bool("pinned", false, "Only pinned entries")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	cursor, _ := cmd.Flags().GetString("cursor")
	pinned, _ := cmd.Flags().GetBool("pinned")

	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.List(cmd.Context(), engine.ListRequest{
			Limit:      limit,
			Cursor:     cursor,
			Category:   category,
			PinnedOnly: pinned,
		})
	})
}
