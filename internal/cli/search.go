package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Page size (default from config)")
	cmd.Flags().String("cursor", "", "Cursor from a previous page")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	cursor, _ := cmd.Flags().GetString("cursor")

	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Search(cmd.Context(), engine.SearchRequest{
			Query:  strings.Join(args, " "),
			Limit:  limit,
			Cursor: cursor,
		})
	})
}
