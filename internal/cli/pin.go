package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "pin <id> [on|off]",
		Short: "Pin or unpin a memory",
		Long:  "Pin a memory so compaction never merges or evicts it. The state defaults to on.",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runPin,
	}
	RootCmd.AddCommand(cmd)
}

func runPin(cmd *cobra.Command, args []string) {
	enabled := true
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "on":
		case "off":
			enabled = false
		default:
			exitErr("pin", fmt.Errorf("state must be on or off, got %q", args[1]))
			return
		}
	}

	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.Pin(cmd.Context(), args[0], enabled)
	})
}
