package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-engine/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "capture [transcript]",
		Short: "Propose memories from a conversation transcript",
		Long: `Propose memories from a transcript: plain "role: text" lines or a JSON
array of {role, content} messages. Reads --file, the args, or piped stdin.
With --persist and auto-capture on, candidates are stored.`,
		Run: runCapture,
	}

	cmd.Flags().String("file", "", "Read the transcript from a file")
	cmd.Flags().Bool("persist", false, "Store candidates when auto-capture is on")

	RootCmd.AddCommand(cmd)
}

func runCapture(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")
	persist, _ := cmd.Flags().GetBool("persist")

	var transcript string
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			exitErr("read transcript", err)
			return
		}
		transcript = string(b)
	} else {
		transcript = readInput(args, cmd.InOrStdin())
	}

	withEngine(cmd, func(e *engine.Engine) *engine.Response {
		return e.CaptureCandidates(cmd.Context(), transcript, persist)
	})
}
