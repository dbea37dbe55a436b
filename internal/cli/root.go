// Package cli implements the memory-engine CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rcliao/memory-engine/internal/engine"
)

// Version is stamped at build time.
var Version = "dev"

// exit is swapped out by tests.
var exit = os.Exit

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memory-engine",
	Short: "Persistent memory for coding agents",
	Long: `Persistent, scoped memory for a coding agent: project and global entries
in one SQLite file, compaction, transcript capture and an AGENTS.md sync block.

Every command prints the JSON envelope {"ok","action","data","error"};
--human prints the rendered text instead.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().String("home", "", "State directory (default: $MEMORY_ENGINE_HOME or ~/.memory-engine)")
	RootCmd.PersistentFlags().StringP("workspace", "w", "", "Workspace root (default: $MEMORY_ENGINE_WORKSPACE or the current directory)")
	RootCmd.PersistentFlags().Bool("human", false, "Print rendered text instead of JSON")
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging on stderr")

	for _, name := range []string{"home", "workspace", "human", "verbose"} {
		_ = viper.BindPFlag(name, RootCmd.PersistentFlags().Lookup(name))
	}
}

func initConfig() {
	viper.SetEnvPrefix("MEMORY_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

func homeDir() string {
	if h := viper.GetString("home"); h != "" {
		return h
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memory-engine")
}

func workspaceDir() (string, error) {
	if w := viper.GetString("workspace"); w != "" {
		return w, nil
	}
	return os.Getwd()
}

func openEngine(cmd *cobra.Command) *engine.Engine {
	ws, err := workspaceDir()
	if err != nil {
		exitErr("resolve workspace", err)
	}
	e, err := engine.New(cmd.Context(), engine.Options{Home: homeDir(), Workspace: ws})
	if err != nil {
		exitErr("open engine", err)
	}
	return e
}

// respond prints r and exits 1 when it failed.
func respond(cmd *cobra.Command, r *engine.Response) {
	out := cmd.OutOrStdout()
	if viper.GetBool("human") {
		if r.OK {
			fmt.Fprintln(out, r.Text)
		}
	} else {
		b, _ := json.MarshalIndent(r, "", "  ")
		fmt.Fprintln(out, string(b))
	}
	if !r.OK {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", r.Error)
		exit(1)
	}
}

// withEngine opens the engine, runs fn and prints its response.
func withEngine(cmd *cobra.Command, fn func(e *engine.Engine) *engine.Response) {
	e := openEngine(cmd)
	r := fn(e)
	if err := e.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
	respond(cmd, r)
}

// readInput returns the joined args, or stdin when it is piped.
func readInput(args []string, stdin io.Reader) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	if f, ok := stdin.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return ""
		}
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return string(b)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	exit(1)
}
