// Package command parses "/memory ..." command lines into typed commands.
package command

import (
	"fmt"
	"strings"
)

// Kind names a subcommand.
type Kind string

const (
	Help    Kind = "help"
	Add     Kind = "add"
	Show    Kind = "show"
	List    Kind = "list"
	Search  Kind = "search"
	Delete  Kind = "delete"
	Pin     Kind = "pin"
	Auto    Kind = "auto"
	Stats   Kind = "stats"
	Export  Kind = "export"
	Refresh Kind = "refresh"
	Sync    Kind = "sync"
	Capture Kind = "capture"
)

// Scope targets for add.
const (
	ScopeProject = "project"
	ScopeGlobal  = "global"
)

// Export formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "md"
	FormatYAML     = "yaml"
)

// Auto-capture modes.
const (
	AutoOn     = "on"
	AutoOff    = "off"
	AutoStatus = "status"
)

// Command is a parsed command line. Only the fields relevant to Kind are set.
type Command struct {
	Kind Kind `json:"kind"`

	// Content is the entry text for add, the query for search and the
	// transcript for capture.
	Content  string `json:"content,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Category string `json:"category,omitempty"`
	Pinned   bool   `json:"pinned,omitempty"`

	Target  string `json:"target,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
	Mode    string `json:"mode,omitempty"`

	Limit      int    `json:"limit,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	PinnedOnly bool   `json:"pinned_only,omitempty"`

	Format string `json:"format,omitempty"`
	All    bool   `json:"all,omitempty"`
	Path   string `json:"path,omitempty"`

	Persist bool `json:"persist,omitempty"`
}

// ParseError reports the offending token and its byte offset in the input.
type ParseError struct {
	Token string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s (at position %d)", e.Msg, e.Pos)
	}
	return fmt.Sprintf("%s: %q at position %d", e.Msg, e.Token, e.Pos)
}

// HelpText lists the command grammar.
const HelpText = `Persistent memory commands:

/memory add [--global|--project] [--category <category>] [--pinned] <text>
/memory show
/memory list [--limit <n>] [--cursor <token>] [--category <pattern>] [--pinned]
/memory search <query> [--limit <n>] [--cursor <token>]
/memory delete <id-or-prefix>
/memory pin <id-or-prefix> on|off
/memory auto [on|off|status]
/memory stats
/memory export [--all] [json|md|yaml] [path]
/memory refresh
/memory sync
/memory capture [--persist] <transcript>
/memory help
`

var usage = map[Kind]string{
	Add:     "usage: /memory add [--global|--project] [--category <category>] [--pinned] <text>",
	Search:  "usage: /memory search <query> [--limit <n>] [--cursor <token>]",
	Delete:  "usage: /memory delete <id-or-prefix>",
	Pin:     "usage: /memory pin <id-or-prefix> on|off",
	Auto:    "usage: /memory auto [on|off|status]",
	Capture: "usage: /memory capture [--persist] <transcript>",
}

var subcommands = map[string]Kind{}

func init() {
	for _, k := range []Kind{Help, Add, Show, List, Search, Delete, Pin, Auto, Stats, Export, Refresh, Sync, Capture} {
		subcommands[string(k)] = k
	}
}

// Kinds returns every subcommand name in help order.
func Kinds() []string {
	out := make([]string, 0, len(subcommands))
	for _, line := range strings.Split(HelpText, "\n") {
		if f := strings.Fields(line); len(f) > 1 && f[0] == "/memory" {
			out = append(out, f[1])
		}
	}
	return out
}
