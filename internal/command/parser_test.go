package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseAddScenario(t *testing.T) {
	cmd, err := Parse("/memory add --category preference Use pnpm")
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: Add, Category: "preference", Content: "Use pnpm", Scope: ScopeProject}, cmd)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Command
	}{
		{"empty is help", "", Command{Kind: Help}},
		{"bare prefix is help", "  /memory  ", Command{Kind: Help}},
		{"help", "/memory help", Command{Kind: Help}},
		{"keyword without slash", "memory stats", Command{Kind: Stats}},
		{"no keyword", "refresh", Command{Kind: Refresh}},
		{"case insensitive subcommand", "/memory SYNC", Command{Kind: Sync}},
		{"show", "/memory show", Command{Kind: Show}},
		{
			"add flags after text",
			"/memory add Use pnpm --global --category preference",
			Command{Kind: Add, Content: "Use pnpm", Scope: ScopeGlobal, Category: "preference"},
		},
		{
			"add pinned",
			"/memory add --pinned Use pnpm",
			Command{Kind: Add, Content: "Use pnpm", Scope: ScopeProject, Pinned: true},
		},
		{
			"add interleaved flags",
			"/memory add Use --category workflow pnpm",
			Command{Kind: Add, Content: "Use pnpm", Scope: ScopeProject, Category: "workflow"},
		},
		{
			"add quoted keeps spacing",
			`/memory add "Use  pnpm, --not npm"`,
			Command{Kind: Add, Content: "Use  pnpm, --not npm", Scope: ScopeProject},
		},
		{
			"add sentinel",
			"/memory add --global -- --category is literal",
			Command{Kind: Add, Content: "--category is literal", Scope: ScopeGlobal},
		},
		{
			"add apostrophe inside word",
			"/memory add Don't commit vendor/",
			Command{Kind: Add, Content: "Don't commit vendor/", Scope: ScopeProject},
		},
		{
			"missing subcommand with flag",
			"/memory --global Prefer tabs",
			Command{Kind: Add, Content: "Prefer tabs", Scope: ScopeGlobal},
		},
		{
			"missing subcommand with quote",
			`/memory "Prefer tabs"`,
			Command{Kind: Add, Content: "Prefer tabs", Scope: ScopeProject},
		},
		{
			"inline flag value",
			"/memory add --category=fact Go 1.25",
			Command{Kind: Add, Content: "Go 1.25", Scope: ScopeProject, Category: "fact"},
		},
		{
			"list",
			"/memory list --limit 5 --cursor abc --category 'pref*' --pinned",
			Command{Kind: List, Limit: 5, Cursor: "abc", Category: "pref*", PinnedOnly: true},
		},
		{
			"search flags after query",
			"/memory search pnpm install --limit 3",
			Command{Kind: Search, Content: "pnpm install", Limit: 3},
		},
		{"delete", "/memory delete 01HZX", Command{Kind: Delete, Target: "01HZX"}},
		{"pin on", "/memory pin 01HZX on", Command{Kind: Pin, Target: "01HZX", Enabled: true}},
		{"pin off", "/memory pin 01HZX OFF", Command{Kind: Pin, Target: "01HZX"}},
		{"auto default", "/memory auto", Command{Kind: Auto, Mode: AutoStatus}},
		{"auto on", "/memory auto on", Command{Kind: Auto, Mode: AutoOn}},
		{"export default", "/memory export", Command{Kind: Export, Format: FormatJSON}},
		{
			"export all md path",
			"/memory export --all md notes/memory.md",
			Command{Kind: Export, Format: FormatMarkdown, All: true, Path: "notes/memory.md"},
		},
		{
			"export yaml flag",
			"/memory export --format yaml out.yaml",
			Command{Kind: Export, Format: FormatYAML, Path: "out.yaml"},
		},
		{
			"export path only",
			"/memory export backup.json",
			Command{Kind: Export, Format: FormatJSON, Path: "backup.json"},
		},
		{
			"capture raw transcript",
			"/memory capture --persist user: I prefer tabs\nassistant: ok",
			Command{Kind: Capture, Persist: true, Content: "user: I prefer tabs\nassistant: ok"},
		},
		{
			"capture keeps quotes inside",
			"/memory capture user: don't use 'npm\n",
			Command{Kind: Capture, Content: "user: don't use 'npm"},
		},
		{
			"capture quoted",
			`/memory capture "remember that we use pnpm"`,
			Command{Kind: Capture, Content: "remember that we use pnpm"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		token string
		pos   int
	}{
		{"unknown subcommand", "/memory frobnicate now", "frobnicate", 8},
		{"unterminated quote", `/memory add "Use pnpm`, `"Use pnpm`, 12},
		{"unknown flag", "/memory add --colour red x", "--colour", 12},
		{"flag not valid here", "/memory search x --global", "--global", 17},
		{"missing value", "/memory list --limit", "--limit", 13},
		{"value looks like flag", "/memory list --limit --pinned", "--limit", 13},
		{"bad limit", "/memory list --limit 0", "0", 13},
		{"empty add", "/memory add --global", "", 20},
		{"empty search", "/memory search", "", 14},
		{"pin bad state", "/memory pin abc maybe", "maybe", 16},
		{"pin missing state", "/memory pin abc", "", 15},
		{"auto bad mode", "/memory auto sometimes", "sometimes", 13},
		{"extra argument", "/memory stats now", "now", 14},
		{"bool flag with value", "/memory export --all=yes", "--all=yes", 15},
		{"bad scope", "/memory add --scope team x", "team", 12},
		{"empty capture", "/memory capture --persist", "", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "expected ParseError, got %v", err)
			assert.Equal(t, tt.token, perr.Token)
			assert.Equal(t, tt.pos, perr.Pos)
		})
	}
}

func TestHelpListsEverySubcommand(t *testing.T) {
	kinds := Kinds()
	for name := range subcommands {
		assert.Contains(t, kinds, name)
	}
}

func TestParseDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := rapid.String().Draw(rt, "input")
		a, errA := Parse(in)
		b, errB := Parse(in)
		if (errA == nil) != (errB == nil) {
			rt.Fatalf("error mismatch: %v vs %v", errA, errB)
		}
		if errA != nil {
			if errA.Error() != errB.Error() {
				rt.Fatalf("different errors: %v vs %v", errA, errB)
			}
			var perr *ParseError
			if !errors.As(errA, &perr) {
				rt.Fatalf("non-ParseError: %v", errA)
			}
			if perr.Pos < 0 || perr.Pos > len(in) {
				rt.Fatalf("position %d out of range for %q", perr.Pos, in)
			}
			return
		}
		if a != b {
			rt.Fatalf("different results: %+v vs %+v", a, b)
		}
	})
}

func TestParseAddRoundTrip(t *testing.T) {
	word := rapid.StringMatching(`[a-zA-Z0-9][a-zA-Z0-9.,!?]{0,8}`)
	rapid.Check(t, func(rt *rapid.T) {
		words := rapid.SliceOfN(word, 1, 8).Draw(rt, "words")
		category := rapid.SampledFrom([]string{"preference", "workflow", "fact"}).Draw(rt, "category")
		global := rapid.Bool().Draw(rt, "global")

		line := "/memory add --category " + category + " "
		if global {
			line += "--global "
		}
		line += strings.Join(words, " ")

		cmd, err := Parse(line)
		if err != nil {
			rt.Fatalf("parse %q: %v", line, err)
		}
		if cmd.Kind != Add || cmd.Category != category || cmd.Content != strings.Join(words, " ") {
			rt.Fatalf("unexpected command %+v for %q", cmd, line)
		}
		if global != (cmd.Scope == ScopeGlobal) {
			rt.Fatalf("scope %q, global=%v", cmd.Scope, global)
		}
	})
}
