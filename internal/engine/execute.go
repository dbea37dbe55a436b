package engine

import (
	"context"

	"github.com/rcliao/memory-engine/internal/command"
)

// Execute parses a "/memory ..." command line and runs it. The response
// carries the action of the dispatched operation.
func (e *Engine) Execute(ctx context.Context, raw string) *Response {
	cmd, err := command.Parse(raw)
	if err != nil {
		return fail("command", err)
	}

	switch cmd.Kind {
	case command.Help:
		return ok("help", map[string]any{"text": command.HelpText, "subcommands": command.Kinds()}, command.HelpText)
	case command.Add:
		return e.Add(ctx, AddRequest{Content: cmd.Content, Scope: cmd.Scope, Category: cmd.Category, Pinned: cmd.Pinned})
	case command.Show:
		return e.Show(ctx)
	case command.List:
		return e.List(ctx, ListRequest{Limit: cmd.Limit, Cursor: cmd.Cursor, Category: cmd.Category, PinnedOnly: cmd.PinnedOnly})
	case command.Search:
		return e.Search(ctx, SearchRequest{Query: cmd.Content, Limit: cmd.Limit, Cursor: cmd.Cursor})
	case command.Delete:
		return e.Delete(ctx, cmd.Target)
	case command.Pin:
		return e.Pin(ctx, cmd.Target, cmd.Enabled)
	case command.Auto:
		return e.Auto(ctx, cmd.Mode)
	case command.Stats:
		return e.Stats(ctx)
	case command.Export:
		return e.Export(ctx, ExportRequest{Format: cmd.Format, All: cmd.All, Path: cmd.Path})
	case command.Refresh:
		return e.Refresh(ctx)
	case command.Sync:
		return e.SyncAgents(ctx)
	case command.Capture:
		return e.CaptureCandidates(ctx, cmd.Content, cmd.Persist)
	}
	return fail("command", &command.ParseError{Token: string(cmd.Kind), Msg: "unsupported subcommand"})
}
