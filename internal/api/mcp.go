package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rcliao/memory-engine/internal/engine"
)

// ServerName is advertised to MCP clients.
const ServerName = "memory-engine"

// NewMCPServer creates an MCP server with every memory tool registered.
func NewMCPServer(e *engine.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("Persistent memory for the coding agent: durable preferences, workflows and project facts, scoped per project and global."),
		server.WithRecovery(),
	)

	cwd := mcp.WithString("cwd", mcp.Description("Caller working directory; must lie inside the workspace"))

	s.AddTool(
		mcp.NewTool("memory_add",
			mcp.WithDescription("Remember a durable fact, preference or convention."),
			mcp.WithString("content", mcp.Description("Text to remember"), mcp.Required()),
			mcp.WithString("scope", mcp.Description("project (default) or global"), mcp.Enum("project", "global")),
			mcp.WithString("category", mcp.Description("preference, workflow, constraint, fact, decision, convention or other")),
			mcp.WithBoolean("pinned", mcp.Description("Pin the entry so compaction never touches it")),
			cwd,
		),
		mcpAdd(e),
	)

	s.AddTool(
		mcp.NewTool("memory_list",
			mcp.WithDescription("List project and global memories, pinned first."),
			mcp.WithNumber("limit", mcp.Description("Page size (default from config, max 200)")),
			mcp.WithString("cursor", mcp.Description("Cursor from a previous page")),
			mcp.WithString("category", mcp.Description("Category or glob pattern filter")),
			mcp.WithBoolean("pinned", mcp.Description("Only pinned entries")),
			cwd,
		),
		mcpList(e),
	)

	s.AddTool(
		mcp.NewTool("memory_search",
			mcp.WithDescription("Rank project and global memories against a query."),
			mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Page size (default from config, max 200)")),
			mcp.WithString("cursor", mcp.Description("Cursor from a previous page")),
			cwd,
		),
		mcpSearch(e),
	)

	s.AddTool(
		mcp.NewTool("memory_delete",
			mcp.WithDescription("Delete a memory by id or unique id prefix."),
			mcp.WithString("id", mcp.Description("Entry id or prefix"), mcp.Required()),
			cwd,
		),
		mcpDelete(e),
	)

	s.AddTool(
		mcp.NewTool("memory_pin",
			mcp.WithDescription("Pin or unpin a memory."),
			mcp.WithString("id", mcp.Description("Entry id or prefix"), mcp.Required()),
			mcp.WithBoolean("enabled", mcp.Description("true to pin (default), false to unpin")),
			cwd,
		),
		mcpPin(e),
	)

	s.AddTool(
		mcp.NewTool("memory_auto",
			mcp.WithDescription("Report or toggle auto-capture."),
			mcp.WithString("mode", mcp.Description("on, off or status (default)"), mcp.Enum("on", "off", "status")),
			cwd,
		),
		mcpAuto(e),
	)

	s.AddTool(
		mcp.NewTool("memory_stats",
			mcp.WithDescription("Counts by scope and category, plus the last compaction."),
			cwd,
		),
		mcpStats(e),
	)

	s.AddTool(
		mcp.NewTool("memory_export",
			mcp.WithDescription("Export memories to a file inside the workspace."),
			mcp.WithString("format", mcp.Description("json (default), md or yaml"), mcp.Enum("json", "md", "yaml")),
			mcp.WithBoolean("all", mcp.Description("Every scope instead of project and global")),
			mcp.WithString("path", mcp.Description("Relative output path")),
			cwd,
		),
		mcpExport(e),
	)

	s.AddTool(
		mcp.NewTool("memory_refresh",
			mcp.WithDescription("Rebuild the index, prune old events and compact every scope."),
			cwd,
		),
		mcpRefresh(e),
	)

	s.AddTool(
		mcp.NewTool("memory_sync_agents",
			mcp.WithDescription("Write the managed memory block into the workspace AGENTS.md."),
			cwd,
		),
		mcpSyncAgents(e),
	)

	s.AddTool(
		mcp.NewTool("memory_capture_candidates",
			mcp.WithDescription("Propose memories from a conversation transcript."),
			mcp.WithString("transcript", mcp.Description("Plain text or a JSON array of {role, content} messages"), mcp.Required()),
			mcp.WithBoolean("persist", mcp.Description("Store the candidates when auto-capture is on")),
			cwd,
		),
		mcpCaptureCandidates(e),
	)

	s.AddTool(
		mcp.NewTool("memory_command",
			mcp.WithDescription("Run a raw /memory command line."),
			mcp.WithString("command", mcp.Description(`For example "/memory search pnpm"`), mcp.Required()),
			cwd,
		),
		mcpCommand(e),
	)

	return s
}

// ServeStdio runs the server on stdin/stdout until ctx is cancelled.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s)
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// guarded rejects a cwd outside the workspace before running fn.
func guarded(e *engine.Engine, action string, fn func(ctx context.Context, req mcp.CallToolRequest) *engine.Response) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := e.CheckPath(req.GetString("cwd", "")); err != nil {
			return envelope(engine.Failure(action, err)), nil
		}
		return envelope(fn(ctx, req)), nil
	}
}

func missing(action, field string) *engine.Response {
	return &engine.Response{Action: action, Error: field + " is required", Kind: engine.KindValidation,
		Details: map[string]any{"field": field}}
}

func mcpAdd(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "add", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		content, err := req.RequireString("content")
		if err != nil {
			return missing("add", "content")
		}
		return e.Add(ctx, engine.AddRequest{
			Content:  content,
			Scope:    req.GetString("scope", ""),
			Category: req.GetString("category", ""),
			Pinned:   req.GetBool("pinned", false),
		})
	})
}

func mcpList(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "list", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		return e.List(ctx, engine.ListRequest{
			Limit:      req.GetInt("limit", 0),
			Cursor:     req.GetString("cursor", ""),
			Category:   req.GetString("category", ""),
			PinnedOnly: req.GetBool("pinned", false),
		})
	})
}

func mcpSearch(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "search", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		query, err := req.RequireString("query")
		if err != nil {
			return missing("search", "query")
		}
		return e.Search(ctx, engine.SearchRequest{
			Query:  query,
			Limit:  req.GetInt("limit", 0),
			Cursor: req.GetString("cursor", ""),
		})
	})
}

func mcpDelete(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "delete", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		id, err := req.RequireString("id")
		if err != nil {
			return missing("delete", "id")
		}
		return e.Delete(ctx, id)
	})
}

func mcpPin(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "pin", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		id, err := req.RequireString("id")
		if err != nil {
			return missing("pin", "id")
		}
		return e.Pin(ctx, id, req.GetBool("enabled", true))
	})
}

func mcpAuto(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "auto", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		return e.Auto(ctx, req.GetString("mode", ""))
	})
}

func mcpStats(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "stats", func(ctx context.Context, _ mcp.CallToolRequest) *engine.Response {
		return e.Stats(ctx)
	})
}

func mcpExport(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "export", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		return e.Export(ctx, engine.ExportRequest{
			Format: req.GetString("format", ""),
			All:    req.GetBool("all", false),
			Path:   req.GetString("path", ""),
		})
	})
}

func mcpRefresh(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "refresh", func(ctx context.Context, _ mcp.CallToolRequest) *engine.Response {
		return e.Refresh(ctx)
	})
}

func mcpSyncAgents(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "sync", func(ctx context.Context, _ mcp.CallToolRequest) *engine.Response {
		return e.SyncAgents(ctx)
	})
}

func mcpCaptureCandidates(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "capture_candidates", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		transcript, err := req.RequireString("transcript")
		if err != nil {
			return missing("capture_candidates", "transcript")
		}
		return e.CaptureCandidates(ctx, transcript, req.GetBool("persist", false))
	})
}

func mcpCommand(e *engine.Engine) server.ToolHandlerFunc {
	return guarded(e, "command", func(ctx context.Context, req mcp.CallToolRequest) *engine.Response {
		raw, err := req.RequireString("command")
		if err != nil {
			return missing("command", "command")
		}
		return e.Execute(ctx, raw)
	})
}

// envelope renders a response as the tool's text content.
func envelope(r *engine.Response) *mcp.CallToolResult {
	b, err := json.Marshal(r)
	if err != nil {
		slog.Error("encode tool response", "action", r.Action, "error", err)
		return mcpError(`{"ok":false,"action":"` + r.Action + `","error":"encode response","error_kind":"storage_error"}`)
	}
	if !r.OK {
		return mcpError(string(b))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
