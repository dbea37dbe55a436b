package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memory-engine/internal/agentsync"
	"github.com/rcliao/memory-engine/internal/command"
	"github.com/rcliao/memory-engine/internal/compaction"
	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/render"
	"github.com/rcliao/memory-engine/internal/store"
	"github.com/rcliao/memory-engine/internal/workspace"
)

// refreshWorkers bounds concurrent per-scope compactions.
const refreshWorkers = 4

// ScopeCompaction reports one scope's compaction during Refresh.
type ScopeCompaction struct {
	Scope        string   `json:"scope"`
	Mode         string   `json:"mode"`
	UsedFallback bool     `json:"used_fallback"`
	InputCount   int      `json:"input_count"`
	KeptCount    int      `json:"kept_count"`
	RemovedIDs   []string `json:"removed_ids"`
	Archived     []string `json:"archived,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// RefreshData is the Refresh payload.
type RefreshData struct {
	Maintenance *store.RefreshResult `json:"maintenance"`
	Scopes      []ScopeCompaction    `json:"scopes"`
}

// Refresh runs store maintenance and then compacts every active scope,
// scopes in parallel. A scope whose plan went stale is reported and skipped.
func (e *Engine) Refresh(ctx context.Context) *Response {
	const action = "refresh"
	cfg := e.Config()

	sctx, cancel := e.storeCtx(ctx)
	maint, err := e.store.Refresh(sctx, cfg.Retention.EventDays)
	cancel()
	if err != nil {
		return fail(action, err)
	}

	sctx, cancel = e.storeCtx(ctx)
	scopes, err := e.store.ActiveScopes(sctx)
	cancel()
	if err != nil {
		return fail(action, err)
	}

	results := make([]ScopeCompaction, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshWorkers)
	for i, scope := range scopes {
		g.Go(func() error {
			r, err := e.compactScope(gctx, scope)
			if errors.Is(err, store.ErrStalePlan) {
				slog.Warn("compaction plan went stale, scope skipped", "scope", scope, "error", err)
				r.Error = err.Error()
				err = nil
			}
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fail(action, err)
	}

	data := RefreshData{Maintenance: maint, Scopes: results}
	lines := []string{fmt.Sprintf("Refreshed: index rebuilt, %d old events pruned.", maint.PrunedEvents)}
	for _, r := range results {
		line := fmt.Sprintf("- %s: %s, %d -> %d entries", render.ScopeLabel(r.Scope, e.scope.Scope), r.Mode, r.InputCount, r.KeptCount)
		if r.UsedFallback {
			line += " (fallback: " + r.Reason + ")"
		}
		if r.Error != "" {
			line += " [" + r.Error + "]"
		}
		lines = append(lines, line)
	}
	return ok(action, data, strings.Join(lines, "\n"))
}

func (e *Engine) compactScope(ctx context.Context, scope string) (ScopeCompaction, error) {
	out := ScopeCompaction{Scope: scope}

	sctx, cancel := e.storeCtx(ctx)
	entries, err := e.store.ExportAll(sctx, []string{scope})
	cancel()
	if err != nil {
		return out, err
	}

	res := e.compactor.Compact(ctx, entries, compaction.OptionsFromConfig(e.Config(), scope))
	if res.UsedFallback {
		slog.Warn("compaction provider failed, used deterministic result", "scope", scope, "reason", res.Reason)
	}

	out.Mode = string(res.Mode)
	out.UsedFallback = res.UsedFallback
	out.InputCount = res.InputCount
	out.KeptCount = len(res.Kept)
	out.RemovedIDs = res.RemovedIDs
	out.Archived = res.Evicted
	out.Reason = res.Reason
	if out.RemovedIDs == nil {
		out.RemovedIDs = []string{}
	}

	plan := res.Plan(scope)
	if details, err := json.Marshal(res.Merges); err == nil && len(res.Merges) > 0 {
		plan.Log.Details = string(details)
	}

	sctx, cancel = e.storeCtx(ctx)
	defer cancel()
	if res.Changed() {
		err = e.store.ApplyCompaction(sctx, plan)
	} else {
		err = e.store.RecordCompaction(sctx, plan.Log)
	}
	if err != nil {
		return out, fmt.Errorf("compact %s: %w", scope, err)
	}
	return out, nil
}

// SyncAgents renders the injection view into the workspace's AGENTS.md.
func (e *Engine) SyncAgents(ctx context.Context) *Response {
	const action = "sync"
	doc, err := e.guard.Resolve(agentsync.DocumentName)
	if err != nil {
		return fail(action, err)
	}
	entries, err := e.injectionView(ctx)
	if err != nil {
		return fail(action, err)
	}

	inj := e.Config().Injection
	res, err := e.syncer.Sync(ctx, agentsync.View{
		Entries:      entries,
		ProjectScope: e.scope.Scope,
		MaxItems:     inj.MaxItems,
		MaxChars:     inj.MaxChars,
	}, doc)
	if err != nil {
		return fail(action, err)
	}
	if res.Changed {
		slog.Info("synced memory block", "path", res.Path, "action", res.Action, "entries", res.Entries)
	}

	text := fmt.Sprintf("%s: %s (%d entries).", res.Path, res.Action, res.Entries)
	return ok(action, res, text)
}

// ExportRequest is the input of Export.
type ExportRequest struct {
	Format string // json (default), md or yaml
	All    bool   // every scope instead of project + global
	Path   string // relative to the workspace
}

type exportEnvelope struct {
	SchemaVersion    int            `json:"schema_version" yaml:"schema_version"`
	GeneratedAt      time.Time      `json:"generated_at" yaml:"generated_at"`
	WorkspaceRoot    string         `json:"workspace_root" yaml:"workspace_root"`
	ProjectScope     string         `json:"project_scope" yaml:"project_scope"`
	IncludeAllScopes bool           `json:"include_all_scopes" yaml:"include_all_scopes"`
	StatsSnapshot    *store.Stats   `json:"stats_snapshot" yaml:"stats_snapshot"`
	Entries          []model.Memory `json:"entries" yaml:"entries"`
}

// Export writes entries to a file inside the workspace.
func (e *Engine) Export(ctx context.Context, req ExportRequest) *Response {
	const action = "export"
	format := strings.ToLower(strings.TrimSpace(req.Format))
	switch format {
	case "":
		format = command.FormatJSON
	case "markdown":
		format = command.FormatMarkdown
	case "yml":
		format = command.FormatYAML
	case command.FormatJSON, command.FormatMarkdown, command.FormatYAML:
	default:
		return fail(action, invalid("format", "must be json, md or yaml (got %q)", req.Format))
	}

	now := e.now().UTC()
	name := req.Path
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("codex-memory-export-%s.%s", now.Format("20060102T150405Z"), format)
	}
	path, err := e.guard.ResolveRelative(name)
	if err != nil {
		return fail(action, err)
	}

	var scopes []string
	if !req.All {
		scopes = e.scopes()
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	entries, err := e.store.ExportAll(sctx, scopes)
	if err != nil {
		return fail(action, err)
	}
	st, err := e.store.Stats(sctx, scopes)
	if err != nil {
		return fail(action, err)
	}

	env := exportEnvelope{
		SchemaVersion:    1,
		GeneratedAt:      now,
		WorkspaceRoot:    e.guard.Root(),
		ProjectScope:     e.scope.Scope,
		IncludeAllScopes: req.All,
		StatsSnapshot:    st,
		Entries:          entries,
	}
	var payload []byte
	switch format {
	case command.FormatJSON:
		payload, err = json.MarshalIndent(env, "", "  ")
	case command.FormatYAML:
		payload, err = yaml.Marshal(env)
	default:
		payload = []byte(render.ExportMarkdown(entries, now))
	}
	if err != nil {
		return fail(action, fmt.Errorf("encode export: %w", err))
	}

	if err := workspace.WriteFile(path, payload); err != nil {
		return fail(action, fmt.Errorf("write export: %w", err))
	}

	data := map[string]any{"count": len(entries), "format": format, "path": path}
	return ok(action, data, fmt.Sprintf("Exported %d memories to %s.", len(entries), path))
}

// Import loads a JSON export (envelope or bare entry array) from a file
// inside the workspace.
func (e *Engine) Import(ctx context.Context, path string) *Response {
	const action = "import"
	resolved, err := e.guard.Resolve(path)
	if err != nil {
		return fail(action, err)
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return fail(action, fmt.Errorf("read import: %w", err))
	}

	var entries []model.Memory
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(raw, &entries)
	} else {
		var env exportEnvelope
		err = json.Unmarshal(raw, &env)
		entries = env.Entries
	}
	if err != nil {
		return fail(action, invalid("import", "not a memory export: %v", err))
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	res, err := e.store.Import(sctx, entries)
	if err != nil {
		return fail(action, err)
	}
	text := fmt.Sprintf("Imported %d, deduped %d, skipped %d.", res.Imported, res.Deduped, res.Skipped)
	return ok(action, res, text)
}
