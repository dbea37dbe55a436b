package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/memory-engine/internal/command"
	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/render"
	"github.com/rcliao/memory-engine/internal/store"
	"github.com/rcliao/memory-engine/internal/workspace"
)

// AddRequest is the input of Add.
type AddRequest struct {
	Content  string
	Scope    string // "project" (default) or "global"
	Category string
	Pinned   bool
}

// ListRequest is the input of List.
type ListRequest struct {
	Limit      int
	Cursor     string
	Category   string
	PinnedOnly bool
}

// SearchRequest is the input of Search.
type SearchRequest struct {
	Query  string
	Limit  int
	Cursor string
}

// ListData is one page of entries.
type ListData struct {
	Items      []model.Memory `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// SearchData is one page of ranked matches.
type SearchData struct {
	Query      string               `json:"query"`
	Items      []store.SearchResult `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
	HasMore    bool                 `json:"has_more"`
}

func (e *Engine) resolveScope(target string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", command.ScopeProject:
		return e.scope.Scope, nil
	case command.ScopeGlobal:
		return workspace.GlobalScope, nil
	}
	return "", invalid("scope", "must be %q or %q (got %q)", command.ScopeProject, command.ScopeGlobal, target)
}

// Add stores a manual entry, or reports the active duplicate.
func (e *Engine) Add(ctx context.Context, req AddRequest) *Response {
	const action = "add"
	scope, err := e.resolveScope(req.Scope)
	if err != nil {
		return fail(action, err)
	}

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	res, err := e.store.Add(ctx, store.AddParams{
		Scope:    scope,
		Category: model.Category(req.Category),
		Content:  req.Content,
		Origin:   model.OriginManual,
		Pinned:   req.Pinned,
	})
	if err != nil {
		return fail(action, err)
	}

	m := res.Memory
	text := fmt.Sprintf("Saved memory %s (%s/%s).", m.ID, render.ScopeLabel(m.Scope, e.scope.Scope), m.Category)
	if res.Outcome == store.Deduped {
		text = fmt.Sprintf("Already remembered as %s.", m.ID)
	}
	return ok(action, res, text)
}

// List pages through project and global entries, pinned first.
func (e *Engine) List(ctx context.Context, req ListRequest) *Response {
	const action = "list"
	offset, err := DecodeCursor(req.Cursor)
	if err != nil {
		return fail(action, err)
	}
	limit := clampLimit(req.Limit, e.Config().ListLimit)

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	page, err := e.store.List(ctx, store.ListParams{
		Scopes:     e.scopes(),
		Category:   req.Category,
		PinnedOnly: req.PinnedOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return fail(action, err)
	}

	data := ListData{
		Items:      page.Items,
		HasMore:    page.HasMore,
		NextCursor: nextCursor(offset, len(page.Items), page.HasMore),
	}
	text := render.Rows(page.Items, e.scope.Scope)
	if data.NextCursor != "" {
		text += "\n\nMore: --cursor " + data.NextCursor
	}
	return ok(action, data, text)
}

// Search ranks project and global entries against a query.
func (e *Engine) Search(ctx context.Context, req SearchRequest) *Response {
	const action = "search"
	if strings.TrimSpace(req.Query) == "" {
		return fail(action, invalid("query", "must not be empty"))
	}
	offset, err := DecodeCursor(req.Cursor)
	if err != nil {
		return fail(action, err)
	}
	cfg := e.Config()
	limit := clampLimit(req.Limit, cfg.SearchLimit)

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	results, hasMore, err := e.store.Search(ctx, store.SearchParams{
		Scopes:      e.scopes(),
		Query:       req.Query,
		Limit:       limit,
		Offset:      offset,
		PinnedBoost: cfg.Search.PinnedBoost,
		MinScore:    cfg.Search.MinScore,
	})
	if err != nil {
		return fail(action, err)
	}
	if results == nil {
		results = []store.SearchResult{}
	}

	data := SearchData{
		Query:      req.Query,
		Items:      results,
		HasMore:    hasMore,
		NextCursor: nextCursor(offset, len(results), hasMore),
	}
	return ok(action, data, render.SearchRows(results, e.scope.Scope))
}

func (e *Engine) resolve(ctx context.Context, target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", invalid("id", "must not be empty")
	}
	return e.store.ResolveID(ctx, target, e.scopes())
}

// Delete removes the entry named by an id or unique id prefix.
func (e *Engine) Delete(ctx context.Context, target string) *Response {
	const action = "delete"
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	id, err := e.resolve(ctx, target)
	if err != nil {
		return fail(action, err)
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return fail(action, err)
	}
	return ok(action, map[string]any{"id": id, "deleted": true}, "Deleted memory "+id+".")
}

// Pin sets or clears the pinned flag.
func (e *Engine) Pin(ctx context.Context, target string, enabled bool) *Response {
	const action = "pin"
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	id, err := e.resolve(ctx, target)
	if err != nil {
		return fail(action, err)
	}
	changed, err := e.store.SetPinned(ctx, id, enabled)
	if err != nil {
		return fail(action, err)
	}

	state := "Unpinned"
	if enabled {
		state = "Pinned"
	}
	text := fmt.Sprintf("%s memory %s.", state, id)
	if !changed {
		text = fmt.Sprintf("Memory %s already %s.", id, strings.ToLower(state))
	}
	return ok(action, map[string]any{"id": id, "pinned": enabled, "changed": changed}, text)
}

// StatsData is the stats payload.
type StatsData struct {
	*store.Stats
	ProjectScope  string               `json:"project_scope"`
	ScopeKind     string               `json:"scope_kind"`
	ConfigPath    string               `json:"config_path"`
	ConfigWarning *configWarning       `json:"config_warning,omitempty"`
	LastRun       *store.CompactionLog `json:"last_compaction,omitempty"`
}

type configWarning struct {
	Problem    string `json:"problem"`
	BackupPath string `json:"backup_path"`
}

// Stats summarizes project and global entries.
func (e *Engine) Stats(ctx context.Context) *Response {
	const action = "stats"
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	st, err := e.store.Stats(ctx, e.scopes())
	if err != nil {
		return fail(action, err)
	}
	last, err := e.store.LastCompaction(ctx, e.scope.Scope)
	if err != nil {
		return fail(action, err)
	}

	data := StatsData{
		Stats:        st,
		ProjectScope: e.scope.Scope,
		ScopeKind:    e.scope.Kind,
		ConfigPath:   e.configs.Path(),
		LastRun:      last,
	}
	if w := e.warning; w != nil {
		data.ConfigWarning = &configWarning{Problem: w.Problem, BackupPath: w.BackupPath}
	}
	return ok(action, data, render.Stats(st))
}

// ShowData is the injection preview.
type ShowData struct {
	Block   string `json:"block"`
	Entries int    `json:"entries"`
}

// Show previews the memory block injected into the agent's context.
func (e *Engine) Show(ctx context.Context) *Response {
	const action = "show"
	block, n, err := e.injectionBlock(ctx)
	if err != nil {
		return fail(action, err)
	}
	text := block
	if text == "" {
		text = "No memories to inject."
	}
	return ok(action, ShowData{Block: block, Entries: n}, text)
}

func (e *Engine) injectionView(ctx context.Context) ([]model.Memory, error) {
	inj := e.Config().Injection
	limit := inj.MaxItems * 4
	if limit < 20 {
		limit = 20
	}
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.InjectionCandidates(ctx, e.scope.Scope, limit)
}

func (e *Engine) injectionBlock(ctx context.Context) (string, int, error) {
	entries, err := e.injectionView(ctx)
	if err != nil {
		return "", 0, err
	}
	inj := e.Config().Injection
	block := render.InjectionBlock(entries, e.scope.Scope, inj.MaxItems, inj.MaxChars)
	return block, strings.Count(block, "\n- "), nil
}
