package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memory-engine/internal/agentsync"
	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/llm"
	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	ws := t.TempDir()
	return newEngineAt(t, t.TempDir(), ws, Options{DisableLLM: true}), ws
}

func newEngineAt(t *testing.T, home, ws string, opts Options) *Engine {
	t.Helper()
	opts.Home = home
	opts.Workspace = ws
	e, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func mustOK(t *testing.T, r *Response) *Response {
	t.Helper()
	require.True(t, r.OK, "%s failed: %s (%s)", r.Action, r.Error, r.Kind)
	return r
}

func added(t *testing.T, r *Response) model.Memory {
	t.Helper()
	mustOK(t, r)
	res, ok := r.Data.(*store.AddResult)
	require.True(t, ok)
	return res.Memory
}

func TestAddListRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	m := added(t, e.Add(ctx, AddRequest{Content: "use pnpm for installs", Category: "workflow"}))
	assert.Equal(t, e.Scope().Scope, m.Scope)
	assert.Equal(t, model.OriginManual, m.Origin)

	g := added(t, e.Add(ctx, AddRequest{Content: "be terse", Scope: "global"}))
	assert.Equal(t, "global", g.Scope)

	r := mustOK(t, e.List(ctx, ListRequest{}))
	data := r.Data.(ListData)
	require.Len(t, data.Items, 2)
	assert.ElementsMatch(t, []string{m.ID, g.ID}, []string{data.Items[0].ID, data.Items[1].ID})
	assert.Contains(t, r.Text, "(project/workflow)")

	dup := e.Add(ctx, AddRequest{Content: "  use  pnpm for installs "})
	mustOK(t, dup)
	assert.Equal(t, store.Deduped, dup.Data.(*store.AddResult).Outcome)
}

func TestAddValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  AddRequest
	}{
		{"empty", AddRequest{Content: "   "}},
		{"secret", AddRequest{Content: "api_key = abcdef1234567890abcdef"}},
		{"bad category", AddRequest{Content: "x y z", Category: "no spaces allowed"}},
		{"bad scope", AddRequest{Content: "x y z", Scope: "team"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Add(ctx, tt.req)
			assert.False(t, r.OK)
			assert.Equal(t, KindValidation, r.Kind)
			assert.Equal(t, "add", r.Action)
		})
	}
}

func TestListPaging(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	for _, c := range []string{"one entry", "two entry", "three entry", "four entry", "five entry"} {
		added(t, e.Add(ctx, AddRequest{Content: c}))
	}

	var seen []string
	cursor := ""
	for page := 0; page < 5; page++ {
		r := mustOK(t, e.List(ctx, ListRequest{Limit: 2, Cursor: cursor}))
		data := r.Data.(ListData)
		for _, m := range data.Items {
			seen = append(seen, m.ID)
		}
		if !data.HasMore {
			assert.Empty(t, data.NextCursor)
			break
		}
		cursor = data.NextCursor
	}
	assert.Len(t, seen, 5)

	r := e.List(ctx, ListRequest{Cursor: "!!not-a-cursor"})
	assert.Equal(t, KindValidation, r.Kind)
}

func TestSearch(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := added(t, e.Add(ctx, AddRequest{Content: "run make test before commit"}))
	added(t, e.Add(ctx, AddRequest{Content: "deploys go through CI"}))

	r := mustOK(t, e.Search(ctx, SearchRequest{Query: "make test"}))
	data := r.Data.(SearchData)
	require.Len(t, data.Items, 1)
	assert.Equal(t, a.ID, data.Items[0].ID)

	assert.Equal(t, KindValidation, e.Search(ctx, SearchRequest{Query: " "}).Kind)
}

func TestDeleteAndPinByPrefix(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	m := added(t, e.Add(ctx, AddRequest{Content: "use pnpm"}))

	r := mustOK(t, e.Pin(ctx, strings.ToLower(m.ID[:12]), true))
	assert.Equal(t, true, r.Data.(map[string]any)["changed"])
	r = mustOK(t, e.Pin(ctx, m.ID, true))
	assert.Equal(t, false, r.Data.(map[string]any)["changed"])

	mustOK(t, e.Delete(ctx, m.ID[:12]))
	r = e.Delete(ctx, m.ID)
	assert.False(t, r.OK)
	assert.Equal(t, KindNotFound, r.Kind)
}

func TestRefreshPinnedAbsorbsNearDuplicate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.updateConfig(func(c *config.Config) { c.Compaction.DuplicateThreshold = 0.5 })
	require.NoError(t, err)

	a := added(t, e.Add(ctx, AddRequest{Content: "use pnpm", Category: "workflow", Pinned: true}))
	b := added(t, e.Add(ctx, AddRequest{Content: "use pnpm always", Category: "workflow"}))

	r := mustOK(t, e.Refresh(ctx))
	data := r.Data.(RefreshData)
	require.Len(t, data.Scopes, 1)
	sc := data.Scopes[0]
	assert.Equal(t, []string{b.ID}, sc.RemovedIDs)
	assert.Equal(t, "deterministic", sc.Mode)
	assert.False(t, sc.UsedFallback)

	items := mustOK(t, e.List(ctx, ListRequest{})).Data.(ListData).Items
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
	assert.Equal(t, "use pnpm", items[0].Content)

	st := mustOK(t, e.Stats(ctx)).Data.(StatsData)
	require.NotNil(t, st.LastCompactionAt)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 1, st.LastRun.RemovedCount)
}

func TestRefreshFallsBackWhenProviderFails(t *testing.T) {
	ws := t.TempDir()
	e := newEngineAt(t, t.TempDir(), ws, Options{
		Refiner: llm.Failing("openai:test", errors.New("no credentials")),
	})
	ctx := context.Background()
	added(t, e.Add(ctx, AddRequest{Content: "run make test before every commit"}))
	added(t, e.Add(ctx, AddRequest{Content: "deploys go through CI only"}))

	data := mustOK(t, e.Refresh(ctx)).Data.(RefreshData)
	require.Len(t, data.Scopes, 1)
	assert.True(t, data.Scopes[0].UsedFallback)
	assert.Equal(t, "llm_fallback", data.Scopes[0].Mode)
	assert.Contains(t, data.Scopes[0].Reason, "no credentials")
	assert.Equal(t, 2, data.Scopes[0].KeptCount)
}

func TestSyncAgents(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()
	added(t, e.Add(ctx, AddRequest{Content: "use pnpm", Category: "workflow"}))
	added(t, e.Add(ctx, AddRequest{Content: "be terse", Scope: "global", Pinned: true}))
	added(t, e.Add(ctx, AddRequest{Content: "unpinned global is hidden", Scope: "global"}))

	r := mustOK(t, e.SyncAgents(ctx))
	res := r.Data.(*agentsync.Result)
	assert.Equal(t, agentsync.Created, res.Action)
	assert.Equal(t, 2, res.Entries)

	doc, err := os.ReadFile(filepath.Join(ws, agentsync.DocumentName))
	require.NoError(t, err)
	assert.Contains(t, string(doc), "- [global/pinned/other] be terse\n- [project/workflow] use pnpm")
	assert.NotContains(t, string(doc), "hidden")

	again := mustOK(t, e.SyncAgents(ctx)).Data.(*agentsync.Result)
	assert.Equal(t, agentsync.Unchanged, again.Action)
	doc2, _ := os.ReadFile(filepath.Join(ws, agentsync.DocumentName))
	assert.Equal(t, doc, doc2)

	bad := string(doc) + "\n" + agentsync.StartMarker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(ws, agentsync.DocumentName), []byte(bad), 0o644))
	r = e.SyncAgents(ctx)
	assert.Equal(t, KindMarkerConflict, r.Kind)
	doc3, _ := os.ReadFile(filepath.Join(ws, agentsync.DocumentName))
	assert.Equal(t, bad, string(doc3))
}

func TestSyncAgentsMarkerInContent(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()
	added(t, e.Add(ctx, AddRequest{Content: "docs use " + agentsync.EndMarker + " as the block terminator"}))
	added(t, e.Add(ctx, AddRequest{Content: "never paste " + agentsync.StartMarker + " by hand"}))

	first := mustOK(t, e.SyncAgents(ctx)).Data.(*agentsync.Result)
	assert.Equal(t, agentsync.Created, first.Action)
	doc, err := os.ReadFile(filepath.Join(ws, agentsync.DocumentName))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(doc), agentsync.StartMarker))
	assert.Equal(t, 1, strings.Count(string(doc), agentsync.EndMarker))

	second := mustOK(t, e.SyncAgents(ctx)).Data.(*agentsync.Result)
	assert.Equal(t, agentsync.Unchanged, second.Action)
	doc2, _ := os.ReadFile(filepath.Join(ws, agentsync.DocumentName))
	assert.Equal(t, doc, doc2)
}

func TestExport(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()
	e.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	added(t, e.Add(ctx, AddRequest{Content: "use pnpm"}))

	r := mustOK(t, e.Export(ctx, ExportRequest{}))
	path := r.Data.(map[string]any)["path"].(string)
	assert.Equal(t, filepath.Join(ws, "codex-memory-export-20260304T050607Z.json"), path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var env exportEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, 1, env.SchemaVersion)
	assert.Equal(t, e.Scope().Scope, env.ProjectScope)
	require.Len(t, env.Entries, 1)

	r = mustOK(t, e.Export(ctx, ExportRequest{Format: "yaml", Path: "out/mem.yaml"}))
	raw, err = os.ReadFile(filepath.Join(ws, "out", "mem.yaml"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	assert.Equal(t, 1, doc["schema_version"])

	r = mustOK(t, e.Export(ctx, ExportRequest{Format: "md", Path: "mem.md"}))
	raw, _ = os.ReadFile(filepath.Join(ws, "mem.md"))
	assert.True(t, strings.HasPrefix(string(raw), "# Codex Extra Memory Export"))

	for _, p := range []string{"../escape.json", "/tmp/abs.json"} {
		r = e.Export(ctx, ExportRequest{Path: p})
		assert.Equal(t, KindPathViolation, r.Kind, p)
		assert.Equal(t, p, r.Details["path"])
	}
	assert.Equal(t, KindValidation, e.Export(ctx, ExportRequest{Format: "csv"}).Kind)
}

func TestExportDanglingSymlink(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()
	added(t, e.Add(ctx, AddRequest{Content: "use pnpm"}))

	outside := t.TempDir()
	stolen := filepath.Join(outside, "stolen.json")
	if err := os.Symlink(stolen, filepath.Join(ws, "out.json")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	r := e.Export(ctx, ExportRequest{Path: "out.json"})
	assert.False(t, r.OK)
	assert.Equal(t, KindPathViolation, r.Kind)
	_, err := os.Stat(stolen)
	assert.True(t, os.IsNotExist(err))
}

func TestImportFromExport(t *testing.T) {
	e, ws := newTestEngine(t)
	ctx := context.Background()
	added(t, e.Add(ctx, AddRequest{Content: "use pnpm"}))
	added(t, e.Add(ctx, AddRequest{Content: "be terse", Scope: "global"}))
	mustOK(t, e.Export(ctx, ExportRequest{Path: "mem.json"}))

	other := newEngineAt(t, t.TempDir(), ws, Options{DisableLLM: true})
	r := mustOK(t, other.Import(ctx, "mem.json"))
	res := r.Data.(*store.ImportResult)
	assert.Equal(t, 2, res.Imported)

	r = mustOK(t, other.Import(ctx, "mem.json"))
	assert.Equal(t, 2, r.Data.(*store.ImportResult).Deduped)

	assert.Equal(t, KindPathViolation, other.Import(ctx, "../../etc/passwd").Kind)
}

func TestCaptureCandidates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	transcript := "user: remember that releases are cut on fridays\nassistant: noted"

	r := mustOK(t, e.CaptureCandidates(ctx, transcript, false))
	data := r.Data.(CaptureData)
	require.Len(t, data.Candidates, 1)
	assert.False(t, data.Persisted)
	assert.Equal(t, model.CapturePending, data.Candidates[0].State)

	r = mustOK(t, e.CaptureCandidates(ctx, transcript, true))
	data = r.Data.(CaptureData)
	assert.True(t, data.Persisted)
	assert.Equal(t, 1, data.Added)
	assert.Equal(t, model.CaptureAccepted, data.Candidates[0].State)

	items := mustOK(t, e.List(ctx, ListRequest{})).Data.(ListData).Items
	require.Len(t, items, 1)
	assert.Equal(t, model.OriginCaptured, items[0].Origin)

	r = mustOK(t, e.CaptureCandidates(ctx, transcript, true))
	assert.Empty(t, r.Data.(CaptureData).Candidates, "already processed statements are not proposed again")
}

func TestAutoPersistsConfig(t *testing.T) {
	home, ws := t.TempDir(), t.TempDir()
	e := newEngineAt(t, home, ws, Options{DisableLLM: true})
	ctx := context.Background()

	r := mustOK(t, e.Auto(ctx, "off"))
	assert.Equal(t, false, r.Data.(map[string]any)["enabled"])

	r = mustOK(t, e.CaptureCandidates(ctx, "user: remember that tabs are banned here", true))
	assert.False(t, r.Data.(CaptureData).Persisted)

	cfg, warn, err := config.NewManager(home).Load()
	require.NoError(t, err)
	assert.Nil(t, warn)
	assert.False(t, cfg.AutoCapture.Enabled)

	assert.Equal(t, KindValidation, e.Auto(ctx, "sometimes").Kind)
}

func TestExecute(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	r := mustOK(t, e.Execute(ctx, "/memory add --global --category preference be terse"))
	m := r.Data.(*store.AddResult).Memory
	assert.Equal(t, "global", m.Scope)
	assert.Equal(t, model.CategoryPreference, m.Category)

	r = mustOK(t, e.Execute(ctx, "/memory"))
	assert.Equal(t, "help", r.Action)

	r = e.Execute(ctx, "/memory frobnicate now")
	assert.False(t, r.OK)
	assert.Equal(t, KindParse, r.Kind)
	assert.Equal(t, "frobnicate", r.Details["token"])

	r = mustOK(t, e.Execute(ctx, "/memory pin "+m.ID+" on"))
	assert.Equal(t, "pin", r.Action)

	r = mustOK(t, e.Execute(ctx, "/memory list --pinned"))
	assert.Len(t, r.Data.(ListData).Items, 1)

	r = mustOK(t, e.Execute(ctx, "/memory add --pinned never force-push main"))
	assert.True(t, r.Data.(*store.AddResult).Memory.Pinned)
	r = mustOK(t, e.Execute(ctx, "/memory list --pinned"))
	assert.Len(t, r.Data.(ListData).Items, 2)

	assert.Equal(t, "stats", mustOK(t, e.Execute(ctx, "/memory stats")).Action)
	assert.Equal(t, "show", mustOK(t, e.Execute(ctx, "/memory show")).Action)
}

func TestConfigRecoveryIsReported(t *testing.T) {
	home, ws := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, config.FileName), []byte("{not json"), 0o644))

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := newEngineAt(t, home, ws, Options{DisableLLM: true})
	require.NotNil(t, e.ConfigWarning())
	assert.Equal(t, 1, strings.Count(logs.String(), "config invalid"))

	st := mustOK(t, e.Stats(context.Background())).Data.(StatsData)
	require.NotNil(t, st.ConfigWarning)
	assert.FileExists(t, st.ConfigWarning.BackupPath)
}

func TestCheckPath(t *testing.T) {
	e, ws := newTestEngine(t)
	assert.NoError(t, e.CheckPath(""))
	assert.NoError(t, e.CheckPath(ws))
	assert.Error(t, e.CheckPath(filepath.Dir(ws)))
}

func TestCursor(t *testing.T) {
	for _, n := range []int{0, 1, 50, 12345} {
		got, err := DecodeCursor(EncodeCursor(n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
	assert.Equal(t, "bzoxMA", EncodeCursor(10))
	for _, bad := range []string{"%%%", "eDox", "bzotMQ"} {
		_, err := DecodeCursor(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, MaxPageSize, clampLimit(1000, 50))
	assert.Equal(t, 50, clampLimit(0, 50))
}

func TestHashRing(t *testing.T) {
	r := newHashRing(3)
	for _, h := range []string{"a", "b", "c", "a", "d"} {
		r.Add(h)
	}
	assert.Equal(t, 3, r.Len())
	assert.False(t, r.Contains("a"))
	assert.True(t, r.Contains("d"))
}
