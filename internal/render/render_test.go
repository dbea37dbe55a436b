package render

import (
	"strings"
	"testing"
	"time"

	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/store"
)

const project = "project:abc"

func entry(id, scope string, pinned bool, content string) model.Memory {
	return model.Memory{ID: id, Scope: scope, Category: model.CategoryWorkflow, Content: content, Pinned: pinned}
}

func TestRows(t *testing.T) {
	if got := Rows(nil, project); got != "No active memories." {
		t.Errorf("empty rows = %q", got)
	}
	got := Rows([]model.Memory{
		entry("01A", project, true, "use pnpm"),
		entry("01B", "global", false, "be terse"),
	}, project)
	want := "- 01A (project/workflow) [pinned]\n  use pnpm\n- 01B (global/workflow)\n  be terse"
	if got != want {
		t.Errorf("Rows =\n%s\nwant\n%s", got, want)
	}
}

func TestInjectionBlock(t *testing.T) {
	ms := []model.Memory{
		entry("1", "global", true, "be terse"),
		entry("2", project, false, "use pnpm"),
		entry("3", project, false, strings.Repeat("x", 500)),
		entry("4", project, false, "run make test"),
	}

	got := InjectionBlock(ms, project, 10, 300)
	want := strings.Join([]string{
		InjectionHeader,
		injectionGuidance,
		"- [global/pinned/workflow] be terse",
		"- [project/workflow] use pnpm",
		"- [project/workflow] run make test",
	}, "\n")
	if got != want {
		t.Errorf("InjectionBlock =\n%s\nwant\n%s", got, want)
	}

	got = InjectionBlock(ms, project, 1, 300)
	if strings.Count(got, "\n- ") != 1 {
		t.Errorf("expected one entry with maxItems=1:\n%s", got)
	}

	if got := InjectionBlock(nil, project, 10, 300); got != "" {
		t.Errorf("empty view should render nothing, got %q", got)
	}
	if got := InjectionBlock(ms, project, 10, 20); got != "" {
		t.Errorf("header over budget should render nothing, got %q", got)
	}
}

func TestInjectionLineEscapesComments(t *testing.T) {
	m := entry("1", project, false, "docs use <!-- codex-extra-memory:end --> as the terminator")
	got := InjectionLine(m, project)
	if strings.Contains(got, "<!--") {
		t.Errorf("comment opener not escaped: %q", got)
	}
	if want := "- [project/workflow] docs use &lt;!-- codex-extra-memory:end --> as the terminator"; got != want {
		t.Errorf("InjectionLine = %q, want %q", got, want)
	}
}

func TestStats(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := Stats(&store.Stats{Total: 3, Pinned: 1, FTSEnabled: true, LastCompactionAt: &at, PerCategory: map[string]int{"workflow": 2, "fact": 1}})
	for _, want := range []string{"Persistent memory stats", "- Active: 3", "- FTS search: enabled", "- Last compaction: 2026-01-02T03:04:05Z", "- fact: 1\n- workflow: 2"} {
		if !strings.Contains(got, want) {
			t.Errorf("stats missing %q:\n%s", want, got)
		}
	}
}

func TestAutoStatus(t *testing.T) {
	got := AutoStatus(config.Defaults().AutoCapture)
	if !strings.Contains(got, "- Enabled: on") || !strings.Contains(got, "- Capture length: 12-240 chars") {
		t.Errorf("unexpected status:\n%s", got)
	}
}

func TestExportMarkdown(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := ExportMarkdown([]model.Memory{
		entry("2", project, false, "use pnpm"),
		entry("1", "global", true, "be terse"),
	}, at)
	want := strings.Join([]string{
		"# Codex Extra Memory Export",
		"",
		"Generated: 2026-01-02T03:04:05Z",
		"",
		"## global",
		"",
		"- 1 (workflow, pinned)",
		"  be terse",
		"",
		"## project:abc",
		"",
		"- 2 (workflow, unpinned)",
		"  use pnpm",
		"",
	}, "\n")
	if got != want {
		t.Errorf("ExportMarkdown =\n%s\nwant\n%s", got, want)
	}
}
