// Package render formats memory entries and engine results as human text.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/store"
	"github.com/rcliao/memory-engine/internal/textutil"
)

// InjectionHeader opens every rendered memory block.
const InjectionHeader = "## Extra Memory (Codex)"

const injectionGuidance = "Use these as stable user/project facts. Prefer project scope over global when they conflict."

// ScopeLabel shortens project scopes to "project".
func ScopeLabel(scope, projectScope string) string {
	if scope == "global" {
		return "global"
	}
	if scope == projectScope || strings.HasPrefix(scope, "project:") {
		return "project"
	}
	return scope
}

// Rows lists entries, one id line and one indented content line each.
func Rows(ms []model.Memory, projectScope string) string {
	if len(ms) == 0 {
		return "No active memories."
	}
	lines := make([]string, 0, len(ms))
	for _, m := range ms {
		lines = append(lines, row(m, projectScope, ""))
	}
	return strings.Join(lines, "\n")
}

// SearchRows is Rows with the match score appended.
func SearchRows(rs []store.SearchResult, projectScope string) string {
	if len(rs) == 0 {
		return "No matching memories."
	}
	lines := make([]string, 0, len(rs))
	for _, r := range rs {
		lines = append(lines, row(r.Memory, projectScope, fmt.Sprintf(" score=%.2f", r.Score)))
	}
	return strings.Join(lines, "\n")
}

func row(m model.Memory, projectScope, suffix string) string {
	pin := ""
	if m.Pinned {
		pin = " [pinned]"
	}
	return fmt.Sprintf("- %s (%s/%s)%s%s\n  %s", m.ID, ScopeLabel(m.Scope, projectScope), m.Category, pin, suffix, m.Content)
}

// InjectionLine is one entry of an injection block. HTML comment openers
// are escaped so content can never forge a block marker.
func InjectionLine(m model.Memory, projectScope string) string {
	pin := ""
	if m.Pinned {
		pin = "/pinned"
	}
	content := strings.ReplaceAll(m.Content, "<!--", "&lt;!--")
	return fmt.Sprintf("- [%s%s/%s] %s", ScopeLabel(m.Scope, projectScope), pin, m.Category, content)
}

// InjectionBlock renders the memory view handed to the agent. Entries are
// taken in the given order; lines that would overflow maxChars are skipped
// and at most maxItems are kept. No entries yields "".
func InjectionBlock(ms []model.Memory, projectScope string, maxItems, maxChars int) string {
	if len(ms) == 0 {
		return ""
	}
	header := []string{InjectionHeader, injectionGuidance}
	used := textutil.RuneLen(strings.Join(header, "\n"))
	if used > maxChars {
		return ""
	}

	var selected []string
	for _, m := range ms {
		if len(selected) >= maxItems {
			break
		}
		line := InjectionLine(m, projectScope)
		need := textutil.RuneLen(line) + 1
		if used+need > maxChars {
			continue
		}
		used += need
		selected = append(selected, line)
	}
	if len(selected) == 0 {
		return ""
	}
	return strings.Join(append(header, selected...), "\n")
}

// Stats renders a stats snapshot.
func Stats(st *store.Stats) string {
	fts := "fallback (LIKE)"
	if st.FTSEnabled {
		fts = "enabled"
	}
	last := "never"
	if st.LastCompactionAt != nil {
		last = st.LastCompactionAt.UTC().Format(time.RFC3339)
	}
	lines := []string{
		"Persistent memory stats",
		"",
		fmt.Sprintf("- Active: %d", st.Total),
		fmt.Sprintf("- Pinned: %d", st.Pinned),
		fmt.Sprintf("- Archived: %d", st.Archived),
		fmt.Sprintf("- Project scope: %d", st.ProjectCount),
		fmt.Sprintf("- Global scope: %d", st.GlobalCount),
		fmt.Sprintf("- FTS search: %s", fts),
		fmt.Sprintf("- Last compaction: %s", last),
	}
	if len(st.PerCategory) > 0 {
		cats := make([]string, 0, len(st.PerCategory))
		for c := range st.PerCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		lines = append(lines, "", "By category:")
		for _, c := range cats {
			lines = append(lines, fmt.Sprintf("- %s: %d", c, st.PerCategory[c]))
		}
	}
	return strings.Join(lines, "\n")
}

// AutoStatus describes the auto-capture settings.
func AutoStatus(c config.AutoCaptureConfig) string {
	enabled := "off"
	if c.Enabled {
		enabled = "on"
	}
	return strings.Join([]string{
		"Auto-capture status",
		"",
		"- Enabled: " + enabled,
		"- Scope: " + c.Scope,
		fmt.Sprintf("- Max captures per turn: %d", c.MaxPerTurn),
		fmt.Sprintf("- Capture length: %d-%d chars", c.MinChars, c.MaxChars),
		fmt.Sprintf("- Min confidence: %.2f", c.MinConfidence),
		"",
		"Heuristic mode: explicit patterns, corrections and repetition.",
		"- Captures user statements like 'remember ...' and 'I prefer ...'",
		"- Captures corrections like 'actually, ...' and 'no, use ... instead'",
		"- Captures assistant lines prefixed with 'Memory:' or 'Remember:'",
		"- Uses dedupe + secret filtering before write",
	}, "\n")
}

// ExportMarkdown renders entries grouped by scope.
func ExportMarkdown(ms []model.Memory, generatedAt time.Time) string {
	lines := []string{
		"# Codex Extra Memory Export",
		"",
		"Generated: " + generatedAt.UTC().Format(time.RFC3339),
		"",
	}
	grouped := map[string][]model.Memory{}
	var scopes []string
	for _, m := range ms {
		if _, ok := grouped[m.Scope]; !ok {
			scopes = append(scopes, m.Scope)
		}
		grouped[m.Scope] = append(grouped[m.Scope], m)
	}
	sort.Strings(scopes)
	for _, scope := range scopes {
		lines = append(lines, "## "+scope, "")
		for _, m := range grouped[scope] {
			pin := "unpinned"
			if m.Pinned {
				pin = "pinned"
			}
			lines = append(lines, fmt.Sprintf("- %s (%s, %s)", m.ID, m.Category, pin), "  "+m.Content)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// Candidates lists capture candidates with their confidence.
func Candidates(cs []model.CaptureCandidate) string {
	if len(cs) == 0 {
		return "No capture candidates."
	}
	lines := make([]string, 0, len(cs))
	for i, c := range cs {
		lines = append(lines, fmt.Sprintf("%d. [%s %.2f] %s\n   %s (%s)", i+1, c.Category, c.Confidence, c.Text, c.Rationale, c.State))
	}
	return strings.Join(lines, "\n")
}
