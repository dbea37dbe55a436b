// Package compaction keeps each scope's memory bounded: near-duplicates are
// merged, the lowest-value entries evicted over the cap, and an optional
// language-model pass proposes further merges. Pinned entries are never
// merged away, rewritten or evicted.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/llm"
	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/store"
	"github.com/rcliao/memory-engine/internal/textutil"
)

// Mode records which path produced a result.
type Mode string

const (
	ModeDeterministic Mode = "deterministic"
	ModeLLM           Mode = "llm"
	ModeLLMFallback   Mode = "llm_fallback"
)

// Options tunes one compaction pass.
type Options struct {
	Scope              string
	MaxEntries         int
	DuplicateThreshold float64
	Timeout            time.Duration
	MaxOutputChars     int
}

// OptionsFromConfig maps the compaction sections of the config.
func OptionsFromConfig(c config.Config, scope string) Options {
	return Options{
		Scope:              scope,
		MaxEntries:         c.Compaction.MaxEntries,
		DuplicateThreshold: c.Compaction.DuplicateThreshold,
		Timeout:            time.Duration(c.LLMCompaction.TimeoutMs) * time.Millisecond,
		MaxOutputChars:     c.LLMCompaction.MaxOutputChars,
	}
}

// Merge describes entries folded into a survivor.
type Merge struct {
	Survivor string   `json:"survivor"`
	Absorbed []string `json:"absorbed"`
	Note     string   `json:"note"`
}

// Result is the outcome of one pass.
type Result struct {
	Kept       []model.Memory `json:"kept"`
	RemovedIDs []string       `json:"removed_ids"`
	Absorbed   []string       `json:"absorbed"`
	Evicted    []string       `json:"evicted"`
	Merges     []Merge        `json:"merges"`

	// Updated holds survivors whose content or counters changed.
	Updated []model.Memory `json:"-"`

	UsedFallback bool   `json:"used_fallback"`
	Mode         Mode   `json:"mode"`
	Model        string `json:"model,omitempty"`
	Reason       string `json:"reason,omitempty"`
	InputCount   int    `json:"input_count"`
}

// Changed reports whether applying the result would touch the store.
func (r *Result) Changed() bool {
	return len(r.RemovedIDs) > 0 || len(r.Updated) > 0
}

// Plan converts the result into the store's transactional change set.
func (r *Result) Plan(scope string) store.CompactionPlan {
	return store.CompactionPlan{
		Scope:    scope,
		Updated:  r.Updated,
		Deleted:  r.Absorbed,
		Archived: r.Evicted,
		Log: store.CompactionLog{
			Scope:        scope,
			Mode:         string(r.Mode),
			UsedFallback: r.UsedFallback,
			InputCount:   r.InputCount,
			OutputCount:  len(r.Kept),
			RemovedCount: len(r.RemovedIDs),
			Model:        r.Model,
			Reason:       r.Reason,
		},
	}
}

// Outcome is the typed result of a refinement attempt.
type Outcome int

const (
	Refined Outcome = iota
	Unavailable
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Refined:
		return "refined"
	case Unavailable:
		return "unavailable"
	}
	return "invalid"
}

// Engine runs compaction passes. A nil refiner means deterministic only.
type Engine struct {
	refiner llm.Refiner
}

// New returns an Engine using refiner for the optional refinement pass.
func New(refiner llm.Refiner) *Engine {
	return &Engine{refiner: refiner}
}

// Compact runs the deterministic steps and then one refinement attempt.
// Any refinement failure yields the deterministic result with UsedFallback.
func (e *Engine) Compact(ctx context.Context, entries []model.Memory, opts Options) *Result {
	base := Deterministic(entries, opts)
	if e.refiner == nil {
		return base
	}
	unpinned := 0
	for _, m := range base.Kept {
		if !m.Pinned {
			unpinned++
		}
	}
	if unpinned < 2 {
		base.Reason = "too few entries to refine"
		return base
	}

	refined, outcome, err := e.refine(ctx, base, opts)
	if outcome == Refined {
		return refined
	}
	base.Mode = ModeLLMFallback
	base.UsedFallback = true
	base.Model = e.refiner.Name()
	base.Reason = fmt.Sprintf("%s: %v", outcome, err)
	return base
}

func (e *Engine) refine(ctx context.Context, base *Result, opts Options) (*Result, Outcome, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	s, err := e.refiner.Refine(ctx, llm.Request{
		Scope:          opts.Scope,
		Entries:        base.Kept,
		MaxOutputChars: opts.MaxOutputChars,
	})
	if err != nil {
		if errors.Is(err, llm.ErrInvalidResponse) {
			return nil, Invalid, err
		}
		return nil, Unavailable, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Unavailable, err
	}
	if s == nil {
		return nil, Invalid, llm.ErrInvalidResponse
	}
	out, err := applySuggestion(base, s)
	if err != nil {
		return nil, Invalid, err
	}
	out.Mode = ModeLLM
	out.Model = e.refiner.Name()
	return out, Refined, nil
}

// node is a survivor under construction.
type node struct {
	mem      model.Memory
	tokens   map[string]struct{}
	absorbed []string
	note     string
	changed  bool
}

// Deterministic runs partition, near-duplicate merge and cap eviction. The
// output depends only on entries and opts.
func Deterministic(entries []model.Memory, opts Options) *Result {
	res := &Result{Mode: ModeDeterministic, InputCount: len(entries)}

	byCategory := map[model.Category][]model.Memory{}
	var categories []model.Category
	for _, m := range entries {
		if _, ok := byCategory[m.Category]; !ok {
			categories = append(categories, m.Category)
		}
		byCategory[m.Category] = append(byCategory[m.Category], m)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	var survivors []*node
	for _, c := range categories {
		survivors = append(survivors, mergeCategory(byCategory[c], opts.DuplicateThreshold)...)
	}

	for _, n := range survivors {
		if len(n.absorbed) > 0 {
			res.Merges = append(res.Merges, Merge{Survivor: n.mem.ID, Absorbed: n.absorbed, Note: n.note})
			res.Absorbed = append(res.Absorbed, n.absorbed...)
		}
		if n.changed {
			res.Updated = append(res.Updated, n.mem)
		}
	}

	kept := make([]model.Memory, len(survivors))
	for i, n := range survivors {
		kept[i] = n.mem
	}
	kept, res.Evicted = evict(kept, opts.MaxEntries)
	if len(res.Evicted) > 0 {
		gone := toSet(res.Evicted)
		res.Updated = filterOut(res.Updated, gone)
	}

	sortEntries(kept)
	res.Kept = kept
	res.RemovedIDs = append(append([]string{}, res.Absorbed...), res.Evicted...)
	sort.Strings(res.RemovedIDs)
	return res
}

// mergeCategory folds near-duplicates within one category. Pinned entries
// are visited first so a non-pinned duplicate always meets its pinned twin
// as an existing survivor.
func mergeCategory(entries []model.Memory, threshold float64) []*node {
	ordered := append([]model.Memory(nil), entries...)
	sortEntries(ordered)

	var survivors []*node
	for _, m := range ordered {
		tokens := textutil.TokenSet(m.Content)
		best, bestScore := -1, 0.0
		for i, s := range survivors {
			score := textutil.Jaccard(tokens, s.tokens)
			if score > threshold && score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			survivors = append(survivors, &node{mem: m, tokens: tokens})
			continue
		}

		s := survivors[best]
		switch {
		case s.mem.Pinned && m.Pinned:
			survivors = append(survivors, &node{mem: m, tokens: tokens})
		case s.mem.Pinned:
			s.absorbed = append(s.absorbed, m.ID)
			s.note = noteFor(s.note, bestScore, "absorbed into pinned entry")
		default:
			survivors[best] = mergePair(s, m, tokens, bestScore)
		}
	}
	return survivors
}

// mergePair combines two non-pinned entries. The longer content is the
// base (ties go to the more recent, then the smaller id) and keeps its id.
func mergePair(s *node, m model.Memory, tokens map[string]struct{}, score float64) *node {
	baseMem, other := s.mem, m
	baseTokens, otherTokens := s.tokens, tokens
	absorbed := append([]string{}, s.absorbed...)
	if preferBase(m, s.mem) {
		baseMem, other = m, s.mem
		baseTokens, otherTokens = tokens, s.tokens
	}
	absorbed = append(absorbed, other.ID)
	sort.Strings(absorbed)

	merged := baseMem
	if hasNovel(otherTokens, baseTokens) {
		candidate := merged.Content + "; " + other.Content
		if textutil.RuneLen(candidate) <= store.MaxContentLen {
			merged.Content = candidate
		}
	}
	if other.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = other.UpdatedAt
	}
	merged.AccessCount = baseMem.AccessCount + other.AccessCount
	merged.ContentHash = textutil.ContentHash(merged.Content)

	return &node{
		mem:      merged,
		tokens:   textutil.TokenSet(merged.Content),
		absorbed: absorbed,
		note:     noteFor(s.note, score, "merged near-duplicate"),
		changed:  true,
	}
}

func preferBase(a, b model.Memory) bool {
	la, lb := textutil.RuneLen(a.Content), textutil.RuneLen(b.Content)
	if la != lb {
		return la > lb
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func hasNovel(other, base map[string]struct{}) bool {
	for t := range other {
		if _, ok := base[t]; !ok {
			return true
		}
	}
	return false
}

func noteFor(prev string, score float64, what string) string {
	n := fmt.Sprintf("%s (overlap %.2f)", what, score)
	if prev == "" {
		return n
	}
	return prev + "; " + n
}

// evict archives non-pinned entries beyond max, lowest access count first,
// then least recently updated, then smallest id.
func evict(kept []model.Memory, max int) ([]model.Memory, []string) {
	if max <= 0 || len(kept) <= max {
		return kept, nil
	}
	var candidates []model.Memory
	for _, m := range kept {
		if !m.Pinned {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	n := len(kept) - max
	if n > len(candidates) {
		n = len(candidates)
	}
	var evicted []string
	for _, m := range candidates[:n] {
		evicted = append(evicted, m.ID)
	}
	sort.Strings(evicted)
	gone := toSet(evicted)
	out := kept[:0:0]
	for _, m := range kept {
		if !gone[m.ID] {
			out = append(out, m)
		}
	}
	return out, evicted
}

// applySuggestion validates a refiner suggestion against the deterministic
// result and applies it to a copy. Unknown, repeated or pinned ids reject
// the whole suggestion.
func applySuggestion(base *Result, s *llm.Suggestion) (*Result, error) {
	byID := make(map[string]model.Memory, len(base.Kept))
	for _, m := range base.Kept {
		byID[m.ID] = m
	}
	used := map[string]bool{}
	claim := func(id string) (model.Memory, error) {
		m, ok := byID[id]
		if !ok {
			return m, fmt.Errorf("unknown id %q", id)
		}
		if m.Pinned {
			return m, fmt.Errorf("pinned entry %q cannot be changed", id)
		}
		if used[id] {
			return m, fmt.Errorf("id %q appears more than once", id)
		}
		used[id] = true
		return m, nil
	}

	out := &Result{
		Absorbed:   append([]string{}, base.Absorbed...),
		Evicted:    append([]string{}, base.Evicted...),
		Merges:     append([]Merge{}, base.Merges...),
		InputCount: base.InputCount,
	}
	updated := map[string]model.Memory{}
	for _, m := range base.Updated {
		updated[m.ID] = m
	}

	for _, g := range s.Merges {
		if len(g.IDs) < 2 {
			return nil, fmt.Errorf("merge group needs at least two ids, got %d", len(g.IDs))
		}
		if strings.TrimSpace(g.Content) == "" {
			return nil, fmt.Errorf("merge group %v has no content", g.IDs)
		}
		survivor, err := claim(g.IDs[0])
		if err != nil {
			return nil, err
		}
		content, err := store.SanitizeContent(g.Content)
		if err != nil {
			return nil, fmt.Errorf("merge into %s: %w", survivor.ID, err)
		}
		var absorbed []string
		for _, id := range g.IDs[1:] {
			m, err := claim(id)
			if err != nil {
				return nil, err
			}
			if m.UpdatedAt.After(survivor.UpdatedAt) {
				survivor.UpdatedAt = m.UpdatedAt
			}
			survivor.AccessCount += m.AccessCount
			absorbed = append(absorbed, id)
		}
		survivor.Content = content
		survivor.ContentHash = textutil.ContentHash(content)
		byID[survivor.ID] = survivor
		updated[survivor.ID] = survivor
		out.Absorbed = append(out.Absorbed, absorbed...)
		out.Merges = append(out.Merges, Merge{Survivor: survivor.ID, Absorbed: absorbed, Note: "merged by refiner"})
	}
	for _, id := range s.Drop {
		if _, err := claim(id); err != nil {
			return nil, err
		}
		out.Evicted = append(out.Evicted, id)
	}

	removed := toSet(out.Absorbed)
	for _, id := range out.Evicted {
		removed[id] = true
	}
	for _, m := range base.Kept {
		if removed[m.ID] {
			continue
		}
		out.Kept = append(out.Kept, byID[m.ID])
	}
	for _, m := range base.Kept {
		if u, ok := updated[m.ID]; ok && !removed[m.ID] {
			out.Updated = append(out.Updated, u)
		}
	}
	sort.Strings(out.Absorbed)
	sort.Strings(out.Evicted)
	out.RemovedIDs = append(append([]string{}, out.Absorbed...), out.Evicted...)
	sort.Strings(out.RemovedIDs)
	return out, nil
}

// sortEntries orders by category, pinned first, most recently updated, id.
func sortEntries(ms []model.Memory) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func filterOut(ms []model.Memory, gone map[string]bool) []model.Memory {
	var out []model.Memory
	for _, m := range ms {
		if !gone[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// Summary is a one-line description for logs and human output.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d in, %d kept", r.Mode, r.InputCount, len(r.Kept))
	if len(r.Absorbed) > 0 {
		fmt.Fprintf(&b, ", %d merged", len(r.Absorbed))
	}
	if len(r.Evicted) > 0 {
		fmt.Fprintf(&b, ", %d archived", len(r.Evicted))
	}
	if r.UsedFallback {
		b.WriteString(" (fallback)")
	}
	return b.String()
}
