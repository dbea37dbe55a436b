package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/gobwas/glob"

	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/textutil"
)

// SearchResult wraps a memory with its relevance score.
type SearchResult struct {
	model.Memory
	Score float64 `json:"score"`
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) (*Page, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	var match glob.Glob
	if pattern := strings.ToLower(strings.TrimSpace(p.Category)); pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, &ValidationError{Field: "category", Msg: fmt.Sprintf("bad pattern %q: %v", p.Category, err)}
		}
		match = g
	}

	where, args := scopeFilter("scope", p.Scopes)
	if p.PinnedOnly {
		where += " AND pinned = 1"
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE status = 'active'` + where +
		` ORDER BY pinned DESC, updated_at DESC, id ASC`
	if match == nil {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit+1, offset)
	}

	memories, err := queryMemories(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}

	if match != nil {
		filtered := memories[:0]
		for _, m := range memories {
			if match.Match(string(m.Category)) {
				filtered = append(filtered, m)
			}
		}
		memories = window(filtered, offset, limit+1)
	}

	page := &Page{Items: memories}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.HasMore = true
	}
	if page.Items == nil {
		page.Items = []model.Memory{}
	}
	return page, nil
}

// Search ranks active entries by the fraction of distinct query tokens found
// in their content, plus PinnedBoost for pinned entries. Ties go to the more
// recently updated entry, then the smaller id.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, bool, error) {
	query := textutil.TokenSet(p.Query)
	if len(query) == 0 {
		return nil, false, &ValidationError{Field: "query", Msg: "must contain at least one word"}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	candidates, err := s.searchCandidates(ctx, query, p.Scopes)
	if err != nil {
		return nil, false, err
	}

	var results []SearchResult
	for _, m := range candidates {
		score := textutil.Coverage(query, textutil.TokenSet(m.Content))
		if score == 0 || score < p.MinScore {
			continue
		}
		if m.Pinned {
			score += p.PinnedBoost
		}
		results = append(results, SearchResult{Memory: m, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	results = window(results, offset, limit+1)
	hasMore := len(results) > limit
	if hasMore {
		results = results[:limit]
	}
	if err := s.touch(ctx, results); err != nil {
		return nil, false, err
	}
	return results, hasMore, nil
}

// searchCandidates narrows the scan with the FTS index and falls back to LIKE
// when a token cannot be expressed as an FTS phrase or the query fails.
func (s *SQLiteStore) searchCandidates(ctx context.Context, query map[string]struct{}, scopes []string) ([]model.Memory, error) {
	tokens := make([]string, 0, len(query))
	for t := range query {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	where, scopeArgs := scopeFilter("m.scope", scopes)

	if ftsSafe(tokens) {
		phrases := make([]string, len(tokens))
		for i, t := range tokens {
			phrases[i] = `"` + t + `"`
		}
		args := append([]any{strings.Join(phrases, " OR ")}, scopeArgs...)
		memories, err := queryMemories(ctx, s.db,
			`SELECT m.id, m.scope, m.category, m.content, m.content_hash, m.pinned, m.origin, m.status,
			        m.access_count, m.created_at, m.updated_at
			 FROM memories_fts f JOIN memories m ON m.rowid = f.rowid
			 WHERE memories_fts MATCH ? AND m.status = 'active'`+where, args...)
		if err == nil {
			return memories, nil
		}
		slog.Debug("fts prefilter failed, using LIKE", "err", err)
	}

	likes := make([]string, len(tokens))
	args := make([]any, 0, len(tokens)+len(scopeArgs))
	for i, t := range tokens {
		likes[i] = `lower(m.content) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(t)+"%")
	}
	args = append(args, scopeArgs...)
	return queryMemories(ctx, s.db,
		`SELECT m.id, m.scope, m.category, m.content, m.content_hash, m.pinned, m.origin, m.status,
		        m.access_count, m.created_at, m.updated_at
		 FROM memories m
		 WHERE m.status = 'active' AND (`+strings.Join(likes, " OR ")+`)`+where, args...)
}

func (s *SQLiteStore) touch(ctx context.Context, results []SearchResult) error {
	if len(results) == 0 {
		return nil
	}
	marks := make([]string, len(results))
	args := []any{s.now().Format(timeLayout)}
	for i := range results {
		marks[i] = "?"
		args = append(args, results[i].ID)
		results[i].AccessCount++
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		 WHERE id IN (`+strings.Join(marks, ", ")+`)`, args...)
	if err != nil {
		return fmt.Errorf("track access: %w", err)
	}
	return nil
}

// ftsSafe reports whether every token is made of letters and digits only, so
// the FTS tokenizer sees it the same way Tokens does.
func ftsSafe(tokens []string) bool {
	for _, t := range tokens {
		for _, r := range t {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func window[T any](items []T, offset, n int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > n {
		items = items[:n]
	}
	return items
}
