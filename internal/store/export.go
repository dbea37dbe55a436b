package store

import (
	"context"
	"errors"

	"github.com/rcliao/memory-engine/internal/model"
)

// ImportResult counts what Import did with each entry.
type ImportResult struct {
	Imported int      `json:"imported"`
	Deduped  int      `json:"deduped"`
	Skipped  int      `json:"skipped"`
	Problems []string `json:"problems,omitempty"`
}

// ExportAll returns all active memories, optionally restricted to scopes.
func (s *SQLiteStore) ExportAll(ctx context.Context, scopes []string) ([]model.Memory, error) {
	where, args := scopeFilter("scope", scopes)
	memories, err := queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories WHERE status = 'active'`+where+`
		 ORDER BY scope, pinned DESC, updated_at DESC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	return memories, nil
}

// Import stores memories from an export. Duplicates of active entries are
// counted, invalid entries are skipped with a note.
func (s *SQLiteStore) Import(ctx context.Context, memories []model.Memory) (*ImportResult, error) {
	res := &ImportResult{}
	for _, m := range memories {
		r, err := s.Add(ctx, AddParams{
			Scope:    m.Scope,
			Category: m.Category,
			Content:  m.Content,
			Origin:   m.Origin,
			Pinned:   m.Pinned,
		})
		var verr *ValidationError
		if errors.As(err, &verr) {
			res.Skipped++
			res.Problems = append(res.Problems, m.ID+": "+verr.Error())
			continue
		}
		if err != nil {
			return res, err
		}
		if r.Outcome == Deduped {
			res.Deduped++
		} else {
			res.Imported++
		}
	}
	return res, nil
}
