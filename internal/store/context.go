package store

import (
	"context"

	"github.com/rcliao/memory-engine/internal/model"
)

// InjectionCandidates returns the entries eligible for the agent's context:
// every active entry of projectScope plus pinned global entries, pinned
// first, then most recently updated.
func (s *SQLiteStore) InjectionCandidates(ctx context.Context, projectScope string, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	memories, err := queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE status = 'active' AND (scope = ? OR (scope = ? AND pinned = 1))
		 ORDER BY pinned DESC, updated_at DESC, id ASC
		 LIMIT ?`, projectScope, globalScope, limit)
	if err != nil {
		return nil, err
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	return memories, nil
}
