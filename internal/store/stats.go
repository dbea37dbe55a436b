package store

import (
	"context"
	"os"
	"time"
)

// Stats holds memory statistics for a set of scopes.
type Stats struct {
	DBPath           string         `json:"db_path" yaml:"db_path"`
	DBSizeBytes      int64          `json:"db_size_bytes" yaml:"db_size_bytes"`
	Total            int            `json:"total" yaml:"total"`
	Pinned           int            `json:"pinned" yaml:"pinned"`
	Archived         int            `json:"archived" yaml:"archived"`
	ProjectCount     int            `json:"project_count" yaml:"project_count"`
	GlobalCount      int            `json:"global_count" yaml:"global_count"`
	PerCategory      map[string]int `json:"per_category" yaml:"per_category"`
	LastCompactionAt *time.Time     `json:"last_compaction_at" yaml:"last_compaction_at"`
	FTSEnabled       bool           `json:"fts_enabled" yaml:"fts_enabled"`
}

// globalScope mirrors workspace.GlobalScope without importing it.
const globalScope = "global"

// Stats returns counts for the given scopes; all scopes when scopes is empty.
func (s *SQLiteStore) Stats(ctx context.Context, scopes []string) (*Stats, error) {
	st := &Stats{DBPath: s.dbPath, PerCategory: map[string]int{}}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	where, args := scopeFilter("scope", scopes)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'active' AND pinned = 1),
			COUNT(*) FILTER (WHERE status = 'archived'),
			COUNT(*) FILTER (WHERE status = 'active' AND scope = ?)
		FROM memories WHERE 1 = 1`+where, append([]any{globalScope}, args...)...).
		Scan(&st.Total, &st.Pinned, &st.Archived, &st.GlobalCount)
	if err != nil {
		return nil, err
	}
	st.ProjectCount = st.Total - st.GlobalCount

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM memories
		WHERE status = 'active'`+where+`
		GROUP BY category ORDER BY category`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		st.PerCategory[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last *string
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM memory_compactions WHERE 1 = 1`+where, args...).Scan(&last); err != nil {
		return nil, err
	}
	if last != nil {
		if t, err := time.Parse(timeLayout, *last); err == nil {
			st.LastCompactionAt = &t
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'memories_fts'`).Scan(&n); err != nil {
		return nil, err
	}
	st.FTSEnabled = n > 0

	return st, nil
}
