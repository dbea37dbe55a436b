package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/memory-engine/internal/textutil"
)

// ErrStalePlan is returned when a compaction plan references an entry that
// changed since the plan was computed. Nothing is written.
var ErrStalePlan = errors.New("compaction plan is stale")

// ApplyCompaction commits a plan in one transaction: absorbed entries are
// deleted, evicted entries archived, merged entries rewritten and the run
// logged. Pinned entries are never touched.
func (s *SQLiteStore) ApplyCompaction(ctx context.Context, plan CompactionPlan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range plan.Deleted {
		if err := expectOne(tx.ExecContext(ctx,
			`DELETE FROM memories WHERE id = ? AND scope = ? AND pinned = 0 AND status = 'active'`,
			id, plan.Scope)); err != nil {
			return fmt.Errorf("absorb %s: %w", id, err)
		}
		if err := s.addEvent(ctx, tx, id, "compact_absorb", map[string]any{"run": plan.Log.ID}); err != nil {
			return err
		}
	}

	for _, id := range plan.Archived {
		if err := expectOne(tx.ExecContext(ctx,
			`UPDATE memories SET status = 'archived' WHERE id = ? AND scope = ? AND pinned = 0 AND status = 'active'`,
			id, plan.Scope)); err != nil {
			return fmt.Errorf("archive %s: %w", id, err)
		}
		if err := s.addEvent(ctx, tx, id, "compact_archive", map[string]any{"run": plan.Log.ID}); err != nil {
			return err
		}
	}

	for _, m := range plan.Updated {
		content, err := SanitizeContent(m.Content)
		if err != nil {
			return err
		}
		if err := expectOne(tx.ExecContext(ctx,
			`UPDATE memories SET content = ?, content_hash = ?, access_count = ?, updated_at = ?
			 WHERE id = ? AND scope = ? AND pinned = 0 AND status = 'active'`,
			content, textutil.ContentHash(content), m.AccessCount, m.UpdatedAt.UTC().Format(timeLayout),
			m.ID, plan.Scope)); err != nil {
			return fmt.Errorf("merge into %s: %w", m.ID, err)
		}
		if err := s.addEvent(ctx, tx, m.ID, "compact_merge", map[string]any{"run": plan.Log.ID}); err != nil {
			return err
		}
	}

	log := plan.Log
	log.Scope = plan.Scope
	if err := s.insertCompaction(ctx, tx, &log); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordCompaction logs a compaction run without changing entries.
func (s *SQLiteStore) RecordCompaction(ctx context.Context, log CompactionLog) error {
	return s.insertCompaction(ctx, s.db, &log)
}

// LastCompaction returns the newest log row for scope, or nil when none.
func (s *SQLiteStore) LastCompaction(ctx context.Context, scope string) (*CompactionLog, error) {
	var l CompactionLog
	var fallback int
	var model, reason, details sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scope, mode, used_fallback, input_count, output_count, removed_count, model, reason, details, created_at
		 FROM memory_compactions WHERE scope = ? ORDER BY created_at DESC, id DESC LIMIT 1`, scope).
		Scan(&l.ID, &l.Scope, &l.Mode, &fallback, &l.InputCount, &l.OutputCount, &l.RemovedCount,
			&model, &reason, &details, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.UsedFallback = fallback != 0
	l.Model = model.String
	l.Reason = reason.String
	l.Details = details.String
	l.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &l, nil
}

func (s *SQLiteStore) insertCompaction(ctx context.Context, ex execer, l *CompactionLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO memory_compactions (id, scope, mode, used_fallback, input_count, output_count, removed_count, model, reason, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Scope, l.Mode, boolInt(l.UsedFallback), l.InputCount, l.OutputCount, l.RemovedCount,
		nullable(l.Model), nullable(l.Reason), nullable(l.Details), l.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("log compaction: %w", err)
	}
	return nil
}

func expectOne(r sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrStalePlan
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
