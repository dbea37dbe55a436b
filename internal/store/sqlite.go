package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/textutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MaxContentLen bounds entry content in characters.
const MaxContentLen = 1200

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const memoryColumns = `id, scope, category, content, content_hash, pinned, origin, status,
	access_count, created_at, updated_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	mu      sync.Mutex
	entropy *rand.Rand
	now     func() time.Time
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		dbPath:  dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     func() time.Time { return time.Now().UTC() },
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		base := filepath.Base(name)
		version, err := strconv.Atoi(strings.SplitN(base, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("migration %s: bad version prefix", base)
		}
		if version <= current {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", base, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
			version, s.now().Format(timeLayout)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeContent normalizes whitespace and checks length and secrets.
func SanitizeContent(raw string) (string, error) {
	content := textutil.Normalize(raw)
	if content == "" {
		return "", &ValidationError{Field: "content", Msg: "must not be empty"}
	}
	if textutil.RuneLen(content) > MaxContentLen {
		return "", &ValidationError{Field: "content", Msg: fmt.Sprintf("longer than %d characters", MaxContentLen)}
	}
	if textutil.LooksSecret(content) {
		return "", &ValidationError{Field: "content", Msg: "looks like a secret or credential; refusing to store it"}
	}
	return content, nil
}

func (s *SQLiteStore) Add(ctx context.Context, p AddParams) (*AddResult, error) {
	content, err := SanitizeContent(p.Content)
	if err != nil {
		return nil, err
	}
	category, err := model.ParseCategory(string(p.Category))
	if err != nil {
		return nil, &ValidationError{Field: "category", Msg: err.Error()}
	}
	scope := strings.TrimSpace(p.Scope)
	if scope == "" {
		return nil, &ValidationError{Field: "scope", Msg: "must not be empty"}
	}
	origin := p.Origin
	if origin == "" {
		origin = model.OriginManual
	}
	if !model.ValidOrigins[origin] {
		return nil, &ValidationError{Field: "origin", Msg: fmt.Sprintf("unknown origin %q", origin)}
	}
	hash := textutil.ContentHash(content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := scanMemory(tx.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE scope = ? AND content_hash = ? AND status = 'active'`, scope, hash))
	if err == nil {
		return &AddResult{Outcome: Deduped, Memory: existing}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	now := s.now()
	m := model.Memory{
		ID:          s.newID(),
		Scope:       scope,
		Category:    category,
		Content:     content,
		ContentHash: hash,
		Pinned:      p.Pinned,
		Origin:      origin,
		Status:      model.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (id, scope, category, content, content_hash, pinned, origin, status, access_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'active', 0, ?, ?)`,
		m.ID, m.Scope, string(m.Category), m.Content, m.ContentHash, boolInt(m.Pinned), string(m.Origin),
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	if err := s.addEvent(ctx, tx, m.ID, "add", map[string]any{
		"scope": m.Scope, "category": m.Category, "origin": m.Origin, "pinned": m.Pinned,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &AddResult{Outcome: Added, Memory: m}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	m, err := scanMemory(s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		s.now().Format(timeLayout), id); err != nil {
		return nil, fmt.Errorf("track access: %w", err)
	}
	m.AccessCount++
	return &m, nil
}

func (s *SQLiteStore) ResolveID(ctx context.Context, idOrPrefix string, scopes []string) (string, error) {
	prefix := strings.ToUpper(strings.TrimSpace(idOrPrefix))
	if prefix == "" {
		return "", &ValidationError{Field: "id", Msg: "must not be empty"}
	}
	if strings.ContainsAny(prefix, `%_\`) {
		return "", ErrNotFound
	}

	where, args := scopeFilter("scope", scopes)
	args = append([]any{prefix + "%"}, args...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE id LIKE ? AND status = 'active'`+where+` ORDER BY id LIMIT 6`, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		if id == prefix {
			return id, nil
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", ErrNotFound
	case 1:
		return ids[0], nil
	default:
		return "", &AmbiguousIDError{Prefix: idOrPrefix, Candidates: ids}
	}
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m, err := scanMemory(tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if err := s.addEvent(ctx, tx, id, "delete", map[string]any{
		"scope": m.Scope, "category": m.Category, "content_hash": m.ContentHash,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetPinned(ctx context.Context, id string, pinned bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT pinned FROM memories WHERE id = ? AND status = 'active'`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if (current != 0) == pinned {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE memories SET pinned = ? WHERE id = ?`, boolInt(pinned), id); err != nil {
		return false, fmt.Errorf("set pinned: %w", err)
	}
	action := "unpin"
	if pinned {
		action = "pin"
	}
	if err := s.addEvent(ctx, tx, id, action, nil); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) ActiveScopes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT scope FROM memories WHERE status = 'active' ORDER BY scope`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// Refresh rebuilds the FTS index, prunes events older than eventDays and
// runs PRAGMA optimize.
func (s *SQLiteStore) Refresh(ctx context.Context, eventDays int) (*RefreshResult, error) {
	res := &RefreshResult{}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`); err != nil {
		return nil, fmt.Errorf("rebuild fts: %w", err)
	}
	res.IndexRebuilt = true

	if eventDays > 0 {
		cutoff := s.now().AddDate(0, 0, -eventDays).Format(timeLayout)
		r, err := s.db.ExecContext(ctx, `DELETE FROM memory_events WHERE created_at < ?`, cutoff)
		if err != nil {
			return nil, fmt.Errorf("prune events: %w", err)
		}
		n, _ := r.RowsAffected()
		res.PrunedEvents = int(n)
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	return res, nil
}

// RefreshResult reports what store maintenance did.
type RefreshResult struct {
	IndexRebuilt bool `json:"index_rebuilt"`
	PrunedEvents int  `json:"pruned_events"`
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) addEvent(ctx context.Context, ex execer, memoryID, action string, payload any) error {
	var body *string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		str := string(b)
		body = &str
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO memory_events (id, memory_id, action, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), memoryID, action, body, s.now().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record %s event: %w", action, err)
	}
	return nil
}

// scopeFilter returns an " AND col IN (...)" clause, empty when scopes is empty.
func scopeFilter(col string, scopes []string) (string, []any) {
	if len(scopes) == 0 {
		return "", nil
	}
	marks := make([]string, len(scopes))
	args := make([]any, len(scopes))
	for i, sc := range scopes {
		marks[i] = "?"
		args[i] = sc
	}
	return " AND " + col + " IN (" + strings.Join(marks, ", ") + ")", args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var category, origin, status, createdAt, updatedAt string
	var pinned int

	err := row.Scan(
		&m.ID, &m.Scope, &category, &m.Content, &m.ContentHash, &pinned,
		&origin, &status, &m.AccessCount, &createdAt, &updatedAt,
	)
	if err != nil {
		return m, err
	}

	m.Category = model.Category(category)
	m.Origin = model.Origin(origin)
	m.Status = model.Status(status)
	m.Pinned = pinned != 0
	m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	m.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return m, nil
}

func queryMemories(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Memory, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
