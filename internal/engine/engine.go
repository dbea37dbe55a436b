// Package engine wires the memory components together behind one
// operation per tool. Every operation returns a Response envelope.
package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/memory-engine/internal/agentsync"
	"github.com/rcliao/memory-engine/internal/command"
	"github.com/rcliao/memory-engine/internal/compaction"
	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/llm"
	"github.com/rcliao/memory-engine/internal/store"
	"github.com/rcliao/memory-engine/internal/workspace"
)

// DBFileName is the database file under the storage root.
const DBFileName = "memory.sqlite"

// MaxPageSize caps list and search page sizes.
const MaxPageSize = 200

// Error kinds reported in the envelope.
const (
	KindParse          = "parse_error"
	KindValidation     = "validation_error"
	KindNotFound       = "not_found"
	KindPathViolation  = "path_violation"
	KindMarkerConflict = "sync_marker_conflict"
	KindStorage        = "storage_error"
)

// Response is the envelope returned by every operation.
type Response struct {
	OK      bool           `json:"ok"`
	Action  string         `json:"action"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Kind    string         `json:"error_kind,omitempty"`
	Details map[string]any `json:"error_details,omitempty"`

	// Text is the human rendering of the result.
	Text string `json:"-"`
}

// Options configures New.
type Options struct {
	Home      string
	Workspace string

	// Refiner overrides the provider built from config; see DisableLLM.
	Refiner    llm.Refiner
	DisableLLM bool
}

// Engine owns one store handle and the components around it.
type Engine struct {
	guard     *workspace.Guard
	scope     workspace.ScopeInfo
	configs   *config.Manager
	store     store.Store
	compactor *compaction.Engine
	syncer    *agentsync.Syncer
	seen      *hashRing
	now       func() time.Time

	mu      sync.RWMutex
	cfg     config.Config
	warning *config.Warning
}

// New opens the store under opts.Home for the workspace at opts.Workspace.
func New(ctx context.Context, opts Options) (*Engine, error) {
	guard, err := workspace.NewGuard(opts.Workspace)
	if err != nil {
		return nil, err
	}

	configs := config.NewManager(opts.Home)
	cfg, warning, err := configs.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	s, err := store.NewSQLiteStore(filepath.Join(opts.Home, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	refiner := opts.Refiner
	if refiner == nil && !opts.DisableLLM {
		refiner, err = llm.NewFromEnv(cfg.LLMCompaction)
		if err != nil {
			slog.Warn("compaction provider unavailable, deterministic fallback will be used",
				"provider", cfg.LLMCompaction.Provider, "error", err)
			refiner = llm.Failing(cfg.LLMCompaction.Provider+":"+cfg.LLMCompaction.Model, err)
		}
	}

	return &Engine{
		guard:     guard,
		scope:     guard.ProjectScope(ctx),
		configs:   configs,
		store:     s,
		compactor: compaction.New(refiner),
		syncer:    agentsync.New(),
		seen:      newHashRing(maxTrackedHashes),
		now:       time.Now,
		cfg:       cfg,
		warning:   warning,
	}, nil
}

// Close releases the store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// ConfigWarning reports a config recovery performed at startup, if any.
func (e *Engine) ConfigWarning() *config.Warning {
	return e.warning
}

// Scope returns the detected project scope.
func (e *Engine) Scope() workspace.ScopeInfo {
	return e.scope
}

// Store exposes the underlying store.
func (e *Engine) Store() store.Store {
	return e.store
}

// CheckPath verifies that a caller-supplied directory lies in the workspace.
func (e *Engine) CheckPath(path string) error {
	if path == "" {
		return nil
	}
	_, err := e.guard.Resolve(path)
	return err
}

func (e *Engine) scopes() []string {
	return []string{e.scope.Scope, workspace.GlobalScope}
}

// storeCtx bounds one store call by storage.timeoutMs.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ms := e.Config().Storage.TimeoutMs
	if ms <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}

// Failure wraps an error raised outside the engine (an adapter's own
// argument checks) in the same classified envelope.
func Failure(action string, err error) *Response {
	return fail(action, err)
}

func ok(action string, data any, text string) *Response {
	return &Response{OK: true, Action: action, Data: data, Text: text}
}

// fail classifies err into an error envelope.
func fail(action string, err error) *Response {
	r := &Response{Action: action, Error: err.Error(), Kind: KindStorage}

	var (
		pe *command.ParseError
		ve *store.ValidationError
		ae *store.AmbiguousIDError
		pv *workspace.PathViolation
		mc *agentsync.MarkerConflictError
	)
	switch {
	case errors.As(err, &pe):
		r.Kind = KindParse
		r.Details = map[string]any{"token": pe.Token, "pos": pe.Pos}
	case errors.As(err, &ve):
		r.Kind = KindValidation
		r.Details = map[string]any{"field": ve.Field}
	case errors.As(err, &ae):
		r.Kind = KindValidation
		r.Details = map[string]any{"prefix": ae.Prefix, "candidates": ae.Candidates}
	case errors.Is(err, store.ErrNotFound):
		r.Kind = KindNotFound
	case errors.As(err, &pv):
		r.Kind = KindPathViolation
		r.Details = map[string]any{"path": pv.Input}
	case errors.As(err, &mc):
		r.Kind = KindMarkerConflict
		r.Details = map[string]any{"path": mc.Path, "starts": mc.Starts, "ends": mc.Ends}
	}
	r.Text = "error: " + r.Error
	return r
}

func invalid(field, format string, args ...any) error {
	return &store.ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// EncodeCursor returns the opaque token for a page offset.
func EncodeCursor(offset int) string {
	return base64.RawStdEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

// DecodeCursor parses a token from EncodeCursor. Empty means offset 0.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(cursor, "="))
	if err != nil {
		return 0, invalid("cursor", "malformed token %q", cursor)
	}
	v, found := strings.CutPrefix(string(raw), "o:")
	if !found {
		return 0, invalid("cursor", "malformed token %q", cursor)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalid("cursor", "malformed token %q", cursor)
	}
	return n, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return limit
}

func nextCursor(offset, n int, hasMore bool) string {
	if !hasMore {
		return ""
	}
	return EncodeCursor(offset + n)
}
