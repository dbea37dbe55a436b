// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/memory-engine/internal/model"
)

// ErrNotFound is returned when the target id does not exist.
var ErrNotFound = errors.New("memory not found")

// ValidationError rejects bad entry content or metadata.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// AmbiguousIDError is returned when an id prefix matches several entries.
type AmbiguousIDError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("multiple memories match %q: %s", e.Prefix, strings.Join(e.Candidates, ", "))
}

// AddParams holds parameters for storing a memory.
type AddParams struct {
	Scope    string
	Category model.Category
	Content  string
	Origin   model.Origin
	Pinned   bool
}

// AddOutcome tells whether Add inserted a row or matched an existing one.
type AddOutcome string

const (
	Added   AddOutcome = "added"
	Deduped AddOutcome = "deduped"
)

// AddResult is the stored (or already present) entry.
type AddResult struct {
	Outcome AddOutcome   `json:"result"`
	Memory  model.Memory `json:"memory"`
}

// ListParams holds parameters for listing memories.
type ListParams struct {
	Scopes     []string
	Category   string // glob pattern, e.g. "pref*"
	PinnedOnly bool
	Limit      int
	Offset     int
}

// Page is one window of an ordered result.
type Page struct {
	Items   []model.Memory `json:"items"`
	HasMore bool           `json:"has_more"`
}

// SearchParams holds parameters for ranked search.
type SearchParams struct {
	Scopes      []string
	Query       string
	Limit       int
	Offset      int
	PinnedBoost float64
	MinScore    float64
}

// CompactionPlan is the set of changes a compaction pass commits for one scope.
type CompactionPlan struct {
	Scope    string
	Updated  []model.Memory
	Deleted  []string
	Archived []string
	Log      CompactionLog
}

// CompactionLog is one row of the compaction history.
type CompactionLog struct {
	ID           string    `json:"id"`
	Scope        string    `json:"scope"`
	Mode         string    `json:"mode"`
	UsedFallback bool      `json:"used_fallback"`
	InputCount   int       `json:"input_count"`
	OutputCount  int       `json:"output_count"`
	RemovedCount int       `json:"removed_count"`
	Model        string    `json:"model,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Details      string    `json:"details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store defines the memory storage interface.
type Store interface {
	// Add validates and stores a memory, or returns the active duplicate.
	Add(ctx context.Context, p AddParams) (*AddResult, error)

	// Get returns one entry and counts the access.
	Get(ctx context.Context, id string) (*model.Memory, error)

	// ResolveID maps an id or unique id prefix to a full id.
	ResolveID(ctx context.Context, idOrPrefix string, scopes []string) (string, error)

	// List returns active entries, pinned first then most recently updated.
	List(ctx context.Context, p ListParams) (*Page, error)

	// Search ranks active entries by query token overlap.
	Search(ctx context.Context, p SearchParams) ([]SearchResult, bool, error)

	// Delete removes an entry.
	Delete(ctx context.Context, id string) error

	// SetPinned sets the pinned flag; changed is false when already at value.
	SetPinned(ctx context.Context, id string, pinned bool) (changed bool, err error)

	// Stats summarizes the given scopes.
	Stats(ctx context.Context, scopes []string) (*Stats, error)

	// ApplyCompaction commits a compaction plan atomically.
	ApplyCompaction(ctx context.Context, plan CompactionPlan) error

	// RecordCompaction logs a compaction run that changed nothing.
	RecordCompaction(ctx context.Context, log CompactionLog) error

	// LastCompaction returns the newest compaction log row for scope, or nil.
	LastCompaction(ctx context.Context, scope string) (*CompactionLog, error)

	// ActiveScopes lists scopes holding active entries.
	ActiveScopes(ctx context.Context) ([]string, error)

	// ExportAll returns active entries, all scopes when scopes is nil.
	ExportAll(ctx context.Context, scopes []string) ([]model.Memory, error)

	// Import adds entries from an export.
	Import(ctx context.Context, memories []model.Memory) (*ImportResult, error)

	// InjectionCandidates returns project entries and pinned global entries.
	InjectionCandidates(ctx context.Context, projectScope string, limit int) ([]model.Memory, error)

	// Refresh rebuilds the search index, prunes old events and optimizes.
	Refresh(ctx context.Context, eventDays int) (*RefreshResult, error)

	// Close closes the store.
	Close() error
}
