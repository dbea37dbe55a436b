// Package agentsync keeps a managed memory block inside a project document
// such as AGENTS.md. Only the bytes between the markers are ever rewritten.
package agentsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/render"
	"github.com/rcliao/memory-engine/internal/workspace"
)

const (
	StartMarker = "<!-- codex-extra-memory:start v1 -->"
	EndMarker   = "<!-- codex-extra-memory:end -->"

	// DocumentName is the document synced inside a workspace.
	DocumentName = "AGENTS.md"
)

// MarkerConflictError means the document's markers are not a single
// well-ordered pair. The document is left untouched.
type MarkerConflictError struct {
	Path   string
	Starts int
	Ends   int
}

func (e *MarkerConflictError) Error() string {
	return fmt.Sprintf("%s: found %d start and %d end memory markers; fix the document by hand", e.Path, e.Starts, e.Ends)
}

// Action describes what a sync did to the document.
type Action string

const (
	Created   Action = "created"
	Updated   Action = "updated"
	Removed   Action = "removed"
	Unchanged Action = "unchanged"
)

// Result reports the outcome of one sync.
type Result struct {
	Path    string `json:"path"`
	Action  Action `json:"action"`
	Changed bool   `json:"changed"`
	Entries int    `json:"entries"`
	Bytes   int    `json:"bytes"`
}

// View is the memory set to render and its display bounds.
type View struct {
	Entries      []model.Memory
	ProjectScope string
	MaxItems     int
	MaxChars     int
}

// Syncer serializes syncs per document. Different documents sync
// independently.
type Syncer struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func New() *Syncer {
	return &Syncer{locks: map[string]*semaphore.Weighted{}}
}

func (s *Syncer) lockFor(path string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.locks[path] = l
	}
	return l
}

// Sync renders view into the managed block of docPath. A missing document
// is treated as empty; an empty view removes an existing block. The file is
// written only when its bytes change.
func (s *Syncer) Sync(ctx context.Context, view View, docPath string) (*Result, error) {
	lock := s.lockFor(filepath.Clean(docPath))
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer lock.Release(1)

	existing, err := os.ReadFile(docPath)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", docPath, err)
	}

	block := render.InjectionBlock(view.Entries, view.ProjectScope, view.MaxItems, view.MaxChars)
	section := ""
	entries := 0
	if block != "" {
		section = Section(block)
		entries = strings.Count(block, "\n- ")
	}

	next, err := Splice(existing, section)
	if err != nil {
		var mc *MarkerConflictError
		if errors.As(err, &mc) {
			mc.Path = docPath
		}
		return nil, err
	}

	res := &Result{Path: docPath, Entries: entries, Bytes: len(next)}
	if bytes.Equal(next, existing) {
		res.Action = Unchanged
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := workspace.WriteFile(docPath, next); err != nil {
		return nil, err
	}
	res.Changed = true
	switch {
	case !exists:
		res.Action = Created
	case section == "":
		res.Action = Removed
	default:
		res.Action = Updated
	}
	return res, nil
}

// Section wraps a rendered block in the markers.
func Section(block string) string {
	return StartMarker + "\n" + block + "\n" + EndMarker
}

// Splice places section into doc. With one marker pair the inclusive span
// is replaced; with none the section is appended after a blank line. An
// empty section removes the span. Bytes outside the span are preserved.
func Splice(doc []byte, section string) ([]byte, error) {
	text := string(doc)
	starts := strings.Count(text, StartMarker)
	ends := strings.Count(text, EndMarker)

	switch {
	case starts == 0 && ends == 0:
		if section == "" {
			return doc, nil
		}
		var b strings.Builder
		b.WriteString(text)
		switch {
		case text == "" || strings.HasSuffix(text, "\n\n"):
		case strings.HasSuffix(text, "\n"):
			b.WriteString("\n")
		default:
			b.WriteString("\n\n")
		}
		b.WriteString(section)
		b.WriteString("\n")
		return []byte(b.String()), nil

	case starts == 1 && ends == 1:
		start := strings.Index(text, StartMarker)
		end := strings.Index(text, EndMarker)
		if end < start {
			return nil, &MarkerConflictError{Starts: starts, Ends: ends}
		}
		before := text[:start]
		after := text[end+len(EndMarker):]
		if section != "" {
			return []byte(before + section + after), nil
		}
		after = strings.TrimPrefix(after, "\n")
		if strings.HasSuffix(before, "\n\n") {
			before = before[:len(before)-1]
		}
		out := before + after
		if strings.TrimSpace(out) == "" {
			out = ""
		}
		return []byte(out), nil
	}
	return nil, &MarkerConflictError{Starts: starts, Ends: ends}
}
