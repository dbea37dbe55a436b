package store

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestSearchScoring(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	stepClock(s)

	full := mustAdd(t, s, AddParams{Content: "Use pnpm for installs"})
	half := mustAdd(t, s, AddParams{Content: "pnpm workspaces are configured"})
	mustAdd(t, s, AddParams{Content: "Run go test before commit"})

	results, more, err := s.Search(ctx, SearchParams{Scopes: []string{testScope}, Query: "use PNPM", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if more {
		t.Error("expected no more results")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != full.ID || results[0].Score != 1 {
		t.Errorf("expected full match first with score 1, got %s %.2f", results[0].ID, results[0].Score)
	}
	if results[1].ID != half.ID || results[1].Score != 0.5 {
		t.Errorf("expected half match second with score 0.5, got %s %.2f", results[1].ID, results[1].Score)
	}
	if results[0].AccessCount != 1 {
		t.Errorf("expected access_count 1 on hit, got %d", results[0].AccessCount)
	}
}

func TestSearchPinnedBoost(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	stepClock(s)

	pinned := mustAdd(t, s, AddParams{Content: "pnpm only", Pinned: true})
	mustAdd(t, s, AddParams{Content: "use pnpm here"})

	results, _, err := s.Search(ctx, SearchParams{Query: "use pnpm", PinnedBoost: 0.75})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != pinned.ID {
		t.Errorf("expected boosted pinned entry first, got %q", results[0].Content)
	}
	if math.Abs(results[0].Score-1.25) > 1e-9 {
		t.Errorf("expected score 1.25, got %f", results[0].Score)
	}
}

func TestSearchTieBreak(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	stepClock(s)

	older := mustAdd(t, s, AddParams{Content: "lint with golangci"})
	newer := mustAdd(t, s, AddParams{Content: "lint before push"})

	results, _, _ := s.Search(ctx, SearchParams{Query: "lint"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != newer.ID || results[1].ID != older.ID {
		t.Errorf("expected newer entry first on tie")
	}
}

func TestSearchPunctuatedTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := mustAdd(t, s, AddParams{Content: "Never edit go.mod by hand"})
	mustAdd(t, s, AddParams{Content: "go fmt everything"})

	results, _, err := s.Search(ctx, SearchParams{Query: "go.mod"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != m.ID {
		t.Errorf("expected only the go.mod entry, got %+v", results)
	}
}

func TestSearchPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	stepClock(s)

	for _, c := range []string{"deploy one", "deploy two", "deploy three"} {
		mustAdd(t, s, AddParams{Content: c})
	}

	first, more, _ := s.Search(ctx, SearchParams{Query: "deploy", Limit: 2})
	if len(first) != 2 || !more {
		t.Fatalf("expected 2 results with more, got %d %v", len(first), more)
	}
	rest, more, _ := s.Search(ctx, SearchParams{Query: "deploy", Limit: 2, Offset: 2})
	if len(rest) != 1 || more {
		t.Fatalf("expected 1 remaining result, got %d %v", len(rest), more)
	}
	if rest[0].Content != "deploy one" {
		t.Errorf("expected oldest last, got %q", rest[0].Content)
	}
}

func TestSearchScopesAndEmptyQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustAdd(t, s, AddParams{Scope: "global", Content: "global pnpm note"})
	results, _, _ := s.Search(ctx, SearchParams{Scopes: []string{testScope}, Query: "pnpm"})
	if len(results) != 0 {
		t.Errorf("expected no results outside scope, got %d", len(results))
	}

	_, _, err := s.Search(ctx, SearchParams{Query: "  !! "})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for empty query, got %v", err)
	}
}
