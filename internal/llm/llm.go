// Package llm provides pluggable refiners that ask a language model to
// tighten a compacted set of memory entries.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/model"
)

var (
	// ErrUnavailable means the provider could not be reached or refused.
	ErrUnavailable = errors.New("refiner unavailable")
	// ErrInvalidResponse means the provider answered with something unusable.
	ErrInvalidResponse = errors.New("invalid refiner response")
)

// Suggestion is a refiner's proposal: merge groups and ids to drop.
type Suggestion struct {
	Merges []MergeGroup `json:"merges"`
	Drop   []string     `json:"drop"`
}

// MergeGroup folds IDs into IDs[0] with the given content.
type MergeGroup struct {
	IDs     []string `json:"ids"`
	Content string   `json:"content"`
}

// Request is the input of one refinement pass.
type Request struct {
	Scope          string
	Entries        []model.Memory
	MaxOutputChars int
}

// Refiner proposes compaction changes for one scope.
type Refiner interface {
	Refine(ctx context.Context, req Request) (*Suggestion, error)
	Name() string
}

const systemPrompt = `You maintain a list of persistent memory entries for a coding assistant.
Merge entries that say the same thing and drop entries that are obsolete or contradicted by newer ones.
Never merge or drop an entry whose "pinned" field is true.
Reply with a JSON object only:
{"merges": [{"ids": ["<kept id>", "<absorbed id>", ...], "content": "<merged text>"}], "drop": ["<id>", ...]}
The first id of each merge keeps its identity. Merged content must be one concise sentence.
Reply with {"merges": [], "drop": []} when nothing should change.`

type promptEntry struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Content   string `json:"content"`
	Pinned    bool   `json:"pinned"`
	UpdatedAt string `json:"updated_at"`
}

func userPrompt(req Request) (string, error) {
	entries := make([]promptEntry, len(req.Entries))
	for i, m := range req.Entries {
		entries[i] = promptEntry{
			ID:        m.ID,
			Category:  string(m.Category),
			Content:   m.Content,
			Pinned:    m.Pinned,
			UpdatedAt: m.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	b, err := json.Marshal(map[string]any{"scope": req.Scope, "entries": entries})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseSuggestion decodes a model reply, tolerating a surrounding code fence.
func ParseSuggestion(text string, maxChars int) (*Suggestion, error) {
	text = strings.TrimSpace(text)
	if maxChars > 0 && len([]rune(text)) > maxChars {
		return nil, fmt.Errorf("%w: reply longer than %d characters", ErrInvalidResponse, maxChars)
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrInvalidResponse)
	}
	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	for _, g := range s.Merges {
		if len(g.IDs) < 2 || strings.TrimSpace(g.Content) == "" {
			return nil, fmt.Errorf("%w: merge group needs two ids and content", ErrInvalidResponse)
		}
	}
	return &s, nil
}

// New builds the refiner named by the llmCompaction config. A disabled
// config yields (nil, nil).
func New(c config.LLMCompactionConfig) (Refiner, error) {
	if !c.Enabled {
		return nil, nil
	}
	switch c.Provider {
	case "openai":
		p, err := NewOpenAI("", WithModel(c.Model))
		if err != nil {
			return nil, err
		}
		return p, nil
	case "ollama":
		return NewOllama(c.Model), nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrUnavailable, c.Provider)
}

// NewFromEnv lets MEMORY_ENGINE_LLM_PROVIDER and MEMORY_ENGINE_LLM_MODEL
// override the configured provider.
func NewFromEnv(c config.LLMCompactionConfig) (Refiner, error) {
	if p := os.Getenv("MEMORY_ENGINE_LLM_PROVIDER"); p != "" {
		if p == "none" {
			return nil, nil
		}
		c.Provider = p
	}
	if m := os.Getenv("MEMORY_ENGINE_LLM_MODEL"); m != "" {
		c.Model = m
	}
	return New(c)
}

// Failing returns a refiner whose every call fails with ErrUnavailable and
// err as the cause. It stands in for a provider that could not be built.
func Failing(name string, err error) Refiner {
	return failing{name: name, err: err}
}

type failing struct {
	name string
	err  error
}

func (f failing) Name() string { return f.name }

func (f failing) Refine(context.Context, Request) (*Suggestion, error) {
	if errors.Is(f.err, ErrUnavailable) {
		return nil, f.err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, f.err)
}
