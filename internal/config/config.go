// Package config loads, validates and repairs the engine configuration stored
// as config.json under the storage root.
package config

import (
	"fmt"
	"strings"
)

// Scope targets for auto-captured memories.
const (
	ScopeProject = "project"
	ScopeGlobal  = "global"
)

// Config is the engine configuration. Field names map to camelCase JSON keys.
type Config struct {
	Injection     InjectionConfig     `json:"injection"`
	ListLimit     int                 `json:"listLimit"`
	SearchLimit   int                 `json:"searchLimit"`
	Search        SearchConfig        `json:"search"`
	AutoCapture   AutoCaptureConfig   `json:"autoCapture"`
	Compaction    CompactionConfig    `json:"compaction"`
	LLMCompaction LLMCompactionConfig `json:"llmCompaction"`
	Retention     RetentionConfig     `json:"retention"`
	Storage       StorageConfig       `json:"storage"`
}

type InjectionConfig struct {
	MaxItems int `json:"maxItems"`
	MaxChars int `json:"maxChars"`
}

type SearchConfig struct {
	PinnedBoost float64 `json:"pinnedBoost"`
	MinScore    float64 `json:"minScore"`
}

type AutoCaptureConfig struct {
	Enabled       bool    `json:"enabled"`
	Scope         string  `json:"scope"`
	MaxPerTurn    int     `json:"maxPerTurn"`
	MinChars      int     `json:"minChars"`
	MaxChars      int     `json:"maxChars"`
	MinConfidence float64 `json:"minConfidence"`
}

type CompactionConfig struct {
	MaxEntries int `json:"maxEntries"`
	// DuplicateThreshold is the Jaccard token overlap two entries must
	// exceed to merge. 1 disables merging.
	DuplicateThreshold float64 `json:"duplicateThreshold"`
}

type LLMCompactionConfig struct {
	Enabled        bool   `json:"enabled"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TimeoutMs      int    `json:"timeoutMs"`
	MaxOutputChars int    `json:"maxOutputChars"`
}

type RetentionConfig struct {
	EventDays int `json:"eventDays"`
}

type StorageConfig struct {
	TimeoutMs int `json:"timeoutMs"`
}

// Defaults returns the configuration written when no valid file exists.
func Defaults() Config {
	return Config{
		Injection:   InjectionConfig{MaxItems: 10, MaxChars: 3000},
		ListLimit:   50,
		SearchLimit: 20,
		Search:      SearchConfig{PinnedBoost: 0.25, MinScore: 0},
		AutoCapture: AutoCaptureConfig{
			Enabled:       true,
			Scope:         ScopeProject,
			MaxPerTurn:    2,
			MinChars:      12,
			MaxChars:      240,
			MinConfidence: 0.5,
		},
		Compaction: CompactionConfig{MaxEntries: 200, DuplicateThreshold: 0.75},
		LLMCompaction: LLMCompactionConfig{
			Enabled:        true,
			Provider:       "openai",
			Model:          "gpt-5-mini",
			TimeoutMs:      8000,
			MaxOutputChars: 1500,
		},
		Retention: RetentionConfig{EventDays: 180},
		Storage:   StorageConfig{TimeoutMs: 5000},
	}
}

// Validate checks ranges and enumerations, reporting every problem at once.
func (c Config) Validate() error {
	var errs []string

	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0 (got %d)", name, v))
		}
	}
	positive("injection.maxItems", c.Injection.MaxItems)
	positive("injection.maxChars", c.Injection.MaxChars)
	positive("listLimit", c.ListLimit)
	positive("searchLimit", c.SearchLimit)
	positive("autoCapture.maxPerTurn", c.AutoCapture.MaxPerTurn)
	positive("autoCapture.minChars", c.AutoCapture.MinChars)
	positive("autoCapture.maxChars", c.AutoCapture.MaxChars)
	positive("compaction.maxEntries", c.Compaction.MaxEntries)
	positive("llmCompaction.timeoutMs", c.LLMCompaction.TimeoutMs)
	positive("llmCompaction.maxOutputChars", c.LLMCompaction.MaxOutputChars)
	positive("retention.eventDays", c.Retention.EventDays)
	positive("storage.timeoutMs", c.Storage.TimeoutMs)

	if c.AutoCapture.MinChars > c.AutoCapture.MaxChars {
		errs = append(errs, "autoCapture.minChars must not exceed autoCapture.maxChars")
	}
	if c.AutoCapture.Scope != ScopeProject && c.AutoCapture.Scope != ScopeGlobal {
		errs = append(errs, fmt.Sprintf("autoCapture.scope must be %q or %q (got %q)", ScopeProject, ScopeGlobal, c.AutoCapture.Scope))
	}
	if c.AutoCapture.MinConfidence < 0 || c.AutoCapture.MinConfidence > 1 {
		errs = append(errs, "autoCapture.minConfidence must be within [0, 1]")
	}
	if c.Compaction.DuplicateThreshold <= 0 || c.Compaction.DuplicateThreshold > 1 {
		errs = append(errs, "compaction.duplicateThreshold must be within (0, 1]")
	}
	if c.Search.PinnedBoost < 0 {
		errs = append(errs, "search.pinnedBoost must be >= 0")
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		errs = append(errs, "search.minScore must be within [0, 1]")
	}
	switch c.LLMCompaction.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Sprintf("llmCompaction.provider must be openai or ollama (got %q)", c.LLMCompaction.Provider))
	}
	if strings.TrimSpace(c.LLMCompaction.Model) == "" {
		errs = append(errs, "llmCompaction.model is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
