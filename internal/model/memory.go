// Package model defines the core memory data types.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Memory represents a stored memory entry.
type Memory struct {
	ID          string    `json:"id" yaml:"id"`
	Scope       string    `json:"scope" yaml:"scope"`
	Category    Category  `json:"category" yaml:"category"`
	Content     string    `json:"content" yaml:"content"`
	ContentHash string    `json:"content_hash" yaml:"content_hash"`
	Pinned      bool      `json:"pinned" yaml:"pinned"`
	Origin      Origin    `json:"origin" yaml:"origin"`
	Status      Status    `json:"status" yaml:"status"`
	AccessCount int       `json:"access_count" yaml:"access_count"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Origin records how an entry entered the store.
type Origin string

const (
	OriginManual   Origin = "manual"
	OriginCaptured Origin = "captured"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ValidOrigins are the allowed origins.
var ValidOrigins = map[Origin]bool{
	OriginManual:   true,
	OriginCaptured: true,
}

// Category is an open but validated label: lowercase letters, digits, '-'
// or '_', at most MaxCategoryLen characters.
type Category string

// MaxCategoryLen bounds category labels.
const MaxCategoryLen = 32

// Well-known categories.
const (
	CategoryPreference Category = "preference"
	CategoryWorkflow   Category = "workflow"
	CategoryConstraint Category = "constraint"
	CategoryFact       Category = "fact"
	CategoryDecision   Category = "decision"
	CategoryConvention Category = "convention"
	CategoryOther      Category = "other"
)

// KnownCategories lists the well-known categories in display order.
var KnownCategories = []Category{
	CategoryPreference,
	CategoryWorkflow,
	CategoryConstraint,
	CategoryFact,
	CategoryDecision,
	CategoryConvention,
	CategoryOther,
}

var categoryPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ParseCategory normalizes and validates a category label. An empty label
// yields CategoryOther.
func ParseCategory(raw string) (Category, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return CategoryOther, nil
	}
	if len(s) > MaxCategoryLen {
		return "", fmt.Errorf("category %q is longer than %d characters", raw, MaxCategoryLen)
	}
	if !categoryPattern.MatchString(s) {
		return "", fmt.Errorf("category %q must contain only letters, digits, '-' or '_'", raw)
	}
	return Category(s), nil
}

// CaptureState is the review state of a capture candidate.
type CaptureState string

const (
	CapturePending  CaptureState = "pending"
	CaptureAccepted CaptureState = "accepted"
	CaptureRejected CaptureState = "rejected"
)

// CaptureCandidate is a transcript-derived proposal. It is never persisted
// as its own row; accepting it means adding a Memory.
type CaptureCandidate struct {
	RawText    string       `json:"raw_text"`
	Text       string       `json:"text"`
	Category   Category     `json:"proposed_category"`
	Confidence float64      `json:"confidence"`
	Rationale  string       `json:"rationale"`
	State      CaptureState `json:"state"`
	Hash       string       `json:"hash"`
	Turn       int          `json:"turn"`
	Role       string       `json:"role"`
}
