// Package capture proposes memory candidates from conversation transcripts.
package capture

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/textutil"
	"github.com/rcliao/memory-engine/internal/transcript"
)

// Options bounds candidate extraction.
type Options struct {
	MinChars      int
	MaxChars      int
	MaxPerTurn    int
	MinConfidence float64

	// Seen reports hashes already processed by earlier calls.
	Seen func(hash string) bool
}

// OptionsFromConfig maps the autoCapture config section.
func OptionsFromConfig(c config.AutoCaptureConfig) Options {
	return Options{
		MinChars:      c.MinChars,
		MaxChars:      c.MaxChars,
		MaxPerTurn:    c.MaxPerTurn,
		MinConfidence: c.MinConfidence,
	}
}

const (
	repeatBonus    = 0.15
	maxRepeatBonus = 0.3
	repeatBase     = 0.45
)

type rule struct {
	re         *regexp.Regexp
	confidence float64
	rationale  string
	category   model.Category // empty means infer from text
	build      func(m []string) string
}

func group(n int) func([]string) string {
	return func(m []string) string { return m[n] }
}

var userRules = []rule{
	{
		re:         regexp.MustCompile(`(?i)^(?:please\s+)?remember(?:\s+that)?\s+(.+)$`),
		confidence: 0.9,
		rationale:  "explicit remember statement",
		build:      group(1),
	},
	{
		re:         regexp.MustCompile(`(?i)^(?:my\s+preference\s+is|i\s+(?:really\s+)?prefer)\s+(.+)$`),
		confidence: 0.85,
		rationale:  "explicit preference statement",
		category:   model.CategoryPreference,
		build:      group(1),
	},
	{
		re:         regexp.MustCompile(`(?i)^(?:actually|correction)\s*[,:]\s*(.+)$`),
		confidence: 0.7,
		rationale:  "correction",
		build:      group(1),
	},
	{
		re:         regexp.MustCompile(`(?i)^no[,.!]?\s+((?:use|run|prefer|keep|put)\s+.+?)(?:\s+instead)?[.!]*$`),
		confidence: 0.7,
		rationale:  "correction",
		build:      group(1),
	},
	{
		re:         regexp.MustCompile(`(?i)^i\s+meant\s+(.+)$`),
		confidence: 0.65,
		rationale:  "correction",
		build:      group(1),
	},
	{
		re:         regexp.MustCompile(`(?i)^(?:it'?s\s+|use\s+)?not\s+(.+?),?\s+but\s+(.+)$`),
		confidence: 0.65,
		rationale:  "correction",
		build:      func(m []string) string { return fmt.Sprintf("%s, not %s", m[2], m[1]) },
	},
	{
		re:         regexp.MustCompile(`(?i)^(?:always|never|don'?t|do\s+not|must|avoid|use|we\s+use)\s+.+$`),
		confidence: 0.6,
		rationale:  "directive phrasing",
		build:      group(0),
	},
}

var assistantRules = []rule{
	{
		re:         regexp.MustCompile(`(?i)^(?:memory|remember)\s*:\s*(.+)$`),
		confidence: 0.8,
		rationale:  "assistant memory marker",
		build:      group(1),
	},
}

// InferCategory guesses a category from keywords.
func InferCategory(text string) model.Category {
	lower := strings.ToLower(text)
	has := func(needles ...string) bool {
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
	switch {
	case has("prefer", "preference", "like", "dislike"):
		return model.CategoryPreference
	case has("always", "usually", "workflow", "run", "command", "format", "style"):
		return model.CategoryWorkflow
	case has("never", "must", "mustn't", "do not", "don't", "avoid", "required", "forbid"):
		return model.CategoryConstraint
	case has("decided", "we chose", "going with"):
		return model.CategoryDecision
	case has("convention", "naming", "named"):
		return model.CategoryConvention
	}
	return model.CategoryOther
}

// Cleanup trims quotes and trailing punctuation and collapses whitespace.
func Cleanup(s string) string {
	const quotes = "`\"'“”‘’"
	s = strings.Trim(strings.TrimSpace(s), quotes)
	s = textutil.Normalize(s)
	s = strings.Trim(strings.TrimRight(s, ";:,.!?"), quotes)
	return strings.TrimSpace(s)
}

type occurrence struct {
	candidate model.CaptureCandidate
	order     int
	turns     map[int]bool
	matched   bool
}

// Propose extracts candidates from a transcript. It has no side effects;
// accepting a candidate is a separate add.
func Propose(raw string, opts Options) []model.CaptureCandidate {
	turns := transcript.Parse(raw)

	byHash := map[string]*occurrence{}
	var order []*occurrence

	for _, turn := range turns {
		rules := userRules
		if turn.Role == transcript.RoleAssistant {
			rules = assistantRules
		}
		for _, line := range turn.Lines() {
			c, matched := extract(line, rules)
			if !matched && (turn.Role != transcript.RoleUser || strings.HasSuffix(line, "?")) {
				continue
			}
			if !matched {
				c = model.CaptureCandidate{
					RawText:    line,
					Text:       Cleanup(line),
					Category:   InferCategory(line),
					Confidence: repeatBase,
					Rationale:  "repeated statement",
				}
			}
			if !acceptable(c.Text, opts) {
				continue
			}
			c.Hash = textutil.ContentHash(c.Text)
			c.Turn = turn.Index
			c.Role = turn.Role
			c.State = model.CapturePending

			occ, ok := byHash[c.Hash]
			if !ok {
				occ = &occurrence{candidate: c, order: len(order), turns: map[int]bool{}}
				byHash[c.Hash] = occ
				order = append(order, occ)
			} else if matched && (!occ.matched || c.Confidence > occ.candidate.Confidence) {
				// A directive beats an earlier plain mention; keep the first position.
				c.Turn = occ.candidate.Turn
				occ.candidate = c
			}
			occ.matched = occ.matched || matched
			occ.turns[turn.Index] = true
		}
	}

	var out []occurrence
	for _, occ := range order {
		c := occ.candidate
		if n := len(occ.turns); n > 1 {
			bonus := repeatBonus * float64(n-1)
			if bonus > maxRepeatBonus {
				bonus = maxRepeatBonus
			}
			c.Confidence += bonus
			c.Rationale = fmt.Sprintf("%s; repeated in %d turns", c.Rationale, n)
		} else if !occ.matched {
			continue
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}
		c.Confidence = round2(c.Confidence)
		if c.Confidence < opts.MinConfidence {
			continue
		}
		if opts.Seen != nil && opts.Seen(c.Hash) {
			continue
		}
		occ.candidate = c
		out = append(out, *occ)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].candidate.Confidence != out[j].candidate.Confidence {
			return out[i].candidate.Confidence > out[j].candidate.Confidence
		}
		return out[i].order < out[j].order
	})

	perTurn := map[int]int{}
	result := []model.CaptureCandidate{}
	for _, occ := range out {
		c := occ.candidate
		if opts.MaxPerTurn > 0 && perTurn[c.Turn] >= opts.MaxPerTurn {
			continue
		}
		perTurn[c.Turn]++
		result = append(result, c)
	}
	return result
}

func extract(line string, rules []rule) (model.CaptureCandidate, bool) {
	for _, r := range rules {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		body := r.build(m)
		category := r.category
		if category == "" {
			category = InferCategory(body)
		}
		return model.CaptureCandidate{
			RawText:    line,
			Text:       Cleanup(body),
			Category:   category,
			Confidence: r.confidence,
			Rationale:  r.rationale,
		}, true
	}
	return model.CaptureCandidate{}, false
}

func acceptable(text string, opts Options) bool {
	if text == "" {
		return false
	}
	n := textutil.RuneLen(text)
	if opts.MinChars > 0 && n < opts.MinChars {
		return false
	}
	if opts.MaxChars > 0 && n > opts.MaxChars {
		return false
	}
	return !textutil.LooksSecret(text)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
