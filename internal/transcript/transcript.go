// Package transcript splits a conversation transcript into role-tagged turns.
package transcript

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Roles kept from transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a transcript with its position in the original text.
type Turn struct {
	Index     int
	Role      string
	Text      string
	StartLine int
	EndLine   int
}

// Lines returns the non-empty trimmed lines of the turn.
func (t Turn) Lines() []string {
	var out []string
	for _, l := range strings.Split(t.Text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Parse accepts either a JSON agent event ({"messages": [...]} or a bare
// message array) or plain text. Plain text is split on "user:" and
// "assistant:" prefixes; without any prefix, blank-line separated blocks
// become user turns.
func Parse(raw string) []Turn {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if raw[0] == '{' || raw[0] == '[' {
		if turns, ok := parseJSON(raw); ok {
			return turns
		}
	}
	return parseText(raw)
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type event struct {
	Messages []message `json:"messages"`
}

func parseJSON(raw string) ([]Turn, bool) {
	var msgs []message
	if raw[0] == '[' {
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			return nil, false
		}
	} else {
		var ev event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil || ev.Messages == nil {
			return nil, false
		}
		msgs = ev.Messages
	}

	var turns []Turn
	for i, m := range msgs {
		role := normalizeRole(m.Role)
		if role == "" {
			continue
		}
		text := contentText(m.Content)
		if strings.TrimSpace(text) == "" {
			continue
		}
		turns = append(turns, Turn{Index: len(turns), Role: role, Text: text, StartLine: i + 1, EndLine: i + 1})
	}
	return turns, true
}

// contentText reads a message content that is either a string or a list of
// blocks, keeping only {"type": "text"} blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var rolePrefix = regexp.MustCompile(`(?i)^\s*(user|human|me|assistant|ai|agent|codex)\s*:\s?(.*)$`)

func normalizeRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "user", "human", "me":
		return RoleUser
	case "assistant", "ai", "agent", "codex":
		return RoleAssistant
	}
	return ""
}

func parseText(raw string) []Turn {
	lines := strings.Split(raw, "\n")
	prefixed := false
	for _, l := range lines {
		if rolePrefix.MatchString(l) {
			prefixed = true
			break
		}
	}
	if !prefixed {
		return splitBlocks(lines)
	}

	var turns []Turn
	var current *Turn
	var body []string
	flush := func(end int) {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(strings.Join(body, "\n"))
		current.EndLine = end
		if current.Text != "" {
			current.Index = len(turns)
			turns = append(turns, *current)
		}
		current, body = nil, nil
	}

	for i, l := range lines {
		lineNum := i + 1
		if m := rolePrefix.FindStringSubmatch(l); m != nil {
			flush(lineNum - 1)
			current = &Turn{Role: normalizeRole(m[1]), StartLine: lineNum}
			body = []string{m[2]}
			continue
		}
		if current == nil {
			current = &Turn{Role: RoleUser, StartLine: lineNum}
		}
		body = append(body, l)
	}
	flush(len(lines))
	return turns
}

// splitBlocks treats each blank-line separated block as a user turn.
func splitBlocks(lines []string) []Turn {
	var turns []Turn
	var current []string
	start := 1

	flush := func(end int) {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			turns = append(turns, Turn{Index: len(turns), Role: RoleUser, Text: t, StartLine: start, EndLine: end})
		}
		current = nil
		start = end + 2
	}

	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			if len(current) > 0 {
				flush(i)
			} else {
				start = i + 2
			}
			continue
		}
		current = append(current, l)
	}
	if len(current) > 0 {
		flush(len(lines))
	}
	return turns
}
