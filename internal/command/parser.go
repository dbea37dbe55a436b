package command

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type token struct {
	text   string
	pos    int
	quoted bool
}

// scanner yields tokens on demand so capture can take the raw remainder.
type scanner struct {
	raw string
	off int
}

func (s *scanner) skipSpace() {
	for s.off < len(s.raw) {
		r, n := utf8.DecodeRuneInString(s.raw[s.off:])
		if !unicode.IsSpace(r) {
			return
		}
		s.off += n
	}
}

func (s *scanner) done() bool {
	s.skipSpace()
	return s.off >= len(s.raw)
}

// next returns the next token. A token starting with a quote runs to the
// matching quote and is kept verbatim without the quotes.
func (s *scanner) next() (token, bool, error) {
	s.skipSpace()
	if s.off >= len(s.raw) {
		return token{}, false, nil
	}
	start := s.off
	if q := s.raw[start]; q == '"' || q == '\'' {
		end := strings.IndexByte(s.raw[start+1:], q)
		if end < 0 {
			return token{}, false, &ParseError{Token: s.raw[start:], Pos: start, Msg: "unterminated quote"}
		}
		s.off = start + 1 + end + 1
		return token{text: s.raw[start+1 : start+1+end], pos: start, quoted: true}, true, nil
	}
	for s.off < len(s.raw) {
		r, n := utf8.DecodeRuneInString(s.raw[s.off:])
		if unicode.IsSpace(r) {
			break
		}
		s.off += n
	}
	return token{text: s.raw[start:s.off], pos: start}, true, nil
}

func (s *scanner) rest() string {
	s.skipSpace()
	r := s.raw[s.off:]
	s.off = len(s.raw)
	return strings.TrimRightFunc(r, unicode.IsSpace)
}

type flagSpec struct {
	value bool
}

var flags = map[string]flagSpec{
	"category": {value: true},
	"limit":    {value: true},
	"cursor":   {value: true},
	"format":   {value: true},
	"scope":    {value: true},
	"global":   {},
	"project":  {},
	"all":      {},
	"persist":  {},
	"pinned":   {},
}

var allowedFlags = map[Kind]map[string]bool{
	Add:     {"category": true, "scope": true, "global": true, "project": true, "pinned": true},
	List:    {"limit": true, "cursor": true, "category": true, "pinned": true},
	Search:  {"limit": true, "cursor": true},
	Export:  {"all": true, "format": true},
	Capture: {"persist": true},
}

// Parse turns a command line such as "/memory add --category preference Use
// pnpm" into a Command. The leading "/memory" (or "memory") is optional.
// Flags may appear anywhere before a "--" token. With no subcommand, input
// starting with a flag or a quoted segment is an add.
func Parse(raw string) (Command, error) {
	s := &scanner{raw: raw}

	first, ok, err := s.next()
	if err != nil {
		return Command{}, err
	}
	if ok && !first.quoted && (first.text == "/memory" || strings.EqualFold(first.text, "memory")) {
		first, ok, err = s.next()
		if err != nil {
			return Command{}, err
		}
	}
	if !ok {
		return Command{Kind: Help}, nil
	}

	var kind Kind
	var pending []token
	switch k, known := subcommands[strings.ToLower(first.text)]; {
	case known && !first.quoted:
		kind = k
	case first.quoted || strings.HasPrefix(first.text, "--"):
		kind = Add
		pending = append(pending, first)
	default:
		return Command{}, &ParseError{Token: first.text, Pos: first.pos, Msg: "unknown subcommand"}
	}

	cmd := Command{Kind: kind}
	if kind == Capture {
		if err := parseCapture(s, &cmd); err != nil {
			return Command{}, err
		}
		if err := finish(&cmd, nil, len(raw)); err != nil {
			return Command{}, err
		}
		return cmd, nil
	}

	var positional []token
	sentinel := false
	nextToken := func() (token, bool, error) {
		if len(pending) > 0 {
			t := pending[0]
			pending = pending[1:]
			return t, true, nil
		}
		return s.next()
	}
	for {
		t, ok, err := nextToken()
		if err != nil {
			return Command{}, err
		}
		if !ok {
			break
		}
		if !t.quoted && !sentinel && t.text == "--" {
			sentinel = true
			continue
		}
		if !t.quoted && !sentinel && strings.HasPrefix(t.text, "--") {
			if err := applyFlag(&cmd, t, nextToken); err != nil {
				return Command{}, err
			}
			continue
		}
		positional = append(positional, t)
	}

	if err := finish(&cmd, positional, len(raw)); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// parseCapture reads leading flags, then takes the rest of the input
// verbatim as the transcript.
func parseCapture(s *scanner, cmd *Command) error {
	for !s.done() {
		save := s.off
		t, _, err := s.next()
		if err != nil || t.quoted || !strings.HasPrefix(t.text, "--") {
			s.off = save
			break
		}
		if t.text == "--" {
			break
		}
		if err := applyFlag(cmd, t, s.next); err != nil {
			return err
		}
	}
	cmd.Content = captureText(s)
	return nil
}

// captureText returns the rest of the input, unwrapping a single quoted
// segment that spans all of it.
func captureText(s *scanner) string {
	save := s.off
	t, ok, err := s.next()
	if err == nil && ok && t.quoted && s.done() {
		return t.text
	}
	s.off = save
	return s.rest()
}

func applyFlag(cmd *Command, t token, next func() (token, bool, error)) error {
	name, inline, hasInline := strings.Cut(t.text[2:], "=")
	spec, known := flags[name]
	if !known {
		return &ParseError{Token: t.text, Pos: t.pos, Msg: "unknown option"}
	}
	if !allowedFlags[cmd.Kind][name] {
		return &ParseError{Token: t.text, Pos: t.pos, Msg: "option not valid for " + string(cmd.Kind)}
	}

	var value string
	if spec.value {
		if hasInline {
			value = inline
		} else {
			v, ok, err := next()
			if err != nil {
				return err
			}
			if !ok || (!v.quoted && strings.HasPrefix(v.text, "--")) {
				return &ParseError{Token: t.text, Pos: t.pos, Msg: "missing value for option"}
			}
			value = v.text
		}
	} else if hasInline {
		return &ParseError{Token: t.text, Pos: t.pos, Msg: "option takes no value"}
	}

	switch name {
	case "category":
		cmd.Category = value
	case "limit":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return &ParseError{Token: value, Pos: t.pos, Msg: "--limit must be a positive integer"}
		}
		cmd.Limit = n
	case "cursor":
		cmd.Cursor = value
	case "format":
		f, ok := parseFormat(value)
		if !ok {
			return &ParseError{Token: value, Pos: t.pos, Msg: "unknown export format"}
		}
		cmd.Format = f
	case "scope":
		v := strings.ToLower(value)
		if v != ScopeProject && v != ScopeGlobal {
			return &ParseError{Token: value, Pos: t.pos, Msg: "--scope must be project or global"}
		}
		cmd.Scope = v
	case "global":
		cmd.Scope = ScopeGlobal
	case "project":
		cmd.Scope = ScopeProject
	case "all":
		cmd.All = true
	case "persist":
		cmd.Persist = true
	case "pinned":
		if cmd.Kind == Add {
			cmd.Pinned = true
		} else {
			cmd.PinnedOnly = true
		}
	}
	return nil
}

func parseFormat(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, true
	case "md", "markdown":
		return FormatMarkdown, true
	case "yaml", "yml":
		return FormatYAML, true
	}
	return "", false
}

func joinTokens(ts []token) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

func finish(cmd *Command, pos []token, end int) error {
	extra := func(from int) error {
		if len(pos) > from {
			return &ParseError{Token: pos[from].text, Pos: pos[from].pos, Msg: "unexpected argument"}
		}
		return nil
	}
	missing := func() error {
		return &ParseError{Pos: end, Msg: usage[cmd.Kind]}
	}

	switch cmd.Kind {
	case Add:
		cmd.Content = strings.TrimSpace(joinTokens(pos))
		if cmd.Content == "" {
			return missing()
		}
		if cmd.Scope == "" {
			cmd.Scope = ScopeProject
		}
	case Search:
		cmd.Content = strings.TrimSpace(joinTokens(pos))
		if cmd.Content == "" {
			return missing()
		}
	case Capture:
		if strings.TrimSpace(cmd.Content) == "" {
			return missing()
		}
	case Delete:
		if len(pos) == 0 {
			return missing()
		}
		cmd.Target = pos[0].text
		return extra(1)
	case Pin:
		if len(pos) < 2 {
			return missing()
		}
		cmd.Target = pos[0].text
		switch strings.ToLower(pos[1].text) {
		case "on":
			cmd.Enabled = true
		case "off":
			cmd.Enabled = false
		default:
			return &ParseError{Token: pos[1].text, Pos: pos[1].pos, Msg: usage[Pin]}
		}
		return extra(2)
	case Auto:
		cmd.Mode = AutoStatus
		if len(pos) > 0 {
			switch m := strings.ToLower(pos[0].text); m {
			case AutoOn, AutoOff, AutoStatus:
				cmd.Mode = m
			default:
				return &ParseError{Token: pos[0].text, Pos: pos[0].pos, Msg: usage[Auto]}
			}
		}
		return extra(1)
	case Export:
		if len(pos) > 0 && !pos[0].quoted {
			if f, ok := parseFormat(pos[0].text); ok && cmd.Format == "" {
				cmd.Format = f
				pos = pos[1:]
			}
		}
		if cmd.Format == "" {
			cmd.Format = FormatJSON
		}
		cmd.Path = joinTokens(pos)
	default:
		return extra(0)
	}
	return nil
}
