// Package textutil holds the text normalization shared by the store, the
// capture heuristics and compaction: whitespace folding, content hashing,
// tokenization for overlap scoring, and secret detection.
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize trims and collapses runs of whitespace to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeForHash is Normalize plus lowercasing; equal results mean equal content.
func NormalizeForHash(s string) string {
	return strings.ToLower(Normalize(s))
}

// Hash returns the hex sha256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ContentHash is the dedupe key for memory content.
func ContentHash(content string) string {
	return Hash(NormalizeForHash(content))
}

// Tokens splits s into lowercase word tokens. Letters, digits and the
// characters '-', '_', '.', '/', '@', '+' and '#' stay inside a token so
// identifiers like "go.mod" or "c++" survive; surrounding punctuation is trimmed.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_./@+#", r))
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-_./@")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// SortedTokens returns the distinct tokens of s in lexical order.
func SortedTokens(s string) []string {
	set := TokenSet(s)
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Jaccard is |a∩b| / |a∪b| over token sets. Two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Coverage is the fraction of query tokens present in doc.
func Coverage(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hit := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// RuneLen is the number of runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{20,}\b`),
	regexp.MustCompile(`\bxox[pbar]-[A-Za-z0-9-]{10,}\b`),
	regexp.MustCompile(`\bkey_live_[A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`-----BEGIN (RSA|EC|OPENSSH|PGP) PRIVATE KEY-----`),
	regexp.MustCompile(`\bBearer\s+[A-Za-z0-9._-]{20,}\b`),
	regexp.MustCompile(`(?i)\b(?:api[_-]?key|token|secret|password)\b\s*[:=]\s*['"]?[A-Za-z0-9._\-/=+]{12,}`),
	regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://\S+`),
}

// LooksSecret reports whether s resembles a credential: a known key format,
// an assignment to a secret-named field, a connection string, or a long token
// mixing letters, digits and symbols.
func LooksSecret(s string) bool {
	for _, p := range secretPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	for _, tok := range strings.Fields(s) {
		if len(tok) < 32 {
			continue
		}
		var alpha, digit, special bool
		for _, r := range tok {
			switch {
			case unicode.IsLetter(r):
				alpha = true
			case unicode.IsDigit(r):
				digit = true
			case r != '-' && r != '_':
				special = true
			}
		}
		if alpha && digit && special {
			return true
		}
	}
	return false
}
