// Package workspace enforces the workspace boundary for externally supplied
// paths. Every path handed to the engine (cwd arguments, export targets,
// import sources) is canonicalized and checked against a single root.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PathViolation reports a path that resolves outside the workspace root.
// Input is echoed exactly as supplied.
type PathViolation struct {
	Input  string
	Root   string
	Reason string
}

func (e *PathViolation) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("path %q rejected: %s", e.Input, e.Reason)
	}
	return fmt.Sprintf("path %q resolves outside workspace %q", e.Input, e.Root)
}

// Guard validates paths against a canonical workspace root.
type Guard struct {
	root string
}

// NewGuard canonicalizes root (absolute, symlinks evaluated). The root must exist.
func NewGuard(root string) (*Guard, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	eval, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("evaluate workspace root: %w", err)
	}
	info, err := os.Stat(eval)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", root)
	}
	return &Guard{root: eval}, nil
}

// Root returns the canonical workspace root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve canonicalizes candidate and verifies it is the root or nested under it.
// Relative paths are taken relative to the root. The target need not exist.
func (g *Guard) Resolve(candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", g.violation(candidate, "path cannot be empty")
	}

	p := candidate
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.root, p)
	}
	resolved := canonicalize(filepath.Clean(p))
	if resolved == "" {
		return "", g.violation(candidate, "symlink cannot be resolved")
	}

	if !g.contains(resolved) {
		return "", g.violation(candidate, "")
	}
	return resolved, nil
}

// ResolveRelative is Resolve for inputs that must be relative to the root,
// such as export destinations. Absolute inputs are rejected, never rewritten.
func (g *Guard) ResolveRelative(candidate string) (string, error) {
	if filepath.IsAbs(strings.TrimSpace(candidate)) {
		return "", g.violation(candidate, "path must be relative to the workspace")
	}
	return g.Resolve(candidate)
}

// Contains reports whether an absolute path lies at or below the root.
func (g *Guard) Contains(absPath string) bool {
	return g.contains(canonicalize(filepath.Clean(absPath)))
}

func (g *Guard) contains(resolved string) bool {
	if resolved == "" {
		return false
	}
	if resolved == g.root {
		return true
	}
	prefix := g.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(resolved, prefix)
}

func (g *Guard) violation(input, reason string) error {
	slog.Warn("workspace path rejected", "path", input, "root", g.root, "security", true)
	return &PathViolation{Input: input, Root: g.root, Reason: reason}
}

// maxLinkHops bounds how many dangling symlinks canonicalize follows.
const maxLinkHops = 40

// canonicalize evaluates symlinks on the longest existing prefix of path and
// re-attaches the missing tail, so targets that don't exist yet still resolve
// through any symlinked parent. A dangling symlink in the tail is followed to
// its target. It returns "" when the path cannot be resolved (a link loop).
func canonicalize(path string) string {
	return canonicalizeHops(path, 0)
}

func canonicalizeHops(path string, hops int) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir := filepath.Dir(path)
	if dir == path {
		return path
	}
	parent := canonicalizeHops(dir, hops)
	if parent == "" {
		return ""
	}
	joined := filepath.Join(parent, filepath.Base(path))

	info, err := os.Lstat(joined)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return joined
	}
	if hops >= maxLinkHops {
		return ""
	}
	target, err := os.Readlink(joined)
	if err != nil {
		return ""
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(parent, target)
	}
	return canonicalizeHops(filepath.Clean(target), hops+1)
}
