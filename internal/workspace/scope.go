package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// GlobalScope is the scope shared by every workspace.
const GlobalScope = "global"

// gitTimeout bounds each git invocation made during scope detection.
const gitTimeout = 2 * time.Second

// ScopeInfo identifies the project a workspace belongs to.
type ScopeInfo struct {
	Scope      string `json:"scope"`
	Kind       string `json:"kind"` // "git" or "path"
	Identifier string `json:"identifier"`
	Root       string `json:"root"`
}

// ProjectScope derives the project scope for the guard's root. A git remote
// gives a stable identity across clones; otherwise the repository toplevel or
// the root path itself is used.
func (g *Guard) ProjectScope(ctx context.Context) ScopeInfo {
	root := g.root
	kind := "path"
	identifier := root

	if top, ok := gitOutput(ctx, root, "rev-parse", "--show-toplevel"); ok {
		root = filepath.Clean(top)
		identifier = root
		if remote, ok := gitOutput(ctx, root, "config", "--get", "remote.origin.url"); ok {
			kind = "git"
			identifier = NormalizeRemote(remote)
		}
	}

	sum := sha256.Sum256([]byte(kind + ":" + identifier))
	return ScopeInfo{
		Scope:      "project:" + hex.EncodeToString(sum[:]),
		Kind:       kind,
		Identifier: identifier,
		Root:       root,
	}
}

// NormalizeRemote maps ssh and https remote spellings of the same repository
// to one https form without the .git suffix.
func NormalizeRemote(remote string) string {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return remote
	}

	if rest, ok := strings.CutPrefix(remote, "git@"); ok {
		if host, repo, found := strings.Cut(rest, ":"); found {
			repo = strings.TrimSuffix(strings.TrimPrefix(repo, "/"), ".git")
			return "https://" + strings.ToLower(host) + "/" + repo
		}
	}

	if u, err := url.Parse(remote); err == nil && u.Host != "" {
		repo := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")
		host := strings.ToLower(u.Hostname())
		if repo == "" {
			return "https://" + host
		}
		return "https://" + host + "/" + repo
	}

	return strings.TrimSuffix(remote, ".git")
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...).Output()
	if err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(out))
	return s, s != ""
}
