package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// RagignoreFile is the per-vault ignore file, gitignore syntax.
const RagignoreFile = ".ragignore"

// defaultIgnoreDirs are directory names never scanned, anywhere in the
// tree. Covers vault metadata, version control, and tooling caches.
var defaultIgnoreDirs = map[string]struct{}{
	".obsidian":    {},
	".git":         {},
	".trash":       {},
	".github":      {},
	"__pycache__":  {},
	"node_modules": {},
	".venv":        {},
	"venv":         {},
}

// ignoreRules combines the built-in directory set, dot-component
// exclusion, config globs, and the vault's .ragignore file.
type ignoreRules struct {
	globs     []string
	ragignore *gitignore.GitIgnore
}

// newIgnoreRules validates the config globs and loads .ragignore from
// the vault root when present.
func newIgnoreRules(root string, globs []string) (*ignoreRules, error) {
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return nil, errors.ConfigError("invalid ignore pattern", nil).
				WithDetail("pattern", g).
				WithSuggestion("Use doublestar glob syntax, e.g. 'drafts/**' or '**/*.tmp'")
		}
	}

	rules := &ignoreRules{globs: globs}

	ragignorePath := filepath.Join(root, RagignoreFile)
	if _, err := os.Stat(ragignorePath); err == nil {
		ri, err := gitignore.CompileIgnoreFile(ragignorePath)
		if err != nil {
			return nil, errors.ConfigError("failed to parse "+RagignoreFile, err).
				WithDetail("path", ragignorePath)
		}
		rules.ragignore = ri
	}

	return rules, nil
}

// SkipDir reports whether a directory (POSIX relative path) should be
// pruned from the walk.
func (r *ignoreRules) SkipDir(relPosix string) bool {
	base := relPosix
	if i := strings.LastIndexByte(relPosix, '/'); i >= 0 {
		base = relPosix[i+1:]
	}
	if _, ok := defaultIgnoreDirs[base]; ok {
		return true
	}
	if strings.HasPrefix(base, ".") {
		return true
	}
	return r.matchesGlobs(relPosix) || r.matchesRagignore(relPosix+"/")
}

// SkipFile reports whether a file (POSIX relative path) should be
// excluded from results.
func (r *ignoreRules) SkipFile(relPosix string) bool {
	if hasDotComponent(relPosix) {
		return true
	}
	return r.matchesGlobs(relPosix) || r.matchesRagignore(relPosix)
}

func (r *ignoreRules) matchesGlobs(relPosix string) bool {
	for _, g := range r.globs {
		if ok, _ := doublestar.Match(g, relPosix); ok {
			return true
		}
	}
	return false
}

func (r *ignoreRules) matchesRagignore(relPosix string) bool {
	if r.ragignore == nil {
		return false
	}
	return r.ragignore.MatchesPath(relPosix)
}

// hasDotComponent reports whether any path component starts with a dot.
func hasDotComponent(relPosix string) bool {
	for _, part := range strings.Split(relPosix, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}
