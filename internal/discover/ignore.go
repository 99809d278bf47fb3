// Package discover enumerates candidate source files in a repository,
// honouring fixed exclusions and the repository's own .gitignore.
package discover

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/mod/modfile"
)

// ModulePath is the import path of this tool. A repository root declaring it
// is the tool's own tree and additionally gets SelfPatterns excluded.
const ModulePath = "github.com/phobologic/impactscan"

// DefaultPatterns are root-relative globs that are always excluded.
var DefaultPatterns = []string{
	// version control
	"**/.git", "**/.hg", "**/.svn",
	// environment files
	"**/.env", "**/.env.*",
	// editor metadata
	"**/.vscode", "**/.idea", "**/.vs",
	// build output
	"**/build", "**/dist", "**/out", "**/bin", "**/obj", "**/coverage",
	// dependency managers
	"**/node_modules", "**/bower_components", "**/vendor",
	"**/__pycache__", "**/.venv", "**/venv",
	// generated type declarations
	"**/*.d.ts",
}

// SelfPatterns exclude the tool's own source and tests when it analyses itself.
var SelfPatterns = []string{
	"internal",
	"testdata",
	"**/*_test.go",
}

// IgnoreSet decides whether a repository-relative path is excluded.
type IgnoreSet struct {
	patterns []string
	repo     *ignore.GitIgnore
}

// NewIgnoreSet builds the exclusion predicate for root: DefaultPatterns, any
// extra globs, SelfPatterns when root is this module, and root/.gitignore.
// Invalid extra globs and unreadable ignore files are logged and skipped.
func NewIgnoreSet(root string, extra []string, logger *slog.Logger) *IgnoreSet {
	s := &IgnoreSet{}
	candidates := append([]string{}, DefaultPatterns...)
	candidates = append(candidates, extra...)
	if isSelf(root) {
		candidates = append(candidates, SelfPatterns...)
	}
	for _, p := range candidates {
		p = strings.TrimPrefix(filepath.ToSlash(p), "/")
		if !doublestar.ValidatePattern(p) {
			logger.Warn("invalid ignore pattern", "pattern", p)
			continue
		}
		s.patterns = append(s.patterns, p)
	}
	s.repo = loadGitignore(root, logger)
	return s
}

// Match reports whether rel (relative to the root, either separator) is
// excluded. A path is also excluded when any of its parent directories is.
func (s *IgnoreSet) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	parts := strings.Split(rel, "/")
	for i := 1; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], "/")
		dir := i < len(parts) || isDir
		if s.matchOne(prefix, dir) {
			return true
		}
	}
	return false
}

func (s *IgnoreSet) matchOne(rel string, isDir bool) bool {
	for _, p := range s.patterns {
		if doublestar.MatchUnvalidated(p, rel) {
			return true
		}
	}
	if s.repo == nil {
		return false
	}
	if s.repo.MatchesPath(rel) {
		return true
	}
	// Directory-only patterns ("build/") need the trailing slash to match.
	return isDir && s.repo.MatchesPath(rel+"/")
}

func loadGitignore(root string, logger *slog.Logger) *ignore.GitIgnore {
	p := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(p); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("reading ignore file", "path", p, "error", err)
		}
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(p)
	if err != nil {
		logger.Warn("reading ignore file", "path", p, "error", err)
		return nil
	}
	return gi
}

func isSelf(root string) bool {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return false
	}
	return modfile.ModulePath(data) == ModulePath
}

// slashRel returns target relative to root using forward slashes.
func slashRel(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	return path.Clean(filepath.ToSlash(rel)), nil
}
