// Package scan finds the references to a name in a single file. It runs in
// two stages: a structural query over the file's syntax tree, and a
// word-boundary text scan used when the structural stage cannot run.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/phobologic/impactscan/internal/cache"
	"github.com/phobologic/impactscan/internal/lang"
	"github.com/phobologic/impactscan/internal/model"
	"github.com/phobologic/impactscan/internal/parse"
)

// Strategy names the stage that produced a file's references.
type Strategy string

const (
	Structural   Strategy = "structural"
	TextFallback Strategy = "text"
)

// Request describes one file scan.
type Request struct {
	Path        string // absolute
	ElementName string
	Language    *lang.Language
	Signature   *model.Signature // nil when the definition was not resolved
	Match       lang.MatchOptions
}

// Filtered reports whether the request narrows matches beyond the name.
// Filtered results are specific to one definition and are never cached.
func (r Request) Filtered() bool {
	return r.Signature != nil || r.Match.ContainingType != ""
}

// Result holds the references found in one file in line order.
type Result struct {
	References []model.Reference
	Strategy   Strategy
	Cached     bool
}

type resultKey struct {
	path string
	name string
}

// ResultCache caches unfiltered scan results per (file, element name).
type ResultCache = cache.Store[resultKey, Result]

// NewResultCache creates a result cache holding at most size files.
func NewResultCache(size int) (*ResultCache, error) {
	return cache.New[resultKey, Result](size)
}

// Scanner scans files for references. It owns a parse.Parser and so must
// not be shared between goroutines; the result cache may be.
type Scanner struct {
	parser  *parse.Parser
	results *ResultCache
	logger  *slog.Logger
}

// New creates a Scanner. results may be nil to disable result caching.
func New(parser *parse.Parser, results *ResultCache, logger *slog.Logger) *Scanner {
	return &Scanner{parser: parser, results: results, logger: logger}
}

// Scan returns the references to req.ElementName in req.Path. Only a failure
// to stat or read the file is returned as an error.
func (s *Scanner) Scan(ctx context.Context, req Request) (Result, error) {
	info, err := os.Stat(req.Path)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", req.Path, err)
	}
	key := resultKey{path: req.Path, name: req.ElementName}
	cacheable := s.results != nil && !req.Filtered()
	if cacheable {
		if res, ok := s.results.Get(key, info.ModTime()); ok {
			res.Cached = true
			return res, nil
		}
	}

	source, err := os.ReadFile(req.Path)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", req.Path, err)
	}

	res := Result{Strategy: Structural}
	refs, err := s.structural(ctx, req, source)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.logger.Debug("structural scan failed, using text scan",
			"path", req.Path, "language", req.Language.Name, "error", err)
		refs = TextScan(req.Path, source, req.ElementName)
		res.Strategy = TextFallback
	}
	res.References = refs

	if cacheable {
		s.results.Put(key, info.ModTime(), res)
	}
	return res, nil
}

// Invalidate drops every entry for path from results, whatever the element name.
func Invalidate(results *ResultCache, path string) int {
	if results == nil {
		return 0
	}
	return results.RemoveFunc(func(k resultKey) bool { return k.path == path })
}

func (s *Scanner) structural(ctx context.Context, req Request, source []byte) ([]model.Reference, error) {
	res, err := s.parser.Run(ctx, req.Path, extOf(req.Path), req.Language, lang.ReferenceRole, source)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	lines := strings.Split(string(source), "\n")
	seen := make(map[uint32]struct{})
	var refs []model.Reference
	for _, c := range res.Captures {
		if c.Label != lang.CaptureReference || c.Text != req.ElementName {
			continue
		}
		// Overlapping patterns can capture the same node twice.
		if _, dup := seen[c.Node.StartByte()]; dup {
			continue
		}
		seen[c.Node.StartByte()] = struct{}{}

		if !req.Language.Matches(req.Signature, c.Node, source, req.Match) {
			continue
		}
		refs = append(refs, model.Reference{
			File:     req.Path,
			Line:     int(c.Row) + 1,
			Column:   int(c.Column) + 1,
			Text:     c.Text,
			LineText: lineAt(lines, int(c.Row)),
		})
	}
	sortReferences(refs)
	return refs, nil
}

// TextScan is the fallback stage: a case-insensitive whole-identifier search
// for name on every line, with '$' treated as an identifier character. It
// applies no structural filtering, so it may over-report. Each matching line
// yields one reference whose text fields both hold the trimmed line.
func TextScan(path string, source []byte, name string) []model.Reference {
	if name == "" {
		return nil
	}
	re, err := regexp.Compile(`(?i)(?:^|[^\w$])(` + regexp.QuoteMeta(name) + `)(?:$|[^\w$])`)
	if err != nil {
		return nil
	}
	var refs []model.Reference
	for i, line := range strings.Split(string(source), "\n") {
		loc := re.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		trimmed := strings.TrimSpace(line)
		refs = append(refs, model.Reference{
			File:     path,
			Line:     i + 1,
			Column:   loc[2] + 1,
			Text:     trimmed,
			LineText: trimmed,
		})
	}
	return refs
}

func lineAt(lines []string, row int) string {
	if row < 0 || row >= len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[row])
}

func sortReferences(refs []model.Reference) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Line != refs[j].Line {
			return refs[i].Line < refs[j].Line
		}
		return refs[i].Column < refs[j].Column
	})
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
