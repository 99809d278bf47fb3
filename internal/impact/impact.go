// Package impact runs an impact analysis: it resolves the definition of a
// code element, walks the repository under a resource budget and collects
// the references to the element in every other file.
package impact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/impactscan/internal/discover"
	"github.com/phobologic/impactscan/internal/lang"
	"github.com/phobologic/impactscan/internal/model"
	"github.com/phobologic/impactscan/internal/parse"
	"github.com/phobologic/impactscan/internal/scan"
)

// ErrInvalidRequest is returned when a request fails validation.
var ErrInvalidRequest = errors.New("invalid request")

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Request identifies the element to analyse.
type Request struct {
	RepoPath    string // absolute repository root
	FilePath    string // definition file, relative to RepoPath
	ElementName string
	ElementType model.ElementKind // advisory
}

// Budget bounds one analysis run.
type Budget struct {
	Timeout         time.Duration
	MaxFiles        int
	MaxMatches      int
	MaxNoMatchFiles int // consecutive scanned files without a reference
}

// DefaultBudget returns the standard limits.
func DefaultBudget() Budget {
	return Budget{
		Timeout:         10 * time.Second,
		MaxFiles:        20000,
		MaxMatches:      50,
		MaxNoMatchFiles: 10000,
	}
}

// Options configure an Engine. Zero cache sizes select the defaults.
type Options struct {
	Budget              Budget
	DirCacheSize        int
	ResultCacheSize     int
	QueryCacheSize      int
	StrictArgumentTypes bool
	ExtraIgnore         []string
	Logger              *slog.Logger

	// LanguageFor overrides extension-based language lookup.
	LanguageFor func(path string) *lang.Language
}

// Engine runs analyses. Caches are shared across runs and bounded; an
// Engine is safe for concurrent use.
type Engine struct {
	opts    Options
	logger  *slog.Logger
	queries *parse.QueryCache
	dirs    *discover.DirCache
	results *scan.ResultCache
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Budget == (Budget{}) {
		opts.Budget = DefaultBudget()
	}
	if opts.DirCacheSize <= 0 {
		opts.DirCacheSize = 4096
	}
	if opts.ResultCacheSize <= 0 {
		opts.ResultCacheSize = 8192
	}
	if opts.QueryCacheSize <= 0 {
		opts.QueryCacheSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.LanguageFor == nil {
		opts.LanguageFor = lang.ForPath
	}

	queries, err := parse.NewQueryCache(opts.QueryCacheSize)
	if err != nil {
		return nil, err
	}
	dirs, err := discover.NewDirCache(opts.DirCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating directory cache: %w", err)
	}
	results, err := scan.NewResultCache(opts.ResultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	return &Engine{
		opts:    opts,
		logger:  opts.Logger,
		queries: queries,
		dirs:    dirs,
		results: results,
	}, nil
}

// Invalidate drops cached directory listings and scan results for path.
// Entries are also invalidated lazily by modification time.
func (e *Engine) Invalidate(path string) {
	path = filepath.Clean(path)
	e.dirs.Remove(path)
	e.dirs.Remove(filepath.Dir(path))
	scan.Invalidate(e.results, path)
}

// Validate checks a request and returns an error wrapping ErrInvalidRequest.
func Validate(req Request) error {
	switch {
	case req.RepoPath == "":
		return fmt.Errorf("%w: repoPath is required", ErrInvalidRequest)
	case !filepath.IsAbs(req.RepoPath):
		return fmt.Errorf("%w: repoPath must be absolute: %s", ErrInvalidRequest, req.RepoPath)
	case req.FilePath == "":
		return fmt.Errorf("%w: filePath is required", ErrInvalidRequest)
	case req.ElementName == "":
		return fmt.Errorf("%w: elementName is required", ErrInvalidRequest)
	case !identifierRe.MatchString(req.ElementName):
		return fmt.Errorf("%w: elementName is not an identifier: %q", ErrInvalidRequest, req.ElementName)
	case !model.ValidElementKind(req.ElementType):
		return fmt.Errorf("%w: elementType must be function, method or class: %q", ErrInvalidRequest, req.ElementType)
	}
	info, err := os.Stat(req.RepoPath)
	if err != nil {
		return fmt.Errorf("%w: repoPath: %v", ErrInvalidRequest, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: repoPath is not a directory: %s", ErrInvalidRequest, req.RepoPath)
	}
	return nil
}

// definition is what was learned about the analysed element's declaration.
type definition struct {
	signature      *model.Signature
	containingType string
}

// run holds the per-analysis state of the Scanning phase.
type run struct {
	budget   Budget
	deadline time.Time
	report   *model.Report
	groups   map[string]int
	visited  int
	noMatch  int
	matches  int
}

// Analyze runs one impact analysis. Per-file failures degrade to "no
// references"; only validation failures and a canceled context before the
// scan starts are returned as errors.
func (e *Engine) Analyze(ctx context.Context, req Request) (*model.Report, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := e.logger.With("run_id", uuid.NewString(), "element", req.ElementName)
	root := filepath.Clean(req.RepoPath)
	defPath := req.FilePath
	if !filepath.IsAbs(defPath) {
		defPath = filepath.Join(root, defPath)
	}
	defPath = filepath.Clean(defPath)

	parser := parse.NewParser(e.queries)
	def := e.resolveDefinition(ctx, parser, defPath, req.ElementName, logger)
	logger.Debug("definition resolved",
		"path", defPath,
		"signature", def.signature != nil,
		"containing_type", def.containingType)

	scanner := scan.New(parser, e.results, logger)
	ignoreSet := discover.NewIgnoreSet(root, e.opts.ExtraIgnore, logger)
	walker := discover.NewWalker(root, ignoreSet, e.dirs, logger)

	start := time.Now()
	if e.opts.Budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Budget.Timeout)
		defer cancel()
	}
	r := &run{
		budget:   e.opts.Budget,
		deadline: start.Add(e.opts.Budget.Timeout),
		report:   &model.Report{ElementName: req.ElementName, Outcome: model.Completed},
		groups:   make(map[string]int),
	}

	for path, err := range walker.Files() {
		if err != nil {
			logger.Warn("walk failed", "error", err)
			r.stop(model.PartialError, model.StopWalkError)
			break
		}
		if outcome, reason := r.exceeded(ctx); reason != model.StopNone {
			r.stop(outcome, reason)
			break
		}
		r.visited++

		if path == defPath {
			continue
		}
		l := e.opts.LanguageFor(path)
		if l == nil {
			continue
		}

		res, err := scanner.Scan(ctx, scan.Request{
			Path:        path,
			ElementName: req.ElementName,
			Language:    l,
			Signature:   def.signature,
			Match: lang.MatchOptions{
				ContainingType:      def.containingType,
				StrictArgumentTypes: e.opts.StrictArgumentTypes,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				continue // reported by the next budget check or after the loop
			}
			logger.Warn("scan failed", "path", path, "error", err)
			r.noMatch++
			continue
		}
		if len(res.References) == 0 {
			r.noMatch++
			continue
		}
		r.noMatch = 0
		if !r.add(root, path, res.References) {
			r.stop(model.PartialLimitReached, model.StopMatchLimit)
			break
		}
	}
	if r.report.Outcome == model.Completed && ctx.Err() != nil {
		r.stop(r.exceeded(ctx))
	}

	r.report.FilesAnalyzed = r.visited
	r.report.Elapsed = time.Since(start)
	logger.Info("analysis finished",
		"outcome", r.report.Outcome,
		"reason", r.report.Reason,
		"files", r.report.FilesAnalyzed,
		"references", r.report.ReferenceCount(),
		"elapsed", r.report.Elapsed,
		"cached_queries", e.queries.Len())
	return r.report, nil
}

// exceeded checks every budget ceiling before a file is processed.
func (r *run) exceeded(ctx context.Context) (model.Outcome, model.StopReason) {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return model.PartialTimeout, model.StopTimeout
	case err != nil:
		return model.PartialError, model.StopCanceled
	}
	switch {
	case r.budget.Timeout > 0 && !time.Now().Before(r.deadline):
		return model.PartialTimeout, model.StopTimeout
	case r.budget.MaxFiles > 0 && r.visited >= r.budget.MaxFiles:
		return model.PartialLimitReached, model.StopFileLimit
	case r.budget.MaxMatches > 0 && r.matches >= r.budget.MaxMatches:
		return model.PartialLimitReached, model.StopMatchLimit
	case r.budget.MaxNoMatchFiles > 0 && r.noMatch >= r.budget.MaxNoMatchFiles:
		return model.PartialLimitReached, model.StopNoMatchSeen
	}
	return model.Completed, model.StopNone
}

func (r *run) stop(outcome model.Outcome, reason model.StopReason) {
	r.report.Outcome = outcome
	r.report.Reason = reason
}

// add records the references of one file, truncated to the remaining match
// capacity. It returns false when references had to be dropped.
func (r *run) add(root, path string, refs []model.Reference) bool {
	complete := true
	if r.budget.MaxMatches > 0 {
		remaining := r.budget.MaxMatches - r.matches
		if len(refs) > remaining {
			refs = refs[:remaining]
			complete = false
		}
	}
	if len(refs) == 0 {
		return complete
	}

	rel := path
	if p, err := filepath.Rel(root, path); err == nil {
		rel = filepath.ToSlash(p)
	}
	idx, ok := r.groups[rel]
	if !ok {
		idx = len(r.report.Groups)
		r.groups[rel] = idx
		r.report.Groups = append(r.report.Groups, model.FileGroup{Path: rel})
	}
	g := &r.report.Groups[idx]
	g.References = append(g.References, refs...)
	r.matches += len(refs)
	return complete
}

// resolveDefinition finds the declaration of name in path and derives its
// signature and containing type. Any failure leaves both empty so the scan
// proceeds name-only.
func (e *Engine) resolveDefinition(ctx context.Context, parser *parse.Parser, path, name string, logger *slog.Logger) definition {
	l := e.opts.LanguageFor(path)
	if l == nil || !l.SupportsSignatures() {
		return definition{}
	}
	source, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("reading definition file", "path", path, "error", err)
		return definition{}
	}
	res, err := parser.Run(ctx, path, strings.ToLower(filepath.Ext(path)), l, lang.DefinitionRole, source)
	if err != nil {
		logger.Warn("resolving definition", "path", path, "error", err)
		return definition{}
	}
	defer res.Close()

	decl := declarationOf(res.Captures, name)
	if decl == nil {
		logger.Info("definition not found, matching by name only", "path", path)
		return definition{}
	}

	var def definition
	if l.ExtractSignature != nil {
		def.signature = l.ExtractSignature(decl, source)
	}
	// The receiver heuristic only applies to callables declared in a type.
	if def.signature != nil && l.ContainingType != nil {
		def.containingType = l.ContainingType(decl, source)
	}
	return def
}

// declarationOf returns the declaration node for name. A declaration with a
// body wins over overload and abstract signatures, since an implementation's
// parameter list accepts every overload's calls. When a match has no
// declaration capture the name's parent is used.
func declarationOf(caps []parse.Capture, name string) *sitter.Node {
	var first *sitter.Node
	for _, c := range caps {
		if c.Label != lang.CaptureName || c.Text != name {
			continue
		}
		decl := c.Node.Parent()
		for _, d := range caps {
			if d.Match == c.Match && strings.HasPrefix(d.Label, lang.CaptureDefinitionPrefix) {
				decl = d.Node
				break
			}
		}
		if hasBody(decl) {
			return decl
		}
		if first == nil {
			first = decl
		}
	}
	return first
}

// hasBody reports whether decl, or the function assigned by it, has a body.
func hasBody(decl *sitter.Node) bool {
	if decl == nil {
		return false
	}
	if decl.ChildByFieldName("body") != nil {
		return true
	}
	if v := decl.ChildByFieldName("value"); v != nil {
		return v.ChildByFieldName("body") != nil
	}
	return false
}
