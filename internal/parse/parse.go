// Package parse runs tree-sitter parses and structural queries for the
// registered languages.
package parse

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/singleflight"

	"github.com/phobologic/impactscan/internal/lang"
)

// ErrNoQuery is returned when a language has no query for the requested role.
var ErrNoQuery = errors.New("no query registered")

// QueryExecutionFailure reports that a query could not be compiled or run.
// Callers recover by falling back to a text scan of the file.
type QueryExecutionFailure struct {
	Language string
	Role     lang.Role
	Path     string
	Err      error
}

func (e *QueryExecutionFailure) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s query: %v", e.Language, e.Role, e.Err)
	}
	return fmt.Sprintf("%s %s query on %s: %v", e.Language, e.Role, e.Path, e.Err)
}

func (e *QueryExecutionFailure) Unwrap() error {
	return e.Err
}

// Capture is one named capture produced by a query match.
type Capture struct {
	Label  string
	Text   string
	Node   *sitter.Node
	Row    uint32 // 0-based
	Column uint32 // 0-based byte column
	Match  int    // ordinal of the match that produced the capture
}

type queryKey struct {
	ext  string
	role lang.Role
	hash uint64
}

// QueryCache holds compiled queries keyed by file extension, role and a
// hash of the query text. It is safe for concurrent use.
type QueryCache struct {
	queries *lru.Cache[queryKey, *sitter.Query]
	flight  singleflight.Group
}

// NewQueryCache creates a cache holding at most size compiled queries.
func NewQueryCache(size int) (*QueryCache, error) {
	c, err := lru.New[queryKey, *sitter.Query](size)
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}
	return &QueryCache{queries: c}, nil
}

// Get returns the compiled query for l and role, compiling it on first use.
// Concurrent misses for the same key compile once.
func (c *QueryCache) Get(l *lang.Language, ext string, role lang.Role) (*sitter.Query, error) {
	text := l.Query(role)
	if text == "" {
		return nil, &QueryExecutionFailure{Language: l.Name, Role: role, Err: ErrNoQuery}
	}
	key := queryKey{ext: ext, role: role, hash: xxhash.Sum64String(text)}
	if q, ok := c.queries.Get(key); ok {
		return q, nil
	}

	flightKey := ext + "|" + string(role) + "|" + strconv.FormatUint(key.hash, 16)
	v, err, _ := c.flight.Do(flightKey, func() (any, error) {
		if q, ok := c.queries.Get(key); ok {
			return q, nil
		}
		q, err := compile([]byte(text), l)
		if err != nil {
			return nil, &QueryExecutionFailure{Language: l.Name, Role: role, Err: err}
		}
		c.queries.Add(key, q)
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sitter.Query), nil
}

// Len returns the number of cached queries.
func (c *QueryCache) Len() int {
	return c.queries.Len()
}

func compile(text []byte, l *lang.Language) (q *sitter.Query, err error) {
	defer func() {
		if r := recover(); r != nil {
			q, err = nil, fmt.Errorf("compiling query panicked: %v", r)
		}
	}()
	q, err = sitter.NewQuery(text, l.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("compiling query: %w", err)
	}
	return q, nil
}

// Parser wraps one tree-sitter parser and switches its grammar only when the
// language changes between calls. A Parser must not be shared between
// goroutines; the QueryCache may be.
type Parser struct {
	parser   *sitter.Parser
	current  *sitter.Language
	queries  *QueryCache
	switches int
}

// NewParser creates a Parser that compiles queries through queries.
func NewParser(queries *QueryCache) *Parser {
	return &Parser{parser: sitter.NewParser(), queries: queries}
}

// Parse parses source with the grammar of l.
func (p *Parser) Parse(ctx context.Context, l *lang.Language, source []byte) (*sitter.Tree, error) {
	if p.current != l.GetLanguage() {
		p.parser.SetLanguage(l.GetLanguage())
		p.current = l.GetLanguage()
		p.switches++
	}
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s source: %w", l.Name, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parsing %s source: no tree produced", l.Name)
	}
	return tree, nil
}

// Result is a parsed tree and the captures of one query over it. Capture
// nodes are valid until Close.
type Result struct {
	Tree     *sitter.Tree
	Captures []Capture
}

// Close releases the syntax tree.
func (r *Result) Close() {
	if r != nil && r.Tree != nil {
		r.Tree.Close()
	}
}

// Run parses source and executes the role query of l over it. Query compile
// and execution failures, including panics from the grammar, are returned as
// *QueryExecutionFailure.
func (p *Parser) Run(ctx context.Context, path, ext string, l *lang.Language, role lang.Role, source []byte) (*Result, error) {
	q, err := p.queries.Get(l, ext, role)
	if err != nil {
		var qe *QueryExecutionFailure
		if errors.As(err, &qe) {
			failure := *qe
			failure.Path = path
			return nil, &failure
		}
		return nil, err
	}

	tree, err := p.Parse(ctx, l, source)
	if err != nil {
		return nil, err
	}

	caps, err := execute(ctx, q, tree.RootNode(), source)
	if err != nil {
		tree.Close()
		return nil, &QueryExecutionFailure{Language: l.Name, Role: role, Path: path, Err: err}
	}
	return &Result{Tree: tree, Captures: caps}, nil
}

func execute(ctx context.Context, q *sitter.Query, root *sitter.Node, source []byte) (caps []Capture, err error) {
	defer func() {
		if r := recover(); r != nil {
			caps, err = nil, fmt.Errorf("executing query panicked: %v", r)
		}
	}()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	for n := 0; ; n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, source)
		for _, c := range m.Captures {
			pt := c.Node.StartPoint()
			caps = append(caps, Capture{
				Label:  q.CaptureNameForId(c.Index),
				Text:   lang.NodeText(c.Node, source),
				Node:   c.Node,
				Row:    pt.Row,
				Column: pt.Column,
				Match:  n,
			})
		}
	}
	return caps, nil
}
