// Package lang provides the registry of supported languages. Each entry
// bundles a tree-sitter grammar with its reference and definition queries
// and the strategy functions used to extract signatures and narrow matches.
package lang

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/impactscan/internal/model"
)

//go:embed queries/*.scm
var queryFS embed.FS

var whitespaceRe = regexp.MustCompile(`\s+`)

// Capture labels used by the embedded queries.
const (
	CaptureReference = "reference"
	CaptureName      = "name"
	// CaptureDefinitionPrefix prefixes the capture on the enclosing declaration.
	CaptureDefinitionPrefix = "definition."
)

// Role distinguishes the two queries a language carries.
type Role string

const (
	ReferenceRole  Role = "references"
	DefinitionRole Role = "definitions"
)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	ReferenceQuery  string
	DefinitionQuery string // empty when definitions are not resolved

	// Wildcard is the parameter-type token for an unannotated parameter.
	Wildcard string

	// ExtractSignature derives a Signature from a declaration node, or
	// returns nil when the node is not a callable declaration.
	ExtractSignature func(decl *sitter.Node, source []byte) *model.Signature

	// FindCall returns the nearest enclosing call of a reference node, or nil.
	FindCall func(ref *sitter.Node, source []byte) *Call

	// ApproximateType classifies a call argument by its literal kind.
	ApproximateType func(arg *sitter.Node) string

	// CanonicalType maps a declared parameter type onto an approximation class.
	CanonicalType func(declared string) string

	// ContainingType returns the innermost enclosing class-like declaration
	// name of a definition node. Nil for languages without class-scoped methods.
	ContainingType func(decl *sitter.Node, source []byte) string

	// ReceiverType infers the declared type of a call's receiver from the
	// surrounding file text. Returns "" when it cannot be determined.
	ReceiverType func(call *Call, source []byte) string
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// Query returns the query text for role, or "" if the language has none.
func (l *Language) Query(role Role) string {
	if role == DefinitionRole {
		return l.DefinitionQuery
	}
	return l.ReferenceQuery
}

// SupportsSignatures reports whether definitions can be resolved to a Signature.
func (l *Language) SupportsSignatures() bool {
	return l.DefinitionQuery != "" && l.ExtractSignature != nil
}

// WithReferenceQuery returns a copy of l using query for reference lookup.
func (l *Language) WithReferenceQuery(query string) *Language {
	c := *l
	c.ReferenceQuery = query
	return &c
}

// byExtension maps lower-case file extensions to their language.
var byExtension = map[string]*Language{}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

func register(l *Language) {
	for _, ext := range l.Extensions {
		byExtension[ext] = l
	}
	if _, ok := Languages[l.Name]; !ok {
		Languages[l.Name] = l
	}
}

// ForExtension returns the language for a file extension, or nil if unsupported.
func ForExtension(ext string) *Language {
	return byExtension[strings.ToLower(ext)]
}

// ForPath returns the language for a file path, or nil if unsupported.
func ForPath(path string) *Language {
	return ForExtension(filepath.Ext(path))
}

func loadQuery(name string, role Role) string {
	data, err := queryFS.ReadFile(fmt.Sprintf("queries/%s.%s.scm", name, role))
	if err != nil {
		if role == DefinitionRole && errors.Is(err, fs.ErrNotExist) {
			return ""
		}
		panic(fmt.Sprintf("lang: reading %s %s query: %v", name, role, err))
	}
	return string(data)
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// SameNode reports whether a and b denote the same syntax node.
func SameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func hasChildOfType(n *sitter.Node, types ...string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		for _, t := range types {
			if c.Type() == t {
				return true
			}
		}
	}
	return false
}
