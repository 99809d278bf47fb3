package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/phobologic/impactscan/internal/model"
)

func init() {
	refs := loadQuery("typescript", ReferenceRole)
	defs := loadQuery("typescript", DefinitionRole)

	register(&Language{
		Name:             "typescript",
		Extensions:       []string{".ts", ".mts", ".cts"},
		lang:             typescript.GetLanguage(),
		ReferenceQuery:   refs,
		DefinitionQuery:  defs,
		Wildcard:         "any",
		ExtractSignature: tsExtractSignature,
		FindCall:         esFindCall,
		ApproximateType:  esApproximateType,
		CanonicalType:    tsCanonicalType,
	})
	register(&Language{
		Name:             "typescript",
		Extensions:       []string{".tsx"},
		lang:             tsx.GetLanguage(),
		ReferenceQuery:   refs,
		DefinitionQuery:  defs,
		Wildcard:         "any",
		ExtractSignature: tsExtractSignature,
		FindCall:         esFindCall,
		ApproximateType:  esApproximateType,
		CanonicalType:    tsCanonicalType,
	})
}

// tsExtractSignature handles function, method and arrow-function declarations.
// Classes and interfaces have no parameter list and yield nil.
func tsExtractSignature(decl *sitter.Node, source []byte) *model.Signature {
	var nameNode, fn *sitter.Node
	switch decl.Type() {
	case "function_declaration", "generator_function_declaration", "function_signature",
		"method_definition", "method_signature", "abstract_method_signature":
		nameNode = decl.ChildByFieldName("name")
		fn = decl
	case "variable_declarator", "public_field_definition":
		nameNode = decl.ChildByFieldName("name")
		fn = decl.ChildByFieldName("value")
		if fn == nil {
			return nil
		}
		switch fn.Type() {
		case "arrow_function", "function", "function_expression":
		default:
			return nil
		}
	default:
		return nil
	}
	if nameNode == nil {
		return nil
	}

	sig := &model.Signature{Name: NodeText(nameNode, source), Params: []string{}}

	params := fn.ChildByFieldName("parameters")
	if params == nil {
		// Arrow function with a single bare parameter: x => ...
		if fn.ChildByFieldName("parameter") != nil {
			sig.Params = append(sig.Params, "any")
			sig.MinArity = 1
		}
		return sig
	}

	optionalSeen := false
	for _, p := range namedChildren(params) {
		token, kind := tsParam(p, source)
		switch kind {
		case paramSkip:
			continue
		case paramRequired:
			if !optionalSeen {
				sig.MinArity++
			}
		default:
			optionalSeen = true
		}
		sig.Params = append(sig.Params, token)
	}
	return sig
}

type paramKind int

const (
	paramRequired paramKind = iota
	paramOptional
	paramVariadic
	paramSkip
)

func tsParam(p *sitter.Node, source []byte) (string, paramKind) {
	typeText := ""
	if t := p.ChildByFieldName("type"); t != nil {
		typeText = tsAnnotationText(t, source)
	}

	switch p.Type() {
	case "required_parameter", "optional_parameter":
		pattern := p.ChildByFieldName("pattern")
		if pattern != nil && pattern.Type() == "this" {
			return "", paramSkip
		}
		if pattern != nil && pattern.Type() == "rest_pattern" {
			return variadicToken(typeText, "any"), paramVariadic
		}
		token := typeText
		if token == "" {
			token = "any"
		}
		if p.Type() == "optional_parameter" || p.ChildByFieldName("value") != nil {
			return token, paramOptional
		}
		return token, paramRequired
	case "rest_parameter":
		return variadicToken(typeText, "any"), paramVariadic
	case "identifier", "object_pattern", "array_pattern":
		return "any", paramRequired
	case "assignment_pattern":
		return "any", paramOptional
	case "rest_pattern":
		return model.VariadicPrefix + "any", paramVariadic
	}
	return "", paramSkip
}

// tsAnnotationText returns the type of a type_annotation without its colon.
func tsAnnotationText(t *sitter.Node, source []byte) string {
	if t.Type() == "type_annotation" {
		if inner := namedChildren(t); len(inner) > 0 {
			return CollapseWhitespace(NodeText(inner[0], source))
		}
		return strings.TrimSpace(strings.TrimPrefix(NodeText(t, source), ":"))
	}
	return CollapseWhitespace(NodeText(t, source))
}

// variadicToken builds a variadic token from a rest parameter's array type.
func variadicToken(typeText, wildcard string) string {
	elem := elementType(typeText)
	if elem == "" {
		elem = wildcard
	}
	return model.VariadicPrefix + elem
}

// elementType returns T for "T[]", "Array<T>" or "ReadonlyArray<T>".
func elementType(t string) string {
	t = strings.TrimSpace(t)
	if strings.HasSuffix(t, "[]") {
		return strings.TrimSpace(strings.TrimSuffix(t, "[]"))
	}
	for _, prefix := range []string{"Array<", "ReadonlyArray<"} {
		if strings.HasPrefix(t, prefix) && strings.HasSuffix(t, ">") {
			return strings.TrimSpace(t[len(prefix) : len(t)-1])
		}
	}
	return t
}
