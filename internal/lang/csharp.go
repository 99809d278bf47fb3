package lang

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"

	"github.com/phobologic/impactscan/internal/model"
)

func init() {
	register(&Language{
		Name:             "csharp",
		Extensions:       []string{".cs"},
		lang:             csharp.GetLanguage(),
		ReferenceQuery:   loadQuery("csharp", ReferenceRole),
		DefinitionQuery:  loadQuery("csharp", DefinitionRole),
		Wildcard:         "unknown",
		ExtractSignature: csharpExtractSignature,
		FindCall:         csharpFindCall,
		ApproximateType:  csharpApproximateType,
		CanonicalType:    csharpCanonicalType,
		ContainingType:   csharpContainingType,
		ReceiverType:     csharpReceiverType,
	})
}

var csharpTypeDecls = map[string]struct{}{
	"class_declaration":     {},
	"struct_declaration":    {},
	"record_declaration":    {},
	"interface_declaration": {},
}

// csharpContainingType walks up from a definition to the innermost enclosing
// class, struct, record or interface. A type declaration is not its own
// container, so the walk starts at the parent.
func csharpContainingType(decl *sitter.Node, source []byte) string {
	for n := decl.Parent(); n != nil; n = n.Parent() {
		if n.Type() == "compilation_unit" {
			return ""
		}
		if _, ok := csharpTypeDecls[n.Type()]; ok {
			if name := n.ChildByFieldName("name"); name != nil {
				return NodeText(name, source)
			}
		}
	}
	return ""
}

func csharpExtractSignature(decl *sitter.Node, source []byte) *model.Signature {
	switch decl.Type() {
	case "method_declaration", "constructor_declaration", "local_function_statement":
	default:
		return nil
	}
	nameNode := decl.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	sig := &model.Signature{Name: NodeText(nameNode, source), Params: []string{}}
	params := decl.ChildByFieldName("parameters")
	optionalSeen := false
	for _, p := range namedChildren(params) {
		token, kind := csharpParam(p, source)
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

func csharpParam(p *sitter.Node, source []byte) (string, paramKind) {
	switch p.Type() {
	case "parameter":
	case "parameter_array":
		// Older grammars: params T[] name
		for _, c := range namedChildren(p) {
			if c.Type() != "identifier" && c.Type() != "attribute_list" {
				return variadicToken(NodeText(c, source), "unknown"), paramVariadic
			}
		}
		return model.VariadicPrefix + "unknown", paramVariadic
	default:
		return "", paramSkip
	}

	typeText := ""
	if t := p.ChildByFieldName("type"); t != nil {
		typeText = CollapseWhitespace(NodeText(t, source))
	}

	switch csharpParamModifier(p, source) {
	case "this":
		// Extension-method receiver; supplied by the caller's receiver, not an argument.
		return "", paramSkip
	case "params":
		return variadicToken(typeText, "unknown"), paramVariadic
	}

	token := typeText
	if token == "" {
		token = "unknown"
	}
	if hasChildOfType(p, "equals_value_clause", "=") {
		return token, paramOptional
	}
	return token, paramRequired
}

// csharpParamModifier returns "this" or "params" when the parameter carries
// that modifier, else "".
func csharpParamModifier(p *sitter.Node, source []byte) string {
	typeNode := p.ChildByFieldName("type")
	for i := 0; i < int(p.ChildCount()); i++ {
		c := p.Child(i)
		if c == nil {
			continue
		}
		if typeNode != nil && c.StartByte() >= typeNode.StartByte() {
			break
		}
		switch strings.TrimSpace(NodeText(c, source)) {
		case "this":
			return "this"
		case "params":
			return "params"
		}
	}
	return ""
}

// csharpFindCall walks up from ref to the nearest invocation or object creation.
func csharpFindCall(ref *sitter.Node, source []byte) *Call {
	child := ref
	for n := ref.Parent(); n != nil; child, n = n, n.Parent() {
		var target, receiver *sitter.Node
		switch n.Type() {
		case "invocation_expression":
			target, receiver = csharpCallTarget(n.ChildByFieldName("function"))
		case "object_creation_expression":
			target = csharpTypeTarget(n.ChildByFieldName("type"))
		default:
			continue
		}

		args := n.ChildByFieldName("arguments")
		if args != nil && SameNode(child, args) {
			return &Call{Node: n, ValueUse: true}
		}

		call := &Call{Node: n, Receiver: receiver}
		if target != nil {
			call.Name = NodeText(target, source)
		}
		for _, a := range namedChildren(args) {
			if a.Type() != "argument" {
				continue
			}
			call.Args = append(call.Args, csharpArgExpression(a))
		}
		call.ValueUse = !SameNode(target, ref)
		return call
	}
	return nil
}

func csharpCallTarget(fn *sitter.Node) (target, receiver *sitter.Node) {
	if fn == nil {
		return nil, nil
	}
	switch fn.Type() {
	case "identifier":
		return fn, nil
	case "generic_name":
		return firstOfType(fn, "identifier"), nil
	case "member_access_expression":
		name := fn.ChildByFieldName("name")
		if name != nil && name.Type() == "generic_name" {
			name = firstOfType(name, "identifier")
		}
		return name, fn.ChildByFieldName("expression")
	}
	return nil, nil
}

// csharpTypeTarget returns the identifier naming a constructed type.
func csharpTypeTarget(t *sitter.Node) *sitter.Node {
	if t == nil {
		return nil
	}
	switch t.Type() {
	case "identifier":
		return t
	case "generic_name":
		return firstOfType(t, "identifier")
	case "qualified_name":
		if name := t.ChildByFieldName("name"); name != nil {
			return csharpTypeTarget(name)
		}
		children := namedChildren(t)
		if len(children) > 0 {
			return csharpTypeTarget(children[len(children)-1])
		}
	}
	return nil
}

// csharpArgExpression unwraps an argument node to its expression, skipping
// any named-argument label.
func csharpArgExpression(arg *sitter.Node) *sitter.Node {
	children := namedChildren(arg)
	if len(children) == 0 {
		return arg
	}
	return children[len(children)-1]
}

func firstOfType(n *sitter.Node, typ string) *sitter.Node {
	for _, c := range namedChildren(n) {
		if c.Type() == typ {
			return c
		}
	}
	return nil
}

func csharpApproximateType(arg *sitter.Node) string {
	switch arg.Type() {
	case "string_literal", "verbatim_string_literal", "raw_string_literal", "interpolated_string_expression":
		return TypeString
	case "integer_literal", "real_literal":
		return TypeNumber
	case "boolean_literal":
		return TypeBoolean
	case "object_creation_expression", "anonymous_object_creation_expression", "implicit_object_creation_expression":
		return TypeObject
	case "array_creation_expression", "implicit_array_creation_expression", "collection_expression":
		return TypeArray
	case "identifier":
		return TypeIdentifier
	}
	return TypeUnknown
}

var csharpNumeric = map[string]struct{}{
	"int": {}, "long": {}, "short": {}, "byte": {}, "sbyte": {}, "uint": {}, "ulong": {}, "ushort": {},
	"float": {}, "double": {}, "decimal": {}, "nint": {}, "nuint": {},
	"int16": {}, "int32": {}, "int64": {}, "uint16": {}, "uint32": {}, "uint64": {}, "single": {},
}

var csharpCollections = []string{"list", "ilist", "ienumerable", "icollection", "ireadonlylist", "ireadonlycollection", "hashset", "iset"}

// csharpCanonicalType maps a declared C# type onto an approximation class.
// Keyword types and their framework aliases compare case-insensitively.
func csharpCanonicalType(declared string) string {
	t := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(declared), "?"))
	t = strings.TrimPrefix(t, "system.")
	switch t {
	case "object", "dynamic", "var", "unknown":
		return TypeUnknown
	case "string":
		return TypeString
	case "bool", "boolean":
		return TypeBoolean
	}
	if _, ok := csharpNumeric[t]; ok {
		return TypeNumber
	}
	if strings.HasSuffix(t, "[]") {
		return TypeArray
	}
	base := strings.ToLower(BaseTypeName(declared))
	for _, c := range csharpCollections {
		if base == c {
			return TypeArray
		}
	}
	return TypeObject
}

var csharpTypeKeywords = map[string]struct{}{
	"var": {}, "return": {}, "new": {}, "await": {}, "out": {}, "ref": {}, "in": {},
	"is": {}, "as": {}, "case": {}, "else": {}, "yield": {}, "throw": {}, "using": {},
	"const": {}, "readonly": {}, "static": {}, "public": {}, "private": {}, "protected": {}, "internal": {},
}

// csharpReceiverType infers the type of receiver in receiver.Method(...) from
// a declaration in the same file: either "Type receiver = ..." or
// "var receiver = new Type(...)". This is a single-file textual heuristic.
func csharpReceiverType(call *Call, source []byte) string {
	recv := call.Receiver
	if recv == nil {
		return ""
	}
	switch recv.Type() {
	case "object_creation_expression":
		if t := csharpTypeTarget(recv.ChildByFieldName("type")); t != nil {
			return NodeText(t, source)
		}
		return ""
	case "identifier":
	default:
		return ""
	}

	name := NodeText(recv, source)
	if name == "this" || name == "base" {
		return ""
	}
	quoted := regexp.QuoteMeta(name)

	explicit := regexp.MustCompile(`([A-Za-z_][\w.]*(?:<[^=;()]*>)?(?:\[\])*\??)\s+` + quoted + `\s*=[^=>]`)
	for _, m := range explicit.FindAllSubmatch(source, -1) {
		t := string(m[1])
		if _, kw := csharpTypeKeywords[t]; kw {
			continue
		}
		return BaseTypeName(t)
	}

	varNew := regexp.MustCompile(`\bvar\s+` + quoted + `\s*=\s*new\s+([A-Za-z_][\w.]*)`)
	if m := varNew.FindSubmatch(source); m != nil {
		return BaseTypeName(string(m[1]))
	}
	return ""
}
