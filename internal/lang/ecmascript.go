package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Helpers shared by the JavaScript and TypeScript grammars.

// esFindCall walks up from ref to the nearest call_expression or new_expression.
func esFindCall(ref *sitter.Node, source []byte) *Call {
	child := ref
	for n := ref.Parent(); n != nil; child, n = n, n.Parent() {
		var targetField string
		switch n.Type() {
		case "call_expression":
			targetField = "function"
		case "new_expression":
			targetField = "constructor"
		default:
			continue
		}

		args := n.ChildByFieldName("arguments")
		if args != nil && SameNode(child, args) {
			return &Call{Node: n, ValueUse: true}
		}

		target, receiver := esCallTarget(n.ChildByFieldName(targetField))
		call := &Call{Node: n, Receiver: receiver}
		if target != nil {
			call.Name = NodeText(target, source)
		}
		for _, a := range namedChildren(args) {
			if a.Type() == "spread_element" {
				call.Spread = true
			}
			call.Args = append(call.Args, a)
		}
		call.ValueUse = !SameNode(target, ref)
		return call
	}
	return nil
}

// esCallTarget returns the name node a call invokes and its receiver, if any.
func esCallTarget(fn *sitter.Node) (target, receiver *sitter.Node) {
	if fn == nil {
		return nil, nil
	}
	switch fn.Type() {
	case "identifier", "property_identifier":
		return fn, nil
	case "member_expression":
		return fn.ChildByFieldName("property"), fn.ChildByFieldName("object")
	case "parenthesized_expression":
		if inner := namedChildren(fn); len(inner) == 1 {
			return esCallTarget(inner[0])
		}
	}
	return nil, nil
}

// esApproximateType classifies an argument expression by its literal kind.
func esApproximateType(arg *sitter.Node) string {
	switch arg.Type() {
	case "string", "template_string":
		return TypeString
	case "number":
		return TypeNumber
	case "true", "false":
		return TypeBoolean
	case "object", "new_expression":
		return TypeObject
	case "array":
		return TypeArray
	case "identifier":
		return TypeIdentifier
	}
	return TypeUnknown
}

// tsCanonicalType maps a TypeScript type annotation onto an approximation class.
func tsCanonicalType(declared string) string {
	t := strings.TrimSpace(declared)
	if strings.Contains(t, "|") {
		// Unions accept several classes; treat as unknown rather than guess.
		return TypeUnknown
	}
	switch t {
	case "any", "unknown":
		return TypeUnknown
	case "string", "String":
		return TypeString
	case "number", "Number", "bigint":
		return TypeNumber
	case "boolean", "Boolean":
		return TypeBoolean
	}
	if strings.HasSuffix(t, "[]") || strings.HasPrefix(t, "Array<") || strings.HasPrefix(t, "ReadonlyArray<") || strings.HasPrefix(t, "[") {
		return TypeArray
	}
	return TypeObject
}
