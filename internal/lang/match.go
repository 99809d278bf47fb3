package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/impactscan/internal/model"
)

// Argument approximation classes.
const (
	TypeString     = "string"
	TypeNumber     = "number"
	TypeBoolean    = "boolean"
	TypeObject     = "object"
	TypeArray      = "array"
	TypeIdentifier = "identifier"
	TypeUnknown    = "unknown"
)

// Call is an invocation (or construction) found above a reference node.
type Call struct {
	Node     *sitter.Node
	Name     string
	Args     []*sitter.Node
	Receiver *sitter.Node // receiver of receiver.Method(...), else nil
	Spread   bool         // an argument is spread, so its count is unknown
	// ValueUse is set when the reference is not the call's target, e.g. it is
	// passed as an argument or is the receiver of a different method.
	ValueUse bool
}

// MatchOptions narrow a match beyond the element name.
type MatchOptions struct {
	// ContainingType is the class that declares the analysed definition.
	ContainingType string
	// StrictArgumentTypes rejects calls whose literal arguments contradict
	// the declared parameter types. Off by default: argument approximation
	// cannot see through identifiers, so mismatches are only advisory.
	StrictArgumentTypes bool
}

// Matches decides whether a reference node, whose text already equals the
// element name, plausibly refers to the analysed definition.
//
// This is best-effort narrowing, not semantic resolution. It produces false
// positives for same-named callables of the same arity in other types whose
// receivers have no local declaration, and false negatives for calls that
// rely on overloads or optional parameters not visible in the definition.
func (l *Language) Matches(sig *model.Signature, ref *sitter.Node, source []byte, opts MatchOptions) bool {
	if sig == nil && opts.ContainingType == "" {
		return true
	}
	if l.FindCall == nil {
		return true
	}
	call := l.FindCall(ref, source)
	if call == nil || call.ValueUse {
		return true
	}

	if sig != nil && !l.matchesSignature(sig, call, opts.StrictArgumentTypes) {
		return false
	}

	if opts.ContainingType != "" && l.ReceiverType != nil && call.Receiver != nil {
		if recv := l.ReceiverType(call, source); recv != "" && !sameTypeName(recv, opts.ContainingType) {
			return false
		}
	}
	return true
}

func (l *Language) matchesSignature(sig *model.Signature, call *Call, strict bool) bool {
	if call.Name != sig.Name {
		return false
	}
	if call.Spread {
		return true
	}
	if !sig.AcceptsArity(len(call.Args)) {
		return false
	}
	if l.ApproximateType == nil {
		return true
	}
	for i, arg := range call.Args {
		declared := paramAt(sig, i)
		if strict && !l.compatible(declared, l.ApproximateType(arg)) {
			return false
		}
	}
	return true
}

func paramAt(sig *model.Signature, i int) string {
	if i < len(sig.Params) {
		return sig.Params[i]
	}
	if sig.Variadic() {
		return sig.Params[len(sig.Params)-1]
	}
	return ""
}

// compatible reports whether an argument approximation may satisfy a
// declared parameter type token.
func (l *Language) compatible(declared, approx string) bool {
	declared = strings.TrimPrefix(declared, model.VariadicPrefix)
	if declared == "" || declared == l.Wildcard || declared == TypeUnknown {
		return true
	}
	if approx == TypeUnknown || approx == TypeIdentifier {
		return true
	}
	canon := strings.ToLower(declared)
	if l.CanonicalType != nil {
		canon = l.CanonicalType(declared)
	}
	switch canon {
	case TypeUnknown:
		return true
	case approx:
		return true
	}
	// Constructed objects can populate any class-like or collection type.
	if approx == TypeObject && (canon == TypeObject || canon == TypeArray) {
		return true
	}
	return false
}

// sameTypeName compares two type names ignoring namespace qualifiers,
// generic arguments and nullability.
func sameTypeName(a, b string) bool {
	return BaseTypeName(a) == BaseTypeName(b)
}

// BaseTypeName strips namespace qualifiers, generic arguments, array
// brackets and nullability from a type name: "Ns.List<int>[]?" -> "List".
func BaseTypeName(t string) string {
	t = strings.TrimSpace(t)
	if i := strings.IndexAny(t, "<[?"); i >= 0 {
		t = t[:i]
	}
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	return strings.TrimSpace(t)
}
