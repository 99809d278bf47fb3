// Package model defines core data structures for impactscan.
package model

import (
	"strings"
	"time"
)

// ElementKind is the advisory kind of the analysed element.
type ElementKind string

const (
	Function ElementKind = "function"
	Method   ElementKind = "method"
	Class    ElementKind = "class"
)

// ValidElementKind reports whether k is empty or one of the known kinds.
func ValidElementKind(k ElementKind) bool {
	switch k {
	case "", Function, Method, Class:
		return true
	}
	return false
}

// VariadicPrefix marks a parameter-type token as a rest/params parameter.
const VariadicPrefix = "..."

// Signature is the structural shape of a definition: its name and one
// parameter-type token per declared parameter.
type Signature struct {
	Name   string
	Params []string
	// MinArity is the number of leading parameters a call must supply
	// (parameters before the first optional, defaulted or variadic one).
	MinArity int
}

// Variadic reports whether the last parameter is a rest/params parameter.
func (s *Signature) Variadic() bool {
	if len(s.Params) == 0 {
		return false
	}
	return strings.HasPrefix(s.Params[len(s.Params)-1], VariadicPrefix)
}

// AcceptsArity reports whether a call with n arguments fits the signature.
func (s *Signature) AcceptsArity(n int) bool {
	if n < s.MinArity {
		return false
	}
	if s.Variadic() {
		return true
	}
	return n <= len(s.Params)
}

// Reference is a single usage site of the analysed element.
type Reference struct {
	File     string // absolute path
	Line     int    // 1-based
	Column   int    // 1-based
	Text     string // matched token text
	LineText string // trimmed source line
}

// Outcome is the terminal state of an analysis run.
type Outcome string

const (
	Completed           Outcome = "completed"
	PartialTimeout      Outcome = "partial_timeout"
	PartialLimitReached Outcome = "partial_limit_reached"
	PartialError        Outcome = "partial_error"
)

// Partial reports whether the run stopped before exhausting the file stream.
func (o Outcome) Partial() bool {
	return o != Completed
}

// StopReason names the budget ceiling or failure that ended a partial run.
type StopReason string

const (
	StopNone        StopReason = ""
	StopTimeout     StopReason = "timeout"
	StopCanceled    StopReason = "canceled"
	StopFileLimit   StopReason = "file_limit"
	StopMatchLimit  StopReason = "match_limit"
	StopNoMatchSeen StopReason = "no_match_limit"
	StopWalkError   StopReason = "walk_error"
)

// FileGroup holds the references found in one impacted file, in line order.
type FileGroup struct {
	Path       string // relative to the repository root
	References []Reference
}

// Report is the aggregated result of one analysis run.
type Report struct {
	ElementName   string
	Outcome       Outcome
	Reason        StopReason
	FilesAnalyzed int
	Groups        []FileGroup
	Elapsed       time.Duration
}

// ReferenceCount returns the total number of references across all groups.
func (r *Report) ReferenceCount() int {
	n := 0
	for i := range r.Groups {
		n += len(r.Groups[i].References)
	}
	return n
}
