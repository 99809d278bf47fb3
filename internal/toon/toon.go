// Package toon renders impact reports in TOON (Token-Oriented Object
// Notation), a compact tabular format for machine consumers.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/impactscan/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts an impact report into TOON format. The reason key is
// present only for partial reports.
func Encode(r *model.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("element: %s", encodeValue(r.ElementName)))
	parts = append(parts, fmt.Sprintf("status: %s", encodeValue(string(r.Outcome))))
	if r.Outcome.Partial() {
		parts = append(parts, fmt.Sprintf("reason: %s", encodeValue(string(r.Reason))))
	}
	parts = append(parts, fmt.Sprintf("files_analyzed: %d", r.FilesAnalyzed))

	var fileRows [][]string
	for i := range r.Groups {
		g := &r.Groups[i]
		fileRows = append(fileRows, []string{g.Path, strconv.Itoa(len(g.References))})
	}
	parts = append(parts, formatTabular("files", []string{"path", "references"}, fileRows))

	var refRows [][]string
	for i := range r.Groups {
		g := &r.Groups[i]
		for j := range g.References {
			ref := &g.References[j]
			refRows = append(refRows, []string{
				g.Path,
				strconv.Itoa(ref.Line),
				strconv.Itoa(ref.Column),
				ref.LineText,
			})
		}
	}
	parts = append(parts, formatTabular("references", []string{"file", "line", "column", "text"}, refRows))

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
