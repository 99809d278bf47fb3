package impact

import (
	"fmt"
	"strings"

	"github.com/phobologic/impactscan/internal/model"
)

// PartialMarker formats the first line of a report that stopped early.
const PartialMarker = "Analysis stopped: %d files analyzed (due to timeout, file limit, match limit, or no matches)."

// Format renders a report as the text returned to callers.
//
// A completed run with no references yields a single sentence. Otherwise
// each impacted file is a block of "Impacted file:" followed by one line per
// reference, blocks separated by a blank line. A partial run is prefixed by
// the PartialMarker line.
func Format(r *model.Report) string {
	if !r.Outcome.Partial() && r.ReferenceCount() == 0 {
		return fmt.Sprintf("No references found for %q outside of its definition file.", r.ElementName)
	}

	blocks := make([]string, 0, len(r.Groups)+1)
	if r.Outcome.Partial() {
		blocks = append(blocks, fmt.Sprintf(PartialMarker, r.FilesAnalyzed))
	}
	for _, g := range r.Groups {
		var b strings.Builder
		fmt.Fprintf(&b, "Impacted file: %s", g.Path)
		for _, ref := range g.References {
			fmt.Fprintf(&b, "\n  - Line %d: %s", ref.Line, ref.LineText)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}
