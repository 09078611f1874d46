package retrieval

import (
	"fmt"
	"strings"
)

// Format renders the result as indented text for prompts and terminals.
// Browse results keep their tree indentation; semantic results are listed
// best first with scores.
func (r *Result) Format() string {
	var b strings.Builder
	if r.Mode == ModeSemantic {
		fmt.Fprintf(&b, "Query %q: %d matches (%d of %d nodes searched)\n", r.Query, len(r.Matches), r.MatchedNodes, r.TotalNodes)
	} else {
		fmt.Fprintf(&b, "%d of %d nodes\n", r.MatchedNodes, r.TotalNodes)
	}

	for _, m := range r.Matches {
		if m.Score != nil {
			fmt.Fprintf(&b, "[%.3f] ", *m.Score)
		} else {
			b.WriteString(strings.Repeat("  ", m.Depth))
		}
		b.WriteString("- ")
		b.WriteString(m.Role)
		if m.Name != "" {
			fmt.Fprintf(&b, " %q", m.Name)
		}
		if len(m.States) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(m.States, ", "))
		}
		fmt.Fprintf(&b, " @%s", m.Path)
		if len(m.SourcePaths) > 1 {
			fmt.Fprintf(&b, " (+%d similar)", len(m.SourcePaths)-1)
		}
		b.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "%d snapshot lines skipped\n", len(r.Warnings))
	}
	return b.String()
}
