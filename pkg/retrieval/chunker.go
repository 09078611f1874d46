package retrieval

import (
	"fmt"
	"strings"

	"github.com/entrhq/axcore/pkg/a11y"
)

// Strategy selects how filtered nodes are grouped into chunks.
type Strategy string

const (
	// IndividualNodes makes one chunk per node, describing only that node.
	IndividualNodes Strategy = "individual_nodes"

	// Subtrees makes one chunk per node that also lists its descendants.
	Subtrees Strategy = "subtrees"
)

// DefaultMaxChars caps the text of a subtree chunk.
const DefaultMaxChars = 2000

// ParseStrategy validates a strategy name. An empty name selects Subtrees.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return Subtrees, nil
	case IndividualNodes, Subtrees:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown chunking strategy %q (want %s or %s)", s, IndividualNodes, Subtrees)
}

// Chunk is a unit of text to embed, derived from one or more nodes.
type Chunk struct {
	ID          string      `json:"id"`
	Text        string      `json:"text"`
	SourcePaths []a11y.Path `json:"-"`
	Strategy    Strategy    `json:"strategy"`

	nodes []a11y.NodeID
	index int
}

// Nodes returns the IDs of the chunk's source nodes in document order.
func (c Chunk) Nodes() []a11y.NodeID {
	return c.nodes
}

// Chunker builds chunks from filtered nodes.
type Chunker struct {
	Strategy  Strategy
	MaxChars  int
	RoleHints bool
}

// Chunks returns the chunks for ids, which must be in document order. Output
// order follows the first source node of each chunk.
func (c Chunker) Chunks(t *a11y.Tree, ids []a11y.NodeID) []Chunk {
	strategy := c.Strategy
	if strategy == "" {
		strategy = Subtrees
	}
	maxChars := c.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	chunks := make([]Chunk, 0, len(ids))
	byText := make(map[string]int)
	for _, id := range ids {
		n := t.Node(id)
		text := NodeText(n, c.RoleHints)
		if strategy == Subtrees {
			text = subtreeText(t, id, text, maxChars)
		}

		if strategy == Subtrees {
			if idx, ok := byText[text]; ok {
				chunks[idx].SourcePaths = append(chunks[idx].SourcePaths, n.Path)
				chunks[idx].nodes = append(chunks[idx].nodes, id)
				continue
			}
			byText[text] = len(chunks)
		}
		chunks = append(chunks, Chunk{
			ID:          "c:" + n.Path.String(),
			Text:        text,
			SourcePaths: []a11y.Path{n.Path},
			Strategy:    strategy,
			nodes:       []a11y.NodeID{id},
			index:       len(chunks),
		})
	}
	return chunks
}

// NodeText describes a single node for embedding, e.g.
// "Role: button | Name: Submit | States: disabled".
func NodeText(n *a11y.Node, hints bool) string {
	parts := make([]string, 0, 4)
	parts = append(parts, "Role: "+n.Role)
	if n.Name != "" {
		parts = append(parts, "Name: "+n.Name)
	}
	if len(n.States) > 0 {
		parts = append(parts, "States: "+strings.Join(n.StateStrings(), ", "))
	}
	if hints {
		if h := roleHint(n); h != "" {
			parts = append(parts, "Hints: "+h)
		}
	}
	return strings.Join(parts, " | ")
}

func subtreeText(t *a11y.Tree, id a11y.NodeID, own string, maxChars int) string {
	desc := t.Descendants(id)
	if len(desc) == 0 {
		return own
	}
	pairs := make([]string, 0, len(desc))
	for _, d := range desc {
		n := t.Node(d)
		if n.Name == "" {
			pairs = append(pairs, n.Role)
			continue
		}
		pairs = append(pairs, n.Role+" "+n.Name)
	}
	text := own + " || Contains: " + strings.Join(pairs, "; ")

	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	ownLen := len([]rune(own))
	if ownLen >= maxChars {
		return own
	}
	return string(runes[:maxChars])
}

var inputRoles = map[string]bool{
	"textbox":   true,
	"combobox":  true,
	"searchbox": true,
}

var (
	submitWords = []string{"submit", "continue", "next", "confirm"}
	cancelWords = []string{"cancel", "back", "previous"}
)

// roleHint adds generic intent words so queries like "submit the form" match
// the right controls.
func roleHint(n *a11y.Node) string {
	role := strings.ToLower(n.Role)
	switch {
	case inputRoles[role]:
		return "input field form"
	case role == "link":
		return "navigation link clickable"
	case role == "button":
		name := strings.ToLower(n.Name)
		if containsAny(name, submitWords) {
			return "submit action confirm"
		}
		if containsAny(name, cancelWords) {
			return "cancel navigation back"
		}
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
