package a11y

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID addresses a node inside a Tree's arena.
type NodeID int

// NoParent is the Parent of top-level nodes, which hang off the virtual root.
const NoParent NodeID = -1

// State is one state or property of a node. Bare flags carry the value "true".
type State struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Truthy reports whether the state counts as set.
func (s State) Truthy() bool {
	return strings.EqualFold(s.Value, "true")
}

// String renders the state the way it appears in a snapshot.
func (s State) String() string {
	if s.Value == "true" {
		return s.Name
	}
	return s.Name + "=" + s.Value
}

// Path is the sequence of child indices from the root to a node.
type Path []int

// String formats the path as dot-separated indices, e.g. "0.2.1".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ".")
}

// ParsePath parses the dotted form produced by Path.String.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty path")
	}
	fields := strings.Split(s, ".")
	p := make(Path, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid path segment %q in %q", f, s)
		}
		p[i] = n
	}
	return p, nil
}

// Node is one element of an accessibility snapshot.
type Node struct {
	ID       NodeID
	Role     string
	Name     string
	States   []State
	Parent   NodeID
	Children []NodeID
	Depth    int
	Path     Path
	// Line is the 1-based snapshot line the node was parsed from.
	Line int
}

// State returns the named state, compared case-insensitively.
func (n *Node) State(name string) (State, bool) {
	for _, s := range n.States {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return State{}, false
}

// HasState reports whether the named state is present and truthy.
func (n *Node) HasState(name string) bool {
	s, ok := n.State(name)
	return ok && s.Truthy()
}

// StateStrings returns the states in source order in snapshot notation.
func (n *Node) StateStrings() []string {
	out := make([]string, len(n.States))
	for i, s := range n.States {
		out[i] = s.String()
	}
	return out
}

// Label renders the node as a single snapshot line without indentation.
func (n *Node) Label() string {
	var b strings.Builder
	b.WriteString(n.Role)
	if n.Name != "" {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(n.Name))
	}
	if len(n.States) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(n.StateStrings(), ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Tree is an arena of nodes under a virtual root. Nodes are stored in
// document (depth-first pre-order) order.
type Tree struct {
	Nodes []Node
	Roots []NodeID
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.Nodes)
}

// Node returns the node with the given ID or nil if it is out of range.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.Nodes) {
		return nil
	}
	return &t.Nodes[id]
}

// Lookup resolves a path to a node ID.
func (t *Tree) Lookup(p Path) (NodeID, bool) {
	if len(p) == 0 {
		return 0, false
	}
	level := t.Roots
	var id NodeID
	for _, idx := range p {
		if idx < 0 || idx >= len(level) {
			return 0, false
		}
		id = level[idx]
		level = t.Nodes[id].Children
	}
	return id, true
}

// Ancestors returns the IDs from the top-level ancestor down to the node's parent.
func (t *Tree) Ancestors(id NodeID) []NodeID {
	var out []NodeID
	for p := t.Nodes[id].Parent; p != NoParent; p = t.Nodes[p].Parent {
		out = append(out, p)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Descendants returns every descendant of id in depth-first order.
func (t *Tree) Descendants(id NodeID) []NodeID {
	var out []NodeID
	var walk func(NodeID)
	walk = func(n NodeID) {
		for _, c := range t.Nodes[n].Children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

// All returns every node ID in document order.
func (t *Tree) All() []NodeID {
	ids := make([]NodeID, len(t.Nodes))
	for i := range t.Nodes {
		ids[i] = NodeID(i)
	}
	return ids
}

// String re-serialises the tree in snapshot notation with two-space indents.
func (t *Tree) String() string {
	var b strings.Builder
	for i := range t.Nodes {
		n := &t.Nodes[i]
		b.WriteString(strings.Repeat("  ", n.Depth))
		b.WriteString("- ")
		b.WriteString(n.Label())
		b.WriteString("\n")
	}
	return b.String()
}

func (t *Tree) add(parent NodeID, role, name string, states []State, line int) NodeID {
	id := NodeID(len(t.Nodes))
	n := Node{
		ID:     id,
		Role:   role,
		Name:   name,
		States: states,
		Parent: parent,
		Line:   line,
	}
	if parent == NoParent {
		n.Path = Path{len(t.Roots)}
		t.Roots = append(t.Roots, id)
	} else {
		p := &t.Nodes[parent]
		n.Depth = p.Depth + 1
		n.Path = append(append(Path{}, p.Path...), len(p.Children))
		p.Children = append(p.Children, id)
	}
	t.Nodes = append(t.Nodes, n)
	return id
}
