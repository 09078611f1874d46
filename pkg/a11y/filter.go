package a11y

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// FilterSpec selects nodes by role and state.
//
// Roles is an allow-set of role names or glob patterns, matched
// case-insensitively. States entries are "name" or "+name" (state must be
// present and truthy) and "-name" (state must be absent or not truthy).
type FilterSpec struct {
	Roles  []string `json:"filter_roles,omitempty" yaml:"roles,omitempty"`
	States []string `json:"filter_states,omitempty" yaml:"states,omitempty"`
}

// Empty reports whether the filter has no predicates.
func (s FilterSpec) Empty() bool {
	return len(s.Roles) == 0 && len(s.States) == 0
}

// FilterError reports an unusable filter entry.
type FilterError struct {
	Field string
	Entry string
	Err   error
}

func (e *FilterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s entry %q: %v", e.Field, e.Entry, e.Err)
	}
	return fmt.Sprintf("invalid %s entry %q", e.Field, e.Entry)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

// Filter is a compiled FilterSpec.
type Filter struct {
	roles    []glob.Glob
	required []string
	excluded []string
}

// NewFilter compiles a spec. Role patterns use glob syntax (menu*, *box).
func NewFilter(spec FilterSpec) (*Filter, error) {
	f := &Filter{}
	for _, r := range spec.Roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			return nil, &FilterError{Field: "filter_roles", Entry: r}
		}
		g, err := glob.Compile(r)
		if err != nil {
			return nil, &FilterError{Field: "filter_roles", Entry: r, Err: err}
		}
		f.roles = append(f.roles, g)
	}
	for _, s := range spec.States {
		raw := strings.TrimSpace(s)
		name := strings.ToLower(strings.TrimLeft(raw, "+-"))
		if name == "" || len(raw)-len(strings.TrimLeft(raw, "+-")) > 1 {
			return nil, &FilterError{Field: "filter_states", Entry: s}
		}
		if strings.HasPrefix(raw, "-") {
			f.excluded = append(f.excluded, name)
		} else {
			f.required = append(f.required, name)
		}
	}
	return f, nil
}

// IsIdentity reports whether the filter keeps every node.
func (f *Filter) IsIdentity() bool {
	return len(f.roles) == 0 && len(f.required) == 0 && len(f.excluded) == 0
}

// Match reports whether a single node satisfies all predicates.
func (f *Filter) Match(n *Node) bool {
	if len(f.roles) > 0 {
		role := strings.ToLower(n.Role)
		ok := false
		for _, g := range f.roles {
			if g.Match(role) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, s := range f.required {
		if !n.HasState(s) {
			return false
		}
	}
	for _, s := range f.excluded {
		if n.HasState(s) {
			return false
		}
	}
	return true
}

// Apply returns the matching node IDs in document order. A node whose
// ancestors do not match is still returned.
func (f *Filter) Apply(t *Tree) []NodeID {
	if f.IsIdentity() {
		return t.All()
	}
	var out []NodeID
	for i := range t.Nodes {
		if f.Match(&t.Nodes[i]) {
			out = append(out, NodeID(i))
		}
	}
	return out
}
