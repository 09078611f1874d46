package a11y

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseWarning records a snapshot line that was skipped.
type ParseWarning struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// String formats the warning for logs.
func (w ParseWarning) String() string {
	return fmt.Sprintf("line %d: %s: %q", w.Line, w.Reason, w.Text)
}

const tabWidth = 4

var (
	errNoRole           = errors.New("missing role token")
	errUnterminatedName = errors.New("unterminated quoted name")
	errUnterminatedList = errors.New("unterminated state list")
	errBadRole          = errors.New("invalid role token")
)

type frame struct {
	indent int
	id     NodeID
}

// Parse builds a tree from an indentation-delimited accessibility snapshot.
// Lines that cannot be tokenised are skipped and reported as warnings; parsing
// never fails outright.
func Parse(snapshot string) (*Tree, []ParseWarning) {
	t := &Tree{}
	var warnings []ParseWarning
	var stack []frame

	lines := strings.Split(strings.ReplaceAll(snapshot, "\r\n", "\n"), "\n")
	for i, raw := range lines {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lineNo := i + 1
		indent, body := splitIndent(raw)

		// Skipped lines must not disturb the stack, so only truncate on success.
		depth := len(stack)
		for depth > 0 && stack[depth-1].indent >= indent {
			depth--
		}
		parent := NoParent
		if depth > 0 {
			parent = stack[depth-1].id
		}

		body = unwrapKey(strings.TrimSpace(strings.TrimPrefix(body, "-")))
		if strings.HasPrefix(body, "/") {
			if parent == NoParent {
				warnings = append(warnings, ParseWarning{Line: lineNo, Text: raw, Reason: "property without an owning node"})
				continue
			}
			p := &t.Nodes[parent]
			p.States = append(p.States, parseProperty(body))
			continue
		}

		tok, err := tokenize(body)
		if err != nil {
			warnings = append(warnings, ParseWarning{Line: lineNo, Text: raw, Reason: err.Error()})
			continue
		}

		id := t.add(parent, tok.role, tok.name, tok.states, lineNo)
		stack = append(stack[:depth], frame{indent: indent, id: id})
	}

	return t, warnings
}

// splitIndent measures leading whitespace, counting a tab as tabWidth columns.
func splitIndent(line string) (int, string) {
	width := 0
	for i, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += tabWidth
		default:
			return width, line[i:]
		}
	}
	return width, ""
}

// parseProperty turns "/url: /home" into the state url=/home.
func parseProperty(body string) State {
	body = strings.TrimPrefix(body, "/")
	key, value, found := strings.Cut(body, ":")
	key = strings.TrimSpace(key)
	if !found {
		return State{Name: key, Value: "true"}
	}
	return State{Name: key, Value: unquote(strings.TrimSpace(value))}
}

type token struct {
	role   string
	name   string
	states []State
}

func tokenize(s string) (token, error) {
	var tok token

	j := 0
	for j < len(s) && isRoleByte(s[j], j == 0) {
		j++
	}
	if j == 0 {
		return tok, errNoRole
	}
	tok.role = s[:j]
	rest := s[j:]
	if rest != "" {
		switch rest[0] {
		case ' ', '\t', ':', '[', '"':
		default:
			return tok, errBadRole
		}
	}

	hasName := false
	for len(rest) > 0 {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		switch rest[0] {
		case '"':
			name, n, ok := readQuoted(rest)
			if !ok {
				return tok, errUnterminatedName
			}
			if !hasName {
				tok.name = name
				hasName = true
			}
			rest = rest[n:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return tok, errUnterminatedList
			}
			for _, part := range strings.Split(rest[1:end], ",") {
				if st, ok := parseState(part); ok {
					tok.states = append(tok.states, st)
				}
			}
			rest = rest[end+1:]
		case ':':
			inline := unquote(strings.TrimSpace(rest[1:]))
			if !hasName && inline != "" {
				tok.name = inline
			}
			rest = ""
		default:
			end := strings.IndexAny(rest, " \t[:\"")
			if end < 0 {
				end = len(rest)
			}
			if st, ok := parseState(rest[:end]); ok {
				tok.states = append(tok.states, st)
			}
			rest = rest[end:]
		}
	}
	return tok, nil
}

func isRoleByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case first:
		return false
	case c >= '0' && c <= '9', c == '_', c == '-':
		return true
	}
	return false
}

// readQuoted reads a double-quoted string starting at s[0] and returns the
// unescaped value and the number of bytes consumed.
func readQuoted(s string) (string, int, bool) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			return b.String(), i + 1, true
		default:
			b.WriteByte(s[i])
		}
	}
	return "", 0, false
}

func parseState(s string) (State, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return State{}, false
	}
	key, value, found := strings.Cut(s, "=")
	if !found {
		return State{Name: s, Value: "true"}, true
	}
	return State{Name: strings.TrimSpace(key), Value: strings.TrimSpace(value)}, true
}

// unquote decodes a YAML-quoted inline value. Unquoted values are returned
// as is.
func unquote(s string) string {
	if s == "" || (s[0] != '"' && s[0] != '\'') || closingQuote(s) != len(s)-1 {
		return s
	}
	if v, ok := decodeScalar(s); ok {
		return v
	}
	return s
}

// unwrapKey decodes a line whose key was quoted because its text needs YAML
// escaping, as in - 'heading "Step 1: Details" [level=1]':
// A double-quoted key is only unwrapped when it holds a quoted name, so a bare
// "name" line is still reported as missing its role.
func unwrapKey(body string) string {
	if body == "" || (body[0] != '\'' && body[0] != '"') {
		return body
	}
	end := closingQuote(body)
	if end < 0 {
		return body
	}
	key, ok := decodeScalar(body[:end+1])
	if !ok || (body[0] == '"' && !strings.Contains(key, `"`)) {
		return body
	}
	return key + body[end+1:]
}

// closingQuote returns the index of the quote that ends the YAML scalar
// opened at s[0], or -1. Single-quoted scalars escape a quote by doubling it.
func closingQuote(s string) int {
	q := s[0]
	for i := 1; i < len(s); i++ {
		switch {
		case q == '"' && s[i] == '\\':
			i++
		case s[i] == q && q == '\'' && i+1 < len(s) && s[i+1] == '\'':
			i++
		case s[i] == q:
			return i
		}
	}
	return -1
}

func decodeScalar(quoted string) (string, bool) {
	var v string
	if err := yaml.Unmarshal([]byte(quoted), &v); err != nil {
		return "", false
	}
	return v, true
}
