// Package htmlx reduces page markup to what is worth reading: a cleaned
// rendering for get_html and a flat list of content elements for semantic
// filtering.
package htmlx

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Cleaned is markup with noise removed, plus page metadata.
type Cleaned struct {
	HTML        string `json:"html"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Truncated   bool   `json:"truncated"`
}

var (
	skippedTags = set("script", "style", "noscript", "iframe", "embed", "object", "svg", "template")

	blockTags = set("div", "p", "section", "article", "header", "footer", "nav", "main",
		"aside", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr", "td",
		"th", "form", "fieldset", "blockquote", "pre", "dialog", "details", "summary")

	voidTags = set("area", "base", "br", "col", "embed", "hr", "img", "input", "link",
		"meta", "param", "source", "track", "wbr")

	globalAttrs = set("id", "class", "role", "name", "title", "aria-label",
		"aria-describedby", "aria-expanded", "aria-checked", "aria-selected", "aria-disabled")
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// Clean strips scripts, styles and comments from raw, keeps the attributes
// useful for targeting elements, and stops once maxLength bytes have been
// written. A maxLength of zero or less means no limit.
func Clean(raw string, maxLength int) (*Cleaned, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{max: maxLength}
	c.node(doc, 0)

	return &Cleaned{
		HTML:        strings.TrimSpace(c.b.String()),
		Title:       title(doc),
		Description: metaDescription(doc),
		Truncated:   c.truncated,
	}, nil
}

type cleaner struct {
	b         strings.Builder
	max       int
	truncated bool
}

func (c *cleaner) full() bool {
	if c.max > 0 && c.b.Len() >= c.max {
		c.truncated = true
	}
	return c.truncated
}

func (c *cleaner) node(n *html.Node, depth int) {
	if c.full() {
		return
	}
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
	case html.TextNode:
		c.text(n.Data)
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedTags[tag] {
			return
		}
		c.element(n, tag, depth)
	default:
		c.children(n, depth)
	}
}

func (c *cleaner) children(n *html.Node, depth int) {
	for child := n.FirstChild; child != nil && !c.truncated; child = child.NextSibling {
		c.node(child, depth)
	}
}

func (c *cleaner) text(data string) {
	text := strings.Join(strings.Fields(data), " ")
	if text == "" {
		return
	}
	text = html.EscapeString(text)
	if c.max > 0 && c.b.Len()+len(text) > c.max {
		cut, _ := Truncate(text, c.max-c.b.Len())
		c.b.WriteString(cut)
		c.b.WriteString("...")
		c.truncated = true
		return
	}
	c.b.WriteString(text)
}

func (c *cleaner) element(n *html.Node, tag string, depth int) {
	block := blockTags[tag]
	if block {
		c.newline(depth)
	}

	c.b.WriteString("<")
	c.b.WriteString(tag)
	for _, attr := range n.Attr {
		if keepAttr(tag, attr.Key) {
			fmt.Fprintf(&c.b, ` %s="%s"`, strings.ToLower(attr.Key), html.EscapeString(attr.Val))
		}
	}
	c.b.WriteString(">")

	if voidTags[tag] {
		return
	}

	c.children(n, depth+1)

	// Close even when truncated so the fragment stays well formed
	if block {
		c.newline(depth)
	}
	c.b.WriteString("</")
	c.b.WriteString(tag)
	c.b.WriteString(">")
}

func (c *cleaner) newline(depth int) {
	if c.b.Len() == 0 {
		return
	}
	c.b.WriteString("\n")
	c.b.WriteString(strings.Repeat("  ", depth))
}

func keepAttr(tag, attr string) bool {
	attr = strings.ToLower(attr)
	if globalAttrs[attr] || strings.HasPrefix(attr, "data-") {
		return true
	}
	switch tag {
	case "a":
		return attr == "href" || attr == "target"
	case "img":
		return attr == "src" || attr == "alt"
	case "input", "textarea", "select", "option":
		return attr == "type" || attr == "placeholder" || attr == "value" || attr == "checked" || attr == "disabled"
	case "button":
		return attr == "type" || attr == "disabled"
	case "form":
		return attr == "action" || attr == "method"
	case "label":
		return attr == "for"
	case "table":
		return attr == "summary"
	}
	return false
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence and
// reports whether anything was cut.
func Truncate(s string, n int) (string, bool) {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s, false
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n], true
}

func title(doc *html.Node) string {
	n := find(doc, func(n *html.Node) bool { return n.Data == "title" })
	if n == nil || n.FirstChild == nil || n.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func metaDescription(doc *html.Node) string {
	n := find(doc, func(n *html.Node) bool {
		return n.Data == "meta" && strings.EqualFold(attr(n, "name"), "description")
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attr(n, "content"))
}

// find returns the first element in document order that satisfies match.
func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := find(child, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
