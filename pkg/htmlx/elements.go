package htmlx

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// contentSelector picks the elements a reader would point at. Containers are
// left out so that a match is as small as possible.
const contentSelector = "h1, h2, h3, h4, h5, h6, p, li, a, button, label, input, textarea, select, option, td, th, caption, figcaption, blockquote, pre, summary, dt, dd, img[alt]"

// Caps applied to each listed element.
const (
	MaxElementText = 200
	MaxElementHTML = 500
)

// Element is one content element and its describing text.
type Element struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	HTML string `json:"html"`
}

// Elements lists up to limit content elements in document order; a limit of
// zero or less lists all of them. Elements with no describing text are
// skipped, as are elements nested in an element already listed.
func Elements(raw string, limit int) ([]Element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, template, svg").Remove()

	var out []Element
	doc.Find(contentSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		if sel.ParentsFiltered(contentSelector).Length() > 0 {
			return true
		}
		text := describe(sel)
		if text == "" {
			return true
		}
		outer, err := goquery.OuterHtml(sel)
		if err != nil {
			return true
		}
		text, _ = Truncate(text, MaxElementText)
		outer, _ = Truncate(outer, MaxElementHTML)
		out = append(out, Element{
			Tag:  goquery.NodeName(sel),
			Text: text,
			HTML: outer,
		})
		return true
	})
	return out, nil
}

// describe joins the visible text with the attributes that label an element
// for assistive technology.
func describe(sel *goquery.Selection) string {
	parts := []string{goquery.NodeName(sel)}
	for _, key := range []string{"aria-label", "title", "alt", "placeholder", "name"} {
		if v, ok := sel.Attr(key); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	if text := strings.Join(strings.Fields(sel.Text()), " "); text != "" {
		parts = append(parts, text)
	}
	if len(parts) == 1 {
		return ""
	}
	return strings.Join(parts, " ")
}
