package htmlx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLength int
		wantTitle string
		wantDesc  string
		wantHTML  []string
		wantNot   []string
		truncated bool
	}{
		{
			name: "scripts and styles removed",
			input: `<html>
				<head>
					<title>Checkout</title>
					<meta name="description" content="Pay for your order">
					<script>track('view');</script>
					<style>body { color: red; }</style>
				</head>
				<body>
					<h1 id="title">Your basket</h1>
					<p class="note">Two items.</p>
					<!-- promo slot -->
				</body>
			</html>`,
			wantTitle: "Checkout",
			wantDesc:  "Pay for your order",
			wantHTML:  []string{`<h1 id="title">`, "Your basket", `<p class="note">`, "Two items."},
			wantNot:   []string{"<script>", "track(", "<style>", "color: red", "promo slot"},
		},
		{
			name: "form attributes kept",
			input: `<form action="/pay" method="post">
				<label for="card">Card</label>
				<input type="text" name="card" id="card" placeholder="Card number" data-test="card" onchange="x()">
				<button type="submit" class="primary" style="color:red">Pay</button>
			</form>`,
			wantHTML: []string{
				`<form action="/pay" method="post">`,
				`<label for="card">`,
				`placeholder="Card number"`,
				`data-test="card"`,
				`<button type="submit" class="primary">`,
			},
			wantNot: []string{"onchange", "style="},
		},
		{
			name:     "void elements not closed",
			input:    `<p>a<br>b<img src="x.png" alt="X"><input type="checkbox" checked></p>`,
			wantHTML: []string{"<br>", `<img src="x.png" alt="X">`, `<input type="checkbox" checked="">`},
			wantNot:  []string{"</br>", "</img>", "</input>"},
		},
		{
			name:     "embedded content removed",
			input:    `<div>Content<iframe src="ad.html"></iframe><svg><circle/></svg><noscript>No JS</noscript></div>`,
			wantHTML: []string{"<div>", "Content"},
			wantNot:  []string{"<iframe", "<svg", "No JS"},
		},
		{
			name: "truncated at limit",
			input: `<body>
				<p>First paragraph with some content.</p>
				<p>Second paragraph with more content.</p>
				<p>Third paragraph that should be cut.</p>
			</body>`,
			maxLength: 100,
			wantHTML:  []string{"First paragraph", "..."},
			wantNot:   []string{"Third paragraph"},
			truncated: true,
		},
		{
			name:     "text escaped",
			input:    `<p>1 &lt; 2 &amp; "quoted"</p>`,
			wantHTML: []string{"1 &lt; 2 &amp; &#34;quoted&#34;"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Clean(tt.input, tt.maxLength)
			require.NoError(t, err)

			assert.Equal(t, tt.wantTitle, got.Title)
			assert.Equal(t, tt.wantDesc, got.Description)
			assert.Equal(t, tt.truncated, got.Truncated)
			for _, want := range tt.wantHTML {
				assert.Contains(t, got.HTML, want)
			}
			for _, notWant := range tt.wantNot {
				assert.NotContains(t, got.HTML, notWant)
			}
		})
	}
}

func TestCleanClosesOpenTagsWhenTruncated(t *testing.T) {
	got, err := Clean("<main><section><p>"+strings.Repeat("word ", 100)+"</p></section></main>", 60)
	require.NoError(t, err)

	assert.True(t, got.Truncated)
	assert.True(t, strings.HasSuffix(got.HTML, "</html>"))
	assert.Contains(t, got.HTML, "</p>")
	assert.Contains(t, got.HTML, "</section>")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		n       int
		want    string
		wantCut bool
	}{
		{"fits", "hello", 10, "hello", false},
		{"exact", "hello", 5, "hello", false},
		{"cut", "hello", 3, "hel", true},
		{"negative", "hello", -1, "", true},
		{"rune boundary", "héllo", 2, "h", true},
		{"after rune", "héllo", 3, "hé", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cut := Truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCut, cut)
		})
	}
}

func TestKeepAttr(t *testing.T) {
	tests := []struct {
		tag  string
		attr string
		want bool
	}{
		{"div", "id", true},
		{"div", "class", true},
		{"div", "style", false},
		{"div", "onclick", false},
		{"div", "data-test", true},
		{"div", "ARIA-LABEL", true},
		{"a", "href", true},
		{"div", "href", false},
		{"img", "alt", true},
		{"input", "placeholder", true},
		{"label", "for", true},
		{"form", "method", true},
	}

	for _, tt := range tests {
		t.Run(tt.tag+"_"+tt.attr, func(t *testing.T) {
			assert.Equal(t, tt.want, keepAttr(tt.tag, tt.attr))
		})
	}
}

func TestElements(t *testing.T) {
	page := `<html><body>
		<nav><a href="/">Home</a><a href="/cart">Cart</a></nav>
		<main>
			<h1>Sign in</h1>
			<p>Use your work account. <a href="/help">Help</a></p>
			<input type="email" placeholder="Email address">
			<button aria-label="Submit form"></button>
			<div><span>   </span></div>
			<script>document.write("<p>injected</p>")</script>
		</main>
	</body></html>`

	elems, err := Elements(page, 0)
	require.NoError(t, err)

	var tags, texts []string
	for _, e := range elems {
		tags = append(tags, e.Tag)
		texts = append(texts, e.Text)
	}
	assert.Equal(t, []string{"a", "a", "h1", "p", "input", "button"}, tags)
	assert.Equal(t, "a Home", texts[0])
	assert.Equal(t, "p Use your work account. Help", texts[3])
	assert.Equal(t, "input Email address", texts[4])
	assert.Equal(t, "button Submit form", texts[5])
	assert.Equal(t, `<a href="/cart">Cart</a>`, elems[1].HTML)
	for _, text := range texts {
		assert.NotContains(t, text, "injected")
	}
}

func TestElementsLimitAndCaps(t *testing.T) {
	long := strings.Repeat("x", 2*MaxElementHTML)
	elems, err := Elements("<p>"+long+"</p><p>second</p><p>third</p>", 2)
	require.NoError(t, err)

	require.Len(t, elems, 2)
	assert.Len(t, elems[0].Text, MaxElementText)
	assert.Len(t, elems[0].HTML, MaxElementHTML)
	assert.Equal(t, "p second", elems[1].Text)
}

func TestElementsEmpty(t *testing.T) {
	elems, err := Elements("", 0)
	require.NoError(t, err)
	assert.Empty(t, elems)
}
