package action

import (
	"context"
	"net/url"
	"strings"

	"github.com/entrhq/axcore/pkg/a11y"
	"github.com/entrhq/axcore/pkg/retrieval"
)

const (
	// MaxWaitMS caps explicit waits and wait timeouts.
	MaxWaitMS = 300000

	// MaxHTMLLength caps get_html output.
	MaxHTMLLength = 1000000
)

// Target addresses an element either by viewport coordinates or by selector.
type Target struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Selector string   `json:"selector,omitempty"`
}

func (t Target) checkTarget() error {
	hasPoint := t.X != nil || t.Y != nil
	switch {
	case hasPoint && (t.X == nil || t.Y == nil):
		return invalid("x,y", "both coordinates are required")
	case hasPoint && t.Selector != "":
		return invalid("selector", "use either x,y or selector, not both")
	case !hasPoint && t.Selector == "":
		return invalid("selector", "x,y or selector is required")
	case hasPoint && (*t.X < 0 || *t.Y < 0):
		return invalid("x,y", "coordinates must be non-negative")
	}
	return nil
}

// Navigate loads a URL, creating the session if it does not exist.
type Navigate struct {
	Base
	URL       string `json:"url"`
	WaitUntil string `json:"wait_until,omitempty"`
}

func (a *Navigate) Kind() Kind { return KindNavigate }

func (a *Navigate) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if a.URL == "" {
		return invalid("url", "is required")
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return invalid("url", "%v", err)
	}
	switch u.Scheme {
	case "http", "https", "file", "about", "data":
	default:
		return invalid("url", "unsupported scheme %q", u.Scheme)
	}
	switch a.WaitUntil {
	case "", "load", "domcontentloaded", "networkidle", "commit":
	default:
		return invalid("wait_until", "%q must be load, domcontentloaded, networkidle or commit", a.WaitUntil)
	}
	return nil
}

func (a *Navigate) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.Navigate(ctx, a)
}

// Click clicks at coordinates or on the element matching a selector.
type Click struct {
	Base
	Target
	Button     string `json:"button,omitempty"`
	ClickCount int    `json:"click_count,omitempty"`
}

func (a *Click) Kind() Kind { return KindClick }

func (a *Click) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if err := a.checkTarget(); err != nil {
		return err
	}
	switch a.Button {
	case "", "left", "right", "middle":
	default:
		return invalid("button", "%q must be left, right or middle", a.Button)
	}
	if a.ClickCount < 0 || a.ClickCount > 3 {
		return invalid("click_count", "must be between 1 and 3")
	}
	return nil
}

func (a *Click) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.Click(ctx, a)
}

// Type types text into the focused element, or fills the selector's element.
type Type struct {
	Base
	Text     string `json:"text"`
	Selector string `json:"selector,omitempty"`
}

func (a *Type) Kind() Kind { return KindType }

func (a *Type) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if a.Text == "" {
		return invalid("text", "is required")
	}
	return nil
}

func (a *Type) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.Type(ctx, a)
}

// KeyPress sends one named key, e.g. "Enter" or "Control+A".
type KeyPress struct {
	Base
	Key      string `json:"key"`
	Selector string `json:"selector,omitempty"`
}

func (a *KeyPress) Kind() Kind { return KindKeyPress }

func (a *KeyPress) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Key) == "" {
		return invalid("key", "is required")
	}
	return nil
}

func (a *KeyPress) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.KeyPress(ctx, a)
}

// Screenshot captures the page as PNG.
type Screenshot struct {
	Base
	Path     string `json:"path,omitempty"`
	FullPage bool   `json:"full_page,omitempty"`
}

func (a *Screenshot) Kind() Kind { return KindScreenshot }

func (a *Screenshot) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if strings.Contains(a.Path, "..") {
		return invalid("path", "must not contain '..'")
	}
	return nil
}

func (a *Screenshot) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.Screenshot(ctx, a)
}

// Wait sleeps for a duration or waits for one selector to reach a state.
type Wait struct {
	Base
	DurationMS *int   `json:"duration_ms,omitempty"`
	Selector   string `json:"selector,omitempty"`
	State      string `json:"state,omitempty"`
	TimeoutMS  *int   `json:"timeout_ms,omitempty"`
}

func (a *Wait) Kind() Kind { return KindWait }

func (a *Wait) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	switch {
	case a.DurationMS == nil && a.Selector == "":
		return invalid("duration_ms", "duration_ms or selector is required")
	case a.DurationMS != nil && a.Selector != "":
		return invalid("selector", "use either duration_ms or selector, not both")
	case a.DurationMS != nil && (*a.DurationMS < 0 || *a.DurationMS > MaxWaitMS):
		return invalid("duration_ms", "must be between 0 and %d", MaxWaitMS)
	case a.TimeoutMS != nil && (*a.TimeoutMS <= 0 || *a.TimeoutMS > MaxWaitMS):
		return invalid("timeout_ms", "must be between 1 and %d", MaxWaitMS)
	}
	if a.Selector == "" && a.State != "" {
		return invalid("state", "requires a selector")
	}
	switch a.State {
	case "", "attached", "detached", "visible", "hidden":
	default:
		return invalid("state", "%q must be attached, detached, visible or hidden", a.State)
	}
	return nil
}

func (a *Wait) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.Wait(ctx, a)
}

// Scroll directions.
const (
	ScrollUp     = "up"
	ScrollDown   = "down"
	ScrollLeft   = "left"
	ScrollRight  = "right"
	ScrollTop    = "top"
	ScrollBottom = "bottom"
)

// Scroll scrolls the page, or the element under the selector, by a wheel delta.
type Scroll struct {
	Base
	Direction string `json:"direction"`
	Amount    int    `json:"amount,omitempty"`
	Selector  string `json:"selector,omitempty"`
}

func (a *Scroll) Kind() Kind { return KindScroll }

func (a *Scroll) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	switch a.Direction {
	case ScrollTop, ScrollBottom:
		return nil
	case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
	case "":
		return invalid("direction", "is required")
	default:
		return invalid("direction", "%q must be up, down, left, right, top or bottom", a.Direction)
	}
	if a.Amount <= 0 {
		return invalid("amount", "must be a positive number of pixels")
	}
	return nil
}

func (a *Scroll) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.Scroll(ctx, a)
}

// Hover moves the pointer over coordinates or an element without clicking.
type Hover struct {
	Base
	Target
}

func (a *Hover) Kind() Kind { return KindHover }

func (a *Hover) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	return a.checkTarget()
}

func (a *Hover) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.Hover(ctx, a)
}

// EvaluateJS runs a script in the page. It is subject to the script policy.
type EvaluateJS struct {
	Base
	Script string `json:"script"`
}

func (a *EvaluateJS) Kind() Kind { return KindEvaluateJS }

func (a *EvaluateJS) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Script) == "" {
		return invalid("script", "is required")
	}
	return nil
}

func (a *EvaluateJS) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.EvaluateJS(ctx, a)
}

// Ranking holds the optional semantic query fields shared by retrieval actions.
type Ranking struct {
	Query               string   `json:"query,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	MaxResults          *int     `json:"max_results,omitempty"`
}

func (r Ranking) checkRanking() error {
	if t := r.SimilarityThreshold; t != nil && (*t < -1 || *t > 1) {
		return invalid("similarity_threshold", "must be between -1 and 1")
	}
	return nil
}

// GetAccessibilityTree snapshots the page and returns filtered or ranked nodes.
type GetAccessibilityTree struct {
	Base
	Ranking
	FilterRoles      []string `json:"filter_roles,omitempty"`
	FilterStates     []string `json:"filter_states,omitempty"`
	ChunkingStrategy string   `json:"chunking_strategy,omitempty"`
}

func (a *GetAccessibilityTree) Kind() Kind { return KindGetAccessibilityTree }

func (a *GetAccessibilityTree) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if err := a.checkRanking(); err != nil {
		return err
	}
	if _, err := retrieval.ParseStrategy(a.ChunkingStrategy); err != nil {
		return invalid("chunking_strategy", "%v", err)
	}
	if _, err := a11y.NewFilter(a.Filter()); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// Filter returns the action's filter predicates.
func (a *GetAccessibilityTree) Filter() a11y.FilterSpec {
	return a11y.FilterSpec{Roles: a.FilterRoles, States: a.FilterStates}
}

// RetrievalQuery converts the action into a retrieval query.
func (a *GetAccessibilityTree) RetrievalQuery() retrieval.Query {
	strategy, _ := retrieval.ParseStrategy(a.ChunkingStrategy)
	return retrieval.Query{
		Text:       a.Ranking.Query,
		Filter:     a.Filter(),
		Strategy:   strategy,
		Threshold:  a.SimilarityThreshold,
		MaxResults: a.MaxResults,
	}
}

func (a *GetAccessibilityTree) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.GetAccessibilityTree(ctx, a)
}

// GetHTML returns page or element markup, optionally cleaned and ranked.
type GetHTML struct {
	Base
	Ranking
	Selector  string `json:"selector,omitempty"`
	Clean     bool   `json:"clean,omitempty"`
	MaxLength *int   `json:"max_length,omitempty"`
}

func (a *GetHTML) Kind() Kind { return KindGetHTML }

func (a *GetHTML) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if err := a.checkRanking(); err != nil {
		return err
	}
	if a.MaxLength != nil && (*a.MaxLength <= 0 || *a.MaxLength > MaxHTMLLength) {
		return invalid("max_length", "must be between 1 and %d", MaxHTMLLength)
	}
	return nil
}

func (a *GetHTML) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.GetHTML(ctx, a)
}

// GetText returns the text content of one element.
type GetText struct {
	Base
	Selector string `json:"selector"`
}

func (a *GetText) Kind() Kind { return KindGetText }

func (a *GetText) Validate() error {
	if err := a.checkSession(); err != nil {
		return err
	}
	if a.Selector == "" {
		return invalid("selector", "is required")
	}
	return nil
}

func (a *GetText) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.GetText(ctx, a)
}

// Close tears the session down.
type Close struct {
	Base
}

func (a *Close) Kind() Kind { return KindClose }

func (a *Close) Validate() error {
	return a.checkSession()
}

func (a *Close) Dispatch(ctx context.Context, h Handler) (interface{}, error) {
	return h.Close(ctx, a)
}
