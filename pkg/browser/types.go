package browser

import (
	"context"
	"time"
)

// Default values for sessions and pages
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1024
	DefaultViewportHeight = 720
	DefaultMaxSessions    = 5
	DefaultIdleTimeout    = 300 // 5 minutes in seconds
)

// SessionOptions configures a new browser page.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *Viewport

	// Timeout sets the default timeout for page operations (in milliseconds)
	Timeout float64
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// withDefaults fills unset options.
func (o SessionOptions) withDefaults() SessionOptions {
	if o.Viewport == nil {
		o.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Target addresses an element by viewport coordinates or by selector.
// Exactly one form is set.
type Target struct {
	X, Y     float64
	HasPoint bool
	Selector string
}

// Point returns a coordinate target.
func Point(x, y float64) Target {
	return Target{X: x, Y: y, HasPoint: true}
}

// Selector returns a selector target.
func Selector(sel string) Target {
	return Target{Selector: sel}
}

// NavigateOptions configures page navigation behavior.
type NavigateOptions struct {
	// WaitUntil specifies when to consider navigation successful
	// Valid values: "load", "domcontentloaded", "networkidle", "commit"
	WaitUntil string
}

// PageInfo describes the page after a navigation.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ClickOptions configures clicking.
type ClickOptions struct {
	// Button specifies which mouse button to use (left, right, middle)
	Button string

	// ClickCount is the number of times to click (1 for single, 2 for double)
	ClickCount int
}

// ScrollOptions configures scrolling. Top and bottom ignore Amount.
type ScrollOptions struct {
	Direction string
	Amount    int
	Selector  string
}

// WaitCondition is a single condition: either a duration or a selector state.
type WaitCondition struct {
	Duration time.Duration

	// Selector to wait for
	Selector string

	// State to wait for: "attached", "detached", "visible", "hidden"
	State string

	// Timeout bounds selector waits; zero uses the page default
	Timeout time.Duration
}

// ScreenshotOptions configures screenshots.
type ScreenshotOptions struct {
	FullPage bool
}

// Page is one isolated browser page. Implementations need not be safe for
// concurrent use; the session lock serialises calls.
type Page interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) (PageInfo, error)
	Click(ctx context.Context, target Target, opts ClickOptions) error
	Type(ctx context.Context, selector, text string) error
	KeyPress(ctx context.Context, selector, key string) error
	Hover(ctx context.Context, target Target) error
	Scroll(ctx context.Context, opts ScrollOptions) error
	Wait(ctx context.Context, cond WaitCondition) error
	Snapshot(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	HTML(ctx context.Context, selector string) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	URL() string
	Close() error
}

// ScriptRunner is implemented by pages that can evaluate scripts. It is a
// separate capability so engines can leave it out.
type ScriptRunner interface {
	Evaluate(ctx context.Context, script string) (interface{}, error)
}

// Engine creates pages.
type Engine interface {
	NewPage(ctx context.Context, opts SessionOptions) (Page, error)
	Close() error
}

// SessionInfo contains metadata about a browser session.
type SessionInfo struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	CurrentURL   string    `json:"current_url"`
	Inconsistent bool      `json:"inconsistent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}
