// Package browsertest provides an in-memory browser engine for tests. Every
// page operation is recorded with start and end timestamps so tests can
// check ordering and overlap.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/axcore/pkg/browser"
)

// PNG is the fake screenshot payload.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Event is one recorded page operation.
type Event struct {
	Page  int
	Op    string
	Arg   string
	Start time.Time
	End   time.Time
}

// Engine is a fake browser.Engine. Configure it before use; the exported
// fields are read under the engine lock.
type Engine struct {
	// Snapshot is returned by every page unless Snapshots has an entry for the page URL.
	Snapshot  string
	Snapshots map[string]string

	// HTML is returned by HTML("") and wrapped in the selector's tag otherwise.
	HTML string

	// Delay is applied to every operation; Delays overrides it per op.
	Delay  time.Duration
	Delays map[string]time.Duration

	// Missing selectors fail with element_not_found.
	Missing map[string]bool

	// CrashOn closes the page when the op runs, producing a session-fatal error.
	CrashOn string

	// NoScripts makes pages that do not implement browser.ScriptRunner.
	NoScripts bool

	// NewPageErr fails page creation.
	NewPageErr error

	mu     sync.Mutex
	pages  []*Page
	events []Event
	closed bool
}

// NewEngine creates an engine with a default snapshot.
func NewEngine() *Engine {
	return &Engine{
		Snapshot: "- main:\n  - heading \"Fake\" [level=1]\n  - button \"OK\"\n",
		HTML:     "<html><body><main><h1>Fake</h1><button>OK</button></main></body></html>",
	}
}

// NewPage implements browser.Engine.
func (e *Engine) NewPage(ctx context.Context, _ browser.SessionOptions) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewPageErr != nil {
		return nil, e.NewPageErr
	}
	p := &Page{engine: e, ID: len(e.pages), url: "about:blank"}
	e.pages = append(e.pages, p)
	if e.NoScripts {
		return struct{ browser.Page }{p}, nil
	}
	return p, nil
}

// Close implements browser.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Pages returns the pages created so far.
func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Page(nil), e.pages...)
}

// Events returns recorded operations in completion order.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// EventsFor returns the operations of one page.
func (e *Engine) EventsFor(page int) []Event {
	var out []Event
	for _, ev := range e.Events() {
		if ev.Page == page {
			out = append(out, ev)
		}
	}
	return out
}

func (e *Engine) delay(op string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.Delays[op]; ok {
		return d
	}
	return e.Delay
}

func (e *Engine) record(ev Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

// Page is a fake browser.Page and browser.ScriptRunner.
type Page struct {
	ID int

	engine *Engine
	closed atomic.Bool

	mu    sync.Mutex
	url   string
	typed []string
	keys  []string
}

var (
	_ browser.Page         = (*Page)(nil)
	_ browser.ScriptRunner = (*Page)(nil)
)

// Closed reports whether the page was closed.
func (p *Page) Closed() bool {
	return p.closed.Load()
}

// Typed returns the texts typed into the page.
func (p *Page) Typed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}

// Keys returns the keys pressed on the page.
func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// run records op and simulates its latency. The sleep ignores ctx, as a real
// browser call would.
func (p *Page) run(op, arg string, fn func() error) error {
	start := time.Now()
	defer func() {
		p.engine.record(Event{Page: p.ID, Op: op, Arg: arg, Start: start, End: time.Now()})
	}()

	if p.closed.Load() {
		return &browser.SessionFatalError{Op: op, Err: browser.ErrPageClosed}
	}
	if d := p.engine.delay(op); d > 0 {
		time.Sleep(d)
	}

	p.engine.mu.Lock()
	crash := p.engine.CrashOn == op
	p.engine.mu.Unlock()
	if crash {
		p.closed.Store(true)
		return &browser.SessionFatalError{Op: op, Err: errors.New("target closed")}
	}
	return fn()
}

func (p *Page) missing(op, selector string) error {
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	if selector != "" && p.engine.Missing[selector] {
		return &browser.ExecError{Kind: browser.KindElementNotFound, Op: op, Err: fmt.Errorf("no element matches %q", selector)}
	}
	return nil
}

func describe(t browser.Target) string {
	if t.HasPoint {
		return fmt.Sprintf("(%g,%g)", t.X, t.Y)
	}
	return t.Selector
}

// Navigate implements browser.Page. URLs containing "unreachable" fail.
func (p *Page) Navigate(_ context.Context, url string, _ browser.NavigateOptions) (browser.PageInfo, error) {
	var info browser.PageInfo
	err := p.run("navigate", url, func() error {
		if strings.Contains(url, "unreachable") {
			return &browser.ExecError{Kind: browser.KindNavigationFailed, Op: "navigate", Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
		}
		p.mu.Lock()
		p.url = url
		p.mu.Unlock()
		info = browser.PageInfo{URL: url, Title: "Title of " + url}
		return nil
	})
	return info, err
}

// Click implements browser.Page.
func (p *Page) Click(_ context.Context, target browser.Target, _ browser.ClickOptions) error {
	return p.run("click", describe(target), func() error {
		return p.missing("click", target.Selector)
	})
}

// Type implements browser.Page.
func (p *Page) Type(_ context.Context, selector, text string) error {
	return p.run("type", selector, func() error {
		if err := p.missing("type", selector); err != nil {
			return err
		}
		p.mu.Lock()
		p.typed = append(p.typed, text)
		p.mu.Unlock()
		return nil
	})
}

// KeyPress implements browser.Page.
func (p *Page) KeyPress(_ context.Context, selector, key string) error {
	return p.run("key_press", key, func() error {
		if err := p.missing("key_press", selector); err != nil {
			return err
		}
		p.mu.Lock()
		p.keys = append(p.keys, key)
		p.mu.Unlock()
		return nil
	})
}

// Hover implements browser.Page.
func (p *Page) Hover(_ context.Context, target browser.Target) error {
	return p.run("hover", describe(target), func() error {
		return p.missing("hover", target.Selector)
	})
}

// Scroll implements browser.Page.
func (p *Page) Scroll(_ context.Context, opts browser.ScrollOptions) error {
	return p.run("scroll", opts.Direction, func() error {
		return p.missing("scroll", opts.Selector)
	})
}

// Wait implements browser.Page. Duration waits honour ctx.
func (p *Page) Wait(ctx context.Context, cond browser.WaitCondition) error {
	return p.run("wait", cond.Selector, func() error {
		if cond.Selector != "" {
			if err := p.missing("wait", cond.Selector); err != nil {
				return &browser.ExecError{Kind: browser.KindTimeout, Op: "wait", Err: err}
			}
			return nil
		}
		timer := time.NewTimer(cond.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}

// Snapshot implements browser.Page.
func (p *Page) Snapshot(context.Context) (string, error) {
	var snap string
	err := p.run("snapshot", "", func() error {
		url := p.URL()
		p.engine.mu.Lock()
		defer p.engine.mu.Unlock()
		if s, ok := p.engine.Snapshots[url]; ok {
			snap = s
			return nil
		}
		snap = p.engine.Snapshot
		return nil
	})
	return snap, err
}

// Screenshot implements browser.Page.
func (p *Page) Screenshot(context.Context, browser.ScreenshotOptions) ([]byte, error) {
	err := p.run("screenshot", "", func() error { return nil })
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), PNG...), nil
}

// HTML implements browser.Page.
func (p *Page) HTML(_ context.Context, selector string) (string, error) {
	var html string
	err := p.run("get_html", selector, func() error {
		if err := p.missing("get_html", selector); err != nil {
			return err
		}
		p.engine.mu.Lock()
		html = p.engine.HTML
		p.engine.mu.Unlock()
		if selector != "" {
			html = fmt.Sprintf("<div data-selector=%q>%s</div>", selector, html)
		}
		return nil
	})
	return html, err
}

// Text implements browser.Page.
func (p *Page) Text(_ context.Context, selector string) (string, error) {
	var text string
	err := p.run("get_text", selector, func() error {
		if err := p.missing("get_text", selector); err != nil {
			return err
		}
		text = "text of " + selector
		return nil
	})
	return text, err
}

// Evaluate implements browser.ScriptRunner. Scripts starting with "throw"
// fail with a script error.
func (p *Page) Evaluate(_ context.Context, script string) (interface{}, error) {
	var result interface{}
	err := p.run("evaluate_js", script, func() error {
		if strings.HasPrefix(strings.TrimSpace(script), "throw") {
			return &browser.ExecError{Kind: browser.KindScriptError, Op: "evaluate_js", Err: errors.New("Uncaught Error")}
		}
		result = map[string]interface{}{"script": script, "url": p.URL()}
		return nil
	})
	return result, err
}

// URL implements browser.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.closed.Store(true)
	return nil
}
