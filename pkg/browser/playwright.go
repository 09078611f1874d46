package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/axcore/pkg/logging"
)

// PlaywrightOptions configures the Chromium engine.
type PlaywrightOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Install downloads the driver and browsers on first start
	Install bool
}

// PlaywrightEngine runs one Chromium instance and gives every session its
// own browser context.
type PlaywrightEngine struct {
	opts   PlaywrightOptions
	logger *logging.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightEngine creates an engine. Playwright is started lazily by the
// first NewPage call.
func NewPlaywrightEngine(opts PlaywrightOptions, logger *logging.Logger) *PlaywrightEngine {
	if logger == nil {
		logger = logging.Discard("browser.playwright")
	}
	return &PlaywrightEngine{opts: opts, logger: logger}
}

func (e *PlaywrightEngine) start() (playwright.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		return e.browser, nil
	}

	// Keep driver output away from stdout, which carries results
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if e.opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	e.pw = pw
	e.browser = browser
	e.logger.Infof("Launched Chromium %s (headless=%v)", browser.Version(), e.opts.Headless)
	return browser, nil
}

// NewPage opens an isolated context with a single page.
func (e *PlaywrightEngine) NewPage(ctx context.Context, opts SessionOptions) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	browser, err := e.start()
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	return &playwrightPage{bctx: bctx, page: page}, nil
}

// Close stops the browser and the Playwright driver.
func (e *PlaywrightEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		e.browser = nil
	}
	if e.pw != nil {
		if err := e.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		e.pw = nil
	}
	return errors.Join(errs...)
}

type playwrightPage struct {
	bctx playwright.BrowserContext
	page playwright.Page
}

var (
	_ Page         = (*playwrightPage)(nil)
	_ ScriptRunner = (*playwrightPage)(nil)
)

// classify maps Playwright errors onto the error taxonomy. Timeouts on
// element operations mean the element never became actionable.
func classify(op string, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, playwright.ErrTargetClosed):
		return &SessionFatalError{Op: op, Err: err}
	case errors.Is(err, playwright.ErrTimeout) && kind != KindElementNotFound:
		return &ExecError{Kind: KindTimeout, Op: op, Err: err}
	default:
		return &ExecError{Kind: kind, Op: op, Err: err}
	}
}

func (p *playwrightPage) alive(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.page.IsClosed() {
		return &SessionFatalError{Op: op, Err: ErrPageClosed}
	}
	return nil
}

func mouseButton(name string) *playwright.MouseButton {
	if name == "" {
		return nil
	}
	button := playwright.MouseButton(name)
	return &button
}

func clickCount(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func (p *playwrightPage) Navigate(ctx context.Context, url string, opts NavigateOptions) (PageInfo, error) {
	if err := p.alive(ctx, "navigate"); err != nil {
		return PageInfo{}, err
	}

	gotoOpts := playwright.PageGotoOptions{}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &waitUntil
	}

	if _, err := p.page.Goto(url, gotoOpts); err != nil {
		return PageInfo{}, classify("navigate", KindNavigationFailed, err)
	}

	title, _ := p.page.Title()
	return PageInfo{URL: p.page.URL(), Title: title}, nil
}

func (p *playwrightPage) Click(ctx context.Context, target Target, opts ClickOptions) error {
	if err := p.alive(ctx, "click"); err != nil {
		return err
	}
	if target.HasPoint {
		err := p.page.Mouse().Click(target.X, target.Y, playwright.MouseClickOptions{
			Button:     mouseButton(opts.Button),
			ClickCount: clickCount(opts.ClickCount),
		})
		return classify("click", KindElementNotFound, err)
	}
	err := p.page.Locator(target.Selector).First().Click(playwright.LocatorClickOptions{
		Button:     mouseButton(opts.Button),
		ClickCount: clickCount(opts.ClickCount),
	})
	return classify("click", KindElementNotFound, err)
}

func (p *playwrightPage) Type(ctx context.Context, selector, text string) error {
	if err := p.alive(ctx, "type"); err != nil {
		return err
	}
	if selector != "" {
		return classify("type", KindElementNotFound, p.page.Locator(selector).First().Fill(text))
	}
	return classify("type", KindElementNotFound, p.page.Keyboard().Type(text))
}

func (p *playwrightPage) KeyPress(ctx context.Context, selector, key string) error {
	if err := p.alive(ctx, "key_press"); err != nil {
		return err
	}
	if selector != "" {
		return classify("key_press", KindElementNotFound, p.page.Locator(selector).First().Press(key))
	}
	return classify("key_press", KindElementNotFound, p.page.Keyboard().Press(key))
}

func (p *playwrightPage) Hover(ctx context.Context, target Target) error {
	if err := p.alive(ctx, "hover"); err != nil {
		return err
	}
	if target.HasPoint {
		return classify("hover", KindElementNotFound, p.page.Mouse().Move(target.X, target.Y))
	}
	return classify("hover", KindElementNotFound, p.page.Locator(target.Selector).First().Hover())
}

const (
	scrollToTop    = "() => window.scrollTo(0, 0)"
	scrollToBottom = "() => window.scrollTo(0, document.body.scrollHeight)"
	scrollElement  = "(el, top) => { el.scrollTop = top ? 0 : el.scrollHeight }"
)

func (p *playwrightPage) Scroll(ctx context.Context, opts ScrollOptions) error {
	if err := p.alive(ctx, "scroll"); err != nil {
		return err
	}

	if opts.Direction == "top" || opts.Direction == "bottom" {
		top := opts.Direction == "top"
		if opts.Selector != "" {
			_, err := p.page.Locator(opts.Selector).First().Evaluate(scrollElement, top)
			return classify("scroll", KindElementNotFound, err)
		}
		script := scrollToBottom
		if top {
			script = scrollToTop
		}
		_, err := p.page.Evaluate(script)
		return classify("scroll", KindScriptError, err)
	}

	if opts.Selector != "" {
		// The wheel scrolls whatever is under the pointer
		if err := p.page.Locator(opts.Selector).First().Hover(); err != nil {
			return classify("scroll", KindElementNotFound, err)
		}
	}

	amount := float64(opts.Amount)
	var dx, dy float64
	switch opts.Direction {
	case "up":
		dy = -amount
	case "down":
		dy = amount
	case "left":
		dx = -amount
	case "right":
		dx = amount
	default:
		return &ExecError{Kind: KindScriptError, Op: "scroll", Err: fmt.Errorf("unknown direction %q", opts.Direction)}
	}
	return classify("scroll", KindScriptError, p.page.Mouse().Wheel(dx, dy))
}

func (p *playwrightPage) Wait(ctx context.Context, cond WaitCondition) error {
	if err := p.alive(ctx, "wait"); err != nil {
		return err
	}

	if cond.Selector == "" {
		timer := time.NewTimer(cond.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	waitOpts := playwright.LocatorWaitForOptions{}
	if cond.State != "" {
		state := playwright.WaitForSelectorState(cond.State)
		waitOpts.State = &state
	}
	if cond.Timeout > 0 {
		waitOpts.Timeout = playwright.Float(float64(cond.Timeout.Milliseconds()))
	}
	return classify("wait", KindTimeout, p.page.Locator(cond.Selector).First().WaitFor(waitOpts))
}

func (p *playwrightPage) Snapshot(ctx context.Context) (string, error) {
	if err := p.alive(ctx, "snapshot"); err != nil {
		return "", err
	}
	snap, err := p.page.Locator("body").AriaSnapshot()
	if err != nil {
		return "", classify("snapshot", KindScriptError, err)
	}
	return snap, nil
}

func (p *playwrightPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := p.alive(ctx, "screenshot"); err != nil {
		return nil, err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, classify("screenshot", KindScriptError, err)
	}
	return data, nil
}

func (p *playwrightPage) HTML(ctx context.Context, selector string) (string, error) {
	if err := p.alive(ctx, "get_html"); err != nil {
		return "", err
	}
	if selector == "" {
		html, err := p.page.Content()
		return html, classify("get_html", KindScriptError, err)
	}
	html, err := p.page.Locator(selector).First().Evaluate("el => el.outerHTML", nil)
	if err != nil {
		return "", classify("get_html", KindElementNotFound, err)
	}
	s, _ := html.(string)
	return s, nil
}

func (p *playwrightPage) Text(ctx context.Context, selector string) (string, error) {
	if err := p.alive(ctx, "get_text"); err != nil {
		return "", err
	}
	text, err := p.page.Locator(selector).First().TextContent()
	if err != nil {
		return "", classify("get_text", KindElementNotFound, err)
	}
	return text, nil
}

func (p *playwrightPage) Evaluate(ctx context.Context, script string) (interface{}, error) {
	if err := p.alive(ctx, "evaluate_js"); err != nil {
		return nil, err
	}
	result, err := p.page.Evaluate(script)
	if err != nil {
		return nil, classify("evaluate_js", KindScriptError, err)
	}
	return result, nil
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Close() error {
	return p.bctx.Close()
}
