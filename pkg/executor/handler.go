package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/entrhq/axcore/pkg/action"
	"github.com/entrhq/axcore/pkg/browser"
	"github.com/entrhq/axcore/pkg/htmlx"
	"github.com/entrhq/axcore/pkg/retrieval"
)

// NavigateData is the result of navigate.
type NavigateData struct {
	browser.PageInfo
	Created bool `json:"created"`
}

// PageData is the result of actions that only change the page.
type PageData struct {
	URL string `json:"url"`
}

// ScreenshotData is the result of screenshot. Image is base64 in JSON.
type ScreenshotData struct {
	Image []byte `json:"image"`
	Size  int    `json:"size"`
	Path  string `json:"path,omitempty"`
}

// EvaluateData is the result of evaluate_js.
type EvaluateData struct {
	Result interface{} `json:"result"`
}

// TreeData is the result of get_accessibility_tree.
type TreeData struct {
	URL string `json:"url"`
	*retrieval.Result
}

// HTMLMatch is one element ranked by a get_html query.
type HTMLMatch struct {
	htmlx.Element
	Score float64 `json:"score"`
}

// HTMLData is the result of get_html.
type HTMLData struct {
	URL         string      `json:"url"`
	HTML        string      `json:"html"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Truncated   bool        `json:"truncated"`
	Query       string      `json:"query,omitempty"`
	Matches     []HTMLMatch `json:"matches,omitempty"`
}

// TextData is the result of get_text.
type TextData struct {
	Text string `json:"text"`
}

// CloseData is the result of close.
type CloseData struct {
	Session string `json:"session_name"`
	Closed  bool   `json:"closed"`
}

// sessionHandler runs actions on one leased session.
type sessionHandler struct {
	exec  *Executor
	lease *browser.Lease
}

var _ action.Handler = (*sessionHandler)(nil)

func (h *sessionHandler) page() browser.Page {
	return h.lease.Session.Page()
}

// fail names the session in fatal errors raised by the page.
func (h *sessionHandler) fail(err error) error {
	var fatal *browser.SessionFatalError
	if errors.As(err, &fatal) && fatal.Session == "" {
		fatal.Session = h.lease.Session.Name
	}
	return err
}

func (h *sessionHandler) pageData(err error) (interface{}, error) {
	if err != nil {
		return nil, h.fail(err)
	}
	return PageData{URL: h.page().URL()}, nil
}

func target(t action.Target) browser.Target {
	if t.X != nil && t.Y != nil {
		return browser.Point(*t.X, *t.Y)
	}
	return browser.Selector(t.Selector)
}

func (h *sessionHandler) Navigate(ctx context.Context, a *action.Navigate) (interface{}, error) {
	info, err := h.page().Navigate(ctx, a.URL, browser.NavigateOptions{WaitUntil: a.WaitUntil})
	if err != nil {
		return nil, h.fail(err)
	}
	if ctx.Err() == nil {
		h.lease.Session.ClearInconsistent()
	}
	return NavigateData{PageInfo: info, Created: h.lease.Created}, nil
}

func (h *sessionHandler) Click(ctx context.Context, a *action.Click) (interface{}, error) {
	return h.pageData(h.page().Click(ctx, target(a.Target), browser.ClickOptions{
		Button:     a.Button,
		ClickCount: a.ClickCount,
	}))
}

func (h *sessionHandler) Type(ctx context.Context, a *action.Type) (interface{}, error) {
	return h.pageData(h.page().Type(ctx, a.Selector, a.Text))
}

func (h *sessionHandler) KeyPress(ctx context.Context, a *action.KeyPress) (interface{}, error) {
	return h.pageData(h.page().KeyPress(ctx, a.Selector, a.Key))
}

func (h *sessionHandler) Hover(ctx context.Context, a *action.Hover) (interface{}, error) {
	return h.pageData(h.page().Hover(ctx, target(a.Target)))
}

func (h *sessionHandler) Scroll(ctx context.Context, a *action.Scroll) (interface{}, error) {
	return h.pageData(h.page().Scroll(ctx, browser.ScrollOptions{
		Direction: a.Direction,
		Amount:    a.Amount,
		Selector:  a.Selector,
	}))
}

func (h *sessionHandler) Wait(ctx context.Context, a *action.Wait) (interface{}, error) {
	cond := browser.WaitCondition{Selector: a.Selector, State: a.State}
	if a.DurationMS != nil {
		cond.Duration = time.Duration(*a.DurationMS) * time.Millisecond
	}
	if a.TimeoutMS != nil {
		cond.Timeout = time.Duration(*a.TimeoutMS) * time.Millisecond
	}
	return h.pageData(h.page().Wait(ctx, cond))
}

func (h *sessionHandler) Screenshot(ctx context.Context, a *action.Screenshot) (interface{}, error) {
	img, err := h.page().Screenshot(ctx, browser.ScreenshotOptions{FullPage: a.FullPage})
	if err != nil {
		return nil, h.fail(err)
	}
	data := ScreenshotData{Image: img, Size: len(img)}
	if a.Path != "" {
		saved, err := h.exec.screenshots.Save(a.Path, img)
		if err != nil {
			return nil, err
		}
		data.Path = saved
	}
	return data, nil
}

func (h *sessionHandler) EvaluateJS(ctx context.Context, a *action.EvaluateJS) (interface{}, error) {
	runner, ok := h.page().(browser.ScriptRunner)
	if !ok {
		return nil, ErrScriptUnsupported
	}
	if err := h.exec.scripts.Check(h.page().URL()); err != nil {
		return nil, err
	}
	result, err := runner.Evaluate(ctx, a.Script)
	if err != nil {
		return nil, h.fail(err)
	}
	return EvaluateData{Result: result}, nil
}

func (h *sessionHandler) GetAccessibilityTree(ctx context.Context, a *action.GetAccessibilityTree) (interface{}, error) {
	snapshot, err := h.page().Snapshot(ctx)
	if err != nil {
		return nil, h.fail(err)
	}
	res, err := h.exec.retriever.Retrieve(ctx, snapshot, a.RetrievalQuery())
	if err != nil {
		return nil, err
	}
	return TreeData{URL: h.page().URL(), Result: res}, nil
}

func (h *sessionHandler) GetHTML(ctx context.Context, a *action.GetHTML) (interface{}, error) {
	raw, err := h.page().HTML(ctx, a.Selector)
	if err != nil {
		return nil, h.fail(err)
	}
	limit := h.exec.htmlLength
	if a.MaxLength != nil {
		limit = *a.MaxLength
	}
	data := HTMLData{URL: h.page().URL(), Query: a.Ranking.Query}

	if a.Ranking.Query != "" {
		elems, err := htmlx.Elements(raw, DefaultHTMLElements)
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(elems))
		for i, el := range elems {
			texts[i] = el.Text
		}
		ranked, err := h.exec.retriever.RankTexts(ctx, a.Ranking.Query, texts, a.SimilarityThreshold, a.MaxResults)
		if err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(ranked))
		data.Matches = make([]HTMLMatch, 0, len(ranked))
		for _, m := range ranked {
			data.Matches = append(data.Matches, HTMLMatch{Element: elems[m.Index], Score: m.Score})
			parts = append(parts, elems[m.Index].HTML)
		}
		raw = strings.Join(parts, "\n")
	}

	if a.Clean {
		cleaned, err := htmlx.Clean(raw, limit)
		if err != nil {
			return nil, err
		}
		data.HTML = cleaned.HTML
		data.Title = cleaned.Title
		data.Description = cleaned.Description
		data.Truncated = cleaned.Truncated
		return data, nil
	}
	data.HTML, data.Truncated = htmlx.Truncate(raw, limit)
	return data, nil
}

func (h *sessionHandler) GetText(ctx context.Context, a *action.GetText) (interface{}, error) {
	text, err := h.page().Text(ctx, a.Selector)
	if err != nil {
		return nil, h.fail(err)
	}
	return TextData{Text: text}, nil
}

func (h *sessionHandler) Close(_ context.Context, a *action.Close) (interface{}, error) {
	if err := h.exec.sessions.CloseHeld(h.lease.Session); err != nil {
		return nil, err
	}
	return CloseData{Session: a.Session(), Closed: true}, nil
}
