package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/entrhq/axcore/pkg/browser"
	"github.com/entrhq/axcore/pkg/browser/browsertest"
	"github.com/entrhq/axcore/pkg/embedding"
	"github.com/entrhq/axcore/pkg/retrieval"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const loginSnapshot = `- banner:
  - link "Home"
  - navigation "Main":
    - link "Pricing"
- main:
  - heading "Sign in" [level=1]
  - textbox "Email"
  - textbox "Password"
  - button "Sign in"
  - button "Cancel" [disabled]
`

type fixture struct {
	engine *browsertest.Engine
	exec   *Executor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	engine := browsertest.NewEngine()
	engine.Snapshot = loginSnapshot
	return newFixtureWith(t, engine, embedding.Static(embedding.NewHashing(embedding.DefaultHashingDimensions)), opts...)
}

func newFixtureWith(t *testing.T, engine *browsertest.Engine, emb embedding.Embedder, opts ...Option) *fixture {
	t.Helper()
	sessions := browser.NewSessionManager(engine)
	retriever := retrieval.NewRetriever(emb, retrieval.DefaultOptions(), nil)
	exec := New(sessions, retriever, opts...)
	t.Cleanup(func() {
		require.NoError(t, exec.Wait(context.Background()))
		require.NoError(t, sessions.Shutdown(context.Background()))
	})
	return &fixture{engine: engine, exec: exec}
}

func batch(actions ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(actions))
	for i, a := range actions {
		out[i] = json.RawMessage(a)
	}
	return out
}

func (f *fixture) run(t *testing.T, actions ...string) *Response {
	t.Helper()
	resp, err := f.exec.Execute(context.Background(), batch(actions...), 0)
	require.NoError(t, err)
	return resp
}

func kinds(resp *Response) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		if r.Error != nil {
			out[i] = r.Error.Kind
		} else {
			out[i] = "ok"
		}
	}
	return out
}

func TestMalformedActionFailsOnlyItsIndex(t *testing.T) {
	f := newFixture(t)

	resp := f.run(t,
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"click","session_name":"a"}`,
		`{"type":"teleport","session_name":"a"}`,
		`42`,
		`{"type":"wait","session_name":"a","duration_ms":"soon"}`,
		`{"type":"type","session_name":"a","text":"hello"}`,
	)

	require.Len(t, resp.Results, 6)
	assert.Equal(t, []string{"ok", KindValidation, KindValidation, KindValidation, KindValidation, "ok"}, kinds(resp))
	for i, r := range resp.Results {
		assert.Equal(t, i, r.Index)
		assert.False(t, r.Fatal)
	}
	assert.Equal(t, "teleport", resp.Results[2].Type)
	assert.Equal(t, []string{"hello"}, f.engine.Pages()[0].Typed())
	assert.NotEmpty(t, resp.RequestID)
}

func TestNavigateCreatesSessionOthersDoNot(t *testing.T) {
	f := newFixture(t)

	resp := f.run(t,
		`{"type":"click","session_name":"a","selector":"#go"}`,
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"navigate","session_name":"a","url":"https://example.com/next"}`,
	)

	assert.Equal(t, []string{KindSessionNotFound, "ok", "ok"}, kinds(resp))
	first := resp.Results[1].Data.(NavigateData)
	second := resp.Results[2].Data.(NavigateData)
	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, "https://example.com/next", second.URL)
	assert.Len(t, f.engine.Pages(), 1)
}

func TestSessionLimit(t *testing.T) {
	engine := browsertest.NewEngine()
	sessions := browser.NewSessionManager(engine, browser.WithMaxSessions(1))
	exec := New(sessions, retrieval.NewRetriever(nil, retrieval.DefaultOptions(), nil))
	defer func() { _ = sessions.Shutdown(context.Background()) }()

	resp, err := exec.Execute(context.Background(), batch(
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"navigate","session_name":"b","url":"https://example.com"}`,
	), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", KindSessionLimit}, kinds(resp))
}

func TestDifferentSessionsRunConcurrently(t *testing.T) {
	f := newFixture(t)
	f.engine.Delays = map[string]time.Duration{"click": 80 * time.Millisecond}

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			resp, err := f.exec.Execute(context.Background(), batch(
				`{"type":"navigate","session_name":"`+name+`","url":"https://example.com"}`,
				`{"type":"click","session_name":"`+name+`","selector":"#go"}`,
			), 0)
			assert.NoError(t, err)
			assert.Equal(t, []string{"ok", "ok"}, kinds(resp))
		}(name)
	}
	wg.Wait()

	var clicks []browsertest.Event
	for _, ev := range f.engine.Events() {
		if ev.Op == "click" {
			clicks = append(clicks, ev)
		}
	}
	require.Len(t, clicks, 2)
	assert.NotEqual(t, clicks[0].Page, clicks[1].Page)
	assert.True(t, clicks[0].Start.Before(clicks[1].End) && clicks[1].Start.Before(clicks[0].End),
		"clicks on different sessions should overlap")
}

func TestSameSessionNeverOverlaps(t *testing.T) {
	f := newFixture(t)
	f.run(t, `{"type":"navigate","session_name":"a","url":"https://example.com"}`)
	f.engine.Delays = map[string]time.Duration{"click": 15 * time.Millisecond, "hover": 15 * time.Millisecond}

	var wg sync.WaitGroup
	for _, op := range []string{"click", "hover", "click"} {
		wg.Add(1)
		go func(op string) {
			defer wg.Done()
			resp, err := f.exec.Execute(context.Background(), batch(
				`{"type":"`+op+`","session_name":"a","selector":"#x"}`,
				`{"type":"`+op+`","session_name":"a","x":1,"y":2}`,
			), 0)
			assert.NoError(t, err)
			assert.Equal(t, []string{"ok", "ok"}, kinds(resp))
		}(op)
	}
	wg.Wait()

	events := f.engine.EventsFor(0)
	require.Len(t, events, 7)
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Start.Before(events[i-1].End),
			"%s overlapped %s", events[i].Op, events[i-1].Op)
	}
}

func TestBatchTimeoutMarksSessionInconsistent(t *testing.T) {
	f := newFixture(t)
	f.engine.Delays = map[string]time.Duration{"click": 150 * time.Millisecond}

	resp, err := f.exec.Execute(context.Background(), batch(
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"click","session_name":"a","selector":"#slow"}`,
		`{"type":"type","session_name":"a","text":"never"}`,
		`{"type":"screenshot","session_name":"a"}`,
	), 40*time.Millisecond)
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{"ok", KindTimeout, KindTimeout}, kinds(resp))
	assert.False(t, resp.Results[1].Fatal)
	marker := resp.Results[2]
	assert.True(t, marker.Fatal)
	assert.Equal(t, 2, marker.Index)
	assert.Equal(t, "type", marker.Type)
	assert.Contains(t, marker.Error.Message, "2 skipped")

	s, err := f.exec.Sessions().GetSession("a")
	require.NoError(t, err)
	assert.True(t, s.Inconsistent())

	// The abandoned click still holds the session until it returns
	require.NoError(t, f.exec.Wait(context.Background()))
	assert.Empty(t, f.engine.Pages()[0].Typed())

	f.run(t, `{"type":"navigate","session_name":"a","url":"https://example.com/again"}`)
	assert.False(t, s.Inconsistent())
}

func TestDeadlineCutsShortContextAwareAction(t *testing.T) {
	// The wait returns as soon as the deadline fires, so its own result and
	// the deadline arrive together. The session is marked either way.
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		resp, err := f.exec.Execute(context.Background(), batch(
			`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
			`{"type":"wait","session_name":"a","duration_ms":500}`,
		), 30*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, KindTimeout, resp.Results[1].Error.Kind)

		s, err := f.exec.Sessions().GetSession("a")
		require.NoError(t, err)
		require.True(t, s.Inconsistent(), "run %d", i)
		require.NoError(t, f.exec.Wait(context.Background()))
	}
}

func TestSessionFatalAbortsBatch(t *testing.T) {
	f := newFixture(t)
	f.engine.CrashOn = "click"

	resp, err := f.exec.Execute(context.Background(), batch(
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"click","session_name":"a","selector":"#boom"}`,
		`{"type":"type","session_name":"a","text":"never"}`,
		`{"type":"screenshot","session_name":"a"}`,
	), 0)

	var fatal *browser.SessionFatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "a", fatal.Session)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{"ok", KindSessionFatal, KindSessionFatal}, kinds(resp))
	assert.False(t, resp.Results[1].Fatal)
	assert.True(t, resp.Results[2].Fatal)

	_, err = f.exec.Sessions().GetSession("a")
	assert.ErrorIs(t, err, browser.ErrSessionNotFound)
	assert.True(t, f.engine.Pages()[0].Closed())
}

func TestFatalOnLastActionHasNoMarker(t *testing.T) {
	f := newFixture(t)
	f.engine.CrashOn = "screenshot"

	resp, err := f.exec.Execute(context.Background(), batch(
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"screenshot","session_name":"a"}`,
	), 0)
	assert.True(t, browser.IsFatal(err))
	assert.Len(t, resp.Results, 2)
}

func TestAccessibilityTreeBrowseReturnsAllNodes(t *testing.T) {
	f := newFixture(t)

	resp := f.run(t,
		`{"type":"navigate","session_name":"a","url":"https://example.com/login"}`,
		`{"type":"get_accessibility_tree","session_name":"a"}`,
	)
	require.Equal(t, []string{"ok", "ok"}, kinds(resp))

	data := resp.Results[1].Data.(TreeData)
	assert.Equal(t, "https://example.com/login", data.URL)
	assert.Equal(t, retrieval.ModeBrowse, data.Mode)
	assert.Equal(t, 10, data.TotalNodes)

	var paths []string
	for _, m := range data.Matches {
		paths = append(paths, m.Path)
		assert.Nil(t, m.Score)
	}
	assert.Equal(t, []string{"0", "0.0", "0.1", "0.1.0", "1", "1.0", "1.1", "1.2", "1.3", "1.4"}, paths)
}

func TestAccessibilityTreeFilterAndQuery(t *testing.T) {
	f := newFixture(t)
	f.run(t, `{"type":"navigate","session_name":"a","url":"https://example.com/login"}`)

	resp := f.run(t,
		`{"type":"get_accessibility_tree","session_name":"a","filter_roles":["button"],"filter_states":["-disabled"]}`,
		`{"type":"get_accessibility_tree","session_name":"a","query":"email input field","chunking_strategy":"individual_nodes","similarity_threshold":-1,"max_results":3}`,
		`{"type":"get_accessibility_tree","session_name":"a","filter_roles":["["]}`,
	)
	assert.Equal(t, []string{"ok", "ok", KindValidation}, kinds(resp))

	filtered := resp.Results[0].Data.(TreeData)
	require.Len(t, filtered.Matches, 1)
	assert.Equal(t, "Sign in", filtered.Matches[0].Name)

	ranked := resp.Results[1].Data.(TreeData)
	assert.Equal(t, retrieval.ModeSemantic, ranked.Mode)
	require.Len(t, ranked.Matches, 3)
	assert.Equal(t, "Email", ranked.Matches[0].Name)
	for i := 1; i < len(ranked.Matches); i++ {
		assert.GreaterOrEqual(t, *ranked.Matches[i-1].Score, *ranked.Matches[i].Score)
	}
}

func TestEmbeddingInitErrorContinuesBatch(t *testing.T) {
	engine := browsertest.NewEngine()
	broken := embedding.NewShared("broken", func(context.Context) (embedding.Embedder, error) {
		return nil, errors.New("model file missing")
	})
	f := newFixtureWith(t, engine, broken)

	resp, err := f.exec.Execute(context.Background(), batch(
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"get_accessibility_tree","session_name":"a","query":"sign in"}`,
		`{"type":"get_accessibility_tree","session_name":"a"}`,
	), 0)

	var initErr *embedding.InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "broken", initErr.Provider)
	assert.Equal(t, []string{"ok", KindEmbeddingInit, "ok"}, kinds(resp))
}

func TestActionErrorsAreData(t *testing.T) {
	f := newFixture(t)
	f.engine.Missing = map[string]bool{"#missing": true}

	resp := f.run(t,
		`{"type":"navigate","session_name":"a","url":"https://unreachable.invalid"}`,
		`{"type":"click","session_name":"a","selector":"#missing"}`,
		`{"type":"wait","session_name":"a","selector":"#missing","timeout_ms":10}`,
		`{"type":"get_text","session_name":"a","selector":"#missing"}`,
		`{"type":"get_text","session_name":"a","selector":"h1"}`,
	)

	assert.Equal(t, []string{
		string(browser.KindNavigationFailed),
		string(browser.KindElementNotFound),
		string(browser.KindTimeout),
		string(browser.KindElementNotFound),
		"ok",
	}, kinds(resp))
	assert.Equal(t, TextData{Text: "text of h1"}, resp.Results[4].Data)
}

func TestPageActions(t *testing.T) {
	f := newFixture(t)

	resp := f.run(t,
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"click","session_name":"a","x":10,"y":20,"button":"right"}`,
		`{"type":"type","session_name":"a","selector":"#q","text":"shoes"}`,
		`{"type":"key_press","session_name":"a","key":"Enter"}`,
		`{"type":"scroll","session_name":"a","direction":"down","amount":300}`,
		`{"type":"scroll","session_name":"a","direction":"top"}`,
		`{"type":"hover","session_name":"a","selector":"nav"}`,
		`{"type":"wait","session_name":"a","duration_ms":5}`,
	)

	for _, kind := range kinds(resp) {
		assert.Equal(t, "ok", kind)
	}
	assert.Equal(t, PageData{URL: "https://example.com"}, resp.Results[1].Data)
	page := f.engine.Pages()[0]
	assert.Equal(t, []string{"shoes"}, page.Typed())
	assert.Equal(t, []string{"Enter"}, page.Keys())

	var ops []string
	for _, ev := range f.engine.EventsFor(0) {
		ops = append(ops, ev.Op+":"+ev.Arg)
	}
	assert.Equal(t, []string{
		"navigate:https://example.com", "click:(10,20)", "type:#q", "key_press:Enter",
		"scroll:down", "scroll:top", "hover:nav", "wait:",
	}, ops)
}

func TestScreenshot(t *testing.T) {
	store := NewMemScreenshotStore()
	f := newFixture(t, WithScreenshotStore(store))

	resp := f.run(t,
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"screenshot","session_name":"a"}`,
		`{"type":"screenshot","session_name":"a","path":"shots/home","full_page":true}`,
	)
	require.Equal(t, []string{"ok", "ok", "ok"}, kinds(resp))

	plain := resp.Results[1].Data.(ScreenshotData)
	assert.Equal(t, browsertest.PNG, plain.Image)
	assert.Empty(t, plain.Path)

	saved := resp.Results[2].Data.(ScreenshotData)
	assert.Equal(t, "shots/home.png", saved.Path)
	got, err := store.Read(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, browsertest.PNG, got)

	out, err := json.Marshal(resp.Results[1])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"image":"iVBORw0KGgpmYWtl"`)
}

func TestCloseThenRecreate(t *testing.T) {
	f := newFixture(t)

	resp := f.run(t,
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"close","session_name":"a"}`,
		`{"type":"get_text","session_name":"a","selector":"h1"}`,
		`{"type":"close","session_name":"a"}`,
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
	)

	assert.Equal(t, []string{"ok", "ok", KindSessionNotFound, KindSessionNotFound, "ok"}, kinds(resp))
	assert.Equal(t, CloseData{Session: "a", Closed: true}, resp.Results[1].Data)
	assert.True(t, resp.Results[4].Data.(NavigateData).Created)
	require.Len(t, f.engine.Pages(), 2)
	assert.True(t, f.engine.Pages()[0].Closed())
}

func TestEvaluateJS(t *testing.T) {
	restricted, err := NewScriptPolicy(ScriptPolicyConfig{Enabled: true, AllowedHosts: []string{"*.internal"}})
	require.NoError(t, err)

	tests := []struct {
		name      string
		policy    *ScriptPolicy
		noScripts bool
		script    string
		want      string
	}{
		{name: "disabled by default", script: "1+1", want: KindScriptDenied},
		{name: "allowed", policy: AllowAll(), script: "document.title", want: "ok"},
		{name: "script throws", policy: AllowAll(), script: "throw new Error('x')", want: string(browser.KindScriptError)},
		{name: "host not allowed", policy: restricted, script: "1+1", want: KindScriptDenied},
		{name: "page without scripts", policy: AllowAll(), noScripts: true, script: "1+1", want: KindScriptDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := browsertest.NewEngine()
			engine.NoScripts = tt.noScripts
			var opts []Option
			if tt.policy != nil {
				opts = append(opts, WithScriptPolicy(tt.policy))
			}
			f := newFixtureWith(t, engine, embedding.Static(embedding.NewHashing(64)), opts...)

			resp := f.run(t,
				`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
				`{"type":"evaluate_js","session_name":"a","script":`+mustJSON(t, tt.script)+`}`,
			)
			assert.Equal(t, []string{"ok", tt.want}, kinds(resp))
		})
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestGetHTML(t *testing.T) {
	f := newFixture(t)
	f.engine.HTML = `<html><head><title>Shop</title><script>x()</script></head><body>
		<nav><a href="/">Home</a><a href="/cart">Cart</a></nav>
		<main><h1>Checkout</h1><button type="submit">Place order</button></main>
	</body></html>`

	resp := f.run(t,
		`{"type":"navigate","session_name":"a","url":"https://example.com"}`,
		`{"type":"get_html","session_name":"a"}`,
		`{"type":"get_html","session_name":"a","max_length":20}`,
		`{"type":"get_html","session_name":"a","clean":true}`,
		`{"type":"get_html","session_name":"a","query":"place order button","similarity_threshold":-1,"max_results":1}`,
		`{"type":"get_html","session_name":"a","max_length":0}`,
	)
	require.Equal(t, []string{"ok", "ok", "ok", "ok", "ok", KindValidation}, kinds(resp))

	raw := resp.Results[1].Data.(HTMLData)
	assert.Equal(t, f.engine.HTML, raw.HTML)
	assert.False(t, raw.Truncated)

	short := resp.Results[2].Data.(HTMLData)
	assert.Len(t, short.HTML, 20)
	assert.True(t, short.Truncated)

	cleaned := resp.Results[3].Data.(HTMLData)
	assert.Equal(t, "Shop", cleaned.Title)
	assert.NotContains(t, cleaned.HTML, "<script>")
	assert.Contains(t, cleaned.HTML, `<button type="submit">`)

	ranked := resp.Results[4].Data.(HTMLData)
	require.Len(t, ranked.Matches, 1)
	assert.Equal(t, "button", ranked.Matches[0].Tag)
	assert.Equal(t, `<button type="submit">Place order</button>`, ranked.HTML)
}

func TestExecuteRequest(t *testing.T) {
	f := newFixture(t)

	resp, err := f.exec.ExecuteRequest(context.Background(),
		[]byte(`{"action":{"type":"navigate","session_name":"a","url":"https://example.com"},"timeout_ms":5000}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, kinds(resp))

	_, err = f.exec.ExecuteRequest(context.Background(), []byte(`{"actions":[]}`))
	assert.Equal(t, KindValidation, errorKind(err))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"session not found", &browser.SessionError{Name: "a", Err: browser.ErrSessionNotFound}, KindSessionNotFound},
		{"fatal wrapping exec", &browser.SessionFatalError{Op: "click", Err: &browser.ExecError{Kind: browser.KindTimeout}}, KindSessionFatal},
		{"exec", &browser.ExecError{Kind: browser.KindElementNotFound, Op: "click", Err: errors.New("x")}, "element_not_found"},
		{"init", &embedding.InitError{Provider: "p", Err: errors.New("x")}, KindEmbeddingInit},
		{"script", ErrScriptRateLimited, KindScriptDenied},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"cancelled", context.Canceled, KindCancelled},
		{"other", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}
