package action

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{name: "navigate", raw: `{"type":"navigate","session_name":"a","url":"https://example.com","wait_until":"load"}`, kind: KindNavigate},
		{name: "click coordinates", raw: `{"type":"click","session_name":"a","x":10,"y":20.5}`, kind: KindClick},
		{name: "click selector", raw: `{"type":"click","session_name":"a","selector":"#go","button":"right","click_count":2}`, kind: KindClick},
		{name: "type", raw: `{"type":"type","session_name":"a","text":"hello"}`, kind: KindType},
		{name: "key press", raw: `{"type":"key_press","session_name":"a","key":"Enter"}`, kind: KindKeyPress},
		{name: "screenshot", raw: `{"type":"screenshot","session_name":"a","full_page":true}`, kind: KindScreenshot},
		{name: "wait duration", raw: `{"type":"wait","session_name":"a","duration_ms":250}`, kind: KindWait},
		{name: "wait selector", raw: `{"type":"wait","session_name":"a","selector":".done","state":"visible","timeout_ms":5000}`, kind: KindWait},
		{name: "scroll", raw: `{"type":"scroll","session_name":"a","direction":"down","amount":300}`, kind: KindScroll},
		{name: "scroll top ignores amount", raw: `{"type":"scroll","session_name":"a","direction":"top"}`, kind: KindScroll},
		{name: "hover", raw: `{"type":"hover","session_name":"a","selector":"nav a"}`, kind: KindHover},
		{name: "evaluate", raw: `{"type":"evaluate_js","session_name":"a","script":"document.title"}`, kind: KindEvaluateJS},
		{name: "tree", raw: `{"type":"get_accessibility_tree","session_name":"a","query":"submit","filter_roles":["button"],"filter_states":["-disabled"],"chunking_strategy":"individual_nodes","similarity_threshold":0.2,"max_results":5}`, kind: KindGetAccessibilityTree},
		{name: "html", raw: `{"type":"get_html","session_name":"a","selector":"main","clean":true,"max_length":500}`, kind: KindGetHTML},
		{name: "text", raw: `{"type":"get_text","session_name":"a","selector":"h1"}`, kind: KindGetText},
		{name: "close", raw: `{"type":"close","session_name":"a"}`, kind: KindClose},
		{name: "unknown fields ignored", raw: `{"type":"close","session_name":"a","reason":"done"}`, kind: KindClose},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, a.Kind())
			assert.Equal(t, "a", a.Session())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{name: "not json", raw: `{"type":`, field: ""},
		{name: "array", raw: `[1]`, field: ""},
		{name: "missing type", raw: `{"session_name":"a"}`, field: "type"},
		{name: "numeric type", raw: `{"type":3,"session_name":"a"}`, field: "type"},
		{name: "unknown type", raw: `{"type":"teleport","session_name":"a"}`, field: "type"},
		{name: "missing session", raw: `{"type":"close"}`, field: "session_name"},
		{name: "bad session name", raw: `{"type":"close","session_name":"a b"}`, field: "session_name"},
		{name: "wrong field type", raw: `{"type":"navigate","session_name":"a","url":42}`, field: "url"},
		{name: "navigate without url", raw: `{"type":"navigate","session_name":"a"}`, field: "url"},
		{name: "navigate bad scheme", raw: `{"type":"navigate","session_name":"a","url":"ftp://x"}`, field: "url"},
		{name: "navigate bad wait", raw: `{"type":"navigate","session_name":"a","url":"https://x","wait_until":"soon"}`, field: "wait_until"},
		{name: "click without target", raw: `{"type":"click","session_name":"a"}`, field: "selector"},
		{name: "click half point", raw: `{"type":"click","session_name":"a","x":1}`, field: "x,y"},
		{name: "click both targets", raw: `{"type":"click","session_name":"a","x":1,"y":2,"selector":"b"}`, field: "selector"},
		{name: "click bad button", raw: `{"type":"click","session_name":"a","selector":"b","button":"side"}`, field: "button"},
		{name: "click count", raw: `{"type":"click","session_name":"a","selector":"b","click_count":4}`, field: "click_count"},
		{name: "type empty", raw: `{"type":"type","session_name":"a","text":""}`, field: "text"},
		{name: "key missing", raw: `{"type":"key_press","session_name":"a"}`, field: "key"},
		{name: "screenshot traversal", raw: `{"type":"screenshot","session_name":"a","path":"../x.png"}`, field: "path"},
		{name: "wait nothing", raw: `{"type":"wait","session_name":"a"}`, field: "duration_ms"},
		{name: "wait compound", raw: `{"type":"wait","session_name":"a","duration_ms":5,"selector":"x"}`, field: "selector"},
		{name: "wait too long", raw: `{"type":"wait","session_name":"a","duration_ms":300001}`, field: "duration_ms"},
		{name: "wait bad state", raw: `{"type":"wait","session_name":"a","selector":"x","state":"gone"}`, field: "state"},
		{name: "scroll direction", raw: `{"type":"scroll","session_name":"a","direction":"sideways","amount":1}`, field: "direction"},
		{name: "scroll amount", raw: `{"type":"scroll","session_name":"a","direction":"up"}`, field: "amount"},
		{name: "evaluate empty", raw: `{"type":"evaluate_js","session_name":"a","script":"  "}`, field: "script"},
		{name: "tree strategy", raw: `{"type":"get_accessibility_tree","session_name":"a","chunking_strategy":"pages"}`, field: "chunking_strategy"},
		{name: "tree threshold", raw: `{"type":"get_accessibility_tree","session_name":"a","similarity_threshold":2}`, field: "similarity_threshold"},
		{name: "tree filter", raw: `{"type":"get_accessibility_tree","session_name":"a","filter_states":["-"]}`, field: ""},
		{name: "html length", raw: `{"type":"get_html","session_name":"a","max_length":0}`, field: "max_length"},
		{name: "text selector", raw: `{"type":"get_text","session_name":"a"}`, field: "selector"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestPeek(t *testing.T) {
	assert.Equal(t, "click", PeekType([]byte(`{"type":"click","session_name":"s1"}`)))
	assert.Equal(t, "", PeekType([]byte(`{"type":1}`)))
	assert.Equal(t, "", PeekType([]byte(`garbage`)))
	assert.Equal(t, "s1", PeekSession([]byte(`{"type":"click","session_name":"s1"}`)))
}

func TestRetrievalQuery(t *testing.T) {
	a, err := Parse([]byte(`{"type":"get_accessibility_tree","session_name":"a","query":"pay","filter_roles":["button"],"max_results":-1}`))
	require.NoError(t, err)

	q := a.(*GetAccessibilityTree).RetrievalQuery()
	assert.Equal(t, "pay", q.Text)
	assert.Equal(t, []string{"button"}, q.Filter.Roles)
	assert.Equal(t, "subtrees", string(q.Strategy))
	require.NotNil(t, q.MaxResults)
	assert.Equal(t, -1, *q.MaxResults)
	assert.Nil(t, q.Threshold)
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"action":{"type":"close","session_name":"a"}}`))
	require.NoError(t, err)
	assert.Len(t, req.Actions, 1)
	assert.Zero(t, req.Timeout)

	req, err = DecodeRequest([]byte(`{"action":[{"type":"close","session_name":"a"},{"bogus":true}],"timeout_ms":1500}`))
	require.NoError(t, err)
	require.Len(t, req.Actions, 2)
	assert.JSONEq(t, `{"bogus":true}`, string(req.Actions[1]))
	assert.Equal(t, 1500*time.Millisecond, req.Timeout)

	for _, body := range []string{
		`nope`,
		`[]`,
		`{}`,
		`{"action":"click"}`,
		`{"action":[]}`,
		`{"action":{},"timeout_ms":-5}`,
		`{"action":{},"timeout_ms":"fast"}`,
	} {
		_, err := DecodeRequest([]byte(body))
		assert.Error(t, err, body)
	}
}

// recorder notes which Handler method each action reached.
type recorder struct {
	called Kind
}

func (r *recorder) Navigate(context.Context, *Navigate) (interface{}, error) {
	r.called = KindNavigate
	return nil, nil
}
func (r *recorder) Click(context.Context, *Click) (interface{}, error) {
	r.called = KindClick
	return nil, nil
}
func (r *recorder) Type(context.Context, *Type) (interface{}, error) {
	r.called = KindType
	return nil, nil
}
func (r *recorder) KeyPress(context.Context, *KeyPress) (interface{}, error) {
	r.called = KindKeyPress
	return nil, nil
}
func (r *recorder) Screenshot(context.Context, *Screenshot) (interface{}, error) {
	r.called = KindScreenshot
	return nil, nil
}
func (r *recorder) Wait(context.Context, *Wait) (interface{}, error) {
	r.called = KindWait
	return nil, nil
}
func (r *recorder) Scroll(context.Context, *Scroll) (interface{}, error) {
	r.called = KindScroll
	return nil, nil
}
func (r *recorder) Hover(context.Context, *Hover) (interface{}, error) {
	r.called = KindHover
	return nil, nil
}
func (r *recorder) EvaluateJS(context.Context, *EvaluateJS) (interface{}, error) {
	r.called = KindEvaluateJS
	return nil, nil
}
func (r *recorder) GetAccessibilityTree(context.Context, *GetAccessibilityTree) (interface{}, error) {
	r.called = KindGetAccessibilityTree
	return nil, nil
}
func (r *recorder) GetHTML(context.Context, *GetHTML) (interface{}, error) {
	r.called = KindGetHTML
	return nil, nil
}
func (r *recorder) GetText(context.Context, *GetText) (interface{}, error) {
	r.called = KindGetText
	return nil, nil
}
func (r *recorder) Close(context.Context, *Close) (interface{}, error) {
	r.called = KindClose
	return nil, nil
}

func TestDispatchReachesMatchingMethod(t *testing.T) {
	for _, k := range Kinds() {
		a := newAction(k)
		require.NotNil(t, a, "kind %s has no struct", k)
		assert.Equal(t, k, a.Kind())

		r := &recorder{}
		_, err := a.Dispatch(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, k, r.called)
	}
}

func TestActionJSONRoundTripKeepsType(t *testing.T) {
	a, err := Parse([]byte(`{"type":"scroll","session_name":"a","direction":"down","amount":120,"selector":"#feed"}`))
	require.NoError(t, err)

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"scroll","session_name":"a","direction":"down","amount":120,"selector":"#feed"}`, string(out))
}
