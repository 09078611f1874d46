// Package action defines the closed set of browser actions a batch may
// contain, their JSON form and their validation rules.
//
// Each kind is a struct implementing Action. Dispatch routes an action to the
// matching Handler method, so a Handler implementation must cover every kind
// to compile.
package action

import (
	"context"
	"fmt"
	"regexp"
)

// Kind is the value of an action's "type" field.
type Kind string

const (
	KindNavigate             Kind = "navigate"
	KindClick                Kind = "click"
	KindType                 Kind = "type"
	KindKeyPress             Kind = "key_press"
	KindScreenshot           Kind = "screenshot"
	KindWait                 Kind = "wait"
	KindScroll               Kind = "scroll"
	KindHover                Kind = "hover"
	KindEvaluateJS           Kind = "evaluate_js"
	KindGetAccessibilityTree Kind = "get_accessibility_tree"
	KindGetHTML              Kind = "get_html"
	KindGetText              Kind = "get_text"
	KindClose                Kind = "close"
)

// Kinds lists every action kind.
func Kinds() []Kind {
	return []Kind{
		KindNavigate, KindClick, KindType, KindKeyPress, KindScreenshot,
		KindWait, KindScroll, KindHover, KindEvaluateJS,
		KindGetAccessibilityTree, KindGetHTML, KindGetText, KindClose,
	}
}

// Action is one validated command against a named session.
type Action interface {
	Kind() Kind
	Session() string
	Validate() error
	Dispatch(ctx context.Context, h Handler) (interface{}, error)

	sealed()
}

// Handler executes actions. It has one method per kind.
type Handler interface {
	Navigate(ctx context.Context, a *Navigate) (interface{}, error)
	Click(ctx context.Context, a *Click) (interface{}, error)
	Type(ctx context.Context, a *Type) (interface{}, error)
	KeyPress(ctx context.Context, a *KeyPress) (interface{}, error)
	Screenshot(ctx context.Context, a *Screenshot) (interface{}, error)
	Wait(ctx context.Context, a *Wait) (interface{}, error)
	Scroll(ctx context.Context, a *Scroll) (interface{}, error)
	Hover(ctx context.Context, a *Hover) (interface{}, error)
	EvaluateJS(ctx context.Context, a *EvaluateJS) (interface{}, error)
	GetAccessibilityTree(ctx context.Context, a *GetAccessibilityTree) (interface{}, error)
	GetHTML(ctx context.Context, a *GetHTML) (interface{}, error)
	GetText(ctx context.Context, a *GetText) (interface{}, error)
	Close(ctx context.Context, a *Close) (interface{}, error)
}

// ValidationError reports a malformed action.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Base holds the fields common to every action.
type Base struct {
	Type        Kind   `json:"type"`
	SessionName string `json:"session_name"`
}

// Session returns the target session name.
func (b *Base) Session() string {
	return b.SessionName
}

func (b *Base) sealed() {}

func (b *Base) checkSession() error {
	if b.SessionName == "" {
		return invalid("session_name", "is required")
	}
	if !sessionNamePattern.MatchString(b.SessionName) {
		return invalid("session_name", "%q must be 1-64 letters, digits, '.', '_' or '-'", b.SessionName)
	}
	return nil
}
