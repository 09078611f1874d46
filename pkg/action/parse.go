package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

func newAction(k Kind) Action {
	switch k {
	case KindNavigate:
		return &Navigate{}
	case KindClick:
		return &Click{}
	case KindType:
		return &Type{}
	case KindKeyPress:
		return &KeyPress{}
	case KindScreenshot:
		return &Screenshot{}
	case KindWait:
		return &Wait{}
	case KindScroll:
		return &Scroll{}
	case KindHover:
		return &Hover{}
	case KindEvaluateJS:
		return &EvaluateJS{}
	case KindGetAccessibilityTree:
		return &GetAccessibilityTree{}
	case KindGetHTML:
		return &GetHTML{}
	case KindGetText:
		return &GetText{}
	case KindClose:
		return &Close{}
	}
	return nil
}

// Parse decodes and validates one action. Unknown fields are ignored.
func Parse(raw []byte) (Action, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ValidationError{Message: "action is not valid JSON"}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, &ValidationError{Message: "action must be a JSON object"}
	}

	t := doc.Get("type")
	if !t.Exists() {
		return nil, invalid("type", "is required")
	}
	if t.Type != gjson.String {
		return nil, invalid("type", "must be a string")
	}
	a := newAction(Kind(t.Str))
	if a == nil {
		return nil, invalid("type", "unknown action type %q", t.Str)
	}

	if err := json.Unmarshal(raw, a); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, invalid(typeErr.Field, "expected %s, got %s", typeErr.Type, typeErr.Value)
		}
		return nil, &ValidationError{Message: err.Error()}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// PeekType returns the "type" field of a raw action, or "" when it is missing.
func PeekType(raw []byte) string {
	t := gjson.GetBytes(raw, "type")
	if t.Type != gjson.String {
		return ""
	}
	return t.Str
}

// PeekSession returns the "session_name" field of a raw action.
func PeekSession(raw []byte) string {
	return gjson.GetBytes(raw, "session_name").String()
}

// Request is a decoded batch envelope.
type Request struct {
	Actions []json.RawMessage
	Timeout time.Duration
}

// DecodeRequest reads {"action": {...}} or {"action": [...]} with an optional
// "timeout_ms". Individual actions are left raw; they are validated one by one
// during execution.
func DecodeRequest(body []byte) (*Request, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("request body is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, errors.New("request body must be a JSON object")
	}

	req := &Request{}
	field := doc.Get("action")
	switch {
	case !field.Exists():
		return nil, errors.New(`request is missing "action"`)
	case field.IsArray():
		for _, item := range field.Array() {
			req.Actions = append(req.Actions, json.RawMessage(item.Raw))
		}
	case field.IsObject():
		req.Actions = []json.RawMessage{json.RawMessage(field.Raw)}
	default:
		return nil, errors.New(`"action" must be an object or an array`)
	}
	if len(req.Actions) == 0 {
		return nil, errors.New(`"action" is empty`)
	}

	if ms := doc.Get("timeout_ms"); ms.Exists() {
		if ms.Type != gjson.Number || ms.Int() <= 0 {
			return nil, fmt.Errorf(`"timeout_ms" must be a positive number, got %s`, ms.Raw)
		}
		req.Timeout = time.Duration(ms.Int()) * time.Millisecond
	}
	return req, nil
}
