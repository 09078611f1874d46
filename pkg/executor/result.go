package executor

import (
	"context"
	"errors"

	"github.com/entrhq/axcore/pkg/a11y"
	"github.com/entrhq/axcore/pkg/action"
	"github.com/entrhq/axcore/pkg/browser"
	"github.com/entrhq/axcore/pkg/embedding"
)

// Error kinds reported in results.
const (
	KindValidation      = "validation"
	KindSessionNotFound = "session_not_found"
	KindSessionLimit    = "session_limit"
	KindSessionFatal    = "session_fatal"
	KindEmbeddingInit   = "embedding_init"
	KindScriptDenied    = "script_denied"
	KindTimeout         = "timeout"
	KindCancelled       = "cancelled"
	KindInternal        = "internal"
)

// ErrorInfo is the error half of a result.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the outcome of one action, at the action's index in the batch.
type Result struct {
	Index      int         `json:"index"`
	Type       string      `json:"type"`
	Session    string      `json:"session_name,omitempty"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      *ErrorInfo  `json:"error,omitempty"`
	Fatal      bool        `json:"fatal,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// Response is the outcome of a batch.
type Response struct {
	RequestID string   `json:"request_id"`
	Results   []Result `json:"results"`
}

// Failed returns the results that did not succeed.
func (r *Response) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

// errorKind maps an error onto its reported kind.
func errorKind(err error) string {
	var (
		validation *action.ValidationError
		filter     *a11y.FilterError
		fatal      *browser.SessionFatalError
		exec       *browser.ExecError
		initErr    *embedding.InitError
	)
	switch {
	case errors.As(err, &fatal):
		return KindSessionFatal
	case errors.As(err, &validation), errors.As(err, &filter):
		return KindValidation
	case errors.Is(err, browser.ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, browser.ErrSessionLimit):
		return KindSessionLimit
	case errors.As(err, &exec):
		return string(exec.Kind)
	case errors.As(err, &initErr):
		return KindEmbeddingInit
	case errors.Is(err, ErrScriptDisabled), errors.Is(err, ErrScriptHost),
		errors.Is(err, ErrScriptRateLimited), errors.Is(err, ErrScriptUnsupported):
		return KindScriptDenied
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

func errorInfo(err error) *ErrorInfo {
	return &ErrorInfo{Kind: errorKind(err), Message: err.Error()}
}
