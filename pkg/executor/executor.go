// Package executor runs action batches against named browser sessions.
//
// Actions in a batch run strictly in order. Each action holds its session's
// lock for as long as the browser works on it, so batches on different
// sessions run in parallel while two actions on one session never overlap.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/axcore/pkg/action"
	"github.com/entrhq/axcore/pkg/browser"
	"github.com/entrhq/axcore/pkg/embedding"
	"github.com/entrhq/axcore/pkg/logging"
	"github.com/entrhq/axcore/pkg/retrieval"
)

const (
	// DefaultBatchTimeout bounds a batch when the caller gives no timeout.
	DefaultBatchTimeout = 2 * time.Minute

	// DefaultHTMLLength caps get_html output when max_length is not set.
	DefaultHTMLLength = 20000

	// DefaultHTMLElements caps the elements ranked by a get_html query.
	DefaultHTMLElements = 500
)

// Executor runs action batches.
type Executor struct {
	sessions     *browser.SessionManager
	retriever    *retrieval.Retriever
	scripts      *ScriptPolicy
	screenshots  *ScreenshotStore
	logger       *logging.Logger
	batchTimeout time.Duration
	htmlLength   int

	// inflight tracks action goroutines, including abandoned ones.
	inflight sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor)

// WithScriptPolicy sets the evaluate_js policy. Without it scripts are disabled.
func WithScriptPolicy(p *ScriptPolicy) Option {
	return func(e *Executor) {
		e.scripts = p
	}
}

// WithScreenshotStore sets where screenshots with a path are saved.
func WithScreenshotStore(s *ScreenshotStore) Option {
	return func(e *Executor) {
		if s != nil {
			e.screenshots = s
		}
	}
}

// WithBatchTimeout sets the default batch timeout.
func WithBatchTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.batchTimeout = d
		}
	}
}

// WithHTMLLength sets the default get_html length cap.
func WithHTMLLength(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.htmlLength = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an executor over a session manager and a retriever.
func New(sessions *browser.SessionManager, retriever *retrieval.Retriever, opts ...Option) *Executor {
	e := &Executor{
		sessions:     sessions,
		retriever:    retriever,
		screenshots:  NewMemScreenshotStore(),
		logger:       logging.Discard("executor"),
		batchTimeout: DefaultBatchTimeout,
		htmlLength:   DefaultHTMLLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions returns the session manager.
func (e *Executor) Sessions() *browser.SessionManager {
	return e.sessions
}

// ExecuteRequest decodes a request body and executes it.
func (e *Executor) ExecuteRequest(ctx context.Context, body []byte) (*Response, error) {
	req, err := action.DecodeRequest(body)
	if err != nil {
		return nil, &action.ValidationError{Message: err.Error()}
	}
	return e.Execute(ctx, req.Actions, req.Timeout)
}

// Execute runs the actions in order and returns one result per attempted
// action. A timeout of zero uses the default batch timeout.
//
// Errors scoped to one action are reported in its result. The returned error
// is non-nil only for a *browser.SessionFatalError, which stops the batch, or
// an *embedding.InitError, which does not.
func (e *Executor) Execute(ctx context.Context, actions []json.RawMessage, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = e.batchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp := &Response{RequestID: uuid.NewString(), Results: make([]Result, 0, len(actions))}
	e.logger.Debugf("Batch %s: %d actions, timeout %s", resp.RequestID, len(actions), timeout)

	var initErr error
	for i, raw := range actions {
		res, err := e.runOne(ctx, i, raw)
		resp.Results = append(resp.Results, res)

		var fatal *browser.SessionFatalError
		switch {
		case errors.As(err, &fatal):
			e.logger.Errorf("Batch %s: session %q lost at action %d: %v", resp.RequestID, res.Session, i, err)
			resp.Results = appendMarker(resp.Results, actions, i, KindSessionFatal,
				fmt.Sprintf("session %q was lost; remaining actions were not attempted", res.Session))
			return resp, err
		case ctx.Err() != nil:
			e.logger.Warnf("Batch %s stopped at action %d: %v", resp.RequestID, i, ctx.Err())
			resp.Results = appendMarker(resp.Results, actions, i, errorKind(ctx.Err()),
				"batch deadline reached; remaining actions were not attempted")
			return resp, initErr
		}

		var ie *embedding.InitError
		if initErr == nil && errors.As(err, &ie) {
			initErr = err
		}
	}
	return resp, initErr
}

// appendMarker flags the first unexecuted action, if any.
func appendMarker(results []Result, actions []json.RawMessage, failed int, kind, msg string) []Result {
	next := failed + 1
	if next >= len(actions) {
		return results
	}
	return append(results, Result{
		Index:   next,
		Type:    action.PeekType(actions[next]),
		Session: action.PeekSession(actions[next]),
		Fatal:   true,
		Error: &ErrorInfo{
			Kind:    kind,
			Message: fmt.Sprintf("%s (%d skipped)", msg, len(actions)-next),
		},
	})
}

type outcome struct {
	data interface{}
	err  error
}

// runOne parses and runs one action. The returned error is the action's
// failure, already recorded in the result.
func (e *Executor) runOne(ctx context.Context, index int, raw json.RawMessage) (Result, error) {
	start := time.Now()
	res := Result{
		Index:   index,
		Type:    action.PeekType(raw),
		Session: action.PeekSession(raw),
	}
	finish := func(data interface{}, err error) (Result, error) {
		res.DurationMS = time.Since(start).Milliseconds()
		if err != nil {
			res.Error = errorInfo(err)
			e.logger.Infof("Action %d (%s on %q) failed after %dms: %s: %v", index, res.Type, res.Session, res.DurationMS, res.Error.Kind, err)
			return res, err
		}
		res.Success = true
		res.Data = data
		e.logger.Debugf("Action %d (%s on %q) done in %dms", index, res.Type, res.Session, res.DurationMS)
		return res, nil
	}

	a, err := action.Parse(raw)
	if err != nil {
		return finish(nil, err)
	}
	if err := ctx.Err(); err != nil {
		return finish(nil, err)
	}

	lease, err := e.sessions.Acquire(ctx, a.Session(), a.Kind() == action.KindNavigate)
	if err != nil {
		return finish(nil, err)
	}

	// The action runs on its own goroutine so the batch can give up on it at
	// the deadline. The lease is released only when the browser call returns.
	done := make(chan outcome, 1)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		h := &sessionHandler{exec: e, lease: lease}
		data, err := a.Dispatch(ctx, h)
		if browser.IsFatal(err) {
			if cerr := e.sessions.CloseHeld(lease.Session); cerr != nil {
				e.logger.Warnf("Closing lost session %q: %v", lease.Session.Name, cerr)
			}
		}
		lease.Release()
		done <- outcome{data: data, err: err}
	}()

	select {
	case o := <-done:
		// An action that returned because of the deadline was cut short just
		// the same, even when its result won the race.
		if ctx.Err() != nil {
			lease.Session.MarkInconsistent()
			e.logger.Warnf("Action %d (%s on %q) ended at the batch deadline; session marked inconsistent", index, res.Type, res.Session)
		}
		return finish(o.data, o.err)
	case <-ctx.Done():
		lease.Session.MarkInconsistent()
		e.logger.Warnf("Action %d (%s on %q) abandoned; session marked inconsistent", index, res.Type, res.Session)
		return finish(nil, fmt.Errorf("action abandoned: %w", ctx.Err()))
	}
}

// Wait blocks until every action goroutine has returned, including those
// abandoned at a batch deadline, or until ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
