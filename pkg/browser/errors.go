package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for actions on absent or closed sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLimit is returned when creating a session would exceed the cap.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrPageClosed is returned by pages that have been closed underneath a session.
	ErrPageClosed = errors.New("page closed")
)

// SessionError adds the session name to a session lookup failure.
type SessionError struct {
	Name string
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %q: %v", e.Name, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies action execution failures.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindElementNotFound  ErrorKind = "element_not_found"
	KindNavigationFailed ErrorKind = "navigation_failed"
	KindScriptError      ErrorKind = "script_error"
)

// ExecError is a failure of one browser operation that leaves the session usable.
type ExecError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// SessionFatalError means the session's page or browser is gone. The session
// is closed and the rest of the batch is aborted.
type SessionFatalError struct {
	Session string
	Op      string
	Err     error
}

func (e *SessionFatalError) Error() string {
	if e.Session == "" {
		return fmt.Sprintf("%s: session lost: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session %q lost during %s: %v", e.Session, e.Op, e.Err)
}

func (e *SessionFatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the session.
func IsFatal(err error) bool {
	var fatal *SessionFatalError
	return errors.As(err, &fatal)
}
