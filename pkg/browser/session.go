package browser

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// State is the lifecycle state of a session.
type State string

const (
	StateActive State = "active"
	StateClosed State = "closed"
)

// Session is a named browser page. Its lock serialises actions; the mutex
// only guards metadata.
type Session struct {
	// Name is the unique identifier for this session
	Name string

	// CreatedAt is the timestamp when the session was created
	CreatedAt time.Time

	page Page
	sem  *semaphore.Weighted

	mu           sync.Mutex
	state        State
	lastUsedAt   time.Time
	currentURL   string
	inconsistent bool
}

func newSession(name string) *Session {
	now := time.Now()
	return &Session{
		Name:       name,
		CreatedAt:  now,
		sem:        semaphore.NewWeighted(1),
		state:      StateActive,
		lastUsedAt: now,
		currentURL: "about:blank",
	}
}

// Page returns the session's page. Callers must hold the session lock.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// UpdateLastUsed updates the LastUsedAt timestamp to the current time.
func (s *Session) UpdateLastUsed() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	if s.page != nil {
		s.currentURL = s.page.URL()
	}
	s.mu.Unlock()
}

// LastUsedAt returns when the session last finished an action.
func (s *Session) LastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkInconsistent flags that an action was abandoned mid-flight, so the
// page state is unknown.
func (s *Session) MarkInconsistent() {
	s.mu.Lock()
	s.inconsistent = true
	s.mu.Unlock()
}

// ClearInconsistent resets the flag after a successful navigation.
func (s *Session) ClearInconsistent() {
	s.mu.Lock()
	s.inconsistent = false
	s.mu.Unlock()
}

// Inconsistent reports whether an abandoned action may have left the page in
// an unknown state.
func (s *Session) Inconsistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inconsistent
}

// Info returns a metadata snapshot.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Name:         s.Name,
		State:        s.state,
		CurrentURL:   s.currentURL,
		Inconsistent: s.inconsistent,
		CreatedAt:    s.CreatedAt,
		LastUsedAt:   s.lastUsedAt,
	}
}

func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	return true
}
