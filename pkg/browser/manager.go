package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/axcore/pkg/logging"
)

// SessionManager owns all named sessions. The map lock is held only for map
// access; browser I/O happens under each session's own lock.
type SessionManager struct {
	engine      Engine
	opts        SessionOptions
	logger      *logging.Logger
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	idleTimeout time.Duration
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*SessionManager)

// WithMaxSessions sets the maximum number of concurrent sessions.
func WithMaxSessions(n int) ManagerOption {
	return func(m *SessionManager) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// WithIdleTimeout sets how long a session may sit unused before the janitor
// closes it.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithSessionOptions sets the options used for new pages.
func WithSessionOptions(opts SessionOptions) ManagerOption {
	return func(m *SessionManager) {
		m.opts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *SessionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewSessionManager creates a new session manager on top of engine.
func NewSessionManager(engine Engine, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		engine:      engine,
		logger:      logging.Discard("browser"),
		sessions:    make(map[string]*Session),
		maxSessions: DefaultMaxSessions,
		idleTimeout: time.Duration(DefaultIdleTimeout) * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.opts = m.opts.withDefaults()
	return m
}

// Lease is exclusive use of a session until Release is called.
type Lease struct {
	Session *Session
	// Created is true when the session was created by this acquisition.
	Created bool

	once sync.Once
}

// Release returns the session lock. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.Session.UpdateLastUsed()
		l.Session.sem.Release(1)
	})
}

// Acquire locks the named session, waiting for any action already running on
// it. If the session does not exist and create is set, a new page is opened;
// otherwise ErrSessionNotFound is returned. ctx bounds the wait.
func (m *SessionManager) Acquire(ctx context.Context, name string, create bool) (*Lease, error) {
	for {
		m.mu.Lock()
		s, exists := m.sessions[name]
		if !exists {
			if !create {
				m.mu.Unlock()
				return nil, &SessionError{Name: name, Err: ErrSessionNotFound}
			}
			if len(m.sessions) >= m.maxSessions {
				m.mu.Unlock()
				return nil, &SessionError{Name: name, Err: fmt.Errorf("%w (%d)", ErrSessionLimit, m.maxSessions)}
			}
			// Reserve the name and hold its lock before any browser I/O, so
			// concurrent callers wait for the page instead of opening a second one.
			s = newSession(name)
			s.sem.TryAcquire(1)
			m.sessions[name] = s
			m.mu.Unlock()
			return m.open(ctx, s)
		}
		m.mu.Unlock()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		if s.State() == StateClosed {
			// Closed while we waited; look again.
			s.sem.Release(1)
			continue
		}
		return &Lease{Session: s}, nil
	}
}

func (m *SessionManager) open(ctx context.Context, s *Session) (*Lease, error) {
	page, err := m.engine.NewPage(ctx, m.opts)
	if err != nil {
		m.remove(s)
		s.markClosed()
		s.sem.Release(1)
		m.logger.Errorf("Failed to create session %q: %v", s.Name, err)
		return nil, fmt.Errorf("failed to create session %q: %w", s.Name, err)
	}
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
	m.logger.Infof("Created session %q", s.Name)
	return &Lease{Session: s, Created: true}, nil
}

func (m *SessionManager) remove(s *Session) {
	m.mu.Lock()
	if m.sessions[s.Name] == s {
		delete(m.sessions, s.Name)
	}
	m.mu.Unlock()
}

// CloseHeld closes a session whose lock the caller holds through a Lease.
// The name becomes free immediately; the lease must still be released.
func (m *SessionManager) CloseHeld(s *Session) error {
	m.remove(s)
	if !s.markClosed() {
		return nil
	}
	m.logger.Infof("Closed session %q", s.Name)
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return nil
	}
	if err := page.Close(); err != nil {
		return fmt.Errorf("failed to close session %q: %w", s.Name, err)
	}
	return nil
}

// CloseSession waits for the named session to be idle, then closes it.
func (m *SessionManager) CloseSession(ctx context.Context, name string) error {
	lease, err := m.Acquire(ctx, name, false)
	if err != nil {
		return err
	}
	defer lease.Release()
	return m.CloseHeld(lease.Session)
}

// GetSession retrieves an active session by name without locking it.
func (m *SessionManager) GetSession(name string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[name]
	if !exists {
		return nil, &SessionError{Name: name, Err: ErrSessionNotFound}
	}
	return session, nil
}

// ListSessions returns information about all sessions, sorted by name.
func (m *SessionManager) ListSessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// HasSessions returns true if there are any active sessions.
func (m *SessionManager) HasSessions() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions) > 0
}

func (m *SessionManager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// CleanupIdleSessions closes sessions that have been idle for longer than the
// timeout. Sessions that are busy are skipped.
func (m *SessionManager) CleanupIdleSessions() error {
	var errs []error
	for _, s := range m.snapshot() {
		if time.Since(s.LastUsedAt()) <= m.idleTimeout {
			continue
		}
		if !s.sem.TryAcquire(1) {
			continue
		}
		if s.State() == StateActive && time.Since(s.LastUsedAt()) > m.idleTimeout {
			m.logger.Infof("Closing idle session %q", s.Name)
			if err := m.CloseHeld(s); err != nil {
				errs = append(errs, err)
			}
		}
		s.sem.Release(1)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}
	return nil
}

// RunJanitor calls CleanupIdleSessions every interval until ctx is done.
func (m *SessionManager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.idleTimeout / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.CleanupIdleSessions(); err != nil {
				m.logger.Warnf("Idle cleanup: %v", err)
			}
		}
	}
}

// Shutdown closes all sessions and the engine. Sessions still busy when ctx
// expires are closed anyway.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range m.snapshot() {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			m.logger.Warnf("Session %q still busy at shutdown, closing anyway", s.Name)
			if err := m.CloseHeld(s); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := m.CloseHeld(s); err != nil {
			errs = append(errs, err)
		}
		s.sem.Release(1)
	}

	if m.engine != nil {
		if err := m.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop browser engine: %w", err))
		}
	}
	return errors.Join(errs...)
}
