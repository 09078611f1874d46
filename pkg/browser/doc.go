// Package browser manages named browser sessions and the pages behind them.
//
// # Architecture
//
// The package is built around three core concepts:
//
//  1. Engine: opens isolated pages (PlaywrightEngine in production, a fake in tests)
//  2. Session: one named page with its own lock and metadata
//  3. SessionManager: the registry that creates, locks and closes sessions
//
// # Session Lifecycle
//
//  1. Create: a navigate action on an unknown name opens a new page
//  2. Use: every action acquires the session through a Lease
//  3. Close: the close action, the idle janitor or Shutdown releases the page
//
// At most one action runs on a session at a time. Actions on different
// sessions run in parallel; the manager's map lock is never held across
// browser I/O.
//
// # Errors
//
// Page operations return *ExecError for recoverable failures, classified by
// ErrorKind. A *SessionFatalError means the page is gone and the session must
// be discarded.
//
// # Example Usage
//
//	m := browser.NewSessionManager(browser.NewPlaywrightEngine(browser.PlaywrightOptions{Headless: true}, logger))
//	lease, err := m.Acquire(ctx, "research", true)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//	info, err := lease.Session.Page().Navigate(ctx, "https://example.com", browser.NavigateOptions{})
package browser
