package scraper

import (
	"errors"
	"fmt"
)

// SessionFatalError aborts a whole scrape session. Per-URL failures are
// accumulated in the session report instead; only conditions that make the
// entire run meaningless (storefront unreachable, history unavailable,
// another session already running) escalate to this.
type SessionFatalError struct {
	Roaster string
	Reason  string
	Err     error
}

func (e *SessionFatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session for %s aborted: %s: %v", e.Roaster, e.Reason, e.Err)
	}
	return fmt.Sprintf("session for %s aborted: %s", e.Roaster, e.Reason)
}

func (e *SessionFatalError) Unwrap() error {
	return e.Err
}

// IsSessionFatal reports whether err carries a SessionFatalError anywhere in
// its chain.
func IsSessionFatal(err error) bool {
	var fatal *SessionFatalError
	return errors.As(err, &fatal)
}
