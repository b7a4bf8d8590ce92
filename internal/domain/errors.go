package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionAlreadyActive signals a double-unlock attempt for a
	// (user, component) pair that already has a live session.
	ErrSessionAlreadyActive = errors.New("session already active")

	// ErrChargeFailed means the credit ledger rejected the unlock charge.
	// No session or cache state may exist after this error.
	ErrChargeFailed = errors.New("charge failed")

	ErrNoActiveSession = errors.New("no active session")
	ErrSessionNotFound = errors.New("session not found")
	ErrCacheMiss       = errors.New("cache miss")

	// ErrStructuralParse marks input the parser cannot iterate at all, as
	// opposed to row-level trouble which is recovered in place.
	ErrStructuralParse = errors.New("structurally invalid input")
)

// ThrottledError is a source-side rate-limit signal. The pacer widens its
// backoff on it; it is never a record failure.
type ThrottledError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source %s throttled, retry after %s", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("source %s throttled", e.Source)
}

// TransientFetchError wraps network errors and 5xx responses. It propagates
// to the caller without touching the pacer's backoff state.
type TransientFetchError struct {
	Source string
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error from %s: %v", e.Source, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }
