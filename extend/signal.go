// Package extend implements the auto-extension scheduler underlying the
// scoped-execution API: a single-threaded cooperative timer that renews a
// held lock while a user routine runs, and publishes a cancellation signal
// when renewal fails.
package extend

import "sync"

// SignalError is the diagnostic attached to a Signal when renewal fails.
type SignalError struct {
	Message string
}

// Signal is a single-shot cancellation token handed to the user routine by
// the scoped executor. The scheduler sets Aborted and fills Err exactly
// once, before stopping; reading is safe from any goroutine.
type Signal struct {
	mu      sync.RWMutex
	aborted bool
	err     *SignalError
}

// NewSignal returns a fresh, non-aborted Signal.
func NewSignal() *Signal {
	return &Signal{}
}

// Aborted reports whether the scheduler has published a failure.
func (s *Signal) Aborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

// Err returns the diagnostic set alongside the abort, or nil if the
// signal has not been aborted (or carries no message).
func (s *Signal) Err() *SignalError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// abort idempotently transitions the signal to aborted, setting err only
// on the first call.
func (s *Signal) abort(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return
	}
	s.aborted = true
	s.err = &SignalError{Message: message}
}
