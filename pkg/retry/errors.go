package retry

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth another attempt: timeouts, refused or reset
// connections, server-side HTTP errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError marks a definitive rejection: malformed payload, protocol error, client-side
// HTTP status. It is never retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }

func (e *TerminalError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// FailureReport is returned once every attempt of a call has failed.
type FailureReport struct {
	Attempts int
	Last     error
}

func (r *FailureReport) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", r.Attempts, r.Last)
}

func (r *FailureReport) Unwrap() error { return r.Last }
