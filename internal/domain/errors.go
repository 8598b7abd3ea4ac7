package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is returned by a connector whose circuit breaker is open.
// Callers treat the affected work as deferred, not failed.
var ErrCircuitOpen = errors.New("connector circuit open")

// TransientError marks a failure worth retrying: network timeouts, 5xx
// responses and 429 rate limiting. RetryAfter carries an upstream-supplied
// hint when one was present.
type TransientError struct {
	Cause      error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError marks a failure that must not be retried automatically:
// persistent 4xx responses or schema-incompatible payloads.
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// ValidationError marks a single malformed upstream record. The record is
// quarantined and the batch continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Cause: err} }

// TransientAfter wraps err as retryable with an upstream retry-after hint.
func TransientAfter(err error, after time.Duration) error {
	return &TransientError{Cause: err, RetryAfter: after}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error { return &PermanentError{Cause: err} }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// IsValidation reports whether err quarantines a single record.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RetryAfterHint extracts an upstream retry-after hint, if err carries one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var t *TransientError
	if errors.As(err, &t) && t.RetryAfter > 0 {
		return t.RetryAfter, true
	}
	return 0, false
}
