package eventfully

import (
	"context"
	"errors"
)

// FailureAction defines how a failed delivery attempt is handled.
type FailureAction int

const (
	// FailureRetry reschedules the message with backoff.
	FailureRetry FailureAction = iota
	// FailureDead marks the message dead immediately, without retries.
	FailureDead
)

// FailureClassifier decides whether a delivery failure is transient
// (retryable) or permanent.
type FailureClassifier func(ctx context.Context, msg OutboxMessage, err error) FailureAction

// NonTransient marks an error as permanent: classifiers built with
// DefaultClassifier send messages failing with it straight to Dead.
type NonTransient struct {
	Err error
}

// Error implements error.
func (e NonTransient) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the wrapped cause.
func (e NonTransient) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the default classifier treats it as non-transient.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return NonTransient{Err: err}
}

// IsNonTransient reports whether err is permanent under the default taxonomy:
// routing and type-resolution failures, expiry, missing encryption keys, and
// anything wrapped with Permanent.
func IsNonTransient(err error) bool {
	var marked NonTransient
	if errors.As(err, &marked) {
		return true
	}

	return errors.Is(err, ErrEndpointNotFound) ||
		errors.Is(err, ErrUnknownMessageType) ||
		errors.Is(err, ErrInvalidMessageType) ||
		errors.Is(err, ErrMessageExpired) ||
		errors.Is(err, ErrEncryptionKeyNotFound) ||
		errors.Is(err, ErrHandlerNotFound)
}

// DefaultClassifier retries everything except the non-transient taxonomy.
func DefaultClassifier(_ context.Context, _ OutboxMessage, err error) FailureAction {
	if IsNonTransient(err) {
		return FailureDead
	}

	return FailureRetry
}
