package admission

import (
	"errors"
	"fmt"
)

// ErrInvalidIdentity marks a caller programming error: admission checks
// must never run with an empty identity.
var ErrInvalidIdentity = errors.New("admission: identity must not be empty")

// ErrUnauthenticated is returned when no identity could be resolved from a
// request.
var ErrUnauthenticated = errors.New("admission: unauthenticated")

// StoreUnavailableError wraps a durable-store failure. The minute limiter
// absorbs it (fail-open); the quota enforcer surfaces it when the resource
// type is configured fail-closed, so the caller can retry.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("admission: store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// RateLimitExceededError is recoverable by waiting.
type RateLimitExceededError struct {
	RetryAfterSeconds int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("admission: rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// QuotaExceededError is recoverable only by a plan change or next period.
type QuotaExceededError struct {
	Current int
	Limit   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("admission: usage limit exceeded (%d/%d)", e.Current, e.Limit)
}
