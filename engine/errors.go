package engine

import "errors"

var (
	// ErrUserNotFound is fatal to the call and surfaced to the caller.
	ErrUserNotFound = errors.New("user not found")

	// ErrVersionConflict is returned by Store.PutProgression when the
	// version token is stale. The aggregator retries it internally
	// with bounded backoff; callers never see it.
	ErrVersionConflict = errors.New("version conflict")

	// ErrConflictRetriesExhausted is surfaced when the bounded retry
	// loop gives up. Nothing was committed; retrying the call with
	// the same event ID is safe.
	ErrConflictRetriesExhausted = errors.New("concurrent update conflict: retries exhausted")
)
