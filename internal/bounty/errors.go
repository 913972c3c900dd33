package bounty

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid state")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidInput       = errors.New("invalid input")

	// ErrTxConflict is returned by a Store when a concurrent transaction
	// committed first and the caller may retry.
	ErrTxConflict = errors.New("transaction conflict, retry")

	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
)
