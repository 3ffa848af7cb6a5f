package database

import "errors"

var (
	// ErrDuplicateRequest is returned when an active request already holds
	// the (owner, court, date, slot) tuple.
	ErrDuplicateRequest = errors.New("an active request for this slot already exists")

	// ErrQuotaExceeded is returned when the owner reached the daily limit of
	// active requests.
	ErrQuotaExceeded = errors.New("daily quota of active requests exceeded")

	// ErrConcurrentModification is returned when a compare-and-swap update
	// found the request in an unexpected status.
	ErrConcurrentModification = errors.New("request was modified concurrently")

	// ErrNotFound is returned when no request matches the given id.
	ErrNotFound = errors.New("booking request not found")
)
