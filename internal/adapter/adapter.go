// Package adapter isolates the mechanics of driving the downstream
// reservation site behind a narrow contract. The scheduling core only sees
// Attempt and the transient/fatal split; what happens behind it (HTTP, a
// headless browser) is opaque.
package adapter

import (
	"context"
	"errors"

	"courtside/internal/models"
)

// Result is what a successful reservation attempt yields.
type Result struct {
	ConfirmationCode  string
	ExternalBookingID string
}

// Adapter performs one reservation attempt. The call is synchronous and
// carries its own timeout; the dispatcher bounds concurrency around it.
type Adapter interface {
	Attempt(ctx context.Context, req *models.BookingRequest) (*Result, error)
}

// TransientError marks a failure worth retrying: timeouts, the site being
// busy, temporary network trouble.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that no retry can fix: rejected credentials,
// the slot taken by someone else, a permanently refused request.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is a FatalError. Anything else coming out of
// an adapter, including plain errors, is treated as transient: retrying a
// fatal failure wastes attempts, but failing to retry a transient one loses
// the booking.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Reason extracts the human-readable reason from an adapter error.
func Reason(err error) string {
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient.Reason
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal.Reason
	}
	return err.Error()
}
