package models

import "time"

// BookingRequest is the central entity owned by the scheduling core while
// non-terminal. All scheduling state lives here, not in memory, so a process
// restart only costs one tick.
type BookingRequest struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	CourtID           int64      `json:"court_id"`
	TargetDate        time.Time  `json:"target_date"`
	TimeSlot          string     `json:"time_slot"`
	Status            Status     `json:"status"`
	AttemptCount      int        `json:"attempt_count"`
	MaxAttempts       int        `json:"max_attempts"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ConfirmationCode  string     `json:"confirmation_code,omitempty"`
	ExternalBookingID string     `json:"external_booking_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
}

// Active reports whether the request is still owned by the core.
func (r *BookingRequest) Active() bool {
	return !r.Status.Terminal()
}

// AttemptsExhausted reports whether another attempt would exceed the budget.
func (r *BookingRequest) AttemptsExhausted() bool {
	return r.AttemptCount >= r.MaxAttempts
}
