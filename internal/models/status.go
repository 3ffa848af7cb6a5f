package models

import "fmt"

// Status is the lifecycle state of a booking request. The set is closed:
// every transition goes through CanTransitionTo.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// ActiveStatuses are the non-terminal states. Order matters for SQL IN clauses
// built from this slice.
var ActiveStatuses = []Status{StatusPending, StatusScheduled, StatusProcessing}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing,
		StatusConfirmed, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the request left the lifecycle for good.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo enforces the legal transition table:
//
//	pending    -> scheduled | processing | cancelled | expired
//	scheduled  -> processing | cancelled | expired
//	processing -> confirmed | scheduled | failed | cancelled
//	terminal   -> (nothing)
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusScheduled || next == StatusProcessing ||
			next == StatusCancelled || next == StatusExpired
	case StatusScheduled:
		return next == StatusProcessing || next == StatusCancelled || next == StatusExpired
	case StatusProcessing:
		return next == StatusConfirmed || next == StatusScheduled ||
			next == StatusFailed || next == StatusCancelled
	case StatusConfirmed, StatusFailed, StatusCancelled, StatusExpired:
		return false
	}
	return false
}

// TransitionError marks an illegal lifecycle transition. It is a defect in
// the caller, never a user error, and must be logged rather than swallowed.
type TransitionError struct {
	RequestID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s for request %s", e.From, e.To, e.RequestID)
}

// CheckTransition returns a *TransitionError when from -> to is not legal.
func CheckTransition(requestID string, from, to Status) error {
	if !from.CanTransitionTo(to) {
		return &TransitionError{RequestID: requestID, From: from, To: to}
	}
	return nil
}
