// Package window computes whether a court's booking window for a target date
// is already open. The calculation is pure: the same calendar date can be
// immediate for one court and future for another, because each court carries
// its own booking_window_days.
package window

import (
	"time"

	"courtside/internal/models"
)

type Kind int

const (
	// Invalid means the date can never be booked: it is in the past, or the
	// slot's time of day already passed today.
	Invalid Kind = iota
	// Immediate means the window is open and an attempt may run right away.
	Immediate
	// Future means the window opens later; WakeAt is the opening instant.
	Future
)

func (k Kind) String() string {
	switch k {
	case Immediate:
		return "immediate"
	case Future:
		return "future"
	default:
		return "invalid"
	}
}

type Classification struct {
	Kind   Kind
	WakeAt time.Time
	Reason string
}

// Classify decides how a request for targetDate on court relates to the
// booking window at instant now. slotStart is the slot's offset from
// midnight, used only for same-day requests.
func Classify(court models.Court, targetDate time.Time, slotStart time.Duration, now time.Time) Classification {
	today := midnight(now)
	// The target is a calendar date, not an instant: re-anchor its
	// year/month/day in now's zone instead of converting, otherwise a UTC
	// date shifts a day on servers west of UTC.
	target := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(),
		0, 0, 0, 0, now.Location())

	if target.Before(today) {
		return Classification{Kind: Invalid, Reason: "target date is in the past"}
	}

	if target.Equal(today) {
		// Same-day: bookable only while the slot itself has not started.
		if today.Add(slotStart).After(now) {
			return Classification{Kind: Immediate}
		}
		return Classification{Kind: Invalid, Reason: "time slot already started today"}
	}

	windowOpen := target.AddDate(0, 0, -court.BookingWindowDays)
	if !today.Before(windowOpen) {
		return Classification{Kind: Immediate}
	}

	wakeAt := time.Date(windowOpen.Year(), windowOpen.Month(), windowOpen.Day(),
		court.WindowOpenHour, 0, 0, 0, now.Location())
	return Classification{Kind: Future, WakeAt: wakeAt}
}

// BookableRange returns the span of dates currently inside the court's
// window, starting from today.
func BookableRange(court models.Court, now time.Time) (from, to time.Time) {
	from = midnight(now)
	to = from.AddDate(0, 0, court.BookingWindowDays-1)
	return from, to
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
