package models

import (
	"fmt"
	"regexp"
	"time"
)

// Slots come from the downstream site verbatim, e.g. "De 08:00 AM a 09:00 AM".
var timeSlotPattern = regexp.MustCompile(`^De (\d{2}:\d{2} (?:AM|PM)) a (\d{2}:\d{2} (?:AM|PM))$`)

// ParseTimeSlot validates the wire format and returns the start and end of
// the slot as offsets from midnight.
func ParseTimeSlot(slot string) (start, end time.Duration, err error) {
	m := timeSlotPattern.FindStringSubmatch(slot)
	if m == nil {
		return 0, 0, fmt.Errorf("time slot must be in format 'De HH:MM AM/PM a HH:MM AM/PM': %q", slot)
	}

	startClock, err := time.Parse("03:04 PM", m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid slot start time %q: %w", m[1], err)
	}
	endClock, err := time.Parse("03:04 PM", m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid slot end time %q: %w", m[2], err)
	}

	start = time.Duration(startClock.Hour())*time.Hour + time.Duration(startClock.Minute())*time.Minute
	end = time.Duration(endClock.Hour())*time.Hour + time.Duration(endClock.Minute())*time.Minute
	if end <= start {
		return 0, 0, fmt.Errorf("slot end must be after start: %q", slot)
	}
	return start, end, nil
}
