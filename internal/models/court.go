package models

// Court describes one bookable court and its window policy. Courts are
// configuration, not database rows: they are loaded once per process from
// courts.yaml and passed into components at construction.
type Court struct {
	ID                int64    `yaml:"id" json:"id"`
	Name              string   `yaml:"name" json:"name"`
	BookingWindowDays int      `yaml:"booking_window_days" json:"booking_window_days"`
	WindowOpenHour    int      `yaml:"window_open_hour" json:"window_open_hour"`
	TimeSlots         []string `yaml:"time_slots" json:"time_slots"`
	IsActive          bool     `yaml:"is_active" json:"is_active"`
}

// HasSlot reports whether slot is one of the court's fixed slots.
func (c Court) HasSlot(slot string) bool {
	for _, s := range c.TimeSlots {
		if s == slot {
			return true
		}
	}
	return false
}
