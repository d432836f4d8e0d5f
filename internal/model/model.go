package model

// Event is a single dated entry owned by a calendar.
//
// Date is an ISO calendar date (YYYY-MM-DD) in the configured display
// zone. Time is an optional "HH:MM" clock time; it is empty for all-day
// events.
type Event struct {
	ID         string `yaml:"id" json:"id"`
	Date       string `yaml:"date" json:"date"`
	Time       string `yaml:"time,omitempty" json:"time,omitempty"`
	Desc       string `yaml:"desc" json:"desc"`
	Location   string `yaml:"location,omitempty" json:"location,omitempty"`
	CalendarID string `yaml:"calendar_id,omitempty" json:"calendar_id"`
}

// AllDay reports whether the event has no clock time.
func (e Event) AllDay() bool {
	return e.Time == ""
}

// Calendar describes an event owner. ID is unique within a calendar set.
type Calendar struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color" json:"color"`
}

// BoundEvent is an event enriched with its resolved calendar.
type BoundEvent struct {
	Event
	Calendar Calendar `json:"calendar"`
}
