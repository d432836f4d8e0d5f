// Package grid builds the month view: full Sunday-first weeks covering a
// reference month, each day carrying the events that fall on it and belong
// to a visible calendar.
//
// Building is a pure computation over its arguments. It performs no I/O,
// holds no state between calls and is safe for concurrent use.
package grid

import (
	"errors"
	"fmt"
	"time"

	"agenda/internal/model"
)

// DateLayout is the canonical ISO calendar-date form used both for cell
// keys and for matching Event.Date.
const DateLayout = "2006-01-02"

// ErrInvalidInput is returned when the caller hands the builder inputs that
// are out of sync or unparseable. No partial grid is returned with it.
var ErrInvalidInput = errors.New("grid: invalid input")

// Cell is one day of the grid.
type Cell struct {
	Date    string             `json:"date"`
	Day     int                `json:"day"`
	InMonth bool               `json:"in_month"`
	Events  []model.BoundEvent `json:"events"`
}

// Week is seven consecutive cells, Sunday first.
type Week [7]Cell

// Grid is the ordered list of full weeks for one month view.
type Grid []Week

// Window returns the first and last dates of the grid. Both are empty for
// an empty grid.
func (g Grid) Window() (start, end string) {
	if len(g) == 0 {
		return "", ""
	}
	return g[0][0].Date, g[len(g)-1][6].Date
}

// Cell returns the cell for date, if present.
func (g Grid) Cell(date string) (Cell, bool) {
	for _, w := range g {
		for _, c := range w {
			if c.Date == date {
				return c, true
			}
		}
	}
	return Cell{}, false
}

// Cells returns all cells in walk order.
func (g Grid) Cells() []Cell {
	out := make([]Cell, 0, len(g)*7)
	for _, w := range g {
		out = append(out, w[:]...)
	}
	return out
}

// Build is the index-aligned form: visibility[i] controls calendars[i].
// A length mismatch between the two is reported as ErrInvalidInput.
func Build(referenceDate string, events []model.Event, calendars []model.Calendar, visibility Selection) (Grid, error) {
	if len(visibility) != len(calendars) {
		return nil, fmt.Errorf("%w: %d visibility flags for %d calendars", ErrInvalidInput, len(visibility), len(calendars))
	}
	vis, err := visibility.Visibility(calendars)
	if err != nil {
		return nil, err
	}
	return BuildVisible(referenceDate, events, calendars, vis)
}

// BuildVisible builds the grid for the month containing referenceDate.
// Calendars missing from vis are treated as visible.
func BuildVisible(referenceDate string, events []model.Event, calendars []model.Calendar, vis Visibility) (Grid, error) {
	ref, err := ParseDate(referenceDate)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Calendar, len(calendars))
	for _, c := range calendars {
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate calendar id %q", ErrInvalidInput, c.ID)
		}
		byID[c.ID] = c
	}

	// Bin events by normalized date once; input order is kept per day.
	byDate := make(map[string][]model.BoundEvent)
	for _, ev := range events {
		cal, ok := byID[ev.CalendarID]
		if !ok || !vis.Visible(cal.ID) {
			continue
		}
		key, ok := NormalizeDate(ev.Date)
		if !ok {
			continue
		}
		byDate[key] = append(byDate[key], model.BoundEvent{Event: ev, Calendar: cal})
	}

	year, month := ref.Year(), ref.Month()
	first := time.Date(year, month, 1, 12, 0, 0, 0, time.UTC)
	cursor := first.AddDate(0, 0, -int(first.Weekday()))

	var g Grid
	for {
		var w Week
		for i := range w {
			key := cursor.Format(DateLayout)
			evs := byDate[key]
			if evs == nil {
				evs = []model.BoundEvent{}
			}
			w[i] = Cell{
				Date:    key,
				Day:     cursor.Day(),
				InMonth: cursor.Year() == year && cursor.Month() == month,
				Events:  evs,
			}
			cursor = cursor.AddDate(0, 0, 1)
		}
		g = append(g, w)

		if cursor.Year() != year || cursor.Month() != month {
			break
		}
	}
	return g, nil
}

// ParseDate parses an ISO calendar date at noon UTC. Only the date
// component is meaningful; noon keeps day arithmetic clear of any offset
// boundary.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: reference date %q: %v", ErrInvalidInput, s, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC), nil
}

// NormalizeDate returns the canonical date key for an event date. Values
// carrying a time suffix (e.g. "2021-05-01T10:00") are cut to their date.
func NormalizeDate(s string) (string, bool) {
	if len(s) < len(DateLayout) {
		return "", false
	}
	t, err := time.Parse(DateLayout, s[:len(DateLayout)])
	if err != nil {
		return "", false
	}
	return t.Format(DateLayout), true
}

// FormatDate formats t's calendar date in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ShiftMonth returns the ISO date n months away from referenceDate, clamped
// to the first of the target month so that e.g. Jan 31 + 1 never skips
// February.
func ShiftMonth(referenceDate string, n int) (string, error) {
	ref, err := ParseDate(referenceDate)
	if err != nil {
		return "", err
	}
	first := time.Date(ref.Year(), ref.Month(), 1, 12, 0, 0, 0, time.UTC)
	return first.AddDate(0, n, 0).Format(DateLayout), nil
}
