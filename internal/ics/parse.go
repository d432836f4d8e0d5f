package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

// ParseStats counts VEVENTs that did not become events.
type ParseStats struct {
	Total      int
	Cancelled  int
	Overrides  int
	Recurring  int
	Unparsable int
}

// ParseICS parses an ICS payload into events owned by src.CalendarID.
//
//   - Timed events are converted into loc before their date and clock time
//     are taken; floating times are read as loc wall time.
//   - All-day events (VALUE=DATE or no 'T' in DTSTART) keep their literal
//     date and get an empty Time.
//   - RRULE is not expanded: only the first instance (DTSTART) is kept.
//     RECURRENCE-ID overrides and CANCELLED events are skipped.
//   - VEVENTs without a UID get a stable name-based UUID.
func ParseICS(src Source, body []byte, loc *time.Location) ([]model.Event, ParseStats, error) {
	var stats ParseStats
	if len(body) == 0 {
		return nil, stats, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, stats, err
	}

	events := make([]model.Event, 0)
	for _, ve := range cal.Events() {
		stats.Total++

		if p := ve.GetProperty("STATUS"); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
			stats.Cancelled++
			continue
		}
		// Raw names: not every golang-ical release exports these constants.
		if ve.GetProperty("RECURRENCE-ID") != nil {
			stats.Overrides++
			continue
		}
		if ve.GetProperty(ical.ComponentPropertyRrule) != nil {
			stats.Recurring++
		}

		ev, perr := parseVEvent(src, ve, loc)
		if perr != nil {
			stats.Unparsable++
			appLog.Warn("ics vevent skipped", "calendar", src.CalendarID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed",
		"calendar", src.CalendarID,
		"vevents", stats.Total,
		"events", len(events),
		"cancelled", stats.Cancelled,
		"overrides", stats.Overrides,
		"recurring_unexpanded", stats.Recurring,
	)
	return events, stats, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (model.Event, error) {
	out := model.Event{CalendarID: src.CalendarID}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, errors.New("missing DTSTART")
	}

	date, clock, err := resolveStart(dtStart, loc)
	if err != nil {
		return out, err
	}
	out.Date = date
	out.Time = clock

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Desc = p.Value
	}
	if out.Desc == "" {
		if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
			out.Desc = p.Value
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value != "" {
		out.ID = p.Value
	} else {
		name := src.CalendarID + "|" + dtStart.Value + "|" + out.Desc
		out.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
	}
	return out, nil
}

// resolveStart turns a DTSTART property into a date and an optional
// "HH:MM" clock time in loc.
func resolveStart(p *ical.IANAProperty, loc *time.Location) (string, string, error) {
	val := strings.TrimSpace(p.Value)

	allDay := !strings.Contains(val, "T")
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	if allDay {
		if len(val) < 8 {
			return "", "", errors.New("malformed all-day DTSTART " + val)
		}
		t, err := time.Parse("20060102", val[:8])
		if err != nil {
			return "", "", err
		}
		return t.Format("2006-01-02"), "", nil
	}

	t, err := parseDateTime(val, tzid(p), loc)
	if err != nil {
		return "", "", err
	}
	local := t.In(loc)
	return local.Format("2006-01-02"), local.Format("15:04"), nil
}

func tzid(p *ical.IANAProperty) string {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

// parseDateTime handles the three DATE-TIME forms: UTC ("...Z"), zoned
// (TZID parameter) and floating (read as loc wall time). An unknown TZID
// falls back to loc.
func parseDateTime(v, tz string, loc *time.Location) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	in := loc
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			in = l
		} else {
			appLog.Debug("ics unknown TZID; using display zone", "tzid", tz)
		}
	}
	return time.ParseInLocation("20060102T150405", v, in)
}
