package ics

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"agenda/internal/config"
	"agenda/internal/grid"
	appLog "agenda/internal/log"
	"agenda/internal/model"
)

// Provider resolves calendars and events from the configured calendar set:
// ICS subscriptions plus inline config events.
type Provider struct {
	calendars []config.CalendarConfig
	fetcher   *Fetcher
	loc       *time.Location
}

// NewProvider returns a Provider over calendars. loc is the display zone
// timed ICS events are converted into; nil means time.Local.
func NewProvider(calendars []config.CalendarConfig, fetcher *Fetcher, loc *time.Location) *Provider {
	if loc == nil {
		loc = time.Local
	}
	return &Provider{
		calendars: slices.Clone(calendars),
		fetcher:   fetcher,
		loc:       loc,
	}
}

// FetchCalendars returns the configured calendars in config order.
func (p *Provider) FetchCalendars(ctx context.Context) ([]model.Calendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Calendar, 0, len(p.calendars))
	for _, c := range p.calendars {
		out = append(out, c.Calendar())
	}
	return out, nil
}

// FetchEvents returns all events dated within [start, end] inclusive,
// ordered by date, then time (all-day first), then calendar order.
//
// A failing feed is logged and skipped. The joined feed errors are
// returned only when nothing at all could be produced.
func (p *Provider) FetchEvents(ctx context.Context, start, end string) ([]model.Event, error) {
	if _, err := grid.ParseDate(start); err != nil {
		return nil, err
	}
	if _, err := grid.ParseDate(end); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(p.calendars))
	for _, c := range p.calendars {
		if c.URL != "" {
			sources = append(sources, Source{CalendarID: c.ID, URL: c.URL})
		}
	}

	var (
		all     []model.Event
		feedErr []error
	)
	if len(sources) > 0 {
		results, errs := p.fetcher.FetchAll(ctx, sources)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		feedErr = errs
		for _, res := range results {
			events, _, err := ParseICS(res.Source, res.Body, p.loc)
			if err != nil {
				appLog.Error("ics parse failed", err, "calendar", res.Source.CalendarID)
				feedErr = append(feedErr, err)
				continue
			}
			all = append(all, events...)
		}
	}

	inline := 0
	for _, c := range p.calendars {
		for _, ev := range c.Events {
			if ev.CalendarID == "" {
				ev.CalendarID = c.ID
			}
			all = append(all, ev)
			inline++
		}
	}

	if len(feedErr) > 0 && len(feedErr) >= len(sources) && inline == 0 {
		return nil, errors.Join(feedErr...)
	}

	order := make(map[string]int, len(p.calendars))
	for i, c := range p.calendars {
		order[c.ID] = i
	}

	out := make([]model.Event, 0, len(all))
	for _, ev := range all {
		d, ok := grid.NormalizeDate(ev.Date)
		if !ok || d < start || d > end {
			continue
		}
		out = append(out, ev)
	}
	slices.SortStableFunc(out, func(a, b model.Event) int {
		da, _ := grid.NormalizeDate(a.Date)
		db, _ := grid.NormalizeDate(b.Date)
		return cmp.Or(
			cmp.Compare(da, db),
			cmp.Compare(a.Time, b.Time),
			cmp.Compare(order[a.CalendarID], order[b.CalendarID]),
		)
	})

	appLog.Debug("events resolved", "start", start, "end", end, "count", len(out), "feed_errors", len(feedErr))
	return out, nil
}
