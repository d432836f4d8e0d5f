// Package agenda holds the month view state: the reference date, the
// calendars and events last fetched for the visible window and the
// per-calendar visibility. The grid is rebuilt from scratch whenever any of
// them changes.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agenda/internal/grid"
	appLog "agenda/internal/log"
	"agenda/internal/model"
)

// ErrStale is returned when a fetch finished after a newer window was
// requested; its result was discarded.
var ErrStale = errors.New("agenda: fetch superseded by a newer window")

// ErrUnknownCalendar is returned when toggling a calendar id that is not in
// the current set.
var ErrUnknownCalendar = errors.New("agenda: unknown calendar")

// Provider resolves the data a view needs. FetchEvents returns events whose
// date lies within [start, end] inclusive.
type Provider interface {
	FetchCalendars(ctx context.Context) ([]model.Calendar, error)
	FetchEvents(ctx context.Context, start, end string) ([]model.Event, error)
}

// Snapshot is an immutable copy of the view state.
type Snapshot struct {
	ReferenceDate string           `json:"reference_date"`
	Start         string           `json:"start"`
	End           string           `json:"end"`
	Labels        [7]string        `json:"labels"`
	Calendars     []model.Calendar `json:"calendars"`
	Visibility    grid.Visibility  `json:"visibility"`
	Grid          grid.Grid        `json:"grid"`
	RefreshedAt   time.Time        `json:"refreshed_at"`
}

// Option customizes a View.
type Option func(*View)

// WithLocale selects weekday labels.
func WithLocale(locale string) Option {
	return func(v *View) { v.labels = grid.Labels(locale) }
}

// WithClock replaces time.Now, e.g. to pin "today" in tests.
func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

// View is safe for concurrent use. Fetches run outside the lock; a fetch
// started for an older window can never overwrite the result of a newer
// one.
type View struct {
	provider Provider
	labels   [7]string
	now      func() time.Time

	mu          sync.Mutex
	ref         string
	calendars   []model.Calendar
	events      []model.Event
	vis         grid.Visibility
	g           grid.Grid
	loaded      bool
	refreshedAt time.Time

	// Window the current events were fetched for. It only moves when a
	// fetch succeeds.
	fetchedStart, fetchedEnd string

	gen    uint64
	cancel context.CancelFunc
}

// New creates a view positioned on referenceDate with no data loaded yet.
// The returned view already holds a correctly shaped, event-free grid.
func New(provider Provider, referenceDate string, opts ...Option) (*View, error) {
	g, err := grid.BuildVisible(referenceDate, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	v := &View{
		provider: provider,
		labels:   grid.Labels("en"),
		now:      time.Now,
		ref:      referenceDate,
		vis:      grid.Visibility{},
		g:        g,
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Load fetches calendars and events for the current window and rebuilds
// the grid. It is the initial join of the two fetches.
func (v *View) Load(ctx context.Context) error {
	return v.Refresh(ctx)
}

// Refresh re-fetches calendars and events concurrently for the current
// window and rebuilds the grid. On failure the previous data is kept.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	start, end := v.g.Window()
	fctx, gen := v.beginFetchLocked(ctx)
	v.mu.Unlock()

	var (
		calendars []model.Calendar
		events    []model.Event
	)
	eg, ectx := errgroup.WithContext(fctx)
	eg.Go(func() error {
		var err error
		calendars, err = v.provider.FetchCalendars(ectx)
		if err != nil {
			return fmt.Errorf("fetch calendars: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		events, err = v.provider.FetchEvents(ectx, start, end)
		if err != nil {
			return fmt.Errorf("fetch events %s..%s: %w", start, end, err)
		}
		return nil
	})
	err := eg.Wait()

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return ErrStale
	}
	v.endFetchLocked()
	if err != nil {
		appLog.Error("agenda refresh failed", err, "start", start, "end", end)
		return err
	}

	v.calendars = calendars
	v.vis = v.vis.Reconcile(calendars)
	v.events = events
	v.fetchedStart, v.fetchedEnd = start, end
	v.loaded = true
	v.refreshedAt = v.now()
	if err := v.rebuildLocked(v.ref); err != nil {
		return err
	}
	appLog.Info("agenda refreshed", "start", start, "end", end, "calendars", len(calendars), "events", len(events))
	return nil
}

// Navigate moves the view to the month containing date. If the new window
// differs from the one events were last fetched for, any in-flight fetch is
// cancelled and events are fetched for it. An invalid date leaves the view
// untouched.
func (v *View) Navigate(ctx context.Context, date string) error {
	v.mu.Lock()
	next, err := grid.BuildVisible(date, v.events, v.calendars, v.vis)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	v.ref = date
	v.g = next
	start, end := next.Window()
	if v.loaded && start == v.fetchedStart && end == v.fetchedEnd {
		v.mu.Unlock()
		return nil
	}
	if !v.loaded {
		// Nothing joined yet: calendars are still missing too.
		v.mu.Unlock()
		return v.Refresh(ctx)
	}
	fctx, gen := v.beginFetchLocked(ctx)
	v.mu.Unlock()

	appLog.Debug("agenda window changed", "start", start, "end", end)
	events, err := v.provider.FetchEvents(fctx, start, end)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return ErrStale
	}
	v.endFetchLocked()
	if err != nil {
		appLog.Error("agenda fetch events failed", err, "start", start, "end", end)
		return fmt.Errorf("fetch events %s..%s: %w", start, end, err)
	}
	v.events = events
	v.fetchedStart, v.fetchedEnd = start, end
	v.refreshedAt = v.now()
	return v.rebuildLocked(v.ref)
}

// Next moves to the following month.
func (v *View) Next(ctx context.Context) error {
	return v.shift(ctx, 1)
}

// Prev moves to the previous month.
func (v *View) Prev(ctx context.Context) error {
	return v.shift(ctx, -1)
}

// Today moves to the month containing the current date.
func (v *View) Today(ctx context.Context) error {
	return v.Navigate(ctx, grid.FormatDate(v.now()))
}

func (v *View) shift(ctx context.Context, n int) error {
	v.mu.Lock()
	ref := v.ref
	v.mu.Unlock()

	date, err := grid.ShiftMonth(ref, n)
	if err != nil {
		return err
	}
	return v.Navigate(ctx, date)
}

// Toggle flips the visibility of calendar id and rebuilds the grid.
func (v *View) Toggle(id string) (grid.Grid, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.knownLocked(id) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCalendar, id)
	}
	return v.applyVisibilityLocked(v.vis.Toggle(id))
}

// SetVisible sets the visibility of calendar id and rebuilds the grid.
func (v *View) SetVisible(id string, visible bool) (grid.Grid, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.knownLocked(id) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCalendar, id)
	}
	return v.applyVisibilityLocked(v.vis.With(id, visible))
}

// Snapshot returns a copy of the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	start, end := v.g.Window()
	return Snapshot{
		ReferenceDate: v.ref,
		Start:         start,
		End:           end,
		Labels:        v.labels,
		Calendars:     slices.Clone(v.calendars),
		Visibility:    v.vis.Reconcile(v.calendars),
		Grid:          slices.Clone(v.g),
		RefreshedAt:   v.refreshedAt,
	}
}

// SnapshotAt returns the state the view would have on the month containing
// date without moving the view. Events are fetched only when that window
// differs from the one already held.
func (v *View) SnapshotAt(ctx context.Context, date string) (Snapshot, error) {
	v.mu.Lock()
	shape, err := grid.BuildVisible(date, nil, nil, nil)
	if err != nil {
		v.mu.Unlock()
		return Snapshot{}, err
	}
	start, end := shape.Window()
	calendars := slices.Clone(v.calendars)
	vis := v.vis.Reconcile(v.calendars)
	events := v.events
	held := v.loaded && start == v.fetchedStart && end == v.fetchedEnd
	refreshedAt := v.refreshedAt
	v.mu.Unlock()

	if !held {
		events, err = v.provider.FetchEvents(ctx, start, end)
		if err != nil {
			return Snapshot{}, fmt.Errorf("fetch events %s..%s: %w", start, end, err)
		}
	}
	g, err := grid.BuildVisible(date, events, calendars, vis)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ReferenceDate: date,
		Start:         start,
		End:           end,
		Labels:        v.labels,
		Calendars:     calendars,
		Visibility:    vis,
		Grid:          g,
		RefreshedAt:   refreshedAt,
	}, nil
}

func (v *View) knownLocked(id string) bool {
	return slices.ContainsFunc(v.calendars, func(c model.Calendar) bool { return c.ID == id })
}

func (v *View) applyVisibilityLocked(next grid.Visibility) (grid.Grid, error) {
	g, err := grid.BuildVisible(v.ref, v.events, v.calendars, next)
	if err != nil {
		return nil, err
	}
	v.vis = next
	v.g = g
	return g, nil
}

func (v *View) rebuildLocked(ref string) error {
	g, err := grid.BuildVisible(ref, v.events, v.calendars, v.vis)
	if err != nil {
		return err
	}
	v.g = g

	dangling := 0
	for _, ev := range v.events {
		if !v.knownLocked(ev.CalendarID) {
			dangling++
		}
	}
	if dangling > 0 {
		appLog.Debug("agenda events without a known calendar dropped", "count", dangling)
	}
	return nil
}

// beginFetchLocked cancels the in-flight fetch, if any, and returns the
// context and generation of a new one.
func (v *View) beginFetchLocked(ctx context.Context) (context.Context, uint64) {
	if v.cancel != nil {
		v.cancel()
	}
	fctx, cancel := context.WithCancel(ctx)
	v.gen++
	v.cancel = cancel
	return fctx, v.gen
}

func (v *View) endFetchLocked() {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}
