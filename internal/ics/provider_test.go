package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenda/internal/config"
	"agenda/internal/grid"
	"agenda/internal/model"
)

func TestProvider_FetchEventsWindowAndOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(crlf(sampleICS))
	}))
	defer srv.Close()

	cals := []config.CalendarConfig{
		{ID: "home", Name: "Home", Color: "green", Events: []model.Event{
			{ID: "bday", Date: "2021-06-03", Desc: "Birthday"},
			{ID: "old", Date: "2021-01-01", Desc: "Out of window"},
		}},
		{ID: "work", Name: "Work", Color: "blue", URL: srv.URL + "/work.ics"},
	}
	p := NewProvider(cals, newTestFetcher(t), time.UTC)

	gotCals, err := p.FetchCalendars(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Calendar{
		{ID: "home", Name: "Home", Color: "green"},
		{ID: "work", Name: "Work", Color: "blue"},
	}, gotCals)

	events, err := p.FetchEvents(context.Background(), "2021-05-30", "2021-06-05")
	require.NoError(t, err)

	var ids []string
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	// bday is all-day so it sorts before the 12:00 standup on the same day.
	assert.Equal(t, []string{"bday", "standup-1", "holiday-1"}, ids)
	assert.Equal(t, "home", events[0].CalendarID)
}

func TestProvider_AllFeedsFailing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cals := []config.CalendarConfig{{ID: "work", URL: srv.URL}}
	p := NewProvider(cals, newTestFetcher(t), time.UTC)

	_, err := p.FetchEvents(context.Background(), "2021-05-30", "2021-07-03")
	assert.Error(t, err)
}

func TestProvider_InvalidWindow(t *testing.T) {
	p := NewProvider(nil, newTestFetcher(t), time.UTC)
	_, err := p.FetchEvents(context.Background(), "2021-05-30", "July")
	assert.ErrorIs(t, err, grid.ErrInvalidInput)
}

func TestProvider_CancelledContext(t *testing.T) {
	p := NewProvider([]config.CalendarConfig{{ID: "a"}}, newTestFetcher(t), time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.FetchCalendars(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
