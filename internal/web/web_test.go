package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenda/internal/agenda"
	"agenda/internal/config"
	"agenda/internal/model"
)

type staticProvider struct {
	calendars []model.Calendar
	events    []model.Event
}

func (p staticProvider) FetchCalendars(context.Context) ([]model.Calendar, error) {
	return p.calendars, nil
}

func (p staticProvider) FetchEvents(_ context.Context, start, end string) ([]model.Event, error) {
	var out []model.Event
	for _, e := range p.events {
		if e.Date >= start && e.Date <= end {
			out = append(out, e)
		}
	}
	return out, nil
}

func setupServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	p := staticProvider{
		calendars: []model.Calendar{
			{ID: "work", Name: "Work", Color: "#1e88e5"},
			{ID: "home", Name: "Home", Color: "#43a047"},
		},
		events: []model.Event{
			{ID: "w1", Date: "2021-06-03", Time: "09:00", Desc: "Standup", CalendarID: "work"},
			{ID: "h1", Date: "2021-06-03", Desc: "Dentist", CalendarID: "home"},
			{ID: "w2", Date: "2021-07-15", Desc: "Review", CalendarID: "work"},
		},
	}
	v, err := agenda.New(p, "2021-06-17")
	require.NoError(t, err)
	require.NoError(t, v.Load(context.Background()))

	preview := filepath.Join(t.TempDir(), "preview.png")
	require.NoError(t, os.WriteFile(preview, []byte("\x89PNG fake"), 0o644))
	return NewServer(cfg, v, preview)
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) agenda.Snapshot {
	t.Helper()
	var snap agenda.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func cellEvents(snap agenda.Snapshot, date string) []string {
	c, _ := snap.Grid.Cell(date)
	ids := []string{}
	for _, e := range c.Events {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestHealth(t *testing.T) {
	h := setupServer(t, nil).Handler()
	rec := do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestGetGrid(t *testing.T) {
	h := setupServer(t, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/grid")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, "2021-05-30", snap.Start)
	assert.Equal(t, "2021-07-03", snap.End)
	assert.Equal(t, []string{"w1", "h1"}, cellEvents(snap, "2021-06-03"))

	rec = do(t, h, http.MethodGet, "/api/grid?date=2021-07-02")
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decodeSnapshot(t, rec)
	assert.Equal(t, "2021-06-27", snap.Start)
	assert.Equal(t, []string{"w2"}, cellEvents(snap, "2021-07-15"))

	rec = do(t, h, http.MethodGet, "/api/grid")
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decodeSnapshot(t, rec)
	assert.Equal(t, "2021-06-17", snap.ReferenceDate, "a dated GET leaves the shared view alone")
	assert.Equal(t, "2021-05-30", snap.Start)
}

func TestGetGrid_InvalidDate(t *testing.T) {
	h := setupServer(t, nil).Handler()
	rec := do(t, h, http.MethodGet, "/api/grid?date=2021-02-31")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid input")
}

func TestVisibility(t *testing.T) {
	h := setupServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/visibility?id=work")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"h1"}, cellEvents(decodeSnapshot(t, rec), "2021-06-03"))

	rec = do(t, h, http.MethodGet, "/api/calendars")
	require.Equal(t, http.StatusOK, rec.Code)
	var cals []calendarDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cals))
	require.Len(t, cals, 2)
	assert.False(t, cals[0].Visible)
	assert.True(t, cals[1].Visible)

	rec = do(t, h, http.MethodPost, "/api/visibility?id=work&visible=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"w1", "h1"}, cellEvents(decodeSnapshot(t, rec), "2021-06-03"))

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/visibility?id=nope").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/visibility").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/visibility?id=work&visible=maybe").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/visibility?id=work").Code)
}

func TestNavigate(t *testing.T) {
	h := setupServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/navigate?to=next")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2021-07-01", decodeSnapshot(t, rec).ReferenceDate)

	rec = do(t, h, http.MethodPost, "/api/navigate?to=prev")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2021-06-01", decodeSnapshot(t, rec).ReferenceDate)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/navigate?to=sideways").Code)
}

func TestRefresh(t *testing.T) {
	h := setupServer(t, nil).Handler()
	rec := do(t, h, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeSnapshot(t, rec).RefreshedAt.IsZero())
}

func TestCalendarPage(t *testing.T) {
	h := setupServer(t, nil).Handler()

	rec := do(t, h, http.MethodGet, "/calendar")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "June 2021")
	assert.Contains(t, body, "<th>SUN</th>")
	assert.Contains(t, body, "09:00 Standup")
	assert.Contains(t, body, `data-date="2021-05-30"`)
	assert.Equal(t, 5, strings.Count(body, "<tr>")-1, "five week rows plus the header")

	rec = do(t, h, http.MethodGet, "/calendar?date=2021-07-02")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "July 2021")
	assert.Contains(t, rec.Body.String(), "Review")
	assert.Equal(t, "2021-06-17", decodeSnapshot(t, do(t, h, http.MethodGet, "/api/grid")).ReferenceDate)

	rec = do(t, h, http.MethodGet, "/")
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestCalendarPage_FunctionalColors(t *testing.T) {
	p := staticProvider{
		calendars: []model.Calendar{
			{ID: "work", Name: "Work", Color: "rgb(224,0,0)"},
			{ID: "home", Name: "Home", Color: "hsl(120 50% 40%)"},
			{ID: "bad", Name: "Bad", Color: "red;display:none"},
		},
		events: []model.Event{
			{ID: "w1", Date: "2021-06-03", Desc: "Standup", CalendarID: "work"},
		},
	}
	v, err := agenda.New(p, "2021-06-17")
	require.NoError(t, err)
	require.NoError(t, v.Load(context.Background()))
	h := NewServer(config.DefaultConfig(), v, "").Handler()

	rec := do(t, h, http.MethodGet, "/calendar")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "ZgotmplZ")
	assert.Contains(t, body, "background: rgb(224,0,0)")
	assert.Contains(t, body, "background: hsl(120 50% 40%)")
	assert.NotContains(t, body, "display:none")
}

func TestPreview(t *testing.T) {
	h := setupServer(t, nil).Handler()
	rec := do(t, h, http.MethodGet, "/preview.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PNG")
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	h := setupServer(t, cfg).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/api/grid")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/grid", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/grid", nil)
	req.SetBasicAuth("admin", "wrong!")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
