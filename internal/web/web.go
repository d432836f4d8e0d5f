package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"agenda/internal/agenda"
	"agenda/internal/config"
	"agenda/internal/grid"
	appLog "agenda/internal/log"
)

//go:embed templates/*.html
var templateFS embed.FS

// Server exposes the month view over HTTP: a JSON API and a server-rendered
// calendar page.
type Server struct {
	cfg         *config.Config
	view        *agenda.View
	previewPath string
	mux         *http.ServeMux
	page        *template.Template
}

// NewServer constructs a new Server. previewPath is the PNG served at
// /preview.png.
func NewServer(cfg *config.Config, view *agenda.View, previewPath string) *Server {
	page := template.Must(template.New("calendar.html").
		Funcs(template.FuncMap{"color": cssColor}).
		ParseFS(templateFS, "templates/calendar.html"))
	s := &Server{
		cfg:         cfg,
		view:        view,
		previewPath: previewPath,
		mux:         http.NewServeMux(),
		page:        page,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, s *Server) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/calendars", s.handleCalendars)
	s.mux.HandleFunc("GET /api/grid", s.handleGrid)
	s.mux.HandleFunc("POST /api/visibility", s.handleVisibility)
	s.mux.HandleFunc("POST /api/navigate", s.handleNavigate)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /calendar", s.handleCalendarPage)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/calendar", http.StatusFound)
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials disable it.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Agenda", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarDTO is a calendar with its current visibility.
type calendarDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Visible bool   `json:"visible"`
}

func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	snap := s.view.Snapshot()
	out := make([]calendarDTO, 0, len(snap.Calendars))
	for _, c := range snap.Calendars {
		out = append(out, calendarDTO{
			ID:      c.ID,
			Name:    c.Name,
			Color:   c.Color,
			Visible: snap.Visibility.Visible(c.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGrid returns the current view.
//
// GET /api/grid?date=2021-06-17
//   - date: optional; returns that month without moving the shared view.
//     Use POST /api/navigate to move it.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshotFor(r)
	if err != nil {
		writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// snapshotFor returns the shared view, or the month named by the optional
// date query parameter.
func (s *Server) snapshotFor(r *http.Request) (agenda.Snapshot, error) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return s.view.Snapshot(), nil
	}
	return s.view.SnapshotAt(r.Context(), date)
}

// handleVisibility toggles one calendar.
//
// POST /api/visibility?id=work[&visible=false]
//   - visible: optional; sets instead of toggling.
func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	var err error
	if raw := q.Get("visible"); raw != "" {
		visible, perr := strconv.ParseBool(raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid visible flag")
			return
		}
		_, err = s.view.SetVisible(id, visible)
	} else {
		_, err = s.view.Toggle(id)
	}
	if err != nil {
		writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view.Snapshot())
}

// handleNavigate moves the view.
//
// POST /api/navigate?to=next|prev|today
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	switch r.URL.Query().Get("to") {
	case "next":
		err = s.view.Next(ctx)
	case "prev":
		err = s.view.Prev(ctx)
	case "today":
		err = s.view.Today(ctx)
	default:
		writeError(w, http.StatusBadRequest, "to must be next, prev or today")
		return
	}
	if err != nil {
		writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view.Snapshot())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.view.Refresh(r.Context()); err != nil {
		writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view.Snapshot())
}

// pageData feeds templates/calendar.html.
type pageData struct {
	Title     string
	Snapshot  agenda.Snapshot
	Calendars []calendarDTO
}

// handleCalendarPage renders the month table. The root element carries
// data-ready="true" once rendered, which the capture step waits for.
func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshotFor(r)
	if err != nil {
		writeViewError(w, err)
		return
	}

	title := snap.ReferenceDate
	if ref, err := grid.ParseDate(snap.ReferenceDate); err == nil {
		title = ref.Format("January 2006")
	}
	data := pageData{Title: title, Snapshot: snap}
	for _, c := range snap.Calendars {
		data.Calendars = append(data.Calendars, calendarDTO{
			ID: c.ID, Name: c.Name, Color: c.Color, Visible: snap.Visibility.Visible(c.ID),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		appLog.Error("calendar page render failed", err)
	}
}

// cssColor passes a calendar color into a style attribute. Values that are
// not plain CSS colors are dropped.
func cssColor(c string) template.CSS {
	if !config.ValidColor(c) {
		return ""
	}
	return template.CSS(c)
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.previewPath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.previewPath)
}

// writeViewError maps view errors onto HTTP status codes.
func writeViewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grid.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, agenda.ErrUnknownCalendar):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, agenda.ErrStale):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("view operation failed", err)
		writeError(w, http.StatusBadGateway, "failed to fetch calendar data")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
