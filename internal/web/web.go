// Package web is the JSON rendering shell: it serves the laid-out calendar
// view, the deduplicated events and pipeline status over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"monthcal/internal/clock"
	"monthcal/internal/coalesce"
	"monthcal/internal/config"
	"monthcal/internal/grid"
	appLog "monthcal/internal/log"
	"monthcal/internal/refresh"
	"monthcal/internal/view"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	viewCacheTTL    = 30 * time.Second
	viewCacheMax    = 64
	shutdownTimeout = 5 * time.Second
)

// StateProvider exposes the published render state. *coalesce.Coalescer
// implements it.
type StateProvider interface {
	Snapshot() *coalesce.State
	Stats() coalesce.Stats
}

// Poller exposes the refresh loop. *refresh.Refresher implements it.
type Poller interface {
	Trigger(ctx context.Context) bool
	Status() []refresh.SourceStatus
}

type Server struct {
	cfg    *config.Config
	state  StateProvider
	poller Poller
	clock  clock.Clock
	router *mux.Router

	// Rendered views keyed by mode and day. The whole cache is dropped when
	// a new state is published.
	viewMu    sync.Mutex
	viewState *coalesce.State
	viewCache map[viewKey]cachedView
}

type viewKey struct {
	mode grid.Mode
	day  string
}

type cachedView struct {
	view      view.View
	updatedAt time.Time
}

func NewServer(cfg *config.Config, state StateProvider, poller Poller, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.System{}
	}
	s := &Server{
		cfg:       cfg,
		state:     state,
		poller:    poller,
		clock:     clk,
		router:    mux.NewRouter(),
		viewCache: make(map[viewKey]cachedView),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router, wrapped with basic auth when it is configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.cfg.BasicAuth.Enabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
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
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.router.Use(requestLogger)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/calendar", s.handleCalendar).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
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
			w.Header().Set("WWW-Authenticate", `Basic realm="monthcal", charset="UTF-8"`)
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

// handleCalendar returns the laid-out view.
//
// GET /api/calendar?mode=twoWeeks&date=2024-03-15
//   - mode: layout mode, defaults to the configured one; unknown modes fall
//     back to currentMonth
//   - date: the day to lay out around, defaults to today
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	opts := s.cfg.ViewOptions()
	loc := s.cfg.Location()
	now := s.clock.Now().In(loc)

	q := r.URL.Query()
	if m := q.Get("mode"); m != "" {
		mode, err := grid.ParseMode(m)
		if err != nil {
			appLog.Warn("api calendar: invalid mode", "error", err)
		}
		opts.Grid.Mode = mode
	}
	if d := q.Get("date"); d != "" {
		day, err := time.ParseInLocation(time.DateOnly, d, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		now = time.Date(day.Year(), day.Month(), day.Day(), now.Hour(), now.Minute(), now.Second(), 0, loc)
	}

	writeJSON(w, http.StatusOK, s.renderView(opts, now))
}

func (s *Server) renderView(opts view.Options, now time.Time) view.View {
	st := s.state.Snapshot()
	key := viewKey{mode: opts.Grid.Mode, day: now.Format(time.DateOnly)}
	wall := s.clock.Now()

	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	if st != s.viewState {
		s.viewState = st
		clear(s.viewCache)
	}
	if cv, ok := s.viewCache[key]; ok && wall.Sub(cv.updatedAt) < viewCacheTTL {
		return cv.view
	}

	v := view.Build(st, opts, now)
	s.evictViews(wall)
	s.viewCache[key] = cachedView{view: v, updatedAt: wall}
	return v
}

// evictViews drops expired views, then the oldest ones until there is room
// for one more. Callers hold viewMu.
func (s *Server) evictViews(wall time.Time) {
	for k, cv := range s.viewCache {
		if wall.Sub(cv.updatedAt) >= viewCacheTTL {
			delete(s.viewCache, k)
		}
	}
	for len(s.viewCache) >= viewCacheMax {
		var (
			oldest    viewKey
			oldestAt  time.Time
			haveFirst bool
		)
		for k, cv := range s.viewCache {
			if !haveFirst || cv.updatedAt.Before(oldestAt) {
				oldest, oldestAt, haveFirst = k, cv.updatedAt, true
			}
		}
		delete(s.viewCache, oldest)
	}
}

type eventsResponse struct {
	Events                  []eventDTO `json:"events"`
	DayKey                  time.Time  `json:"day_key"`
	PublishedAt             time.Time  `json:"published_at"`
	CrossCalendarDuplicates int        `json:"cross_calendar_duplicates"`
	SameCalendarDuplicates  int        `json:"same_calendar_duplicates"`
}

type eventDTO struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	FullDay      bool      `json:"full_day"`
	CalendarName string    `json:"calendar_name"`
	SourceID     string    `json:"source_id"`
	Color        string    `json:"color,omitempty"`
	Symbols      []string  `json:"symbols,omitempty"`
}

// handleEvents returns the deduplicated events of the last published state.
// Before the first publish the list is empty.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	resp := eventsResponse{Events: []eventDTO{}}

	st := s.state.Snapshot()
	if st != nil {
		resp.DayKey = st.DayKey
		resp.PublishedAt = st.PublishedAt
		resp.CrossCalendarDuplicates = st.CrossCalendarDuplicates
		resp.SameCalendarDuplicates = st.SameCalendarDuplicates
		for _, ev := range st.Events {
			resp.Events = append(resp.Events, eventDTO{
				ID:           ev.ID.String(),
				Title:        ev.Title,
				Start:        ev.Start,
				End:          ev.End,
				FullDay:      ev.FullDay,
				CalendarName: ev.CalendarName,
				SourceID:     ev.SourceID,
				Color:        ev.Color,
				Symbols:      ev.Symbols,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Sources    []refresh.SourceStatus `json:"sources"`
	Pipeline   coalesce.Stats         `json:"pipeline"`
	EventCount int                    `json:"event_count"`
	DayKey     time.Time              `json:"day_key"`
	Timezone   string                 `json:"timezone"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Sources:  s.poller.Status(),
		Pipeline: s.state.Stats(),
		Timezone: s.cfg.Location().String(),
	}
	if st := s.state.Snapshot(); st != nil {
		resp.EventCount = len(st.Events)
		resp.DayKey = st.DayKey
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh starts an immediate poll of every source. It answers 202 when
// the poll was started and 409 when one is already running.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The poll outlives the request.
	if !s.poller.Trigger(context.WithoutCancel(r.Context())) {
		writeError(w, http.StatusConflict, "refresh already running")
		return
	}
	appLog.Info("api refresh triggered")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
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
