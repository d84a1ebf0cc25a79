// Package web serves the schedule backend: the JSON API consumed by the
// client, exports and a server-rendered grid page.
package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"worksched/internal/api"
	"worksched/internal/auth"
	"worksched/internal/config"
	appLog "worksched/internal/log"
	"worksched/internal/model"
	"worksched/internal/store"
)

const (
	cookieAccess  = "access_token"
	cookieRefresh = "refresh_token"
	cookieCSRF    = "csrf_token"
	headerCSRF    = "X-CSRF-Token"
	headerAPIKey  = "X-API-Key"

	holidayCacheTTL = 6 * time.Hour
)

// Server wires the HTTP routes to storage and token handling.
type Server struct {
	cfg       *config.Config
	users     *store.UserRepository
	schedules *store.ScheduleRepository
	tokens    *auth.Issuer
	holidays  api.HolidaySource
	mux       *http.ServeMux
	now       func() time.Time

	// Holidays rarely change; keep one map per year in memory.
	holidayMu    sync.RWMutex
	holidayCache map[int]holidayCacheEntry
}

type holidayCacheEntry struct {
	holidays  model.HolidayMap
	updatedAt time.Time
}

// NewServer constructs a Server. holidays may be nil, in which case no day is
// treated as a holiday.
func NewServer(cfg *config.Config, db *sql.DB, holidays api.HolidaySource) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("web: config and database are required")
	}
	tokens, err := auth.NewIssuer(cfg.Server.JWTSecret,
		time.Duration(cfg.Server.AccessMinutes)*time.Minute,
		time.Duration(cfg.Server.RefreshMinutes)*time.Minute)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:          cfg,
		users:        store.NewUserRepository(db),
		schedules:    store.NewScheduleRepository(db),
		tokens:       tokens,
		holidays:     holidays,
		mux:          http.NewServeMux(),
		now:          time.Now,
		holidayCache: map[int]holidayCacheEntry{},
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the root handler with CORS and access logging applied.
func (s *Server) Handler() http.Handler {
	return s.accessLog(s.cors(s.mux))
}

// Run serves on cfg.Server.Listen until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/login/lambda", s.handleMachineLogin)
	s.mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.Handle("GET /api/auth/me", s.requireAuth(http.HandlerFunc(s.handleMe)))
	s.mux.Handle("POST /api/auth/change-password", s.requireAuth(s.requireCSRF(http.HandlerFunc(s.handleChangePassword))))

	s.mux.Handle("GET /api/users", s.requireAuth(http.HandlerFunc(s.handleListUsers)))
	s.mux.Handle("POST /api/users", s.requireAuth(s.requireCSRF(http.HandlerFunc(s.handleCreateUser))))
	s.mux.Handle("GET /api/users/missing-schedule", s.requireAuth(http.HandlerFunc(s.handleMissingSchedule)))
	s.mux.Handle("PATCH /api/users/{id}/commuting_allowance", s.requireAuth(s.requireCSRF(http.HandlerFunc(s.handleUpdateAllowance))))

	s.mux.Handle("GET /api/schedules", s.requireAuth(http.HandlerFunc(s.handleListSchedules)))
	s.mux.Handle("POST /api/schedules", s.requireAuth(s.requireCSRF(http.HandlerFunc(s.handleUpsertSchedule))))

	s.mux.Handle("GET /api/export/ics", s.requireAuth(http.HandlerFunc(s.handleExportICS)))
	s.mux.Handle("GET /api/export/xlsx", s.requireAuth(http.HandlerFunc(s.handleExportXLSX)))

	s.mux.Handle("GET /grid", s.requireAuth(http.HandlerFunc(s.handleGrid)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// holidaysFor returns the cached holiday map of year, refreshing it after the TTL.
func (s *Server) holidaysFor(ctx context.Context, year int) model.HolidayMap {
	if s.holidays == nil {
		return model.HolidayMap{}
	}
	now := s.now()

	s.holidayMu.RLock()
	hc, ok := s.holidayCache[year]
	s.holidayMu.RUnlock()
	if ok && now.Sub(hc.updatedAt) < holidayCacheTTL {
		return hc.holidays
	}

	h := s.holidays.FetchOrEmpty(ctx, year)
	if len(h) > 0 {
		s.holidayMu.Lock()
		s.holidayCache[year] = holidayCacheEntry{holidays: h, updatedAt: now}
		s.holidayMu.Unlock()
	}
	return h
}

// currentMonth is "now" in the configured timezone.
func (s *Server) currentMonth() model.YearMonth {
	t := s.now().In(s.cfg.Location())
	return model.YearMonth{Year: t.Year(), Month: t.Month()}
}

// monthParam reads ?month=YYYY-MM, defaulting to the current month.
func (s *Server) monthParam(r *http.Request) (model.YearMonth, error) {
	v := strings.TrimSpace(r.URL.Query().Get("month"))
	if v == "" {
		return s.currentMonth(), nil
	}
	return model.ParseYearMonth(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

// writeError uses the {"detail": ...} body the client reads.
func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Detail string `json:"detail"`
	}
	writeJSON(w, status, errResp{Detail: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

// cors allows the configured frontend origin to call the API with credentials.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := strings.TrimRight(s.cfg.Server.FrontendOrigin, "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin == "" || r.Header.Get("Origin") != origin {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+headerCSRF)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
