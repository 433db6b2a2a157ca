package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/httpapi/middleware"
	"github.com/hamed0406/flatwatch/internal/hub"
	"github.com/hamed0406/flatwatch/internal/watch"
)

// defaultLogLimit bounds GET /api/logs when the client does not ask for a
// specific window.
const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// WatchService is the command surface the transport exposes. *watch.Scheduler
// implements it; tests swap in a fake.
type WatchService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	RunOnce(ctx context.Context) error
	CheckAdhoc(ctx context.Context, sched domain.ScheduleConfig, params domain.SearchParams) error
	Status() domain.WatchStatus
	Logs(ctx context.Context, limit int) ([]domain.LogEntry, error)
	ClearLogs(ctx context.Context) error
	Subscribe(ctx context.Context) *hub.Subscription
	Unsubscribe(*hub.Subscription)
}

type Server struct {
	Logger      *zap.Logger
	Watch       WatchService
	ArtifactDir string
	started     time.Time
}

func NewServer(l *zap.Logger, w WatchService, artifactDir string) *Server {
	return &Server{Logger: l, Watch: w, ArtifactDir: artifactDir, started: time.Now()}
}

func (s *Server) Router(allowedOrigins []string, reqPerMin, burst int) http.Handler {
	r := chi.NewRouter()
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}
	r.Use(middleware.RateLimit(reqPerMin, burst))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
		r.Delete("/logs", s.handleClearLogs)
		r.Post("/watch/start", s.handleStart)
		r.Post("/watch/stop", s.handleStop)
		r.Post("/check", s.handleCheck)
		r.Post("/check/adhoc", s.handleCheckAdhoc)
		r.Get("/events", s.handleEvents)
	})

	if s.ArtifactDir != "" {
		r.Handle("/artifacts/*", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(s.ArtifactDir))))
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Watch.Status())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if limit == 0 || limit > maxLogLimit {
		limit = maxLogLimit
	}

	entries, err := s.Watch.Logs(r.Context(), limit)
	if err != nil {
		s.Logger.Warn("logs_read_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read the check log")
		return
	}
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.Watch.ClearLogs(r.Context()); err != nil {
		s.Logger.Warn("logs_clear_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not clear the check log")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.Watch.Start(r.Context()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Watch.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.Watch.Stop(r.Context())
	writeJSON(w, http.StatusOK, s.Watch.Status())
}

// handleCheck runs one cycle with the saved configuration and reports the
// resulting status. The cycle is detached from the request context: a client
// that gives up must not abort a notification already going out.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	err := s.Watch.RunOnce(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, watch.ErrCheckInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Watch.Status())
}

type adhocPayload struct {
	Schedule domain.ScheduleConfig `json:"schedule"`
	Search   domain.SearchParams   `json:"search"`
}

func (s *Server) handleCheckAdhoc(w http.ResponseWriter, r *http.Request) {
	var p adhocPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if !isValidHTTPURL(p.Search.FormURL) {
		writeError(w, http.StatusBadRequest, "search.form_url must be an http(s) URL")
		return
	}
	if len(p.Search.FoundMarkers) == 0 {
		writeError(w, http.StatusBadRequest, "search.found_markers must not be empty")
		return
	}

	err := s.Watch.CheckAdhoc(context.WithoutCancel(r.Context()), p.Schedule, p.Search)
	switch {
	case errors.Is(err, watch.ErrCheckInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Watch.Status())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"watch_running":  s.Watch.Status().Running,
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			resp["rss_bytes"] = mi.RSS
		}
		if cp, err := proc.CPUPercent(); err == nil {
			resp["cpu_percent"] = cp
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// isValidHTTPURL accepts absolute http(s) URLs with a host.
func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
